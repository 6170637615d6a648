package rbac

import "errors"

// Sentinel errors for the access control engine. Handlers map these to HTTP
// statuses; they are never retried.
var (
	// ErrDoesNotExist signals that a referenced user, namespace, or role is
	// absent from the store.
	ErrDoesNotExist = errors.New("entity does not exist")

	// ErrUnknownRole signals a role name lookup against the catalog failed.
	ErrUnknownRole = errors.New("unknown role")

	// ErrOperationForbidden signals an authorization failure. It is a
	// client-visible rejection, not a server fault.
	ErrOperationForbidden = errors.New("operation forbidden")

	// ErrInvalidArgument signals malformed input, e.g. a stale role reference
	// whose bit is no longer in the catalog. Programming error.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoAssociation signals that no role association row exists for a
	// (user, namespace) pair where one was required. GetRoles returns this
	// instead of crashing; callers that can tolerate "no roles" should use
	// HasRole or GetUsers instead.
	ErrNoAssociation = errors.New("no role association for user on namespace")
)
