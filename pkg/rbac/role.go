// Package rbac implements the repository's namespace access control model:
// a many-to-many User/Namespace relation carrying a compact bitmask of roles,
// and the authorization rules layered on top of it (sysadmin override,
// namespace-admin privilege, self-service exceptions).
package rbac

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Well-known namespace role names. The catalog is seeded with these but may
// grow administratively; role bits are assigned at catalog load time.
const (
	RoleNamespaceAdmin = "namespace_admin"
	RoleModelViewer    = "model_viewer"
	RoleModelCreator   = "model_creator"
	RoleModelPromoter  = "model_promoter"
	RoleModelReviewer  = "model_reviewer"
	RoleModelPublisher = "model_publisher"
)

// Role is a named permission with a power-of-two bit value. Role values are
// pairwise distinct; the catalog is the single source of truth for the
// name-to-bit mapping.
type Role struct {
	Name  string
	Value uint64
}

// Valid reports whether the role's value is a single set bit.
func (r Role) Valid() bool {
	return r.Value != 0 && bits.OnesCount64(r.Value) == 1
}

// RoleSet is a set of roles encoded as a 64-bit mask. The zero value means
// "no roles". RoleSet is the storage and wire representation of a user's
// roles on a namespace; callers combine and test sets through these methods
// rather than raw bit arithmetic.
type RoleSet uint64

// Add returns the set with the given role included. Idempotent.
func (s RoleSet) Add(r Role) RoleSet {
	return s | RoleSet(r.Value)
}

// Remove returns the set with the given role cleared. Idempotent.
func (s RoleSet) Remove(r Role) RoleSet {
	return s &^ RoleSet(r.Value)
}

// Has reports whether the set contains the given role.
func (s RoleSet) Has(r Role) bool {
	return uint64(s)&r.Value == r.Value
}

// Contains reports whether every role in other is also in s
// (AND-equality, not any-overlap).
func (s RoleSet) Contains(other RoleSet) bool {
	return s&other == other
}

// Union returns the combination of both sets.
func (s RoleSet) Union(other RoleSet) RoleSet {
	return s | other
}

// IsZero reports whether the set holds no roles.
func (s RoleSet) IsZero() bool {
	return s == 0
}

// MaskOf builds a RoleSet from the given roles. Duplicates are idempotent.
func MaskOf(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s = s.Add(r)
	}
	return s
}

// SortRoles orders roles by name, for stable presentation.
func SortRoles(roles []Role) {
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
}

// RoleNames renders role names joined by commas, sorted. Used in logs and
// HTTP responses.
func RoleNames(roles []Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (r Role) String() string {
	return fmt.Sprintf("%s(%d)", r.Name, r.Value)
}
