package rbac

import (
	"fmt"
	"log/slog"
	"sort"
)

// SysadminChecker reports repository-wide administrative privilege. The
// sysadmin privilege short-circuits and supersedes every namespace-scoped
// check in this service.
type SysadminChecker interface {
	IsSysadmin(user *User) (bool, error)
}

// TechnicalUserCreator persists technical (service) accounts. Satisfied by an
// external user service; the composite collaborator operation delegates
// account creation to it inside its transaction.
type TechnicalUserCreator interface {
	CreateOrUpdateTechnicalUser(stores *Stores, user *User) error
}

// Service reports and manipulates user roles on namespaces. It holds no
// state of its own beyond references to externally owned collaborators; all
// operations are synchronous and request-scoped.
type Service struct {
	stores   *Stores
	catalog  *RoleCatalog
	sysadmin SysadminChecker
	users    TechnicalUserCreator
	events   EventPublisher
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEventPublisher wires an external role-event publisher.
func WithEventPublisher(p EventPublisher) ServiceOption {
	return func(s *Service) { s.events = p }
}

// WithTechnicalUserCreator wires an external user service for technical
// account creation.
func WithTechnicalUserCreator(c TechnicalUserCreator) ServiceOption {
	return func(s *Service) { s.users = c }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates the access control engine over the given stores and
// catalog. The sysadmin checker defaults to the user store's own
// repository-role table when nil.
func NewService(stores *Stores, catalog *RoleCatalog, sysadmin SysadminChecker, opts ...ServiceOption) *Service {
	s := &Service{
		stores:   stores,
		catalog:  catalog,
		sysadmin: sysadmin,
		events:   &LogEventPublisher{},
		logger:   slog.Default(),
		users:    defaultTechnicalUserCreator{},
	}
	if s.sysadmin == nil {
		s.sysadmin = stores.Users
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// defaultTechnicalUserCreator persists technical users straight to the user
// store when no external user service is wired.
type defaultTechnicalUserCreator struct{}

func (defaultTechnicalUserCreator) CreateOrUpdateTechnicalUser(stores *Stores, user *User) error {
	if user.Username == "" {
		return fmt.Errorf("%w: technical user requires a username", ErrInvalidArgument)
	}
	user.Technical = true
	return stores.Users.Save(user)
}

// AuthorizeActorAsAdminOnNamespace verifies the actor is either sysadmin or
// holds namespace_admin on the namespace. Fails with ErrOperationForbidden
// when neither applies.
func (s *Service) AuthorizeActorAsAdminOnNamespace(actor *User, namespace *Namespace) error {
	if err := requireEntities(actor, namespace); err != nil {
		return err
	}
	sysadmin, err := s.sysadmin.IsSysadmin(actor)
	if err != nil {
		return err
	}
	if sysadmin {
		return nil
	}
	admin, err := s.catalog.NamespaceAdmin()
	if err != nil {
		return err
	}
	isAdmin, err := s.HasRole(actor, namespace, admin)
	if err != nil {
		return err
	}
	if !isAdmin {
		return fmt.Errorf(
			"%w: acting user is not authorized to manipulate namespace roles on namespace [%s]",
			ErrOperationForbidden, namespace.Name)
	}
	return nil
}

// HasRole reports whether the user holds the given role on the namespace.
// Fails with ErrInvalidArgument when the role reference is not in the
// current catalog (defensive check against stale references). A missing
// association row reads as false, not as an error.
func (s *Service) HasRole(user *User, namespace *Namespace, role Role) (bool, error) {
	if err := requireEntities(user, namespace); err != nil {
		return false, err
	}
	known, err := s.catalog.Known(role)
	if err != nil {
		return false, err
	}
	if !known {
		return false, fmt.Errorf("%w: role [%s] is unknown", ErrInvalidArgument, role.Name)
	}
	row, err := s.stores.Associations.FindOne(user, namespace)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}
	return row.Roles.Has(role), nil
}

// GetRoles returns every role the user holds on the namespace. Fails with
// ErrNoAssociation when no association row exists; callers that can treat a
// missing row as "no roles" should use HasRole instead.
func (s *Service) GetRoles(user *User, namespace *Namespace) ([]Role, error) {
	if err := requireEntities(user, namespace); err != nil {
		return nil, err
	}
	row, err := s.stores.Associations.FindOne(user, namespace)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: user [%s] on namespace [%s]",
			ErrNoAssociation, user.Username, namespace.Name)
	}
	return s.catalog.ToRoles(row.Roles)
}

// AddRole grants the role to the target on the namespace, as acted by actor.
// Returns true if the target did not hold the role before, false if they
// already held it (no-op). The actor must be sysadmin or namespace admin.
func (s *Service) AddRole(actor, target *User, namespace *Namespace, role Role) (bool, error) {
	if err := requireEntities(actor, target, namespace); err != nil {
		return false, err
	}
	if err := s.AuthorizeActorAsAdminOnNamespace(actor, namespace); err != nil {
		return false, err
	}

	row, err := s.stores.Associations.FindOne(target, namespace)
	if err != nil {
		return false, err
	}
	if row == nil {
		// first role grant creates the association
		row = &UserNamespaceRoles{
			UserID:      target.ID,
			NamespaceID: namespace.ID,
			Roles:       MaskOf(role),
		}
	} else {
		if row.Roles.Has(role) {
			return false, nil
		}
		row.Roles = row.Roles.Add(role)
	}
	if err := s.stores.Associations.Save(row); err != nil {
		return false, err
	}
	s.publish(RoleEventAdded, actor, target, namespace, row.Roles)
	return true, nil
}

// RemoveRole revokes the role from the target on the namespace. Returns true
// if the association existed and the target held the role; false otherwise
// (no association, or role not held).
func (s *Service) RemoveRole(actor, target *User, namespace *Namespace, role Role) (bool, error) {
	if err := requireEntities(actor, target, namespace); err != nil {
		return false, err
	}
	if err := s.AuthorizeActorAsAdminOnNamespace(actor, namespace); err != nil {
		return false, err
	}

	row, err := s.stores.Associations.FindOne(target, namespace)
	if err != nil {
		return false, err
	}
	if row == nil || !row.Roles.Has(role) {
		return false, nil
	}
	row.Roles = row.Roles.Remove(role)
	if err := s.stores.Associations.Save(row); err != nil {
		return false, err
	}
	s.publish(RoleEventRemoved, actor, target, namespace, row.Roles)
	return true, nil
}

// setRolesMask overwrites the target's mask on the namespace. Idempotent:
// returns false when the stored mask already equals the new one. The mask is
// not validated here; exported callers validate role names first.
func (s *Service) setRolesMask(stores *Stores, actor, target *User, namespace *Namespace, mask RoleSet) (bool, error) {
	if err := requireEntities(actor, target, namespace); err != nil {
		return false, err
	}
	if err := s.AuthorizeActorAsAdminOnNamespace(actor, namespace); err != nil {
		return false, err
	}

	row, err := stores.Associations.FindOne(target, namespace)
	if err != nil {
		return false, err
	}
	if row == nil {
		row = &UserNamespaceRoles{
			UserID:      target.ID,
			NamespaceID: namespace.ID,
			Roles:       mask,
		}
	} else {
		if row.Roles == mask {
			return false, nil
		}
		row.Roles = mask
	}
	if err := stores.Associations.Save(row); err != nil {
		return false, err
	}
	s.publish(RoleEventSet, actor, target, namespace, mask)
	return true, nil
}

// SetRoles overwrites the target's roles on the namespace with the given
// collection. Every role must exist in the catalog; fails with
// ErrDoesNotExist otherwise.
func (s *Service) SetRoles(actor, target *User, namespace *Namespace, roles []Role) (bool, error) {
	if err := requireEntities(actor, target, namespace); err != nil {
		return false, err
	}
	var mask RoleSet
	for _, role := range roles {
		if _, err := s.catalog.Resolve(role.Name); err != nil {
			return false, fmt.Errorf("%w: unknown role [%s] - aborting operation",
				ErrDoesNotExist, role.Name)
		}
		mask = mask.Add(role)
	}
	return s.setRolesMask(s.stores, actor, target, namespace, mask)
}

// SetAllRoles grants every catalog role to the target on the namespace.
// Does not impact namespace ownership.
func (s *Service) SetAllRoles(actor, target *User, namespace *Namespace) (bool, error) {
	all, err := s.catalog.All()
	if err != nil {
		return false, err
	}
	return s.SetRoles(actor, target, namespace, all)
}

// DeleteAllRoles removes the target's association on the namespace entirely,
// in one transaction. The namespace and both users must exist
// (ErrDoesNotExist otherwise); the actor must be sysadmin, or be the target
// themself while owning the namespace (ErrOperationForbidden otherwise).
// Returns false without error when no association exists.
//
// If the target owns the namespace its admin relation is orphaned; ownership
// reassignment is the caller's responsibility.
func (s *Service) DeleteAllRoles(actor, target *User, namespace *Namespace) (bool, error) {
	if err := requireEntities(actor, target, namespace); err != nil {
		return false, err
	}

	deleted := false
	err := s.stores.Transaction(func(tx *Stores) error {
		txs := s.withStores(tx)
		nsExists, err := tx.Namespaces.Exists(namespace.ID)
		if err != nil {
			return err
		}
		if !nsExists {
			return fmt.Errorf("%w: namespace [%s] - aborting deletion of user roles",
				ErrDoesNotExist, namespace.Name)
		}
		for _, u := range []*User{actor, target} {
			exists, err := tx.Users.Exists(u.ID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: user [%s] - aborting deletion of roles",
					ErrDoesNotExist, u.Username)
			}
		}

		sysadmin, err := txs.sysadmin.IsSysadmin(actor)
		if err != nil {
			return err
		}
		if !sysadmin {
			// self-service exception: target removing themself from a
			// namespace they own
			if actor.ID != target.ID || target.ID != namespace.OwnerUserID {
				return fmt.Errorf("%w: acting user cannot delete user roles for namespace [%s]",
					ErrOperationForbidden, namespace.Name)
			}
		}

		row, err := tx.Associations.FindOne(target, namespace)
		if err != nil {
			return err
		}
		if row == nil {
			s.logger.Warn("attempting to delete non-existing user namespace roles, aborting",
				"target", target.Username, "namespace", namespace.Name)
			return nil
		}
		if target.ID == namespace.OwnerUserID {
			s.logger.Warn("deleting roles of namespace owner leaves the namespace orphaned",
				"namespace", namespace.Name, "owner", target.Username)
		}
		if err := tx.Associations.Delete(target, namespace); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		s.publish(RoleEventDeleted, actor, target, namespace, 0)
	}
	return deleted, nil
}

// VerifyCanView verifies the user may view the namespace: sysadmin always
// passes; otherwise the user must own the namespace and have an association
// row. The row need only exist; it may carry zero roles.
func (s *Service) VerifyCanView(user *User, namespace *Namespace) error {
	if err := requireEntities(user, namespace); err != nil {
		return err
	}
	sysadmin, err := s.sysadmin.IsSysadmin(user)
	if err != nil {
		return err
	}
	if sysadmin {
		return nil
	}
	row, err := s.stores.Associations.FindOne(user, namespace)
	if err != nil {
		return err
	}
	if namespace.OwnerUserID != user.ID || row == nil {
		return fmt.Errorf("%w: user has no visibility on namespace [%s]",
			ErrOperationForbidden, namespace.Name)
	}
	return nil
}

// GetUsers returns the users collaborating on the namespace, optionally
// filtered by a role mask. A nil filter returns every user with any
// association; a non-nil filter keeps only users whose mask contains all
// filter roles. Gated by VerifyCanView.
func (s *Service) GetUsers(actor *User, namespace *Namespace, filter *RoleSet) ([]*User, error) {
	if err := requireEntities(actor, namespace); err != nil {
		return nil, err
	}
	if err := s.VerifyCanView(actor, namespace); err != nil {
		return nil, err
	}

	var rows []UserNamespaceRoles
	var err error
	if filter == nil {
		rows, err = s.stores.Associations.FindAllByNamespace(namespace)
	} else {
		rows, err = s.stores.Associations.FindAllByNamespaceAndRoles(namespace, *filter)
	}
	if err != nil {
		return nil, err
	}
	return s.resolveUsers(rows)
}

// UserRoles pairs a collaborator with their decoded roles on one namespace.
type UserRoles struct {
	User  *User
	Roles []Role
}

// GetRolesByUser builds the collaborator matrix of the namespace: every
// associated user with their decoded roles, ordered by username. Requires
// admin authorization, which is stricter than VerifyCanView.
func (s *Service) GetRolesByUser(actor *User, namespace *Namespace) ([]UserRoles, error) {
	if err := requireEntities(actor, namespace); err != nil {
		return nil, err
	}
	if err := s.AuthorizeActorAsAdminOnNamespace(actor, namespace); err != nil {
		return nil, err
	}

	rows, err := s.stores.Associations.FindAllByNamespace(namespace)
	if err != nil {
		return nil, err
	}
	result := make([]UserRoles, 0, len(rows))
	for _, row := range rows {
		user, err := s.userByID(row.UserID)
		if err != nil {
			return nil, err
		}
		roles, err := s.catalog.ToRoles(row.Roles)
		if err != nil {
			return nil, err
		}
		result = append(result, UserRoles{User: user, Roles: roles})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].User.Username < result[j].User.Username
	})
	return result, nil
}

// CreateTechnicalUserAndAddAsCollaborator creates a technical user and grants
// it the given roles on the namespace, in one transaction. Authorization is
// performed by SetRoles inside the transaction; its failure rolls back the
// user creation as well.
func (s *Service) CreateTechnicalUserAndAddAsCollaborator(actor *User, technicalUser *User, namespace *Namespace, roles []Role) error {
	if err := requireEntities(actor, namespace); err != nil {
		return err
	}
	// the technical user is not persisted yet, so only its shape is checked
	if technicalUser == nil || technicalUser.Username == "" {
		return fmt.Errorf("%w: technical user requires a username", ErrInvalidArgument)
	}
	return s.stores.Transaction(func(tx *Stores) error {
		if err := s.users.CreateOrUpdateTechnicalUser(tx, technicalUser); err != nil {
			return err
		}
		txService := s.withStores(tx)
		_, err := txService.SetRoles(actor, technicalUser, namespace, roles)
		return err
	})
}

// GetNamespaces returns the namespaces where the target has an association,
// optionally filtered by role mask. The actor must be the target themself or
// sysadmin (self-service exception). A sysadmin target conceptually has
// access everywhere, so all associations' namespaces are returned for them.
func (s *Service) GetNamespaces(actor, target *User, filter *RoleSet) ([]*Namespace, error) {
	if err := requireEntities(actor, target); err != nil {
		return nil, err
	}
	if err := s.authorizeActorAsTargetOrSysadmin(actor, target); err != nil {
		return nil, err
	}

	targetSysadmin, err := s.sysadmin.IsSysadmin(target)
	if err != nil {
		return nil, err
	}

	var rows []UserNamespaceRoles
	switch {
	case targetSysadmin:
		all, err := s.stores.Associations.FindAll()
		if err != nil {
			return nil, err
		}
		if filter != nil {
			all = filterByRoles(all, *filter)
		}
		rows = all
	case filter == nil:
		rows, err = s.stores.Associations.FindAllByUser(target)
	default:
		rows, err = s.stores.Associations.FindAllByUserAndRoles(target, *filter)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(rows))
	namespaces := make([]*Namespace, 0, len(rows))
	for _, row := range rows {
		if seen[row.NamespaceID] {
			continue
		}
		seen[row.NamespaceID] = true
		ns, err := s.stores.Namespaces.FindByID(row.NamespaceID)
		if err != nil {
			return nil, err
		}
		if ns == nil {
			return nil, fmt.Errorf("%w: namespace id [%s] referenced by association",
				ErrDoesNotExist, row.NamespaceID)
		}
		namespaces = append(namespaces, ns)
	}
	sort.Slice(namespaces, func(i, j int) bool { return namespaces[i].Name < namespaces[j].Name })
	return namespaces, nil
}

// NamespaceCollaborators pairs a namespace with its collaborator matrix.
type NamespaceCollaborators struct {
	Namespace     *Namespace
	Collaborators []UserRoles
}

// GetNamespacesCollaboratorsAndRoles composes GetNamespaces with
// GetRolesByUser per namespace: every namespace where the target has the
// filtered roles, each with its full collaborator matrix.
func (s *Service) GetNamespacesCollaboratorsAndRoles(actor, target *User, filter *RoleSet) ([]NamespaceCollaborators, error) {
	if err := requireEntities(actor, target); err != nil {
		return nil, err
	}
	if err := s.authorizeActorAsTargetOrSysadmin(actor, target); err != nil {
		return nil, err
	}

	namespaces, err := s.GetNamespaces(actor, target, filter)
	if err != nil {
		return nil, err
	}
	result := make([]NamespaceCollaborators, 0, len(namespaces))
	for _, ns := range namespaces {
		collaborators, err := s.GetRolesByUser(actor, ns)
		if err != nil {
			return nil, err
		}
		result = append(result, NamespaceCollaborators{Namespace: ns, Collaborators: collaborators})
	}
	return result, nil
}

// IsOnlyAdminInAnyNamespace reports whether the target is the sole
// namespace_admin holder of any namespace they administer. Used to block
// account deletion that would orphan a namespace.
func (s *Service) IsOnlyAdminInAnyNamespace(actor, target *User) (bool, error) {
	if err := requireEntities(actor, target); err != nil {
		return false, err
	}
	if err := s.authorizeActorAsTargetOrSysadmin(actor, target); err != nil {
		return false, err
	}

	admin, err := s.catalog.NamespaceAdmin()
	if err != nil {
		return false, err
	}
	adminFilter := MaskOf(admin)

	whereTargetIsAdmin, err := s.GetNamespacesCollaboratorsAndRoles(actor, target, &adminFilter)
	if err != nil {
		return false, err
	}
	for _, nsc := range whereTargetIsAdmin {
		adminHolders := 0
		for _, ur := range nsc.Collaborators {
			for _, role := range ur.Roles {
				if role.Name == RoleNamespaceAdmin {
					adminHolders++
					break
				}
			}
		}
		if adminHolders == 1 {
			s.logger.Debug("user is the only administrator of at least one namespace",
				"namespace", nsc.Namespace.Name, "user", target.Username)
			return true, nil
		}
	}
	return false, nil
}

// authorizeActorAsTargetOrSysadmin applies the self-service rule: any user
// may act on themself; acting on another user requires sysadmin.
func (s *Service) authorizeActorAsTargetOrSysadmin(actor, target *User) error {
	if actor.ID == target.ID {
		return nil
	}
	sysadmin, err := s.sysadmin.IsSysadmin(actor)
	if err != nil {
		return err
	}
	if !sysadmin {
		return fmt.Errorf("%w: acting user is neither the target user nor sysadmin",
			ErrOperationForbidden)
	}
	return nil
}

// withStores clones the service over a different store bundle, used to run
// operations inside an ongoing transaction. The store-backed default sysadmin
// checker is rebound too; a reader on the outer handle would escape the
// transaction's connection. Externally wired checkers are kept as-is.
func (s *Service) withStores(stores *Stores) *Service {
	clone := *s
	if s.sysadmin == SysadminChecker(s.stores.Users) {
		clone.sysadmin = stores.Users
	}
	clone.stores = stores
	return &clone
}

func (s *Service) resolveUsers(rows []UserNamespaceRoles) ([]*User, error) {
	users := make([]*User, 0, len(rows))
	for _, row := range rows {
		user, err := s.userByID(row.UserID)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Service) userByID(id string) (*User, error) {
	var user User
	err := s.stores.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, fmt.Errorf("resolve user id %s: %w", id, err)
	}
	return &user, nil
}

func (s *Service) publish(t RoleEventType, actor, target *User, namespace *Namespace, roles RoleSet) {
	if s.events == nil {
		return
	}
	s.events.Publish(RoleEvent{
		Type:      t,
		Actor:     actor.Username,
		Target:    target.Username,
		Namespace: namespace.Name,
		Roles:     roles,
	})
}

// requireEntities rejects nil or unpersisted entity references up front,
// before any authorization or mutation.
func requireEntities(entities ...any) error {
	for _, e := range entities {
		switch v := e.(type) {
		case *User:
			if v == nil || v.ID == "" {
				return fmt.Errorf("%w: nil or unpersisted user reference", ErrInvalidArgument)
			}
		case *Namespace:
			if v == nil || v.ID == "" {
				return fmt.Errorf("%w: nil or unpersisted namespace reference", ErrInvalidArgument)
			}
		default:
			if e == nil {
				return fmt.Errorf("%w: nil argument", ErrInvalidArgument)
			}
		}
	}
	return nil
}
