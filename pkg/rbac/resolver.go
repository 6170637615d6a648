package rbac

import "fmt"

// Names is the string-identifier facade over Service: every operation takes
// usernames, namespace names, and role names, resolves them against the
// stores, and delegates to the canonical entity-based operation. Resolution
// failures surface as ErrDoesNotExist; authorization logic lives only in
// Service.
type Names struct {
	service *Service
	stores  *Stores
	catalog *RoleCatalog
}

// ByName returns the string-identifier facade of the service.
func (s *Service) ByName() *Names {
	return &Names{service: s, stores: s.stores, catalog: s.catalog}
}

func (n *Names) user(username string) (*User, error) {
	user, err := n.stores.Users.FindByUsername(username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user [%s]", ErrDoesNotExist, username)
	}
	return user, nil
}

func (n *Names) namespace(name string) (*Namespace, error) {
	ns, err := n.stores.Namespaces.FindByName(name)
	if err != nil {
		return nil, err
	}
	if ns == nil {
		return nil, fmt.Errorf("%w: namespace [%s]", ErrDoesNotExist, name)
	}
	return ns, nil
}

func (n *Names) roles(names []string) ([]Role, error) {
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		role, err := n.catalog.Resolve(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// filter builds an optional RoleSet from role names; nil names mean no filter.
func (n *Names) filter(names []string) (*RoleSet, error) {
	if len(names) == 0 {
		return nil, nil
	}
	mask, err := n.catalog.ToMask(names...)
	if err != nil {
		return nil, err
	}
	return &mask, nil
}

// HasRole resolves the identifiers and delegates to Service.HasRole.
func (n *Names) HasRole(username, namespaceName, roleName string) (bool, error) {
	user, err := n.user(username)
	if err != nil {
		return false, err
	}
	ns, err := n.namespace(namespaceName)
	if err != nil {
		return false, err
	}
	role, err := n.catalog.Resolve(roleName)
	if err != nil {
		return false, err
	}
	return n.service.HasRole(user, ns, role)
}

// GetRoles resolves the identifiers and delegates to Service.GetRoles.
func (n *Names) GetRoles(username, namespaceName string) ([]Role, error) {
	user, err := n.user(username)
	if err != nil {
		return nil, err
	}
	ns, err := n.namespace(namespaceName)
	if err != nil {
		return nil, err
	}
	return n.service.GetRoles(user, ns)
}

// AddRole resolves the identifiers and delegates to Service.AddRole.
func (n *Names) AddRole(actorUsername, targetUsername, namespaceName, roleName string) (bool, error) {
	actor, target, ns, err := n.actorTargetNamespace(actorUsername, targetUsername, namespaceName)
	if err != nil {
		return false, err
	}
	role, err := n.catalog.Resolve(roleName)
	if err != nil {
		return false, err
	}
	return n.service.AddRole(actor, target, ns, role)
}

// RemoveRole resolves the identifiers and delegates to Service.RemoveRole.
func (n *Names) RemoveRole(actorUsername, targetUsername, namespaceName, roleName string) (bool, error) {
	actor, target, ns, err := n.actorTargetNamespace(actorUsername, targetUsername, namespaceName)
	if err != nil {
		return false, err
	}
	role, err := n.catalog.Resolve(roleName)
	if err != nil {
		return false, err
	}
	return n.service.RemoveRole(actor, target, ns, role)
}

// SetRoles resolves the identifiers and delegates to Service.SetRoles.
func (n *Names) SetRoles(actorUsername, targetUsername, namespaceName string, roleNames []string) (bool, error) {
	actor, target, ns, err := n.actorTargetNamespace(actorUsername, targetUsername, namespaceName)
	if err != nil {
		return false, err
	}
	roles, err := n.roles(roleNames)
	if err != nil {
		return false, err
	}
	return n.service.SetRoles(actor, target, ns, roles)
}

// SetAllRoles resolves the identifiers and delegates to Service.SetAllRoles.
func (n *Names) SetAllRoles(actorUsername, targetUsername, namespaceName string) (bool, error) {
	actor, target, ns, err := n.actorTargetNamespace(actorUsername, targetUsername, namespaceName)
	if err != nil {
		return false, err
	}
	return n.service.SetAllRoles(actor, target, ns)
}

// DeleteAllRoles resolves the identifiers and delegates to
// Service.DeleteAllRoles.
func (n *Names) DeleteAllRoles(actorUsername, targetUsername, namespaceName string) (bool, error) {
	actor, target, ns, err := n.actorTargetNamespace(actorUsername, targetUsername, namespaceName)
	if err != nil {
		return false, err
	}
	return n.service.DeleteAllRoles(actor, target, ns)
}

// GetUsers resolves the identifiers and delegates to Service.GetUsers. An
// empty roleNames slice means no filter.
func (n *Names) GetUsers(actorUsername, namespaceName string, roleNames ...string) ([]*User, error) {
	actor, err := n.user(actorUsername)
	if err != nil {
		return nil, err
	}
	ns, err := n.namespace(namespaceName)
	if err != nil {
		return nil, err
	}
	filter, err := n.filter(roleNames)
	if err != nil {
		return nil, err
	}
	return n.service.GetUsers(actor, ns, filter)
}

// GetRolesByUser resolves the identifiers and delegates to
// Service.GetRolesByUser.
func (n *Names) GetRolesByUser(actorUsername, namespaceName string) ([]UserRoles, error) {
	actor, err := n.user(actorUsername)
	if err != nil {
		return nil, err
	}
	ns, err := n.namespace(namespaceName)
	if err != nil {
		return nil, err
	}
	return n.service.GetRolesByUser(actor, ns)
}

// CreateTechnicalUserAndAddAsCollaborator resolves the identifiers and
// delegates to the service's composite operation.
func (n *Names) CreateTechnicalUserAndAddAsCollaborator(actorUsername string, technicalUser *User, namespaceName string, roleNames []string) error {
	actor, err := n.user(actorUsername)
	if err != nil {
		return err
	}
	ns, err := n.namespace(namespaceName)
	if err != nil {
		return err
	}
	roles, err := n.roles(roleNames)
	if err != nil {
		return err
	}
	return n.service.CreateTechnicalUserAndAddAsCollaborator(actor, technicalUser, ns, roles)
}

// GetNamespaces resolves the identifiers and delegates to
// Service.GetNamespaces. An empty roleNames slice means no filter.
func (n *Names) GetNamespaces(actorUsername, targetUsername string, roleNames ...string) ([]*Namespace, error) {
	actor, err := n.user(actorUsername)
	if err != nil {
		return nil, err
	}
	target, err := n.user(targetUsername)
	if err != nil {
		return nil, err
	}
	filter, err := n.filter(roleNames)
	if err != nil {
		return nil, err
	}
	return n.service.GetNamespaces(actor, target, filter)
}

// GetNamespacesCollaboratorsAndRoles resolves the identifiers and delegates
// to the service's composite query.
func (n *Names) GetNamespacesCollaboratorsAndRoles(actorUsername, targetUsername string, roleNames ...string) ([]NamespaceCollaborators, error) {
	actor, err := n.user(actorUsername)
	if err != nil {
		return nil, err
	}
	target, err := n.user(targetUsername)
	if err != nil {
		return nil, err
	}
	filter, err := n.filter(roleNames)
	if err != nil {
		return nil, err
	}
	return n.service.GetNamespacesCollaboratorsAndRoles(actor, target, filter)
}

// IsOnlyAdminInAnyNamespace resolves the identifiers and delegates to
// Service.IsOnlyAdminInAnyNamespace.
func (n *Names) IsOnlyAdminInAnyNamespace(actorUsername, targetUsername string) (bool, error) {
	actor, err := n.user(actorUsername)
	if err != nil {
		return false, err
	}
	target, err := n.user(targetUsername)
	if err != nil {
		return false, err
	}
	return n.service.IsOnlyAdminInAnyNamespace(actor, target)
}

func (n *Names) actorTargetNamespace(actorUsername, targetUsername, namespaceName string) (*User, *User, *Namespace, error) {
	actor, err := n.user(actorUsername)
	if err != nil {
		return nil, nil, nil, err
	}
	target, err := n.user(targetUsername)
	if err != nil {
		return nil, nil, nil, err
	}
	ns, err := n.namespace(namespaceName)
	if err != nil {
		return nil, nil, nil, err
	}
	return actor, target, ns, nil
}
