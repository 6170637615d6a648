package rbac

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	stores  *Stores
	catalog *RoleCatalog
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	stores := NewStores(db)
	require.NoError(t, stores.AutoMigrate())
	catalog := setupCatalog(t, db)
	return &fixture{
		db:      db,
		stores:  stores,
		catalog: catalog,
		service: NewService(stores, catalog, nil),
	}
}

func (f *fixture) user(t *testing.T, username string) *User {
	t.Helper()
	u := &User{ID: uuid.New().String(), Username: username}
	require.NoError(t, f.stores.Users.Save(u))
	return u
}

func (f *fixture) sysadmin(t *testing.T, username string) *User {
	t.Helper()
	u := f.user(t, username)
	require.NoError(t, f.stores.Users.SetSysadmin(u, true))
	return u
}

func (f *fixture) namespace(t *testing.T, name string, owner *User) *Namespace {
	t.Helper()
	ns := &Namespace{ID: uuid.New().String(), Name: name, OwnerUserID: owner.ID}
	require.NoError(t, f.stores.Namespaces.Save(ns))
	return ns
}

func (f *fixture) role(t *testing.T, name string) Role {
	t.Helper()
	role, err := f.catalog.Resolve(name)
	require.NoError(t, err)
	return role
}

func TestAddRoleCreatesAssociationAndReportsChange(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", root)
	viewer := f.role(t, RoleModelViewer)

	changed, err := f.service.AddRole(root, alice, ns, viewer)
	require.NoError(t, err)
	assert.True(t, changed, "first grant creates the association")

	changed, err = f.service.AddRole(root, alice, ns, viewer)
	require.NoError(t, err)
	assert.False(t, changed, "already-held role is a no-op, not an error")

	has, err := f.service.HasRole(alice, ns, viewer)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestAddThenRemoveRestoresOriginalMask(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", root)
	viewer := f.role(t, RoleModelViewer)
	creator := f.role(t, RoleModelCreator)

	_, err := f.service.AddRole(root, alice, ns, viewer)
	require.NoError(t, err)

	changed, err := f.service.AddRole(root, alice, ns, creator)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.service.RemoveRole(root, alice, ns, creator)
	require.NoError(t, err)
	assert.True(t, changed)

	roles, err := f.service.GetRoles(alice, ns)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, RoleModelViewer, roles[0].Name)
}

func TestRemoveRoleWithoutAssociationIsFalse(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", root)

	changed, err := f.service.RemoveRole(root, alice, ns, f.role(t, RoleModelViewer))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestHasRoleRejectsStaleRoleReference(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	ns := f.namespace(t, "com.example.sensors", root)

	_, err := f.service.HasRole(root, ns, Role{Name: "model_destroyer", Value: 1 << 20})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGetRolesWithoutAssociationFailsExplicitly(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", root)

	_, err := f.service.GetRoles(alice, ns)
	assert.ErrorIs(t, err, ErrNoAssociation)
}

func TestAuthorizeActorAsAdminOnNamespace(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	admin := f.user(t, "admin")
	bystander := f.user(t, "bystander")
	ns := f.namespace(t, "com.example.sensors", root)

	_, err := f.service.AddRole(root, admin, ns, f.role(t, RoleNamespaceAdmin))
	require.NoError(t, err)

	// sysadmin passes regardless of namespace-scoped roles
	assert.NoError(t, f.service.AuthorizeActorAsAdminOnNamespace(root, ns))
	// namespace admin passes
	assert.NoError(t, f.service.AuthorizeActorAsAdminOnNamespace(admin, ns))
	// anyone else fails
	err = f.service.AuthorizeActorAsAdminOnNamespace(bystander, ns)
	assert.ErrorIs(t, err, ErrOperationForbidden)
}

func TestNonAdminCannotGrantRoles(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	mallory := f.user(t, "mallory")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", root)

	_, err := f.service.AddRole(mallory, alice, ns, f.role(t, RoleModelViewer))
	assert.ErrorIs(t, err, ErrOperationForbidden)
}

func TestSetRolesOverwritesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", root)
	viewer := f.role(t, RoleModelViewer)
	creator := f.role(t, RoleModelCreator)

	changed, err := f.service.SetRoles(root, alice, ns, []Role{viewer, creator})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.service.SetRoles(root, alice, ns, []Role{viewer, creator})
	require.NoError(t, err)
	assert.False(t, changed, "unchanged mask is a no-op")

	// empty set still mutates when the stored mask is nonzero
	changed, err = f.service.SetRoles(root, alice, ns, nil)
	require.NoError(t, err)
	assert.True(t, changed)

	roles, err := f.service.GetRoles(alice, ns)
	require.NoError(t, err)
	assert.Empty(t, roles, "association row remains with zero roles")
}

func TestSetRolesRejectsUnknownRole(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", root)

	_, err := f.service.SetRoles(root, alice, ns, []Role{{Name: "model_destroyer", Value: 1 << 20}})
	assert.ErrorIs(t, err, ErrDoesNotExist)
}

func TestSetAllRolesGrantsFullCatalog(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", root)

	changed, err := f.service.SetAllRoles(root, alice, ns)
	require.NoError(t, err)
	assert.True(t, changed)

	roles, err := f.service.GetRoles(alice, ns)
	require.NoError(t, err)
	assert.Len(t, roles, 6)
}

func TestDeleteAllRolesBySysadmin(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", root)

	_, err := f.service.AddRole(root, alice, ns, f.role(t, RoleModelViewer))
	require.NoError(t, err)

	deleted, err := f.service.DeleteAllRoles(root, alice, ns)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = f.service.GetRoles(alice, ns)
	assert.ErrorIs(t, err, ErrNoAssociation)
}

func TestDeleteAllRolesSelfServiceRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	owner := f.user(t, "owner")
	alice := f.user(t, "alice")
	owned := f.namespace(t, "vorto.private.owner", owner)
	foreign := f.namespace(t, "com.example.sensors", root)

	_, err := f.service.AddRole(root, owner, owned, f.role(t, RoleNamespaceAdmin))
	require.NoError(t, err)
	_, err = f.service.AddRole(root, alice, foreign, f.role(t, RoleModelViewer))
	require.NoError(t, err)

	// owner removing themself from their own namespace is permitted
	deleted, err := f.service.DeleteAllRoles(owner, owner, owned)
	require.NoError(t, err)
	assert.True(t, deleted)

	// a plain user cannot delete their roles on a namespace they do not own
	_, err = f.service.DeleteAllRoles(alice, alice, foreign)
	assert.ErrorIs(t, err, ErrOperationForbidden)

	// nor anyone else's
	_, err = f.service.DeleteAllRoles(alice, root, foreign)
	assert.ErrorIs(t, err, ErrOperationForbidden)
}

func TestDeleteAllRolesWithoutAssociationWarnsAndReturnsFalse(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", root)

	deleted, err := f.service.DeleteAllRoles(root, alice, ns)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteAllRolesValidatesExistence(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	ghost := &Namespace{ID: uuid.New().String(), Name: "com.example.ghost", OwnerUserID: root.ID}

	_, err := f.service.DeleteAllRoles(root, alice, ghost)
	assert.ErrorIs(t, err, ErrDoesNotExist)
}

func TestVerifyCanView(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	owner := f.user(t, "owner")
	outsider := f.user(t, "outsider")
	ns := f.namespace(t, "com.example.sensors", owner)

	// sysadmin always passes
	assert.NoError(t, f.service.VerifyCanView(root, ns))

	// owner without an association row fails
	err := f.service.VerifyCanView(owner, ns)
	assert.ErrorIs(t, err, ErrOperationForbidden)

	// an association row with zero roles is enough for the owner
	changed, err := f.service.SetRoles(root, owner, ns, nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoError(t, f.service.VerifyCanView(owner, ns))

	// non-owner fails even with roles
	_, err = f.service.AddRole(root, outsider, ns, f.role(t, RoleModelViewer))
	require.NoError(t, err)
	err = f.service.VerifyCanView(outsider, ns)
	assert.ErrorIs(t, err, ErrOperationForbidden)
}

func TestGetUsersFiltersByFullMask(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	ns := f.namespace(t, "com.example.sensors", root)
	viewer := f.role(t, RoleModelViewer)
	creator := f.role(t, RoleModelCreator)

	_, err := f.service.SetRoles(root, alice, ns, []Role{viewer, creator})
	require.NoError(t, err)
	_, err = f.service.SetRoles(root, bob, ns, []Role{viewer})
	require.NoError(t, err)

	all, err := f.service.GetUsers(root, ns, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// both filter roles must be present, not any
	filter := MaskOf(viewer, creator)
	filtered, err := f.service.GetUsers(root, ns, &filter)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "alice", filtered[0].Username)
}

func TestGetRolesByUserIsAdminGatedAndOrdered(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	zoe := f.user(t, "zoe")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", root)
	viewer := f.role(t, RoleModelViewer)

	_, err := f.service.AddRole(root, zoe, ns, viewer)
	require.NoError(t, err)
	_, err = f.service.AddRole(root, alice, ns, viewer)
	require.NoError(t, err)

	matrix, err := f.service.GetRolesByUser(root, ns)
	require.NoError(t, err)
	require.Len(t, matrix, 2)
	assert.Equal(t, "alice", matrix[0].User.Username)
	assert.Equal(t, "zoe", matrix[1].User.Username)

	// stricter than VerifyCanView: a mere collaborator is rejected
	_, err = f.service.GetRolesByUser(alice, ns)
	assert.ErrorIs(t, err, ErrOperationForbidden)
}

func TestCreateTechnicalUserRollsBackOnAuthorizationFailure(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	mallory := f.user(t, "mallory")
	ns := f.namespace(t, "com.example.sensors", root)
	viewer := f.role(t, RoleModelViewer)

	tech := &User{Username: "svc-gateway", AuthenticationProviderID: "GITHUB"}
	err := f.service.CreateTechnicalUserAndAddAsCollaborator(mallory, tech, ns, []Role{viewer})
	assert.ErrorIs(t, err, ErrOperationForbidden)

	// the transaction rolled the user creation back as well
	persisted, err := f.stores.Users.FindByUsername("svc-gateway")
	require.NoError(t, err)
	assert.Nil(t, persisted)
}

func TestCreateTechnicalUserGrantsRoles(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	ns := f.namespace(t, "com.example.sensors", root)
	viewer := f.role(t, RoleModelViewer)

	tech := &User{Username: "svc-gateway", AuthenticationProviderID: "GITHUB"}
	err := f.service.CreateTechnicalUserAndAddAsCollaborator(root, tech, ns, []Role{viewer})
	require.NoError(t, err)

	persisted, err := f.stores.Users.FindByUsername("svc-gateway")
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.True(t, persisted.Technical)

	roles, err := f.service.GetRoles(persisted, ns)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, RoleModelViewer, roles[0].Name)
}

func TestGetNamespacesSelfServiceAndSysadmin(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	ns1 := f.namespace(t, "com.example.sensors", root)
	ns2 := f.namespace(t, "com.example.actuators", root)
	viewer := f.role(t, RoleModelViewer)

	_, err := f.service.AddRole(root, alice, ns1, viewer)
	require.NoError(t, err)
	_, err = f.service.AddRole(root, bob, ns2, viewer)
	require.NoError(t, err)

	// self-service: any user may query their own namespaces
	own, err := f.service.GetNamespaces(alice, alice, nil)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "com.example.sensors", own[0].Name)

	// but not someone else's
	_, err = f.service.GetNamespaces(alice, bob, nil)
	assert.ErrorIs(t, err, ErrOperationForbidden)

	// a sysadmin target sees every namespace with an association
	all, err := f.service.GetNamespaces(root, root, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetNamespacesRoleFilter(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	ns1 := f.namespace(t, "com.example.sensors", root)
	ns2 := f.namespace(t, "com.example.actuators", root)
	viewer := f.role(t, RoleModelViewer)
	admin := f.role(t, RoleNamespaceAdmin)

	_, err := f.service.AddRole(root, alice, ns1, viewer)
	require.NoError(t, err)
	_, err = f.service.SetRoles(root, alice, ns2, []Role{viewer, admin})
	require.NoError(t, err)

	filter := MaskOf(admin)
	filtered, err := f.service.GetNamespaces(alice, alice, &filter)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "com.example.actuators", filtered[0].Name)
}

// usernameChecker grants sysadmin to a fixed username list, independent of
// the repository-role table.
type usernameChecker map[string]bool

func (c usernameChecker) IsSysadmin(user *User) (bool, error) {
	return c[user.Username], nil
}

func TestCompositeOpsStayOnTheTransactionHandle(t *testing.T) {
	// An in-memory database has exactly one schema-bearing connection, so a
	// read escaping to the outer handle mid-transaction fails loudly here.
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", root)
	viewer := f.role(t, RoleModelViewer)

	_, err := f.service.AddRole(root, alice, ns, viewer)
	require.NoError(t, err)
	deleted, err := f.service.DeleteAllRoles(root, alice, ns)
	require.NoError(t, err)
	assert.True(t, deleted)

	tech := &User{Username: "svc-probe", AuthenticationProviderID: "GITHUB"}
	require.NoError(t, f.service.CreateTechnicalUserAndAddAsCollaborator(root, tech, ns, []Role{viewer}))
}

func TestWithStoresKeepsExternalSysadminChecker(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", owner)

	service := NewService(f.stores, f.catalog, usernameChecker{"owner": true})

	viewer := f.role(t, RoleModelViewer)
	_, err := service.AddRole(owner, alice, ns, viewer)
	require.NoError(t, err)

	// both transactional composites consult the wired checker, not the
	// (empty) repository-role table
	deleted, err := service.DeleteAllRoles(owner, alice, ns)
	require.NoError(t, err)
	assert.True(t, deleted)

	tech := &User{Username: "svc-gateway", AuthenticationProviderID: "GITHUB"}
	require.NoError(t, service.CreateTechnicalUserAndAddAsCollaborator(owner, tech, ns, []Role{viewer}))

	// and a username the checker does not grant is still rejected in-transaction
	_, err = service.DeleteAllRoles(alice, alice, ns)
	assert.ErrorIs(t, err, ErrOperationForbidden)
}

func TestIsOnlyAdminInAnyNamespace(t *testing.T) {
	f := newFixture(t)
	root := f.sysadmin(t, "root")
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	ns := f.namespace(t, "com.example.sensors", root)
	admin := f.role(t, RoleNamespaceAdmin)

	_, err := f.service.AddRole(root, alice, ns, admin)
	require.NoError(t, err)

	only, err := f.service.IsOnlyAdminInAnyNamespace(alice, alice)
	require.NoError(t, err)
	assert.True(t, only, "alice is the sole admin")

	_, err = f.service.AddRole(root, bob, ns, admin)
	require.NoError(t, err)

	only, err = f.service.IsOnlyAdminInAnyNamespace(alice, alice)
	require.NoError(t, err)
	assert.False(t, only, "a second admin holder exists")
}
