package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserStoreFindByUsernameReturnsNilWhenMissing(t *testing.T) {
	f := newFixture(t)

	user, err := f.stores.Users.FindByUsername("nobody")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestUserStoreSaveAssignsID(t *testing.T) {
	f := newFixture(t)

	u := &User{Username: "alice"}
	require.NoError(t, f.stores.Users.Save(u))
	assert.NotEmpty(t, u.ID)

	found, err := f.stores.Users.FindByUsername("alice")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, u.ID, found.ID)
}

func TestSysadminFlagRoundTrip(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice")

	sysadmin, err := f.stores.Users.IsSysadmin(u)
	require.NoError(t, err)
	assert.False(t, sysadmin, "no repository role row means no privilege")

	require.NoError(t, f.stores.Users.SetSysadmin(u, true))
	sysadmin, err = f.stores.Users.IsSysadmin(u)
	require.NoError(t, err)
	assert.True(t, sysadmin)

	require.NoError(t, f.stores.Users.SetSysadmin(u, false))
	sysadmin, err = f.stores.Users.IsSysadmin(u)
	require.NoError(t, err)
	assert.False(t, sysadmin)
}

func TestNamespaceNamesArePersistedLowercase(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")

	ns := &Namespace{Name: "Com.Example.Sensors", OwnerUserID: owner.ID}
	require.NoError(t, f.stores.Namespaces.Save(ns))
	assert.Equal(t, "com.example.sensors", ns.Name)

	found, err := f.stores.Namespaces.FindByName("COM.EXAMPLE.SENSORS")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, ns.ID, found.ID)
}

func TestNamespacePrivatePrefix(t *testing.T) {
	private := &Namespace{Name: "vorto.private.alice"}
	official := &Namespace{Name: "com.example.sensors"}

	assert.True(t, private.IsPrivate())
	assert.False(t, official.IsPrivate())
}

func TestAssociationStoreFindOneReturnsNilWhenMissing(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", owner)

	row, err := f.stores.Associations.FindOne(alice, ns)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestAssociationStoreDeleteRemovesRow(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	alice := f.user(t, "alice")
	ns := f.namespace(t, "com.example.sensors", owner)

	require.NoError(t, f.stores.Associations.Save(&UserNamespaceRoles{
		UserID: alice.ID, NamespaceID: ns.ID, Roles: 2,
	}))
	require.NoError(t, f.stores.Associations.Delete(alice, ns))

	row, err := f.stores.Associations.FindOne(alice, ns)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestTransactionRollsBackAllStores(t *testing.T) {
	f := newFixture(t)
	boom := assert.AnError

	err := f.stores.Transaction(func(tx *Stores) error {
		if err := tx.Users.Save(&User{Username: "ghost"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	user, err := f.stores.Users.FindByUsername("ghost")
	require.NoError(t, err)
	assert.Nil(t, user)
}
