package rbac

import (
	"fmt"
	"math/bits"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoleCatalog maps role names to bit values and back. It is backed by the
// namespace_roles table and kept fresh through an invalidate-on-write
// snapshot: reads are served from an in-memory copy that is rebuilt whenever
// a role is added through this catalog.
type RoleCatalog struct {
	db *gorm.DB

	mu       sync.RWMutex
	byName   map[string]Role
	byValue  map[uint64]Role
	snapshot []Role
	loaded   bool
}

// NewRoleCatalog creates a catalog over the given database handle.
func NewRoleCatalog(db *gorm.DB) *RoleCatalog {
	return &RoleCatalog{db: db}
}

// Migrate creates the catalog table and seeds the default role vocabulary.
// Seeding is idempotent: existing rows are left untouched.
func (c *RoleCatalog) Migrate() error {
	if err := c.db.AutoMigrate(&NamespaceRole{}); err != nil {
		return fmt.Errorf("auto-migrate namespace_roles: %w", err)
	}
	defaults := []NamespaceRole{
		{Name: RoleNamespaceAdmin, Value: 1},
		{Name: RoleModelViewer, Value: 2},
		{Name: RoleModelCreator, Value: 4},
		{Name: RoleModelPromoter, Value: 8},
		{Name: RoleModelReviewer, Value: 16},
		{Name: RoleModelPublisher, Value: 32},
	}
	for _, r := range defaults {
		err := c.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&r).Error
		if err != nil {
			return fmt.Errorf("seed role %s: %w", r.Name, err)
		}
	}
	c.invalidate()
	return nil
}

// Resolve looks up a role by name. Fails with ErrUnknownRole when the name is
// not in the catalog.
func (c *RoleCatalog) Resolve(name string) (Role, error) {
	if err := c.ensureLoaded(); err != nil {
		return Role{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	role, ok := c.byName[name]
	if !ok {
		return Role{}, fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
	return role, nil
}

// NamespaceAdmin returns the namespace_admin role, used in most authorization
// decisions.
func (c *RoleCatalog) NamespaceAdmin() (Role, error) {
	return c.Resolve(RoleNamespaceAdmin)
}

// All returns a snapshot of every role in the catalog.
func (c *RoleCatalog) All() ([]Role, error) {
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Role, len(c.snapshot))
	copy(out, c.snapshot)
	return out, nil
}

// Known reports whether the given role, by exact name and value, is in the
// current catalog. Guards against stale role references held by callers
// across administrative catalog changes.
func (c *RoleCatalog) Known(r Role) (bool, error) {
	if err := c.ensureLoaded(); err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	got, ok := c.byName[r.Name]
	return ok && got.Value == r.Value, nil
}

// ToMask builds the RoleSet of the given role names, resolving each against
// the catalog. Fails with ErrUnknownRole on the first unresolvable name.
func (c *RoleCatalog) ToMask(names ...string) (RoleSet, error) {
	var mask RoleSet
	for _, name := range names {
		role, err := c.Resolve(name)
		if err != nil {
			return 0, err
		}
		mask = mask.Add(role)
	}
	return mask, nil
}

// ToRoles decodes a mask into the catalog roles whose bit is set. Bits with
// no catalog entry are ignored (they belong to roles removed from the
// catalog after the mask was persisted).
func (c *RoleCatalog) ToRoles(mask RoleSet) ([]Role, error) {
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var roles []Role
	for _, r := range c.snapshot {
		if mask.Has(r) {
			roles = append(roles, r)
		}
	}
	SortRoles(roles)
	return roles, nil
}

// AddRole registers a new role in the catalog, assigning the next free bit.
// Invalidates the snapshot so subsequent reads see the new role.
func (c *RoleCatalog) AddRole(name string) (Role, error) {
	if err := c.ensureLoaded(); err != nil {
		return Role{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byName[name]; ok {
		return existing, nil
	}
	var used uint64
	for _, r := range c.snapshot {
		used |= r.Value
	}
	if used == ^uint64(0) {
		return Role{}, fmt.Errorf("%w: role catalog full", ErrInvalidArgument)
	}
	value := uint64(1) << uint(bits.TrailingZeros64(^used))
	row := NamespaceRole{Name: name, Value: value}
	if err := c.db.Create(&row).Error; err != nil {
		return Role{}, fmt.Errorf("create role %s: %w", name, err)
	}
	c.loaded = false // force reload on next read
	return Role{Name: name, Value: value}, nil
}

// invalidate drops the snapshot; the next read reloads from the table.
func (c *RoleCatalog) invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

func (c *RoleCatalog) ensureLoaded() error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	var rows []NamespaceRole
	if err := c.db.Order("role_value").Find(&rows).Error; err != nil {
		return fmt.Errorf("load role catalog: %w", err)
	}
	byName := make(map[string]Role, len(rows))
	byValue := make(map[uint64]Role, len(rows))
	snapshot := make([]Role, 0, len(rows))
	for _, row := range rows {
		role := Role{Name: row.Name, Value: row.Value}
		if !role.Valid() {
			return fmt.Errorf("%w: role %s has non power-of-two value %d",
				ErrInvalidArgument, row.Name, row.Value)
		}
		if _, dup := byValue[row.Value]; dup {
			return fmt.Errorf("%w: role bit %d assigned twice", ErrInvalidArgument, row.Value)
		}
		byName[row.Name] = role
		byValue[row.Value] = role
		snapshot = append(snapshot, role)
	}
	c.byName = byName
	c.byValue = byValue
	c.snapshot = snapshot
	c.loaded = true
	return nil
}
