package rbac

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Stores bundles the persistence handles the access control engine consumes.
// All stores share one gorm handle so composite operations can run in a
// single transaction.
type Stores struct {
	db *gorm.DB

	Users        *UserStore
	Namespaces   *NamespaceStore
	Associations *AssociationStore
}

// NewStores creates the store bundle over the given database handle.
func NewStores(db *gorm.DB) *Stores {
	return &Stores{
		db:           db,
		Users:        &UserStore{db: db},
		Namespaces:   &NamespaceStore{db: db},
		Associations: &AssociationStore{db: db},
	}
}

// AutoMigrate creates or updates the access control tables.
func (s *Stores) AutoMigrate() error {
	for _, model := range []any{&User{}, &Namespace{}, &UserNamespaceRoles{}, &UserRepositoryRoles{}} {
		if err := s.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("auto-migrate rbac tables: %w", err)
		}
	}
	return nil
}

// Transaction runs fn with a store bundle bound to a transaction. Any error
// returned by fn rolls back every write performed through the bundle.
func (s *Stores) Transaction(fn func(tx *Stores) error) error {
	return s.db.Transaction(func(txdb *gorm.DB) error {
		return fn(NewStores(txdb))
	})
}

// UserStore provides lookups and persistence for repository accounts.
type UserStore struct {
	db *gorm.DB
}

// FindByUsername retrieves a user by their unique username.
// Returns nil, nil if no user exists.
func (s *UserStore) FindByUsername(username string) (*User, error) {
	var user User
	err := s.db.Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return &user, nil
}

// Exists reports whether a user row with the given ID is persisted.
func (s *UserStore) Exists(id string) (bool, error) {
	var count int64
	if err := s.db.Model(&User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return count > 0, nil
}

// Save persists a user, assigning an ID when missing.
func (s *UserStore) Save(user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if err := s.db.Save(user).Error; err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// IsSysadmin reports whether the user holds the repository-wide sysadmin
// privilege.
func (s *UserStore) IsSysadmin(user *User) (bool, error) {
	if user == nil {
		return false, nil
	}
	var row UserRepositoryRoles
	err := s.db.Where("user_id = ?", user.ID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check sysadmin: %w", err)
	}
	return row.Sysadmin, nil
}

// SetSysadmin grants or revokes the repository-wide sysadmin privilege.
func (s *UserStore) SetSysadmin(user *User, sysadmin bool) error {
	row := UserRepositoryRoles{UserID: user.ID, Sysadmin: sysadmin}
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("set sysadmin: %w", err)
	}
	return nil
}

// NamespaceStore provides lookups and persistence for namespaces.
type NamespaceStore struct {
	db *gorm.DB
}

// FindByName retrieves a namespace by name. The lookup is case-insensitive
// since names are persisted lowercase. Returns nil, nil if no namespace
// exists.
func (s *NamespaceStore) FindByName(name string) (*Namespace, error) {
	var ns Namespace
	err := s.db.Where("name = ?", NormalizeNamespaceName(name)).First(&ns).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find namespace by name: %w", err)
	}
	return &ns, nil
}

// Exists reports whether a namespace row with the given ID is persisted.
func (s *NamespaceStore) Exists(id string) (bool, error) {
	var count int64
	if err := s.db.Model(&Namespace{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check namespace exists: %w", err)
	}
	return count > 0, nil
}

// FindByID retrieves a namespace by ID. Returns nil, nil if no namespace
// exists.
func (s *NamespaceStore) FindByID(id string) (*Namespace, error) {
	var ns Namespace
	err := s.db.Where("id = ?", id).First(&ns).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find namespace by id: %w", err)
	}
	return &ns, nil
}

// Save persists a namespace, assigning an ID when missing and normalizing
// the name to lowercase.
func (s *NamespaceStore) Save(ns *Namespace) error {
	if ns.ID == "" {
		ns.ID = uuid.New().String()
	}
	ns.Name = NormalizeNamespaceName(ns.Name)
	if err := s.db.Save(ns).Error; err != nil {
		return fmt.Errorf("save namespace: %w", err)
	}
	return nil
}

// AssociationStore provides persistence for (user, namespace) role rows.
// Single-row mutations rely on the database's own row-level concurrency
// control; the engine performs no in-process locking.
type AssociationStore struct {
	db *gorm.DB
}

// FindOne retrieves the association for the given pair.
// Returns nil, nil if no association exists - absence means zero roles.
func (s *AssociationStore) FindOne(user *User, ns *Namespace) (*UserNamespaceRoles, error) {
	var row UserNamespaceRoles
	err := s.db.Where("user_id = ? AND namespace_id = ?", user.ID, ns.ID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find association: %w", err)
	}
	return &row, nil
}

// Save persists an association row, creating or updating in place.
func (s *AssociationStore) Save(row *UserNamespaceRoles) error {
	if err := s.db.Save(row).Error; err != nil {
		return fmt.Errorf("save association: %w", err)
	}
	return nil
}

// Delete removes the association row for the given pair.
func (s *AssociationStore) Delete(user *User, ns *Namespace) error {
	err := s.db.Where("user_id = ? AND namespace_id = ?", user.ID, ns.ID).
		Delete(&UserNamespaceRoles{}).Error
	if err != nil {
		return fmt.Errorf("delete association: %w", err)
	}
	return nil
}

// FindAllByNamespace retrieves every association on the given namespace.
func (s *AssociationStore) FindAllByNamespace(ns *Namespace) ([]UserNamespaceRoles, error) {
	var rows []UserNamespaceRoles
	if err := s.db.Where("namespace_id = ?", ns.ID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find associations by namespace: %w", err)
	}
	return rows, nil
}

// FindAllByNamespaceAndRoles retrieves associations on the namespace whose
// mask contains every role in filter.
func (s *AssociationStore) FindAllByNamespaceAndRoles(ns *Namespace, filter RoleSet) ([]UserNamespaceRoles, error) {
	rows, err := s.FindAllByNamespace(ns)
	if err != nil {
		return nil, err
	}
	return filterByRoles(rows, filter), nil
}

// FindAllByUser retrieves every association held by the given user.
func (s *AssociationStore) FindAllByUser(user *User) ([]UserNamespaceRoles, error) {
	var rows []UserNamespaceRoles
	if err := s.db.Where("user_id = ?", user.ID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find associations by user: %w", err)
	}
	return rows, nil
}

// FindAllByUserAndRoles retrieves the user's associations whose mask contains
// every role in filter.
func (s *AssociationStore) FindAllByUserAndRoles(user *User, filter RoleSet) ([]UserNamespaceRoles, error) {
	rows, err := s.FindAllByUser(user)
	if err != nil {
		return nil, err
	}
	return filterByRoles(rows, filter), nil
}

// FindAll retrieves every association in the store.
func (s *AssociationStore) FindAll() ([]UserNamespaceRoles, error) {
	var rows []UserNamespaceRoles
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find all associations: %w", err)
	}
	return rows, nil
}

// filterByRoles keeps rows whose mask contains the full filter
// (AND-equality: all filter roles present, not any).
func filterByRoles(rows []UserNamespaceRoles, filter RoleSet) []UserNamespaceRoles {
	out := rows[:0:0]
	for _, row := range rows {
		if row.Roles.Contains(filter) {
			out = append(out, row)
		}
	}
	return out
}
