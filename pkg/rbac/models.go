package rbac

import (
	"strings"
	"time"
)

// PrivateNamespacePrefix marks user-private namespaces. Names carrying this
// prefix are exempt from creation quotas; names without it are reserved for
// sysadmin-created official namespaces.
const PrivateNamespacePrefix = "vorto.private."

// User is the GORM model for a repository account. The (Username,
// AuthenticationProviderID) pair is the true external identity key;
// Technical marks non-human service accounts.
type User struct {
	ID                       string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Username                 string    `gorm:"column:username;uniqueIndex:idx_user_name;not null"`
	AuthenticationProviderID string    `gorm:"column:authentication_provider_id"`
	Technical                bool      `gorm:"column:is_technical_user;default:false"`
	CreatedBy                string    `gorm:"column:created_by"`
	CreatedAt                time.Time `gorm:"column:created_at"`
	UpdatedAt                time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (User) TableName() string { return "users" }

// Namespace is the GORM model for a named, owned grouping of models.
// Names are hierarchical and case-insensitively unique; they are persisted
// lowercase.
type Namespace struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name        string    `gorm:"column:name;uniqueIndex:idx_namespace_name;not null"`
	OwnerUserID string    `gorm:"column:owner_user_id;index;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (Namespace) TableName() string { return "namespaces" }

// IsPrivate reports whether the namespace uses the reserved private prefix.
func (n *Namespace) IsPrivate() bool {
	return strings.HasPrefix(n.Name, PrivateNamespacePrefix)
}

// NormalizeNamespaceName lowercases a namespace name for lookup and storage.
func NormalizeNamespaceName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// UserNamespaceRoles is the GORM model for the (user, namespace) role
// association. At most one row exists per pair; absence of a row means zero
// roles. The row is created on first grant, updated in place on later grants
// and revocations, and deleted when all roles are removed.
type UserNamespaceRoles struct {
	UserID      string    `gorm:"primaryKey;column:user_id;type:varchar(36)"`
	NamespaceID string    `gorm:"primaryKey;column:namespace_id;type:varchar(36)"`
	Roles       RoleSet   `gorm:"column:roles;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (UserNamespaceRoles) TableName() string { return "user_namespace_roles" }

// NamespaceRole is the GORM model backing the role catalog: one row per
// named role with its bit value.
type NamespaceRole struct {
	Name  string `gorm:"primaryKey;column:name"`
	Value uint64 `gorm:"column:role_value;uniqueIndex:idx_role_value;not null"`
}

// TableName returns the GORM table name.
func (NamespaceRole) TableName() string { return "namespace_roles" }

// UserRepositoryRoles is the GORM model for repository-wide (not
// namespace-scoped) privileges, of which sysadmin is the only one consulted
// by this package.
type UserRepositoryRoles struct {
	UserID   string `gorm:"primaryKey;column:user_id;type:varchar(36)"`
	Sysadmin bool   `gorm:"column:is_sysadmin;default:false"`
}

// TableName returns the GORM table name.
func (UserRepositoryRoles) TableName() string { return "user_repository_roles" }
