package rbac

import "slices"

// 权限常量
const (
	PermissionReadProject     = "project:read"
	PermissionUpdatePhase     = "phase:update"
	PermissionWriteDependency = "dependency:write"

	// 批量修复会改写整个项目的日期
	PermissionFixProject   = "project:fix"
	PermissionReplayOutbox = "outbox:replay"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionReadProject,
		PermissionUpdatePhase,
		PermissionWriteDependency,
	},
	RoleAdmin: {
		PermissionReadProject,
		PermissionUpdatePhase,
		PermissionWriteDependency,
		PermissionFixProject,
		PermissionReplayOutbox,
	},
}

// NormalizeRole maps an unknown or empty role from a token to RoleUser.
func NormalizeRole(role string) string {
	if _, ok := rolePermissions[role]; ok {
		return role
	}
	return RoleUser
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	return slices.Contains(rolePermissions[NormalizeRole(role)], permission)
}

// CheckPermission 检查权限（返回错误而不是布尔值，便于处理）
func CheckPermission(userID int, role string, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       NormalizeRole(role),
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     int
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
