package docstore

import "fmt"

// RoleUser scopes a grant to a single user.
func RoleUser(userID string) string {
	return "user:" + userID
}

// PermissionRead grants read access to a role.
func PermissionRead(role string) string {
	return fmt.Sprintf("read(%q)", role)
}

// PermissionUpdate grants update access to a role.
func PermissionUpdate(role string) string {
	return fmt.Sprintf("update(%q)", role)
}

// PermissionDelete grants delete access to a role.
func PermissionDelete(role string) string {
	return fmt.Sprintf("delete(%q)", role)
}

// OwnerGrants is the grant set attached to every progress document: the
// owning user may read, update and delete it, and nobody else can. The
// database enforces per-user isolation independent of application logic.
func OwnerGrants(userID string) []string {
	role := RoleUser(userID)
	return []string{
		PermissionRead(role),
		PermissionUpdate(role),
		PermissionDelete(role),
	}
}

// EventGrants is the grant set for audit events: owner-readable only,
// since events are write-once from the client's perspective.
func EventGrants(userID string) []string {
	return []string{PermissionRead(RoleUser(userID))}
}
