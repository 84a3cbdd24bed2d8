// Package identity authenticates callers of the audit ledger API.
//
// It provides:
//   - TokenIssuer: issues and verifies HS256 role tokens
//   - RequireRole: Gin middleware enforcing a Bearer role token
package identity

// Roles understood by the ledger API.
const (
	// RoleProducer may append entries.
	RoleProducer = "producer"
	// RoleAuditor may read entries and run verification.
	RoleAuditor = "auditor"
)

// ValidRole reports whether r is a role the API knows.
func ValidRole(r string) bool {
	return r == RoleProducer || r == RoleAuditor
}
