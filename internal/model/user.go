// Package model holds the account records stored next to the ledger.
package model

import "time"

// Roles accepted at registration.  Both may own and rent assets; the role
// only gates which API routes a token can reach.
const (
	RoleOwner  = "OWNER"
	RoleRenter = "RENTER"
)

// User mirrors a row of the users table.  Its ledger identity is the
// decimal form of ID.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}
