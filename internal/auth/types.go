package auth

import "time"

// User is a human or API account operating on behalf of exactly one organization.
type User struct {
	ID                string
	OrganizationID    string
	Email             string
	PasswordHash      string
	OrganizationAdmin bool
	SuperAdmin        bool
	OfficeIDs         []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DiscardedAt       *time.Time
}

// Kept reports whether the user has not been soft deleted.
func (u *User) Kept() bool { return u.DiscardedAt == nil }
