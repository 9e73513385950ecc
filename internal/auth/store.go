package auth

import "context"

// UserStore describes persistence operations required by the auth subsystem.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListByOrganization(ctx context.Context, orgID string) ([]*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}
