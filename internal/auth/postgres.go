package auth

import (
	"context"
	"database/sql"

	"signalo.org/internal/ids"
)

var _ UserStore = (*PGUserStore)(nil)

// PGUserStore implements UserStore using PostgreSQL.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

const userColumns = `id, organization_id, email, password_hash, organization_admin, super_admin, created_at, updated_at, discarded_at`

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, organization_id, email, password_hash, organization_admin, super_admin)
		 values($1,$2,$3,$4,$5,$6)`,
		u.ID, u.OrganizationID, u.Email, u.PasswordHash, u.OrganizationAdmin, u.SuperAdmin,
	)
	return err
}

func (s *PGUserStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1 and discarded_at is null`, id)
	return scanUser(ctx, s.db, row)
}

func (s *PGUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1 and discarded_at is null`, email)
	return scanUser(ctx, s.db, row)
}

func (s *PGUserStore) ListByOrganization(ctx context.Context, orgID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where organization_id=$1 and discarded_at is null order by created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PGUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1 and discarded_at is null`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserRow(row rowScanner) (*User, error) {
	var u User
	var discarded sql.NullTime
	if err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.PasswordHash,
		&u.OrganizationAdmin, &u.SuperAdmin, &u.CreatedAt, &u.UpdatedAt, &discarded); err != nil {
		return nil, err
	}
	if discarded.Valid {
		t := discarded.Time
		u.DiscardedAt = &t
	}
	return &u, nil
}

func scanUser(ctx context.Context, db *sql.DB, row *sql.Row) (*User, error) {
	u, err := scanUserRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `select office_id from office_users where user_id=$1`, u.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var officeID string
		if err := rows.Scan(&officeID); err != nil {
			return nil, err
		}
		u.OfficeIDs = append(u.OfficeIDs, officeID)
	}
	return u, rows.Err()
}
