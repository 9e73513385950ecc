package pg

import (
	"context"
	"database/sql"
	"errors"

	"signalo.org/internal/ids"
	"signalo.org/internal/organizations"
)

// OrganizationStore implements organizations.Store on PostgreSQL.
type OrganizationStore struct {
	db *sql.DB
}

var _ organizations.Store = (*OrganizationStore)(nil)

// NewOrganizationStore builds an OrganizationStore over the shared pool.
func NewOrganizationStore(db *sql.DB) *OrganizationStore {
	return &OrganizationStore{db: db}
}

const organizationColumns = `id, kind, name, contact_email, department_code, publisher_id,
	auto_assign_reports, auto_approve_pkgs, created_at, updated_at, discarded_at`

func (s *OrganizationStore) CreateOrganization(ctx context.Context, org *organizations.Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into organizations(id, kind, name, contact_email, department_code, publisher_id,
			auto_assign_reports, auto_approve_pkgs, created_at, updated_at)
		values($1,$2,$3,$4,$5,$6,$7,$8,now(),now())`,
		org.ID, string(org.Kind), org.Name, org.ContactEmail, org.DepartmentCode, org.PublisherID,
		org.AutoAssignReports, org.AutoApprovePkgs,
	)
	return err
}

func (s *OrganizationStore) FindOrganization(ctx context.Context, id string) (*organizations.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+organizationColumns+` from organizations where id=$1 and discarded_at is null`, id)
	return scanOrganization(row)
}

func (s *OrganizationStore) ListOrganizations(ctx context.Context, kind organizations.Kind) ([]*organizations.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+organizationColumns+` from organizations
		 where kind=$1 and discarded_at is null order by name`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrganizations(rows)
}

func (s *OrganizationStore) DDFIPsForDepartments(ctx context.Context, departments []string) ([]*organizations.Organization, error) {
	if len(departments) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(departments)+1)
	args = append(args, string(organizations.KindDDFIP))
	for _, d := range departments {
		args = append(args, d)
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+organizationColumns+` from organizations
		 where kind=$1 and discarded_at is null
		 and department_code in (`+placeholders(2, len(departments))+`)
		 order by department_code`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrganizations(rows)
}

func (s *OrganizationStore) CreateOffice(ctx context.Context, office *organizations.Office) error {
	if office.ID == "" {
		office.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into offices(id, ddfip_id, name, created_at, updated_at)
		values($1,$2,$3,now(),now())`,
		office.ID, office.DDFIPID, office.Name,
	); err != nil {
		return err
	}
	if err := insertOfficeSet(ctx, tx, "office_competences", "form_type", office.ID, office.Competences); err != nil {
		return err
	}
	if err := insertOfficeSet(ctx, tx, "office_communes", "commune_code", office.ID, office.CommuneCodes); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *OrganizationStore) FindOffice(ctx context.Context, id string) (*organizations.Office, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, ddfip_id, name, created_at, updated_at, discarded_at
		from offices where id=$1 and discarded_at is null`, id)
	office, err := scanOffice(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadOfficeSets(ctx, office); err != nil {
		return nil, err
	}
	return office, nil
}

func (s *OrganizationStore) ListOffices(ctx context.Context, ddfipID string) ([]*organizations.Office, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, ddfip_id, name, created_at, updated_at, discarded_at
		from offices where ddfip_id=$1 and discarded_at is null order by name`, ddfipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offices []*organizations.Office
	for rows.Next() {
		office, err := scanOffice(rows)
		if err != nil {
			return nil, err
		}
		offices = append(offices, office)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, office := range offices {
		if err := s.loadOfficeSets(ctx, office); err != nil {
			return nil, err
		}
	}
	return offices, nil
}

// ReplaceOfficeCommunes applies a precomputed diff: one bulk delete for the
// removed codes, one bulk insert for the added ones.
func (s *OrganizationStore) ReplaceOfficeCommunes(ctx context.Context, officeID string, removed, added []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if len(removed) > 0 {
		args := make([]any, 0, len(removed)+1)
		args = append(args, officeID)
		for _, c := range removed {
			args = append(args, c)
		}
		if _, err := tx.ExecContext(ctx, `
			delete from office_communes
			where office_id=$1 and commune_code in (`+placeholders(2, len(removed))+`)`,
			args...); err != nil {
			return err
		}
	}
	if err := insertOfficeSet(ctx, tx, "office_communes", "commune_code", officeID, added); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update offices set updated_at=now() where id=$1`, officeID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *OrganizationStore) SetOfficeCompetences(ctx context.Context, officeID string, competences []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from office_competences where office_id=$1`, officeID); err != nil {
		return err
	}
	if err := insertOfficeSet(ctx, tx, "office_competences", "form_type", officeID, competences); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update offices set updated_at=now() where id=$1`, officeID); err != nil {
		return err
	}
	return tx.Commit()
}

// insertOfficeSet bulk-inserts one office membership table in a single
// multi-values statement.
func insertOfficeSet(ctx context.Context, tx *sql.Tx, table, column, officeID string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	query := `insert into ` + table + `(office_id, ` + column + `) values `
	args := make([]any, 0, len(values)+1)
	args = append(args, officeID)
	for i, v := range values {
		if i > 0 {
			query += ","
		}
		args = append(args, v)
		query += `($1,$` + itoa(len(args)) + `)`
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (s *OrganizationStore) loadOfficeSets(ctx context.Context, office *organizations.Office) error {
	var err error
	office.Competences, err = s.loadSet(ctx, "office_competences", "form_type", office.ID)
	if err != nil {
		return err
	}
	office.CommuneCodes, err = s.loadSet(ctx, "office_communes", "commune_code", office.ID)
	return err
}

func (s *OrganizationStore) loadSet(ctx context.Context, table, column, officeID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+column+` from `+table+` where office_id=$1 order by `+column, officeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func scanOrganization(row rowScanner) (*organizations.Organization, error) {
	var org organizations.Organization
	var kind string
	var discarded sql.NullTime
	if err := row.Scan(&org.ID, &kind, &org.Name, &org.ContactEmail, &org.DepartmentCode,
		&org.PublisherID, &org.AutoAssignReports, &org.AutoApprovePkgs,
		&org.CreatedAt, &org.UpdatedAt, &discarded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, organizations.ErrNotFound
		}
		return nil, err
	}
	org.Kind = organizations.Kind(kind)
	org.DiscardedAt = timePtr(discarded)
	return &org, nil
}

func collectOrganizations(rows *sql.Rows) ([]*organizations.Organization, error) {
	var res []*organizations.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, org)
	}
	return res, rows.Err()
}

func scanOffice(row rowScanner) (*organizations.Office, error) {
	var office organizations.Office
	var discarded sql.NullTime
	if err := row.Scan(&office.ID, &office.DDFIPID, &office.Name,
		&office.CreatedAt, &office.UpdatedAt, &discarded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, organizations.ErrNotFound
		}
		return nil, err
	}
	office.DiscardedAt = timePtr(discarded)
	return &office, nil
}
