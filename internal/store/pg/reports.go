package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"signalo.org/internal/ids"
	"signalo.org/internal/reporting"
)

// ReportStore implements reporting.Store on PostgreSQL.
type ReportStore struct {
	db *sql.DB
}

var _ reporting.Store = (*ReportStore)(nil)

// NewReportStore builds a ReportStore over the shared pool.
func NewReportStore(db *sql.DB) *ReportStore {
	return &ReportStore{db: db}
}

const reportColumns = `id, collectivity_id, publisher_id, form_type, priority, commune_code,
	anomalies, fields, observations, transmission_id, package_id, ddfip_id, office_id,
	ready_at, transmitted_at, acknowledged_at, accepted_at, rejected_at, assigned_at,
	resolved_at, approved_at, returned_at, canceled_at,
	resolution_kind, resolution_motif, resolution_comment, rejection_reason,
	created_at, updated_at, discarded_at, version`

func (s *ReportStore) CreateReport(ctx context.Context, r *reporting.Report) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	anomalies, err := json.Marshal(r.Anomalies)
	if err != nil {
		return err
	}
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	r.Version = 1
	_, err = s.db.ExecContext(ctx, `
		insert into reports(id, collectivity_id, publisher_id, form_type, priority, commune_code,
			anomalies, fields, observations, created_at, updated_at, version)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.CollectivityID, r.PublisherID, r.FormType, string(r.Priority), r.CommuneCode,
		anomalies, fields, r.Observations, r.CreatedAt, r.UpdatedAt, r.Version,
	)
	return err
}

func (s *ReportStore) FindReport(ctx context.Context, id string) (*reporting.Report, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+reportColumns+` from reports where id=$1`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reporting.ErrNotFound
	}
	return r, err
}

func (s *ReportStore) ListReports(ctx context.Context, f reporting.ReportFilter) ([]*reporting.Report, error) {
	if f.None {
		return nil, nil
	}
	query := `select ` + reportColumns + ` from reports where 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !f.IncludeDiscarded {
		query += ` and discarded_at is null`
	}
	if len(f.IDs) > 0 {
		query += ` and id in (` + placeholders(len(args)+1, len(f.IDs)) + `)`
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if len(f.CollectivityIDs) > 0 {
		query += ` and collectivity_id in (` + placeholders(len(args)+1, len(f.CollectivityIDs)) + `)`
		for _, id := range f.CollectivityIDs {
			args = append(args, id)
		}
	}
	if f.PublisherID != "" {
		query += ` and publisher_id=` + arg(f.PublisherID)
	}
	if f.DDFIPID != "" {
		query += ` and ddfip_id=` + arg(f.DDFIPID)
	}
	if len(f.OfficeIDs) > 0 {
		query += ` and office_id in (` + placeholders(len(args)+1, len(f.OfficeIDs)) + `)`
		for _, id := range f.OfficeIDs {
			args = append(args, id)
		}
	}
	if f.PackageID != "" {
		query += ` and package_id=` + arg(f.PackageID)
	}
	if f.TransmissionID != "" {
		query += ` and transmission_id=` + arg(f.TransmissionID)
	}
	query += ` order by created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*reporting.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *ReportStore) UpdateReport(ctx context.Context, r *reporting.Report) error {
	anomalies, err := json.Marshal(r.Anomalies)
	if err != nil {
		return err
	}
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		update reports set
			priority=$3, anomalies=$4, fields=$5, observations=$6,
			transmission_id=$7, package_id=$8, ddfip_id=$9, office_id=$10,
			ready_at=$11, transmitted_at=$12, acknowledged_at=$13, accepted_at=$14,
			rejected_at=$15, assigned_at=$16, resolved_at=$17, approved_at=$18,
			returned_at=$19, canceled_at=$20,
			resolution_kind=$21, resolution_motif=$22, resolution_comment=$23,
			rejection_reason=$24, discarded_at=$25,
			updated_at=$26, version=version+1
		where id=$1 and version=$2`,
		r.ID, r.Version,
		string(r.Priority), anomalies, fields, r.Observations,
		r.TransmissionID, r.PackageID, r.DDFIPID, r.OfficeID,
		nullTime(r.ReadyAt), nullTime(r.TransmittedAt), nullTime(r.AcknowledgedAt), nullTime(r.AcceptedAt),
		nullTime(r.RejectedAt), nullTime(r.AssignedAt), nullTime(r.ResolvedAt), nullTime(r.ApprovedAt),
		nullTime(r.ReturnedAt), nullTime(r.CanceledAt),
		string(r.ResolutionKind), r.ResolutionMotif, r.ResolutionComment,
		r.RejectionReason, nullTime(r.DiscardedAt),
		now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from reports where id=$1)`, r.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return reporting.ErrNotFound
		}
		return reporting.ErrConflict
	}
	r.Version++
	r.UpdatedAt = now
	return nil
}

func (s *ReportStore) PurgeDiscardedReports(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from reports where discarded_at is not null and discarded_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OpenTransmission finds or creates the collectivity's open transmission.
// The partial unique index on (collectivity_id) where closed_at is null
// guarantees a single open transmission even under concurrent inserts.
func (s *ReportStore) OpenTransmission(ctx context.Context, collectivityID string) (*reporting.Transmission, error) {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		insert into transmissions(id, collectivity_id, created_at, updated_at)
		values($1,$2,$3,$3)
		on conflict (collectivity_id) where closed_at is null do nothing`,
		ids.New(), collectivityID, now,
	); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		select id, collectivity_id, closed_at, created_at, updated_at
		from transmissions where collectivity_id=$1 and closed_at is null`, collectivityID)
	return scanTransmission(row)
}

func (s *ReportStore) FindTransmission(ctx context.Context, id string) (*reporting.Transmission, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, collectivity_id, closed_at, created_at, updated_at
		from transmissions where id=$1`, id)
	return scanTransmission(row)
}

// CreatePackage assigns the monthly reference inside one transaction: the
// per-month counter row is upserted with an atomic increment, so concurrent
// creations in the same month never collide.
func (s *ReportStore) CreatePackage(ctx context.Context, p *reporting.Package) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	prefix := reporting.ReferencePrefix(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	if err := tx.QueryRowContext(ctx, `
		insert into package_references(month, last_seq) values($1, 1)
		on conflict (month) do update set last_seq = package_references.last_seq + 1
		returning last_seq`, prefix,
	).Scan(&seq); err != nil {
		return err
	}
	p.Reference = reporting.FormatReference(prefix, seq)
	p.CreatedAt, p.UpdatedAt = now, now
	p.Version = 1

	if _, err := tx.ExecContext(ctx, `
		insert into packages(id, reference, collectivity_id, publisher_id, created_at, updated_at, version)
		values($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.Reference, p.CollectivityID, p.PublisherID, p.CreatedAt, p.UpdatedAt, p.Version,
	); err != nil {
		return err
	}
	return tx.Commit()
}

const packageColumns = `id, reference, collectivity_id, publisher_id,
	transmitted_at, approved_at, returned_at, created_at, updated_at, discarded_at, version`

func (s *ReportStore) FindPackage(ctx context.Context, id string) (*reporting.Package, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+packageColumns+` from packages where id=$1`, id)
	p, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reporting.ErrNotFound
	}
	return p, err
}

func (s *ReportStore) ListPackages(ctx context.Context, f reporting.PackageFilter) ([]*reporting.Package, error) {
	if f.None {
		return nil, nil
	}
	query := `select ` + packageColumns + ` from packages where discarded_at is null`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.CollectivityIDs) > 0 {
		query += ` and collectivity_id in (` + placeholders(len(args)+1, len(f.CollectivityIDs)) + `)`
		for _, id := range f.CollectivityIDs {
			args = append(args, id)
		}
	}
	if f.PublisherID != "" {
		query += ` and publisher_id=` + arg(f.PublisherID)
	}
	if f.TransmittedOnly {
		query += ` and transmitted_at is not null`
	}
	if f.DDFIPDepartment != "" {
		query += ` and exists (
			select 1 from reports r where r.package_id = packages.id
			and (case when r.commune_code like '97%' then left(r.commune_code, 3)
			          else left(r.commune_code, 2) end) = ` + arg(f.DDFIPDepartment) + `)`
	}
	query += ` order by created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*reporting.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *ReportStore) UpdatePackage(ctx context.Context, p *reporting.Package) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		update packages set
			transmitted_at=$3, approved_at=$4, returned_at=$5, discarded_at=$6,
			updated_at=$7, version=version+1
		where id=$1 and version=$2`,
		p.ID, p.Version,
		nullTime(p.TransmittedAt), nullTime(p.ApprovedAt), nullTime(p.ReturnedAt), nullTime(p.DiscardedAt),
		now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from packages where id=$1)`, p.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return reporting.ErrNotFound
		}
		return reporting.ErrConflict
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *ReportStore) AttachTransmission(ctx context.Context, transmissionID, packageID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update transmissions set closed_at=$2, updated_at=$2
		where id=$1 and closed_at is null`, transmissionID, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return reporting.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		update reports set transmission_id='', package_id=$2, updated_at=$3, version=version+1
		where transmission_id=$1`, transmissionID, packageID, at); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *ReportStore) MarkPackageTransmitted(ctx context.Context, packageID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update packages set transmitted_at=$2, updated_at=$2, version=version+1
		where id=$1`, packageID, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return reporting.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		update reports set transmitted_at=$2, updated_at=$2, version=version+1
		where package_id=$1`, packageID, at); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkPackageApproved stamps the package approval and routes each contained
// report to the DDFIP of its department in the same transaction, so a crash
// mid-approval never leaves reports without an owning DDFIP.
func (s *ReportStore) MarkPackageApproved(ctx context.Context, packageID string, at time.Time, ddfipByDepartment map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update packages set approved_at=$2, updated_at=$2, version=version+1
		where id=$1`, packageID, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return reporting.ErrNotFound
	}

	departments := make([]string, 0, len(ddfipByDepartment))
	for d := range ddfipByDepartment {
		departments = append(departments, d)
	}
	sort.Strings(departments)
	for _, dept := range departments {
		if _, err := tx.ExecContext(ctx, `
			update reports set ddfip_id=$2, updated_at=$3, version=version+1
			where package_id=$1 and ddfip_id <> $2
			  and (case when commune_code like '97%' then left(commune_code, 3)
			            else left(commune_code, 2) end) = $4`,
			packageID, ddfipByDepartment[dept], at, dept); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *ReportStore) MarkPackageReturned(ctx context.Context, packageID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update packages set returned_at=$2, updated_at=$2, version=version+1
		where id=$1`, packageID, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return reporting.ErrNotFound
	}

	// Reports already in a terminal state keep their outcome.
	if _, err := tx.ExecContext(ctx, `
		update reports set returned_at=$2, updated_at=$2, version=version+1
		where package_id=$1
		  and approved_at is null and rejected_at is null
		  and canceled_at is null and returned_at is null`, packageID, at); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*reporting.Report, error) {
	var r reporting.Report
	var anomalies, fields []byte
	var priority, resolutionKind string
	var ready, transmitted, acknowledged, accepted, rejected, assigned,
		resolved, approved, returned, canceled, discarded sql.NullTime
	if err := row.Scan(
		&r.ID, &r.CollectivityID, &r.PublisherID, &r.FormType, &priority, &r.CommuneCode,
		&anomalies, &fields, &r.Observations, &r.TransmissionID, &r.PackageID, &r.DDFIPID, &r.OfficeID,
		&ready, &transmitted, &acknowledged, &accepted, &rejected, &assigned,
		&resolved, &approved, &returned, &canceled,
		&resolutionKind, &r.ResolutionMotif, &r.ResolutionComment, &r.RejectionReason,
		&r.CreatedAt, &r.UpdatedAt, &discarded, &r.Version,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(anomalies, &r.Anomalies); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &r.Fields); err != nil {
		return nil, err
	}
	r.Priority = reporting.Priority(priority)
	r.ResolutionKind = reporting.ResolutionKind(resolutionKind)
	r.ReadyAt = timePtr(ready)
	r.TransmittedAt = timePtr(transmitted)
	r.AcknowledgedAt = timePtr(acknowledged)
	r.AcceptedAt = timePtr(accepted)
	r.RejectedAt = timePtr(rejected)
	r.AssignedAt = timePtr(assigned)
	r.ResolvedAt = timePtr(resolved)
	r.ApprovedAt = timePtr(approved)
	r.ReturnedAt = timePtr(returned)
	r.CanceledAt = timePtr(canceled)
	r.DiscardedAt = timePtr(discarded)
	return &r, nil
}

func scanTransmission(row rowScanner) (*reporting.Transmission, error) {
	var t reporting.Transmission
	var closed sql.NullTime
	if err := row.Scan(&t.ID, &t.CollectivityID, &closed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reporting.ErrNotFound
		}
		return nil, err
	}
	t.ClosedAt = timePtr(closed)
	return &t, nil
}

func scanPackage(row rowScanner) (*reporting.Package, error) {
	var p reporting.Package
	var transmitted, approved, returned, discarded sql.NullTime
	if err := row.Scan(
		&p.ID, &p.Reference, &p.CollectivityID, &p.PublisherID,
		&transmitted, &approved, &returned, &p.CreatedAt, &p.UpdatedAt, &discarded, &p.Version,
	); err != nil {
		return nil, err
	}
	p.TransmittedAt = timePtr(transmitted)
	p.ApprovedAt = timePtr(approved)
	p.ReturnedAt = timePtr(returned)
	p.DiscardedAt = timePtr(discarded)
	return &p, nil
}
