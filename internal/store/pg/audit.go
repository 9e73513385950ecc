package pg

import (
	"context"
	"database/sql"
	"fmt"

	"signalo.org/internal/audit"
	"signalo.org/internal/ids"
)

// AuditStore implements audit.Store on PostgreSQL. The table is append-only.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

// NewAuditStore builds an AuditStore over the shared pool.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, e *audit.Entry) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(id, event, report_id, package_id, collectivity_id, ddfip_id, actor_id, at)
		values($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.Event, e.ReportID, e.PackageID, e.CollectivityID, e.DDFIPID, e.ActorID, e.At,
	)
	return err
}

func (s *AuditStore) List(ctx context.Context, f audit.Filter) ([]*audit.Entry, error) {
	query := `select id, event, report_id, package_id, collectivity_id, ddfip_id, actor_id, at
		from audit_log where 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ReportID != "" {
		query += ` and report_id=` + arg(f.ReportID)
	}
	if f.PackageID != "" {
		query += ` and package_id=` + arg(f.PackageID)
	}
	if f.ActorID != "" {
		query += ` and actor_id=` + arg(f.ActorID)
	}
	if !f.Since.IsZero() {
		query += ` and at >= ` + arg(f.Since)
	}
	query += ` order by at`
	if f.Limit > 0 {
		query += ` limit ` + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.Event, &e.ReportID, &e.PackageID,
			&e.CollectivityID, &e.DDFIPID, &e.ActorID, &e.At); err != nil {
			return nil, err
		}
		res = append(res, &e)
	}
	return res, rows.Err()
}
