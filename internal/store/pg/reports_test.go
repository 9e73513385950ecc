package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"signalo.org/internal/reporting"
)

func newMock(t *testing.T) (sqlmock.Sqlmock, *ReportStore, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return mock, NewReportStore(db), func() { db.Close() }
}

func TestUpdateReportLostRaceIsConflict(t *testing.T) {
	mock, store, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectExec("update reports set").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	r := &reporting.Report{ID: "r1", Version: 3}
	if err := store.UpdateReport(context.Background(), r); !errors.Is(err, reporting.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateReportMissingRowIsNotFound(t *testing.T) {
	mock, store, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectExec("update reports set").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	r := &reporting.Report{ID: "r1", Version: 1}
	if err := store.UpdateReport(context.Background(), r); !errors.Is(err, reporting.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreatePackageAssignsMonthlyReference(t *testing.T) {
	mock, store, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery("insert into package_references").
		WithArgs(reporting.ReferencePrefix(time.Now())).
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(4))
	mock.ExpectExec("insert into packages").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	p := &reporting.Package{CollectivityID: "c1"}
	if err := store.CreatePackage(context.Background(), p); err != nil {
		t.Fatalf("CreatePackage: %v", err)
	}
	if got := reporting.SequenceOf(p.Reference); got != 4 {
		t.Fatalf("reference sequence = %d (%s), want 4", got, p.Reference)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkPackageReturnedCascadesInOneTransaction(t *testing.T) {
	mock, store, closeDB := newMock(t)
	defer closeDB()

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("update packages set returned_at").
		WithArgs("p1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update reports set returned_at").
		WithArgs("p1", at).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := store.MarkPackageReturned(context.Background(), "p1", at); err != nil {
		t.Fatalf("MarkPackageReturned: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkPackageApprovedRoutesReportsInOneTransaction(t *testing.T) {
	mock, store, closeDB := newMock(t)
	defer closeDB()

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("update packages set approved_at").
		WithArgs("p1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update reports set ddfip_id").
		WithArgs("p1", "d33", at, "33").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update reports set ddfip_id").
		WithArgs("p1", "d64", at, "64").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := store.MarkPackageApproved(context.Background(), "p1", at, map[string]string{
		"64": "d64",
		"33": "d33",
	})
	if err != nil {
		t.Fatalf("MarkPackageApproved: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkPackageApprovedUnknownPackage(t *testing.T) {
	mock, store, closeDB := newMock(t)
	defer closeDB()

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("update packages set approved_at").
		WithArgs("missing", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.MarkPackageApproved(context.Background(), "missing", at, map[string]string{"64": "d64"})
	if !errors.Is(err, reporting.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkPackageTransmittedUnknownPackage(t *testing.T) {
	mock, store, closeDB := newMock(t)
	defer closeDB()

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("update packages set transmitted_at").
		WithArgs("missing", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.MarkPackageTransmitted(context.Background(), "missing", at)
	if !errors.Is(err, reporting.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
