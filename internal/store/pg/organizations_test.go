package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"signalo.org/internal/organizations"
)

func TestReplaceOfficeCommunesIssuesOneDeleteOneInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewOrganizationStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("delete from office_communes").
		WithArgs("o1", "64001", "64002").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into office_communes").
		WithArgs("o1", "64100", "64102").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("update offices set updated_at").
		WithArgs("o1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.ReplaceOfficeCommunes(context.Background(), "o1",
		[]string{"64001", "64002"}, []string{"64100", "64102"})
	if err != nil {
		t.Fatalf("ReplaceOfficeCommunes: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindOrganizationNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewOrganizationStore(db)

	mock.ExpectQuery("select (.+) from organizations").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.FindOrganization(context.Background(), "missing"); !errors.Is(err, organizations.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDDFIPsForDepartmentsEmptyInput(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewOrganizationStore(db)

	got, err := store.DDFIPsForDepartments(context.Background(), nil)
	if err != nil {
		t.Fatalf("DDFIPsForDepartments: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no rows without departments, got %d", len(got))
	}
}
