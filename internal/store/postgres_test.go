package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := &PostgresStore{db: db, schemas: make(map[string]Schema)}
	if err := s.CreateCollection(context.Background(), groceriesSchema()); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	return s, mock
}

func TestPostgresStore_InsertScopesRowsAffectedByUser(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO store_records`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	record, err := s.Insert(context.Background(), "groceries", "u1", map[string]any{"item": "milk", "quantity": 2.0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if record.UserID != "u1" {
		t.Errorf("got user_id %q, want u1", record.UserID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_GetNoRowsIsNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, user_id, data, created_at, updated_at`).
		WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "groceries", "u1", "missing-id")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_GetWrongUserIsTenantIsolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, user_id, data, created_at, updated_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "data", "created_at", "updated_at"}).
			AddRow("rec-1", "owner", []byte(`{"item":"milk","quantity":2}`), now, now))

	_, err := s.Get(context.Background(), "groceries", "not-owner", "rec-1")
	if err != ErrTenantIsolation {
		t.Fatalf("expected ErrTenantIsolation, got %v", err)
	}
}

func TestPostgresStore_DeleteNoRowsAffectedIsNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM store_records`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Delete(context.Background(), "groceries", "u1", "missing-id")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
