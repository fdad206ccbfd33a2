package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"
)

// PostgresConfig configures a Postgres-backed Store connection pool.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sane pool defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store against a single `store_records` table,
// JSONB-encoding each record's typed data and scoping every statement by
// collection and user_id. Schemas are held in memory (validation happens
// in Go, not in the database) and must be re-registered via
// CreateCollection after process restart, mirroring how CockroachStore's
// caller owns schema/migration concerns outside the store itself.
type PostgresStore struct {
	db *sql.DB

	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewPostgresStore opens a connection pool against dsn. The caller is
// responsible for having applied the `store_records` table migration
// out-of-band - migrations are explicitly out of scope (spec.md §1).
func NewPostgresStore(dsn string, cfg PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db, schemas: make(map[string]Schema)}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) CreateCollection(ctx context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[schema.Collection] = schema
	return nil
}

func (s *PostgresStore) Schema(ctx context.Context, collection string) (Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[collection]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
	}
	return schema, nil
}

func (s *PostgresStore) schemaFor(collection string) (Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[collection]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
	}
	return schema, nil
}

func (s *PostgresStore) Insert(ctx context.Context, collection, userID string, data map[string]any) (Record, error) {
	schema, err := s.schemaFor(collection)
	if err != nil {
		return Record{}, err
	}
	validated, err := schema.ValidateInsert(data)
	if err != nil {
		return Record{}, err
	}

	payload, err := json.Marshal(validated)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record data: %w", err)
	}

	record := Record{
		ID:     uuid.NewString(),
		UserID: userID,
		Data:   validated,
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO store_records (id, collection, user_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING created_at, updated_at
	`, record.ID, collection, userID, payload)

	var createdAt, updatedAt time.Time
	if err := row.Scan(&createdAt, &updatedAt); err != nil {
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	record.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	record.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return record, nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, userID, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, data, created_at, updated_at
		FROM store_records
		WHERE collection = $1 AND id = $2
	`, collection, id)

	record, rowUserID, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	if rowUserID != userID {
		return Record{}, ErrTenantIsolation
	}
	return record, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, userID, id string, patch map[string]any) (Record, error) {
	schema, err := s.schemaFor(collection)
	if err != nil {
		return Record{}, err
	}

	existing, err := s.Get(ctx, collection, userID, id)
	if err != nil {
		return Record{}, err
	}

	merged, err := schema.ValidateUpdate(existing.Data, patch)
	if err != nil {
		return Record{}, err
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record data: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE store_records
		SET data = $4, updated_at = now()
		WHERE collection = $1 AND id = $2 AND user_id = $3
		RETURNING updated_at
	`, collection, id, userID, payload)

	var updatedAt time.Time
	if err := row.Scan(&updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("update record: %w", err)
	}

	existing.Data = merged
	existing.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return existing, nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, userID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM store_records WHERE collection = $1 AND id = $2 AND user_id = $3
	`, collection, id, userID)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List fetches every record in collection scoped to userID and applies the
// query's filters/ordering/pagination in Go. Pushing the JSONB predicates
// down to SQL would avoid the full scan, but the filter/aggregation
// semantics (numeric-first comparison, lexicographic fallback) are defined
// against Go's dynamic typing in ApplyQuery and kept identical across
// backends by running them there for both MemoryStore and PostgresStore.
func (s *PostgresStore) List(ctx context.Context, collection, userID string, q Query) ([]Record, error) {
	if _, err := s.schemaFor(collection); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, data, created_at, updated_at
		FROM store_records
		WHERE collection = $1 AND user_id = $2
	`, collection, userID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, _, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	return ApplyQuery(records, q)
}

func (s *PostgresStore) Aggregate(ctx context.Context, collection, userID string, agg Aggregation) ([]AggregateResult, error) {
	records, err := s.List(ctx, collection, userID, Query{Limit: MaxQueryLimit})
	if err != nil {
		return nil, err
	}
	return Aggregate(records, agg)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (Record, string, error) {
	var (
		id, userID         string
		dataBytes          []byte
		createdAt, updated time.Time
	)
	if err := scanner.Scan(&id, &userID, &dataBytes, &createdAt, &updated); err != nil {
		return Record{}, "", err
	}

	var data map[string]any
	if len(dataBytes) > 0 {
		if err := json.Unmarshal(dataBytes, &data); err != nil {
			return Record{}, "", fmt.Errorf("unmarshal record data: %w", err)
		}
	}

	return Record{
		ID:        id,
		UserID:    userID,
		Data:      data,
		CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: updated.UTC().Format(time.RFC3339Nano),
	}, userID, nil
}
