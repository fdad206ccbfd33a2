package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists schema-validated records, scoping every operation by
// user_id for tenant isolation. Implementations never allow a caller to
// read, update, or delete a record owned by a different user_id -
// CreateCollection registers a schema once; every subsequent call
// validates against it.
type Store interface {
	CreateCollection(ctx context.Context, schema Schema) error
	Schema(ctx context.Context, collection string) (Schema, error)

	Insert(ctx context.Context, collection, userID string, data map[string]any) (Record, error)
	Get(ctx context.Context, collection, userID, id string) (Record, error)
	Update(ctx context.Context, collection, userID, id string, patch map[string]any) (Record, error)
	Delete(ctx context.Context, collection, userID, id string) error
	List(ctx context.Context, collection, userID string, q Query) ([]Record, error)
	Aggregate(ctx context.Context, collection, userID string, agg Aggregation) ([]AggregateResult, error)
}

// MemoryStore is an in-memory Store implementation, used for tests and
// single-process deployments without a live Postgres instance.
type MemoryStore struct {
	mu      sync.RWMutex
	schemas map[string]Schema
	records map[string]map[string]Record // collection -> record ID -> Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schemas: make(map[string]Schema),
		records: make(map[string]map[string]Record),
	}
}

func (s *MemoryStore) CreateCollection(ctx context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[schema.Collection] = schema
	if _, ok := s.records[schema.Collection]; !ok {
		s.records[schema.Collection] = make(map[string]Record)
	}
	return nil
}

func (s *MemoryStore) Schema(ctx context.Context, collection string) (Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[collection]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
	}
	return schema, nil
}

func (s *MemoryStore) Insert(ctx context.Context, collection, userID string, data map[string]any) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, ok := s.schemas[collection]
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
	}
	validated, err := schema.ValidateInsert(data)
	if err != nil {
		return Record{}, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	record := Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Data:      validated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[collection][record.ID] = record
	return record, nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, userID, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID, ok := s.records[collection]
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
	}
	record, ok := byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if record.UserID != userID {
		return Record{}, ErrTenantIsolation
	}
	return record, nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, userID, id string, patch map[string]any) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, ok := s.schemas[collection]
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
	}
	byID, ok := s.records[collection]
	if !ok {
		return Record{}, ErrNotFound
	}
	existing, ok := byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if existing.UserID != userID {
		return Record{}, ErrTenantIsolation
	}

	merged, err := schema.ValidateUpdate(existing.Data, patch)
	if err != nil {
		return Record{}, err
	}

	existing.Data = merged
	existing.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	byID[id] = existing
	return existing, nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.records[collection]
	if !ok {
		return fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
	}
	existing, ok := byID[id]
	if !ok {
		return ErrNotFound
	}
	if existing.UserID != userID {
		return ErrTenantIsolation
	}
	delete(byID, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, collection, userID string, q Query) ([]Record, error) {
	s.mu.RLock()
	byID, ok := s.records[collection]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
	}
	scoped := make([]Record, 0, len(byID))
	for _, record := range byID {
		if record.UserID == userID {
			scoped = append(scoped, record)
		}
	}
	s.mu.RUnlock()

	return ApplyQuery(scoped, q)
}

func (s *MemoryStore) Aggregate(ctx context.Context, collection, userID string, agg Aggregation) ([]AggregateResult, error) {
	s.mu.RLock()
	byID, ok := s.records[collection]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
	}
	scoped := make([]Record, 0, len(byID))
	for _, record := range byID {
		if record.UserID == userID {
			scoped = append(scoped, record)
		}
	}
	s.mu.RUnlock()

	return Aggregate(scoped, agg)
}
