package store

import (
	"context"
	"errors"
	"testing"
)

func groceriesSchema() Schema {
	return Schema{
		Collection: "groceries",
		Fields: map[string]FieldDef{
			"item":     {Type: FieldText, Required: true},
			"quantity": {Type: FieldNumber, Required: true},
			"bought":   {Type: FieldBool, Default: false},
		},
	}
}

func TestMemoryStore_QuantityOrderingIsNumericNotLexicographic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateCollection(ctx, groceriesSchema()); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	for _, q := range []float64{1, 3, 10} {
		if _, err := s.Insert(ctx, "groceries", "u1", map[string]any{"item": "x", "quantity": q}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	records, err := s.List(ctx, "groceries", "u1", Query{OrderBy: "quantity"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	want := []float64{1, 3, 10}
	for i, r := range records {
		got := r.Data["quantity"].(float64)
		if got != want[i] {
			t.Errorf("position %d: got quantity %v, want %v", i, got, want[i])
		}
	}
}

func TestMemoryStore_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateCollection(ctx, groceriesSchema()); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	record, err := s.Insert(ctx, "groceries", "u1", map[string]any{"item": "milk", "quantity": 1.0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := s.Get(ctx, "groceries", "u2", record.ID); !errors.Is(err, ErrTenantIsolation) {
		t.Fatalf("expected ErrTenantIsolation, got %v", err)
	}
	if err := s.Delete(ctx, "groceries", "u2", record.ID); !errors.Is(err, ErrTenantIsolation) {
		t.Fatalf("expected ErrTenantIsolation on delete, got %v", err)
	}

	got, err := s.Get(ctx, "groceries", "u1", record.ID)
	if err != nil {
		t.Fatalf("Get as owner: %v", err)
	}
	if got.Data["item"] != "milk" {
		t.Errorf("got item %v, want milk", got.Data["item"])
	}
}

func TestMemoryStore_InsertDefaultsAndRejectsUnknownField(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateCollection(ctx, groceriesSchema()); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	record, err := s.Insert(ctx, "groceries", "u1", map[string]any{"item": "eggs", "quantity": 12.0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if record.Data["bought"] != false {
		t.Errorf("expected default bought=false, got %v", record.Data["bought"])
	}

	_, err = s.Insert(ctx, "groceries", "u1", map[string]any{"item": "eggs", "quantity": 12.0, "nope": "x"})
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}

	_, err = s.Insert(ctx, "groceries", "u1", map[string]any{"quantity": 12.0})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestMemoryStore_UpdateRejectsClearingRequiredField(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateCollection(ctx, groceriesSchema()); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	record, err := s.Insert(ctx, "groceries", "u1", map[string]any{"item": "eggs", "quantity": 12.0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, err = s.Update(ctx, "groceries", "u1", record.ID, map[string]any{"item": nil})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}

	updated, err := s.Update(ctx, "groceries", "u1", record.ID, map[string]any{"quantity": 20.0})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Data["quantity"] != 20.0 {
		t.Errorf("got quantity %v, want 20", updated.Data["quantity"])
	}
	if updated.Data["item"] != "eggs" {
		t.Errorf("expected item preserved across partial update, got %v", updated.Data["item"])
	}
}

func TestMemoryStore_ListRespectsMaxQueryLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateCollection(ctx, groceriesSchema()); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Insert(ctx, "groceries", "u1", map[string]any{"item": "x", "quantity": float64(i)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	records, err := s.List(ctx, "groceries", "u1", Query{Limit: 2000})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 (under the 1000 cap), got %d", len(records))
	}
}

func TestAggregate_SumAvgMinMaxCount(t *testing.T) {
	records := []Record{
		{Data: map[string]any{"category": "produce", "quantity": 3.0}},
		{Data: map[string]any{"category": "produce", "quantity": 7.0}},
		{Data: map[string]any{"category": "dairy", "quantity": 1.0}},
	}

	results, err := Aggregate(records, Aggregation{Op: AggSum, Field: "quantity", GroupBy: "category"})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	sums := map[string]any{}
	for _, r := range results {
		sums[r.Group] = r.Value
	}
	if sums["produce"] != 10.0 {
		t.Errorf("produce sum = %v, want 10", sums["produce"])
	}
	if sums["dairy"] != 1.0 {
		t.Errorf("dairy sum = %v, want 1", sums["dairy"])
	}

	countResults, err := Aggregate(records, Aggregation{Op: AggCount})
	if err != nil {
		t.Fatalf("Aggregate count: %v", err)
	}
	if len(countResults) != 1 || countResults[0].Value != float64(3) {
		t.Fatalf("expected count 3, got %+v", countResults)
	}
}

func TestAggregate_SumRejectsNonNumeric(t *testing.T) {
	records := []Record{{Data: map[string]any{"name": "abc"}}}
	_, err := Aggregate(records, Aggregation{Op: AggSum, Field: "name"})
	if err == nil {
		t.Fatal("expected error summing non-numeric field")
	}
}

func TestFilter_BetweenAndInAndIsNull(t *testing.T) {
	records := []Record{
		{Data: map[string]any{"quantity": 1.0}},
		{Data: map[string]any{"quantity": 5.0}},
		{Data: map[string]any{"quantity": 10.0}},
		{Data: map[string]any{}},
	}

	between := Filter{Field: "quantity", Op: OpBetween, Value: []any{2.0, 10.0}}
	results, err := ApplyQuery(records, Query{Filters: []Filter{between}})
	if err != nil {
		t.Fatalf("ApplyQuery: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results in [2,10], got %d", len(results))
	}

	isNull := Filter{Field: "quantity", Op: OpIsNull}
	results, err = ApplyQuery(records, Query{Filters: []Filter{isNull}})
	if err != nil {
		t.Fatalf("ApplyQuery: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 record with null quantity, got %d", len(results))
	}
}

func TestSchema_ValidateRejectsBadIdentifiers(t *testing.T) {
	schema := Schema{Collection: "1bad", Fields: map[string]FieldDef{}}
	if err := schema.Validate(); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("expected ErrInvalidIdentifier, got %v", err)
	}
}

func TestCoerceValue_DateTimeEnumTypes(t *testing.T) {
	schema := Schema{
		Collection: "events",
		Fields: map[string]FieldDef{
			"when":   {Type: FieldDate},
			"at":     {Type: FieldTime},
			"ts":     {Type: FieldDateTime},
			"status": {Type: FieldEnum, Values: []string{"open", "closed"}},
		},
	}

	data, err := schema.ValidateInsert(map[string]any{
		"when":   "2026-07-31",
		"at":     "09:30",
		"ts":     "2026-07-31T09:30:00Z",
		"status": "open",
	})
	if err != nil {
		t.Fatalf("ValidateInsert: %v", err)
	}
	if data["at"] != "09:30:00" {
		t.Errorf("expected normalized time 09:30:00, got %v", data["at"])
	}

	_, err = schema.ValidateInsert(map[string]any{
		"when": "2026-07-31", "at": "09:30", "ts": "2026-07-31T09:30:00Z", "status": "unknown",
	})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch for invalid enum, got %v", err)
	}
}
