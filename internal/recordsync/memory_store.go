package recordsync

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryRecordStore is the in-process RecordStore used by tests and the
// memory:// scheme. It enforces the same one-row-per-identifier
// invariant as the Postgres store, including the duplicate-insert
// failure mode.
type MemoryRecordStore struct {
	mu      sync.Mutex
	mapping FieldMap
	rows    map[string]memoryRow
}

type memoryRow struct {
	values   []any
	syncedAt time.Time
}

func NewMemoryRecordStore(mapping FieldMap) *MemoryRecordStore {
	return &MemoryRecordStore{
		mapping: mapping,
		rows:    map[string]memoryRow{},
	}
}

func (s *MemoryRecordStore) Lookup(ctx context.Context, externalID string) (bool, error) {
	if s == nil {
		return false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[externalID]
	return ok, nil
}

func (s *MemoryRecordStore) Insert(ctx context.Context, externalID string, values []any) error {
	if s == nil || strings.TrimSpace(externalID) == "" || len(values) != s.mapping.Len() {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[externalID]; exists {
		return &ConstraintError{
			Constraint: s.mapping.KeyColumn(),
			Detail:     "duplicate external identifier " + externalID,
		}
	}
	s.rows[externalID] = memoryRow{values: cloneValues(values), syncedAt: time.Now().UTC()}
	return nil
}

func (s *MemoryRecordStore) Update(ctx context.Context, externalID string, values []any) error {
	if s == nil || strings.TrimSpace(externalID) == "" || len(values) != s.mapping.Len() {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[externalID]; !exists {
		return ErrNotFound
	}
	s.rows[externalID] = memoryRow{values: cloneValues(values), syncedAt: time.Now().UTC()}
	return nil
}

func (s *MemoryRecordStore) Upsert(ctx context.Context, externalID string, values []any) error {
	if s == nil || strings.TrimSpace(externalID) == "" || len(values) != s.mapping.Len() {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[externalID] = memoryRow{values: cloneValues(values), syncedAt: time.Now().UTC()}
	return nil
}

func (s *MemoryRecordStore) Fetch(ctx context.Context, externalID string) (Record, error) {
	if s == nil {
		return Record{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[externalID]
	if !ok {
		return Record{}, ErrNotFound
	}
	columns := s.mapping.FieldColumns()
	fields := make(map[string]any, len(columns))
	for i, column := range columns {
		fields[column] = row.values[i]
	}
	return Record{ExternalID: externalID, Fields: fields, SyncedAt: row.syncedAt}, nil
}

func (s *MemoryRecordStore) Close() error {
	return nil
}

func cloneValues(values []any) []any {
	cloned := make([]any, len(values))
	copy(cloned, values)
	return cloned
}
