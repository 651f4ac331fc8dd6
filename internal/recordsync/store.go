package recordsync

import (
	"context"
	"time"
)

// Record is the stored state of one external record, keyed by the stable
// external identifier. Fields is keyed by storage column name; a column
// the source never supplied holds nil.
type Record struct {
	ExternalID string         `json:"externalId"`
	Fields     map[string]any `json:"fields"`
	SyncedAt   time.Time      `json:"syncedAt"`
}

// RecordStore persists exactly one row per external identifier.
// Insert, Update, and Upsert take field values in the field map's
// declared order; the external key travels separately.
type RecordStore interface {
	Lookup(ctx context.Context, externalID string) (bool, error)
	Insert(ctx context.Context, externalID string, values []any) error
	Update(ctx context.Context, externalID string, values []any) error
	Upsert(ctx context.Context, externalID string, values []any) error
	Fetch(ctx context.Context, externalID string) (Record, error)
	Close() error
}
