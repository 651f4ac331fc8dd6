package recordsync

import (
	"context"
	"strings"
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// SyncResult reports which transition a sync call took.
type SyncResult struct {
	ExternalID string `json:"externalId"`
	Action     Action `json:"action"`
}

// Engine converges each incoming external record with exactly one stored
// row: one lookup by external key, then either an insert or a full
// overwrite update. It holds no state between calls and recovers from
// nothing; every storage failure propagates to the caller unchanged.
type Engine struct {
	store   RecordStore
	mapping FieldMap
}

func NewEngine(store RecordStore, mapping FieldMap) (*Engine, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if mapping.Len() == 0 {
		return nil, ErrInvalidInput
	}
	return &Engine{store: store, mapping: mapping}, nil
}

func (e *Engine) Mapping() FieldMap {
	return e.mapping
}

// Sync applies one external record-change event. Fields absent from the
// event are written as NULL: an update is a full overwrite of every
// mapped column, not a merge. Fields outside the mapping are ignored.
func (e *Engine) Sync(ctx context.Context, externalID string, fields map[string]any) (SyncResult, error) {
	if e == nil || e.store == nil {
		return SyncResult{}, ErrInvalidInput
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return SyncResult{}, ErrInvalidInput
	}
	values := e.mapping.ExtractValues(fields)

	exists, err := e.store.Lookup(ctx, externalID)
	if err != nil {
		return SyncResult{}, err
	}
	if exists {
		if err := e.store.Update(ctx, externalID, values); err != nil {
			return SyncResult{}, err
		}
		return SyncResult{ExternalID: externalID, Action: ActionUpdated}, nil
	}
	if err := e.store.Insert(ctx, externalID, values); err != nil {
		return SyncResult{}, err
	}
	return SyncResult{ExternalID: externalID, Action: ActionCreated}, nil
}
