package recordsync

import (
	"context"
	"strings"
)

type BackfillResult struct {
	Records int
	Pages   int
	Skipped int
}

// Backfill pulls every record from the source table and applies each one
// through a single-statement upsert. It exists for bootstrap and drift
// repair; per-event webhook syncs remain the steady-state path.
// Records without an identifier are counted and skipped rather than
// aborting the whole pull.
func Backfill(ctx context.Context, client SourceClient, store RecordStore, mapping FieldMap, table string) (BackfillResult, error) {
	var result BackfillResult
	if client == nil || store == nil || mapping.Len() == 0 || strings.TrimSpace(table) == "" {
		return result, ErrInvalidInput
	}

	offset := ""
	for {
		records, nextOffset, err := client.ListRecords(ctx, table, offset)
		if err != nil {
			return result, err
		}
		result.Pages++
		for _, record := range records {
			externalID := strings.TrimSpace(record.ID)
			if externalID == "" {
				result.Skipped++
				continue
			}
			values := mapping.ExtractValues(record.Fields)
			if err := store.Upsert(ctx, externalID, values); err != nil {
				return result, err
			}
			result.Records++
		}
		if nextOffset == "" {
			return result, nil
		}
		offset = nextOffset
	}
}
