// Command recordsync-backfill pulls every record from the source table
// and upserts it into the record store. It exists for first bootstrap
// and for repairing drift after missed webhooks; the recordsyncd daemon
// handles steady-state per-event syncs.
package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/agentworkforce/recordsync/internal/recordsync"
)

func main() {
	dsn := strings.TrimSpace(os.Getenv("RECORDSYNC_DSN"))
	if dsn == "" {
		log.Fatalf("RECORDSYNC_DSN is required")
	}
	sourceTable := strings.TrimSpace(os.Getenv("RECORDSYNC_SOURCE_TABLE"))
	if sourceTable == "" {
		log.Fatalf("RECORDSYNC_SOURCE_TABLE is required")
	}
	token := strings.TrimSpace(os.Getenv("RECORDSYNC_SOURCE_TOKEN"))
	if token == "" {
		log.Fatalf("RECORDSYNC_SOURCE_TOKEN is required")
	}

	mapping := recordsync.DefaultFieldMap()
	if mappingFile := strings.TrimSpace(os.Getenv("RECORDSYNC_MAPPING_FILE")); mappingFile != "" {
		loaded, err := recordsync.LoadFieldMapFile(mappingFile)
		if err != nil {
			log.Fatalf("failed to load field mapping: %v", err)
		}
		mapping = loaded
	}

	store, err := recordsync.BuildRecordStoreFromDSN(dsn, strings.TrimSpace(os.Getenv("RECORDSYNC_TABLE")), mapping)
	if err != nil {
		log.Fatalf("failed to initialize record store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	client := recordsync.NewHTTPSourceClient(recordsync.SourceHTTPClientOptions{
		BaseURL: os.Getenv("RECORDSYNC_SOURCE_BASE_URL"),
		TokenProvider: func(ctx context.Context) (string, error) {
			return token, nil
		},
		UserAgent: "recordsync-backfill",
	})

	ctx := context.Background()
	if timeout := strings.TrimSpace(os.Getenv("RECORDSYNC_BACKFILL_TIMEOUT")); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			log.Fatalf("invalid RECORDSYNC_BACKFILL_TIMEOUT=%q: %v", timeout, err)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, parsed)
		defer cancel()
	}

	started := time.Now()
	result, err := recordsync.Backfill(ctx, client, store, mapping, sourceTable)
	if err != nil {
		log.Fatalf("backfill failed after %d records: %v", result.Records, err)
	}
	log.Printf("backfill complete: %d records across %d pages (%d skipped) in %s",
		result.Records, result.Pages, result.Skipped, time.Since(started).Round(time.Millisecond))
}
