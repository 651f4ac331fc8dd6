package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/recordsync/internal/httpapi"
	"github.com/agentworkforce/recordsync/internal/recordsync"
)

func main() {
	addr := os.Getenv("RECORDSYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	mapping, mappingFile, err := buildFieldMapFromEnv()
	if err != nil {
		log.Fatalf("failed to load field mapping: %v", err)
	}
	store, err := buildRecordStoreFromEnv(mapping)
	if err != nil {
		log.Fatalf("failed to initialize record store: %v", err)
	}
	engine, err := recordsync.NewEngine(store, mapping)
	if err != nil {
		log.Fatalf("failed to initialize sync engine: %v", err)
	}
	server := httpapi.NewServerWithConfig(engine, store, httpapi.ServerConfig{
		WebhookHMACSecret: os.Getenv("RECORDSYNC_WEBHOOK_HMAC_SECRET"),
		WebhookMaxSkew:    durationEnv("RECORDSYNC_WEBHOOK_MAX_SKEW", 5*time.Minute),
		RateLimitMax:      intEnv("RECORDSYNC_RATE_LIMIT_MAX", 0),
		RateLimitWindow:   durationEnv("RECORDSYNC_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:      int64Env("RECORDSYNC_MAX_BODY_BYTES", 0),
	})

	if mappingFile != "" {
		go watchMappingFile(mappingFile)
	}

	log.Printf("recordsync listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildFieldMapFromEnv() (recordsync.FieldMap, string, error) {
	mappingFile := strings.TrimSpace(os.Getenv("RECORDSYNC_MAPPING_FILE"))
	if mappingFile == "" {
		return recordsync.DefaultFieldMap(), "", nil
	}
	mapping, err := recordsync.LoadFieldMapFile(mappingFile)
	if err != nil {
		return recordsync.FieldMap{}, "", err
	}
	return mapping, mappingFile, nil
}

func buildRecordStoreFromEnv(mapping recordsync.FieldMap) (recordsync.RecordStore, error) {
	dsn := strings.TrimSpace(os.Getenv("RECORDSYNC_DSN"))
	if dsn == "" {
		dsn = "memory://"
		log.Printf("RECORDSYNC_DSN is not set, using in-memory record store")
	}
	tableName := strings.TrimSpace(os.Getenv("RECORDSYNC_TABLE"))
	return recordsync.BuildRecordStoreFromDSN(dsn, tableName, mapping)
}

func watchMappingFile(path string) {
	err := recordsync.WatchMappingFile(context.Background(), path, func(changed string) {
		log.Printf("mapping file %s changed; the mapping is fixed per process, restart to apply", changed)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("mapping file watcher stopped: %v", err)
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
