package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIntEnv(t *testing.T) {
	t.Setenv("RECORDSYNC_TEST_INT", "42")
	if got := intEnv("RECORDSYNC_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("RECORDSYNC_TEST_INT", "not-a-number")
	if got := intEnv("RECORDSYNC_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	if got := intEnv("RECORDSYNC_TEST_INT_UNSET", 7); got != 7 {
		t.Fatalf("expected fallback 7 for unset, got %d", got)
	}
}

func TestDurationEnv(t *testing.T) {
	t.Setenv("RECORDSYNC_TEST_DURATION", "90s")
	if got := durationEnv("RECORDSYNC_TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	t.Setenv("RECORDSYNC_TEST_DURATION", "soon")
	if got := durationEnv("RECORDSYNC_TEST_DURATION", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestBuildFieldMapFromEnvDefaults(t *testing.T) {
	t.Setenv("RECORDSYNC_MAPPING_FILE", "")
	mapping, mappingFile, err := buildFieldMapFromEnv()
	if err != nil {
		t.Fatalf("build field map: %v", err)
	}
	if mappingFile != "" {
		t.Fatalf("expected no mapping file, got %s", mappingFile)
	}
	if mapping.KeyColumn() != "airtable_id" {
		t.Fatalf("expected default mapping, got key column %s", mapping.KeyColumn())
	}
}

func TestBuildFieldMapFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")
	content := `{"fields":[{"external":"Startup name","column":"startup_name"}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write mapping file: %v", err)
	}
	t.Setenv("RECORDSYNC_MAPPING_FILE", path)
	mapping, mappingFile, err := buildFieldMapFromEnv()
	if err != nil {
		t.Fatalf("build field map: %v", err)
	}
	if mappingFile != path {
		t.Fatalf("expected mapping file %s, got %s", path, mappingFile)
	}
	if mapping.Len() != 1 {
		t.Fatalf("expected one mapping, got %d", mapping.Len())
	}
}

func TestBuildRecordStoreFromEnvDefaultsToMemory(t *testing.T) {
	t.Setenv("RECORDSYNC_DSN", "")
	t.Setenv("RECORDSYNC_TABLE", "")
	mapping, _, err := buildFieldMapFromEnv()
	if err != nil {
		t.Fatalf("build field map: %v", err)
	}
	store, err := buildRecordStoreFromEnv(mapping)
	if err != nil {
		t.Fatalf("build record store: %v", err)
	}
	if store == nil {
		t.Fatalf("expected a record store")
	}
}
