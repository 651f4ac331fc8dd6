package recordsync

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type RecordStoreFactory func(dsn, tableName string, mapping FieldMap) (RecordStore, error)

var storeFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]RecordStoreFactory
}{
	factories: map[string]RecordStoreFactory{},
}

// RegisterRecordStoreFactory makes a custom DSN scheme resolvable by
// BuildRecordStoreFromDSN. Registered factories take precedence over the
// built-in schemes.
func RegisterRecordStoreFactory(scheme string, factory RecordStoreFactory) {
	scheme = normalizeStoreScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.factories[scheme] = factory
}

func lookupRecordStoreFactory(scheme string) (RecordStoreFactory, bool) {
	scheme = normalizeStoreScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.factories[scheme]
	return factory, ok
}

func BuildRecordStoreFromDSN(dsn, tableName string, mapping FieldMap) (RecordStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeStoreScheme(parsed.Scheme)
	if factory, ok := lookupRecordStoreFactory(scheme); ok {
		return factory(dsn, tableName, mapping)
	}
	switch scheme {
	case "postgres", "postgresql":
		return NewPostgresRecordStore(dsn, tableName, mapping)
	case "memory", "mem", "inmem":
		return NewMemoryRecordStore(mapping), nil
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: record store %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported record store scheme: %s", scheme)
	}
}

func normalizeStoreScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
