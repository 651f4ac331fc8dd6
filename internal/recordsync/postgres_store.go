package recordsync

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	postgresDefaultTableName = "synced_records"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresRecordStore keeps one row per external identifier in a single
// table whose layout follows the field map: the external-key column is
// the primary key, so a duplicate insert under a same-identifier race
// fails at the storage layer instead of producing a second row.
type PostgresRecordStore struct {
	dsn       string
	tableName string
	mapping   FieldMap
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresRecordStore(dsn, tableName string, mapping FieldMap) (*PostgresRecordStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	tableName = strings.TrimSpace(tableName)
	if tableName == "" {
		tableName = postgresDefaultTableName
	}
	if mapping.Len() == 0 {
		return nil, ErrInvalidInput
	}
	return &PostgresRecordStore{
		dsn:       dsn,
		tableName: tableName,
		mapping:   mapping,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresRecordStore) Lookup(ctx context.Context, externalID string) (bool, error) {
	if s == nil {
		return false, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = $1",
		postgresQuoteIdentifier(s.tableName), postgresQuoteIdentifier(s.mapping.KeyColumn()))
	var one int
	err := s.db.QueryRowContext(ctx, query, externalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classifyPostgresError(err)
	}
	return true, nil
}

func (s *PostgresRecordStore) Insert(ctx context.Context, externalID string, values []any) error {
	if s == nil || len(values) != s.mapping.Len() {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	args := append([]any{externalID}, values...)
	if _, err := s.db.ExecContext(ctx, s.insertStatement(), args...); err != nil {
		return classifyPostgresError(err)
	}
	return nil
}

func (s *PostgresRecordStore) Update(ctx context.Context, externalID string, values []any) error {
	if s == nil || len(values) != s.mapping.Len() {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	args := append(append([]any{}, values...), externalID)
	if _, err := s.db.ExecContext(ctx, s.updateStatement(), args...); err != nil {
		return classifyPostgresError(err)
	}
	return nil
}

// Upsert applies the record in a single atomic conditional write. The
// webhook sync path does not use it because it cannot report whether the
// row was created or updated; the backfill path does.
func (s *PostgresRecordStore) Upsert(ctx context.Context, externalID string, values []any) error {
	if s == nil || len(values) != s.mapping.Len() {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	args := append([]any{externalID}, values...)
	if _, err := s.db.ExecContext(ctx, s.upsertStatement(), args...); err != nil {
		return classifyPostgresError(err)
	}
	return nil
}

func (s *PostgresRecordStore) Fetch(ctx context.Context, externalID string) (Record, error) {
	if s == nil {
		return Record{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Record{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	columns := s.mapping.FieldColumns()
	quoted := make([]string, 0, len(columns)+1)
	for _, column := range columns {
		quoted = append(quoted, postgresQuoteIdentifier(column))
	}
	quoted = append(quoted, postgresQuoteIdentifier("synced_at"))
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		strings.Join(quoted, ", "),
		postgresQuoteIdentifier(s.tableName),
		postgresQuoteIdentifier(s.mapping.KeyColumn()))

	scanned := make([]sql.NullString, len(columns))
	var syncedAt time.Time
	dests := make([]any, 0, len(columns)+1)
	for i := range scanned {
		dests = append(dests, &scanned[i])
	}
	dests = append(dests, &syncedAt)

	err := s.db.QueryRowContext(ctx, query, externalID).Scan(dests...)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, classifyPostgresError(err)
	}

	fields := make(map[string]any, len(columns))
	for i, column := range columns {
		if scanned[i].Valid {
			fields[column] = scanned[i].String
		} else {
			fields[column] = nil
		}
	}
	return Record{ExternalID: externalID, Fields: fields, SyncedAt: syncedAt}, nil
}

func (s *PostgresRecordStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresRecordStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = classifyPostgresError(err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		if _, err := db.ExecContext(ctx, s.createTableStatement()); err != nil {
			_ = db.Close()
			s.initErr = classifyPostgresError(err)
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresRecordStore) createTableStatement() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", postgresQuoteIdentifier(s.tableName))
	fmt.Fprintf(&b, "\t%s TEXT PRIMARY KEY,\n", postgresQuoteIdentifier(s.mapping.KeyColumn()))
	for _, column := range s.mapping.FieldColumns() {
		fmt.Fprintf(&b, "\t%s TEXT,\n", postgresQuoteIdentifier(column))
	}
	fmt.Fprintf(&b, "\t%s TIMESTAMPTZ NOT NULL DEFAULT NOW()\n)", postgresQuoteIdentifier("synced_at"))
	return b.String()
}

// insertStatement's column list and parameter order follow the field
// map's declared order, so the generated SQL is deterministic regardless
// of the incoming event's key order.
func (s *PostgresRecordStore) insertStatement() string {
	columns := s.mapping.Columns()
	quoted := make([]string, 0, len(columns)+1)
	placeholders := make([]string, 0, len(columns)+1)
	for i, column := range columns {
		quoted = append(quoted, postgresQuoteIdentifier(column))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}
	quoted = append(quoted, postgresQuoteIdentifier("synced_at"))
	placeholders = append(placeholders, "NOW()")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		postgresQuoteIdentifier(s.tableName),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "))
}

func (s *PostgresRecordStore) updateStatement() string {
	columns := s.mapping.FieldColumns()
	assignments := make([]string, 0, len(columns)+1)
	for i, column := range columns {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", postgresQuoteIdentifier(column), i+1))
	}
	assignments = append(assignments, fmt.Sprintf("%s = NOW()", postgresQuoteIdentifier("synced_at")))
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		postgresQuoteIdentifier(s.tableName),
		strings.Join(assignments, ", "),
		postgresQuoteIdentifier(s.mapping.KeyColumn()),
		len(columns)+1)
}

func (s *PostgresRecordStore) upsertStatement() string {
	columns := s.mapping.FieldColumns()
	assignments := make([]string, 0, len(columns)+1)
	for _, column := range columns {
		quoted := postgresQuoteIdentifier(column)
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", quoted, quoted))
	}
	assignments = append(assignments, fmt.Sprintf("%s = NOW()", postgresQuoteIdentifier("synced_at")))
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		s.insertStatement(),
		postgresQuoteIdentifier(s.mapping.KeyColumn()),
		strings.Join(assignments, ", "))
}

// classifyPostgresError folds driver errors into the package taxonomy:
// class 23 is a constraint violation, class 08 a connectivity failure,
// class 22 and 42804 a value/column type mismatch. Anything else passes
// through verbatim.
func classifyPostgresError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "23":
			return &ConstraintError{Constraint: pqErr.Constraint, Detail: pqErr.Message}
		case pqErr.Code.Class() == "08":
			return fmt.Errorf("%w: %s", ErrStorageUnavailable, pqErr.Message)
		case pqErr.Code.Class() == "22" || pqErr.Code == "42804":
			return fmt.Errorf("%w: %s", ErrTypeMismatch, pqErr.Message)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
