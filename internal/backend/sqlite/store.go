package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/jacentio/coursetree/internal/backend"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is a SQLite-backed backend.Backend.
type Store struct {
	sqlDB *sql.DB

	mu      sync.RWMutex
	schemas map[string]backend.CollectionSchema
}

var _ backend.Backend = (*Store)(nil)

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := MemoryPath
	if path != MemoryPath {
		dsn = filepath.Clean(path)
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &Store{
		sqlDB:   sqlDB,
		schemas: make(map[string]backend.CollectionSchema),
	}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// EnsureSchema creates missing tables and indexes in a single transaction.
func (s *Store) EnsureSchema(ctx context.Context, schemas []backend.CollectionSchema) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	for _, schema := range schemas {
		for _, stmt := range schemaStatements(schema) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("ensure collection %s: %w", schema.Name, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}

	s.mu.Lock()
	for _, schema := range schemas {
		s.schemas[schema.Name] = schema
	}
	s.mu.Unlock()
	return nil
}

// schemaStatements returns the idempotent DDL for one collection.
func schemaStatements(schema backend.CollectionSchema) []string {
	cols := []string{
		"id INTEGER PRIMARY KEY AUTOINCREMENT",
		"doc TEXT NOT NULL",
	}
	for _, idx := range schema.Indexes {
		colType := "TEXT"
		if idx.Kind == backend.IndexNumber {
			colType = "INTEGER"
		}
		cols = append(cols, quote(idx.Field)+" "+colType)
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(schema.Name), strings.Join(cols, ", ")),
	}
	for _, idx := range schema.Indexes {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quote(schema.Name+"_"+idx.Name), quote(schema.Name), quote(idx.Field),
		))
	}
	return stmts
}

// Begin opens a transaction against one collection. SQLite has no read-only
// transaction flag; the store enforces ReadOnly above the engine.
func (s *Store) Begin(ctx context.Context, collection string, mode backend.Mode) (backend.Tx, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	s.mu.RLock()
	schema, ok := s.schemas[collection]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin %s transaction: %w", mode, err)
	}
	return &collectionTx{tx: tx, schema: schema}, nil
}

// collectionTx is a backend.Tx over one SQLite transaction.
type collectionTx struct {
	tx     *sql.Tx
	schema backend.CollectionSchema
}

func (t *collectionTx) Commit() error   { return t.tx.Commit() }
func (t *collectionTx) Rollback() error { return t.tx.Rollback() }

func (t *collectionTx) table() string { return quote(t.schema.Name) }

func (t *collectionTx) GetAll(ctx context.Context, out any) error {
	rows, err := t.tx.QueryContext(ctx, "SELECT doc FROM "+t.table()+" ORDER BY id")
	if err != nil {
		return fmt.Errorf("list %s: %w", t.schema.Name, err)
	}
	defer rows.Close()

	var buf bytes.Buffer
	buf.WriteByte('[')
	n := 0
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return fmt.Errorf("scan %s: %w", t.schema.Name, err)
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.Write(doc)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", t.schema.Name, err)
	}
	buf.WriteByte(']')

	if err := json.Unmarshal(buf.Bytes(), out); err != nil {
		return fmt.Errorf("decode %s: %w", t.schema.Name, err)
	}
	return nil
}

func (t *collectionTx) Get(ctx context.Context, id int64, out any) (bool, error) {
	var doc []byte
	err := t.tx.QueryRowContext(ctx, "SELECT doc FROM "+t.table()+" WHERE id = ?", id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("get %s %d: %w", t.schema.Name, id, err)
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return false, fmt.Errorf("decode %s %d: %w", t.schema.Name, id, err)
	}
	return true, nil
}

func (t *collectionTx) Add(ctx context.Context, v any) (int64, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", t.schema.Name, err)
	}

	cols := []string{"doc"}
	args := []any{string(doc)}
	for _, idx := range t.schema.Indexes {
		cols = append(cols, quote(idx.Field))
		args = append(args, indexValue(doc, idx))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	res, err := t.tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.table(), strings.Join(cols, ", "), placeholders),
		args...,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return 0, fmt.Errorf("insert %s: constraint violation: %w", t.schema.Name, err)
		}
		return 0, fmt.Errorf("insert %s: %w", t.schema.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s: last insert id: %w", t.schema.Name, err)
	}

	// The document is stored with its generated id so GetAll can decode
	// rows without a second column.
	doc, err = sjson.SetBytes(doc, "id", id)
	if err != nil {
		return 0, fmt.Errorf("stamp %s id: %w", t.schema.Name, err)
	}
	if _, err := t.tx.ExecContext(ctx, "UPDATE "+t.table()+" SET doc = ? WHERE id = ?", string(doc), id); err != nil {
		return 0, fmt.Errorf("stamp %s id: %w", t.schema.Name, err)
	}
	return id, nil
}

func (t *collectionTx) Put(ctx context.Context, id int64, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.schema.Name, err)
	}
	doc, err = sjson.SetBytes(doc, "id", id)
	if err != nil {
		return fmt.Errorf("stamp %s id: %w", t.schema.Name, err)
	}

	sets := []string{"doc = ?"}
	args := []any{string(doc)}
	for _, idx := range t.schema.Indexes {
		sets = append(sets, quote(idx.Field)+" = ?")
		args = append(args, indexValue(doc, idx))
	}
	args = append(args, id)

	res, err := t.tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", t.table(), strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", t.schema.Name, id, err)
	}
	return requireRow(res, t.schema.Name, id)
}

func (t *collectionTx) Delete(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM "+t.table()+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", t.schema.Name, id, err)
	}
	return requireRow(res, t.schema.Name, id)
}

func requireRow(res sql.Result, collection string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: rows affected: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", collection, id, backend.ErrNotFound)
	}
	return nil
}

// indexValue extracts the indexed attribute from an encoded document.
// Missing attributes are stored as NULL.
func indexValue(doc []byte, idx backend.Index) any {
	r := gjson.GetBytes(doc, idx.Field)
	if !r.Exists() {
		return nil
	}
	if idx.Kind == backend.IndexNumber {
		return r.Int()
	}
	return r.String()
}

func isConstraintViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY,
			sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_NOTNULL:
			return true
		}
	}
	return false
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
