package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vidrelay/internal/services"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteStore persists History in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, services.Wrap(services.ErrFilesystem, "history", "open", "create history directory", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Load reads both tables into a History.
func (s *SQLiteStore) Load(ctx context.Context) (*History, error) {
	doc := document{
		UploadedFiles:   map[string]UploadRecord{},
		DownloadedFiles: map[string]DownloadRecord{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source_path, uploaded_at, url, additional_args,
        target_folder, file_hash, status, session_id, downloaded_at FROM uploaded_files`)
	if err != nil {
		return nil, fmt.Errorf("query uploaded files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			path, uploadedAt, status string
			sessionID, downloadedAt  sql.NullString
			record                   UploadRecord
		)
		if err := rows.Scan(&path, &uploadedAt, &record.RemoteBaseURL, &record.AdditionalArgs,
			&record.TargetFolder, &record.Fingerprint, &status, &sessionID, &downloadedAt); err != nil {
			return nil, fmt.Errorf("scan uploaded file: %w", err)
		}
		if record.UploadedAt, err = ParseTimestamp(uploadedAt); err != nil {
			return nil, fmt.Errorf("record %q: %w", path, err)
		}
		record.Status = Status(status)
		record.SessionToken = sessionID.String
		if downloadedAt.Valid {
			stamp, err := ParseTimestamp(downloadedAt.String)
			if err != nil {
				return nil, fmt.Errorf("record %q: %w", path, err)
			}
			record.DownloadedAt = &stamp
		}
		doc.UploadedFiles[path] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploaded files: %w", err)
	}

	dlRows, err := s.db.QueryContext(ctx, `SELECT source_path, downloaded_at, target_folder, original_filename FROM downloaded_files`)
	if err != nil {
		return nil, fmt.Errorf("query downloaded files: %w", err)
	}
	defer dlRows.Close()
	for dlRows.Next() {
		var (
			path, downloadedAt string
			record             DownloadRecord
		)
		if err := dlRows.Scan(&path, &downloadedAt, &record.TargetFolder, &record.OriginalFilename); err != nil {
			return nil, fmt.Errorf("scan downloaded file: %w", err)
		}
		if record.DownloadedAt, err = ParseTimestamp(downloadedAt); err != nil {
			return nil, fmt.Errorf("record %q: %w", path, err)
		}
		doc.DownloadedFiles[path] = record
	}
	if err := dlRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate downloaded files: %w", err)
	}

	h, err := fromDocument(doc)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "history", "load", "validate records", err)
	}
	return h, nil
}

// Save replaces the contents of both tables inside one transaction.
func (s *SQLiteStore) Save(ctx context.Context, h *History) error {
	if h == nil {
		h = New()
	}
	doc := h.document()
	return retryOnBusy(ctx, func() error {
		return s.replaceAll(ctx, doc)
	})
}

func (s *SQLiteStore) replaceAll(ctx context.Context, doc document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DELETE FROM uploaded_files", "DELETE FROM downloaded_files"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear tables: %w", err)
		}
	}

	for path, record := range doc.UploadedFiles {
		var downloadedAt any
		if record.DownloadedAt != nil {
			downloadedAt = record.DownloadedAt.String()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO uploaded_files (source_path, uploaded_at, url, additional_args, target_folder,
                file_hash, status, session_id, downloaded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			path, record.UploadedAt.String(), record.RemoteBaseURL, record.AdditionalArgs,
			record.TargetFolder, record.Fingerprint, string(record.Status),
			nullableString(record.SessionToken), downloadedAt,
		); err != nil {
			return fmt.Errorf("insert uploaded file %q: %w", path, err)
		}
	}
	for path, record := range doc.DownloadedFiles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO downloaded_files (source_path, downloaded_at, target_folder, original_filename)
                VALUES (?, ?, ?, ?)`,
			path, record.DownloadedAt.String(), record.TargetFolder, record.OriginalFilename,
		); err != nil {
			return fmt.Errorf("insert downloaded file %q: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
