package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/hourglass/internal/model"

	_ "modernc.org/sqlite"
)

const createOperationsTable = `
CREATE TABLE IF NOT EXISTS operations (
    id              TEXT PRIMARY KEY,
    kind            TEXT NOT NULL,
    duration_ms     INTEGER NOT NULL,
    deadline        DATETIME,
    message         TEXT NOT NULL,
    status          TEXT NOT NULL,
    elapsed_ms      INTEGER NOT NULL,
    created_at      DATETIME NOT NULL,
    started_at      DATETIME,
    ended_at        DATETIME NOT NULL,
    expected_end_at DATETIME NOT NULL
)`

const createOperationsEndedIndex = `
CREATE INDEX IF NOT EXISTS operations_ended_at ON operations (ended_at)`

const selectOperationColumns = `
SELECT id, kind, duration_ms, deadline, message, status,
	created_at, started_at, ended_at, expected_end_at
FROM operations`

// ErrNotFound is returned when an operation is not in the archive.
var ErrNotFound = errors.New("operation not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Each :memory: connection is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range []string{createOperationsTable, createOperationsEndedIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate operations table: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ArchiveOperation inserts a terminal operation. Archiving the same id twice
// returns ErrAlreadyArchived.
func (s *SQLiteStore) ArchiveOperation(ctx context.Context, op model.Operation) error {
	if !model.IsTerminal(op.Status) || op.EndedAt == nil {
		return fmt.Errorf("archive %s (%s): %w", op.ID, op.Status, ErrNotTerminal)
	}

	var deadline *time.Time
	if op.Kind.Type == model.KindDeadline {
		deadline = utc(&op.Kind.Deadline)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (
			id, kind, duration_ms, deadline, message, status, elapsed_ms,
			created_at, started_at, ended_at, expected_end_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		op.ID, op.Kind.Type, op.Kind.Duration.Milliseconds(), deadline, op.Message, op.Status,
		op.Elapsed(*op.EndedAt).Milliseconds(),
		op.CreatedAt.UTC(), utc(op.StartedAt), utc(op.EndedAt), op.ExpectedEndAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyArchived
	}
	return nil
}

// GetOperation retrieves an archived operation by ID.
func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (*model.Operation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx, selectOperationColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

// ListOperations returns a page of archived operations, most recently ended
// first, along with the total count.
func (s *SQLiteStore) ListOperations(ctx context.Context, limit, offset int) ([]*model.Operation, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count operations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		selectOperationColumns+" ORDER BY ended_at DESC, id DESC LIMIT ? OFFSET ?", limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate operations: %w", err)
	}

	return ops, total, nil
}

// GetOperationStats returns totals by status and kind and the mean elapsed time.
func (s *SQLiteStore) GetOperationStats(ctx context.Context) (*OperationStats, error) {
	stats := &OperationStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(elapsed_ms) FROM operations",
	).Scan(&stats.Total, &avg); err != nil {
		return nil, fmt.Errorf("aggregate operations: %w", err)
	}
	if avg.Valid {
		stats.AvgElapsedMS = avg.Float64
	}

	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "kind", stats.CountByKind); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy fills into with row counts grouped by column. column is never
// caller-supplied.
func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM operations GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count by %s: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

// utc normalises stored times so ended_at sorts correctly as text.
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*model.Operation, error) {
	op := &model.Operation{}
	var durationMS int64
	var deadline *time.Time
	if err := row.Scan(
		&op.ID, &op.Kind.Type, &durationMS, &deadline, &op.Message, &op.Status,
		&op.CreatedAt, &op.StartedAt, &op.EndedAt, &op.ExpectedEndAt,
	); err != nil {
		return nil, err
	}
	op.Kind.Duration = time.Duration(durationMS) * time.Millisecond
	if deadline != nil {
		op.Kind.Deadline = *deadline
	}
	return op, nil
}
