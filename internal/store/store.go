package store

import (
	"context"
	"errors"

	"github.com/seantiz/hourglass/internal/model"
)

var (
	// ErrNotTerminal is returned when archiving an operation that has not finished.
	ErrNotTerminal = errors.New("operation is not terminal")

	// ErrAlreadyArchived is returned when an operation id is archived twice.
	ErrAlreadyArchived = errors.New("operation already archived")
)

// OperationStats holds aggregate statistics over archived operations.
type OperationStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgElapsedMS  float64        `json:"avg_elapsed_ms"`
}

// Store defines the persistence operations for finished operations.
type Store interface {
	ArchiveOperation(ctx context.Context, op model.Operation) error
	GetOperation(ctx context.Context, id string) (*model.Operation, error)
	ListOperations(ctx context.Context, limit, offset int) ([]*model.Operation, int, error)
	GetOperationStats(ctx context.Context) (*OperationStats, error)
	Close() error
}
