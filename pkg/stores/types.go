package stores

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/openfroyo/tplcheck/pkg/types"
)

// ErrReportNotFound is returned when a report ID does not exist.
var ErrReportNotFound = errors.New("report not found")

// Report is the persisted outcome of one check run.
type Report struct {
	ID         string            `json:"id"`
	TypeName   string            `json:"type"`
	Source     string            `json:"source,omitempty"`
	Valid      bool              `json:"valid"`
	Violations []types.Violation `json:"violations"`
	Warnings   []string          `json:"warnings,omitempty"`
	Value      json.RawMessage   `json:"value,omitempty"` // JSON blob, absent when not stored
	Duration   time.Duration     `json:"duration"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ReportFilter narrows ListReports. Zero fields do not filter.
type ReportFilter struct {
	TypeName string
	Valid    *bool
	Since    time.Time
	Limit    int
	Offset   int
}

// ReportStats summarizes the stored reports.
type ReportStats struct {
	Total      int                         `json:"total"`
	Valid      int                         `json:"valid"`
	Invalid    int                         `json:"invalid"`
	ByKind     map[types.ViolationKind]int `json:"by_kind"`
	LastReport *time.Time                  `json:"last_report,omitempty"`
}

// Store defines the persistence layer for check reports.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Report operations
	SaveReport(ctx context.Context, report *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]*Report, error)
	DeleteReport(ctx context.Context, id string) error
	PruneReports(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context) (*ReportStats, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
