package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/tplcheck/pkg/types"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection. File databases use WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)"}
	if s.cfg.Path != memoryPath {
		pragmas = append(pragmas, "journal_mode(WAL)", "synchronous(NORMAL)")
	}
	dsn := s.cfg.Path + "?_txlock=immediate"
	for _, p := range pragmas {
		dsn += "&_pragma=" + p
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveReport stores a report and its violations in one transaction. A
// missing ID or CreatedAt is filled in.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *Report) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	report.CreatedAt = report.CreatedAt.UTC()

	warnings, err := json.Marshal(nonNil(report.Warnings))
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}
	var value *string
	if len(report.Value) > 0 {
		v := string(report.Value)
		value = &v
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reports (id, type_name, source, valid, violation_count, warnings, value, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID,
		report.TypeName,
		report.Source,
		report.Valid,
		len(report.Violations),
		string(warnings),
		value,
		int64(report.Duration),
		report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}

	for i, v := range report.Violations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO report_violations (report_id, seq, kind, path, expected, observed, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			report.ID, i, string(v.Kind), v.Path.String(), v.Expected, v.Observed, v.Message,
		)
		if err != nil {
			return fmt.Errorf("failed to create report violation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	return nil
}

const reportColumns = `id, type_name, source, valid, warnings, value, duration_ns, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var (
		report   Report
		warnings string
		value    sql.NullString
		duration int64
	)
	err := row.Scan(
		&report.ID,
		&report.TypeName,
		&report.Source,
		&report.Valid,
		&warnings,
		&value,
		&duration,
		&report.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(warnings), &report.Warnings); err != nil {
		return nil, fmt.Errorf("failed to decode warnings: %w", err)
	}
	if len(report.Warnings) == 0 {
		report.Warnings = nil
	}
	if value.Valid {
		report.Value = json.RawMessage(value.String)
	}
	report.Duration = time.Duration(duration)
	return &report, nil
}

// GetReport retrieves a report with its violations.
func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	if err := s.loadViolations(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *SQLiteStore) loadViolations(ctx context.Context, report *Report) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, path, expected, observed, message
		FROM report_violations
		WHERE report_id = ?
		ORDER BY seq
	`, report.ID)
	if err != nil {
		return fmt.Errorf("failed to list report violations: %w", err)
	}
	defer rows.Close()

	report.Violations = []types.Violation{}
	for rows.Next() {
		var (
			v    types.Violation
			kind string
			path string
		)
		if err := rows.Scan(&kind, &path, &v.Expected, &v.Observed, &v.Message); err != nil {
			return fmt.Errorf("failed to scan report violation: %w", err)
		}
		v.Kind = types.ViolationKind(kind)
		v.Path = types.ParsePath(path)
		report.Violations = append(report.Violations, v)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating report violations: %w", err)
	}
	return nil
}

// ListReports lists reports newest first, with their violations.
func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]*Report, error) {
	var (
		where []string
		args  []any
	)
	if filter.TypeName != "" {
		where = append(where, "type_name = ?")
		args = append(args, filter.TypeName)
	}
	if filter.Valid != nil {
		where = append(where, "valid = ?")
		args = append(args, *filter.Valid)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT ` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	reports := []*Report{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}
	_ = rows.Close()

	for _, report := range reports {
		if err := s.loadViolations(ctx, report); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

// DeleteReport deletes a report and its violations.
func (s *SQLiteStore) DeleteReport(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	return nil
}

// PruneReports deletes reports created before the given time.
func (s *SQLiteStore) PruneReports(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune reports: %w", err)
	}
	return result.RowsAffected()
}

// Stats summarizes the stored reports.
func (s *SQLiteStore) Stats(ctx context.Context) (*ReportStats, error) {
	stats := &ReportStats{ByKind: make(map[types.ViolationKind]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(valid), 0) FROM reports
	`).Scan(&stats.Total, &stats.Valid)
	if err != nil {
		return nil, fmt.Errorf("failed to count reports: %w", err)
	}
	stats.Invalid = stats.Total - stats.Valid

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM report_violations GROUP BY kind
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count violations: %w", err)
	}
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan violation count: %w", err)
		}
		stats.ByKind[types.ViolationKind(kind)] = count
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating violation counts: %w", err)
	}

	var last time.Time
	err = s.db.QueryRowContext(ctx, `SELECT created_at FROM reports ORDER BY created_at DESC LIMIT 1`).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to get last report: %w", err)
	default:
		stats.LastReport = &last
	}

	return stats, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
