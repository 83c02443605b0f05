package stores

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/tplcheck/pkg/types"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func sampleReport(typeName string, createdAt time.Time) *Report {
	return &Report{
		TypeName: typeName,
		Source:   "values/app.yaml",
		Valid:    false,
		Violations: []types.Violation{
			{
				Kind:     types.ViolationConstraint,
				Path:     types.Root.Key("name"),
				Expected: "minLength 3",
				Observed: "2",
				Message:  "length 2 is less than minimum 3",
			},
			{
				Kind:    types.ViolationPolicy,
				Path:    types.Root.Key("tags").Key("owner"),
				Message: "tag 'owner' is required",
			},
		},
		Warnings:  []string{"replicas: should be odd"},
		Value:     json.RawMessage(`{"name":"ab"}`),
		Duration:  1500 * time.Microsecond,
		CreatedAt: createdAt,
	}
}

func TestNewSQLiteStore(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("empty path should fail")
	}

	store, err := NewSQLiteStore(Config{Path: ":memory:", MaxOpenConns: 10})
	if err != nil {
		t.Fatal(err)
	}
	if store.cfg.MaxOpenConns != 1 {
		t.Errorf("in-memory store should use a single connection, got %d", store.cfg.MaxOpenConns)
	}

	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("health check before Init should fail")
	}
	if err := store.Migrate(context.Background()); err == nil {
		t.Error("Migrate before Init should fail")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"reports", "report_violations"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}

func TestReportCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	report := sampleReport("app.AppConfig", created)
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatalf("failed to save report: %v", err)
	}
	if report.ID == "" {
		t.Fatal("SaveReport should assign an ID")
	}

	got, err := store.GetReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("failed to get report: %v", err)
	}
	if got.TypeName != "app.AppConfig" || got.Source != "values/app.yaml" || got.Valid {
		t.Errorf("report = %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.Duration != report.Duration {
		t.Errorf("Duration = %v, want %v", got.Duration, report.Duration)
	}
	if string(got.Value) != `{"name":"ab"}` {
		t.Errorf("Value = %s", got.Value)
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != "replicas: should be odd" {
		t.Errorf("Warnings = %v", got.Warnings)
	}
	if len(got.Violations) != 2 {
		t.Fatalf("Violations = %v", got.Violations)
	}
	first := got.Violations[0]
	if first.Kind != types.ViolationConstraint || first.Path.String() != "name" || first.Expected != "minLength 3" || first.Observed != "2" {
		t.Errorf("first violation = %+v", first)
	}
	if got.Violations[1].Path.String() != "tags.owner" {
		t.Errorf("second violation path = %s", got.Violations[1].Path)
	}

	if err := store.DeleteReport(ctx, report.ID); err != nil {
		t.Fatalf("failed to delete report: %v", err)
	}
	if _, err := store.GetReport(ctx, report.ID); !errors.Is(err, ErrReportNotFound) {
		t.Errorf("GetReport after delete error = %v, want not found", err)
	}
	if err := store.DeleteReport(ctx, report.ID); !errors.Is(err, ErrReportNotFound) {
		t.Errorf("second DeleteReport error = %v, want not found", err)
	}

	var orphans int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM report_violations").Scan(&orphans); err != nil {
		t.Fatal(err)
	}
	if orphans != 0 {
		t.Errorf("violations should be deleted with their report, %d left", orphans)
	}
}

func TestSaveReport_ValidWithoutValue(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	report := &Report{TypeName: "shared.Region", Valid: true}
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetReport(ctx, report.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Valid || got.Value != nil || got.Warnings != nil || len(got.Violations) != 0 {
		t.Errorf("report = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should default to now")
	}
}

func TestListReports(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, typeName := range []string{"app.AppConfig", "shared.Region", "app.AppConfig"} {
		r := sampleReport(typeName, base.Add(time.Duration(i)*time.Hour))
		r.Valid = typeName == "shared.Region"
		if err := store.SaveReport(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	valid := true
	tests := []struct {
		name   string
		filter ReportFilter
		want   int
	}{
		{"all", ReportFilter{}, 3},
		{"by type", ReportFilter{TypeName: "app.AppConfig"}, 2},
		{"valid only", ReportFilter{Valid: &valid}, 1},
		{"since", ReportFilter{Since: base.Add(90 * time.Minute)}, 1},
		{"limit", ReportFilter{Limit: 2}, 2},
		{"offset", ReportFilter{Limit: 2, Offset: 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reports, err := store.ListReports(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListReports() error = %v", err)
			}
			if len(reports) != tt.want {
				t.Errorf("ListReports() returned %d reports, want %d", len(reports), tt.want)
			}
		})
	}

	reports, err := store.ListReports(ctx, ReportFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if !reports[0].CreatedAt.After(reports[1].CreatedAt) {
		t.Error("reports should be listed newest first")
	}
	if len(reports[0].Violations) != 2 {
		t.Errorf("listed reports should carry violations, got %d", len(reports[0].Violations))
	}
}

func TestPruneAndStats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 0 || stats.LastReport != nil {
		t.Errorf("empty stats = %+v", stats)
	}

	for i := 0; i < 3; i++ {
		r := sampleReport("app.AppConfig", base.AddDate(0, 0, i))
		r.Valid = i == 2
		if r.Valid {
			r.Violations = nil
		}
		if err := store.SaveReport(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	stats, err = store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Valid != 1 || stats.Invalid != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByKind[types.ViolationConstraint] != 2 || stats.ByKind[types.ViolationPolicy] != 2 {
		t.Errorf("ByKind = %v", stats.ByKind)
	}
	if stats.LastReport == nil || !stats.LastReport.Equal(base.AddDate(0, 0, 2)) {
		t.Errorf("LastReport = %v", stats.LastReport)
	}

	n, err := store.PruneReports(ctx, base.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("PruneReports() = %d, want 1", n)
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reports.db")

	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	report := sampleReport("app.AppConfig", time.Time{})
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := reopened.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if _, err := reopened.GetReport(ctx, report.ID); err != nil {
		t.Errorf("report should survive reopening: %v", err)
	}
}
