package checker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/openfroyo/tplcheck/pkg/loader"
	"github.com/openfroyo/tplcheck/pkg/policy"
	"github.com/openfroyo/tplcheck/pkg/stores"
	"github.com/openfroyo/tplcheck/pkg/telemetry"
	"github.com/openfroyo/tplcheck/pkg/types"
)

type obj = map[string]any

const sharedTypes = `
namespace: shared
types:
  Region: "'eastus' | 'westus'"
`

const appTypes = `
namespace: app
imports:
  - from: shared
    type: Region
types:
  AppConfig:
    name: "@minLength(3) @maxLength(60) string"
    location: Region
    tags?: object
`

func buildSet(t *testing.T, docs ...string) *loader.Set {
	t.Helper()
	var parsed []*loader.Document
	for i, body := range docs {
		doc, err := loader.DecodeDocument(filepath.Join("types", string(rune('a'+i))+".yaml"), []byte(body))
		if err != nil {
			t.Fatalf("DecodeDocument() error = %v", err)
		}
		parsed = append(parsed, doc)
	}
	set, err := loader.BuildSet(parsed...)
	if err != nil {
		t.Fatalf("BuildSet() error = %v", err)
	}
	return set
}

func newChecker(t *testing.T, opts ...Option) *Checker {
	t.Helper()
	c, err := New(buildSet(t, sharedTypes, appTypes), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func newPolicyEngine(t *testing.T) *policy.Engine {
	t.Helper()
	eng, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func assertKinds(t *testing.T, report *Report, want ...string) {
	t.Helper()
	var got []string
	for _, v := range report.Violations {
		got = append(got, string(v.Kind)+"@"+v.Path.String())
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("violations = %v, want %v", got, want)
	}
}

func TestCheck_EndToEnd(t *testing.T) {
	c := newChecker(t, WithPolicy(newPolicyEngine(t), true))
	ctx := context.Background()

	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"valid", obj{"name": "abc", "location": "eastus"}, nil},
		{"name too short", obj{"name": "ab", "location": "eastus"}, []string{"constraint@name"}},
		{"location not in union", obj{"name": "abc", "location": "northpole"}, []string{"constraint@location"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := c.Check(ctx, Request{Type: "AppConfig", Base: tt.value})
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if report.Type != "app.AppConfig" {
				t.Errorf("Type = %q, want qualified name", report.Type)
			}
			if report.Valid != (len(tt.want) == 0) {
				t.Errorf("Valid = %v", report.Valid)
			}
			assertKinds(t, report, tt.want...)
			if report.ID == "" {
				t.Error("report should have an ID")
			}
		})
	}
}

func TestCheck_UnknownType(t *testing.T) {
	c := newChecker(t)
	_, err := c.Check(context.Background(), Request{Type: "Missing", Base: obj{}})
	if !errors.Is(err, types.ErrUnknownType) {
		t.Fatalf("Check() error = %v, want unknown type", err)
	}
}

func TestCheck_Overlays(t *testing.T) {
	c := newChecker(t)
	ctx := context.Background()
	base := obj{"name": "web", "location": "eastus"}

	report, err := c.Check(ctx, Request{
		Type:     "app.AppConfig",
		Base:     base,
		Overlays: []any{obj{"location": "westus"}, obj{"tags": nil}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Fatalf("violations = %v", report.Violations)
	}
	want := obj{"name": "web", "location": "westus"}
	if got, _ := json.Marshal(report.Value); string(got) != mustJSON(t, want) {
		t.Errorf("Value = %s", got)
	}
	if base["location"] != "eastus" {
		t.Error("base must not be modified")
	}

	report, err = c.Check(ctx, Request{
		Type:     "app.AppConfig",
		Base:     base,
		Overlays: []any{obj{"name": nil}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Errorf("null override keeps the base value, got %v", report.Violations)
	}
	if got, _ := json.Marshal(report.Value); string(got) != mustJSON(t, base) {
		t.Errorf("Value = %s", got)
	}

	report, err = c.Check(ctx, Request{
		Type:     "app.AppConfig",
		Base:     base,
		Overlays: []any{obj{"location": "northpole", "extra": true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	assertKinds(t, report, "constraint@location", "unknown_field@extra")
	if !strings.HasPrefix(report.Violations[0].Message, "overlay 1: ") {
		t.Errorf("overlay violation should name its overlay: %q", report.Violations[0].Message)
	}
}

func TestCheck_OverlaysSharingPath(t *testing.T) {
	c := newChecker(t)

	report, err := c.Check(context.Background(), Request{
		Type:     "app.AppConfig",
		Base:     obj{"name": "web", "location": "eastus"},
		Overlays: []any{obj{"location": "northpole"}, obj{"location": "mars"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := report.Value.(map[string]any)["location"]; got != "mars" {
		t.Fatalf("location = %v, want mars", got)
	}
	assertKinds(t, report, "constraint@location", "constraint@location")

	wants := []struct {
		prefix   string
		observed string
	}{
		{"overlay 1: ", "northpole"},
		{"overlay 2: ", "mars"},
	}
	for i, want := range wants {
		v := report.Violations[i]
		if !strings.HasPrefix(v.Message, want.prefix) || !strings.Contains(v.Observed, want.observed) {
			t.Errorf("violation %d = %q (observed %q), want prefix %q observing %q", i, v.Message, v.Observed, want.prefix, want.observed)
		}
	}
}

func TestCheck_OverlayCompletesBase(t *testing.T) {
	c := newChecker(t)

	report, err := c.Check(context.Background(), Request{
		Type:     "AppConfig",
		Base:     obj{"name": "web"},
		Overlays: []any{obj{"location": "westus"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Errorf("composed value is complete, got %v", report.Violations)
	}
}

func TestCheck_PolicyModes(t *testing.T) {
	value := obj{"name": "Web", "location": "eastus", "tags": obj{"owner": "platform"}}

	t.Run("enforcing", func(t *testing.T) {
		c := newChecker(t, WithPolicy(newPolicyEngine(t), true))
		report, err := c.Check(context.Background(), Request{Type: "AppConfig", Base: value})
		if err != nil {
			t.Fatal(err)
		}
		assertKinds(t, report, "policy@name", "policy@tags.environment")
		if report.Valid {
			t.Error("policy violations should invalidate the value when enforcing")
		}
		if len(report.Policies) != 2 {
			t.Errorf("Policies = %+v", report.Policies)
		}
	})

	t.Run("advisory", func(t *testing.T) {
		c := newChecker(t, WithPolicy(newPolicyEngine(t), false))
		report, err := c.Check(context.Background(), Request{Type: "AppConfig", Base: value})
		if err != nil {
			t.Fatal(err)
		}
		if !report.Valid || len(report.Violations) != 0 {
			t.Errorf("advisory policies should not invalidate: %v", report.Violations)
		}
		if len(report.Warnings) != 2 || !strings.Contains(report.Warnings[0], "lowercase-name") {
			t.Errorf("Warnings = %v", report.Warnings)
		}
	})

	t.Run("skipped for structurally invalid values", func(t *testing.T) {
		c := newChecker(t, WithPolicy(newPolicyEngine(t), true))
		report, err := c.Check(context.Background(), Request{Type: "AppConfig", Base: obj{"name": "Web", "location": "north"}})
		if err != nil {
			t.Fatal(err)
		}
		assertKinds(t, report, "constraint@location")
		if report.Policies != nil {
			t.Errorf("policies should not run: %+v", report.Policies)
		}
	})
}

func TestCheck_Record(t *testing.T) {
	ctx := context.Background()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	c := newChecker(t, WithStore(store, true))

	report, err := c.Check(ctx, Request{Type: "AppConfig", Base: obj{"name": "ab", "location": "eastus"}, Source: "values/app.yaml", Record: true})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !report.Recorded {
		t.Fatal("report should be recorded")
	}

	stored, err := store.GetReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("GetReport() error = %v", err)
	}
	if stored.TypeName != "app.AppConfig" || stored.Valid || len(stored.Violations) != 1 || stored.Source != "values/app.yaml" {
		t.Errorf("stored = %+v", stored)
	}
	if string(stored.Value) != `{"location":"eastus","name":"ab"}` {
		t.Errorf("stored value = %s", stored.Value)
	}

	report, err = c.Check(ctx, Request{Type: "AppConfig", Base: obj{"name": "abc", "location": "eastus"}})
	if err != nil {
		t.Fatal(err)
	}
	if report.Recorded {
		t.Error("requests without Record should not be stored")
	}
}

func TestCheck_Metrics(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "tplcheck"})
	if err != nil {
		t.Fatal(err)
	}
	c := newChecker(t, WithMetrics(metrics), WithPolicy(newPolicyEngine(t), true))
	ctx := context.Background()

	for _, v := range []any{
		obj{"name": "abc", "location": "eastus"},
		obj{"name": "ab", "location": "eastus"},
	} {
		if _, err := c.Check(ctx, Request{Type: "AppConfig", Base: v}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		metric string
		want   int
	}{
		{"tplcheck_validations_total", 2},
		{"tplcheck_violations_total", 1},
		{"tplcheck_registry_types", 2},
		{"tplcheck_policy_evaluations_total", 2},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			n, err := testutil.GatherAndCount(metrics.Registry(), tt.metric)
			if err != nil {
				t.Fatal(err)
			}
			if n != tt.want {
				t.Errorf("%s has %d series, want %d", tt.metric, n, tt.want)
			}
		})
	}
}

func TestCheck_TelemetryContext(t *testing.T) {
	c := newChecker(t)
	tel := telemetry.NewNop()
	ctx := tel.WithContext(context.Background())

	report, err := c.Check(ctx, Request{Type: "AppConfig", Base: obj{"name": "abc", "location": "eastus"}})
	if err != nil || !report.Valid {
		t.Fatalf("Check() = %+v, %v", report, err)
	}
	if _, _, err := c.Schema(ctx, "shared.Region"); err != nil {
		t.Errorf("Schema() error = %v", err)
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("shared.yaml", sharedTypes)
	write("app.yaml", appTypes)

	ctx := context.Background()
	l := loader.NewLoader(zerolog.Nop())
	set, err := LoadSet(ctx, l, []string{dir})
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(set, WithSources(l, []string{dir}, nil), WithPolicy(newPolicyEngine(t), true))
	if err != nil {
		t.Fatal(err)
	}

	write("extra.yaml", "namespace: extra\ntypes:\n  Port: \"@minValue(1) int\"\n")
	if err := c.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	report, err := c.Check(ctx, Request{Type: "extra.Port", Base: int64(0)})
	if err != nil {
		t.Fatalf("new type should be checkable after reload: %v", err)
	}
	assertKinds(t, report, "constraint@$")

	write("broken.yaml", "namespace: broken\ntypes:\n  A: Missing\n")
	if err := c.Reload(ctx); err == nil {
		t.Fatal("Reload() should fail on an unknown reference")
	}
	if _, err := c.Check(ctx, Request{Type: "extra.Port", Base: int64(1)}); err != nil {
		t.Errorf("previous set should stay in use: %v", err)
	}

	noSources := newChecker(t)
	if err := noSources.Reload(ctx); err == nil {
		t.Error("Reload() without sources should fail")
	}
}

func TestCheck_ConcurrentWithSwap(t *testing.T) {
	c := newChecker(t)
	other := buildSet(t, sharedTypes, appTypes)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%8 == 0 {
				if err := c.Swap(other); err != nil {
					errs <- err
				}
				return
			}
			report, err := c.Check(ctx, Request{Type: "AppConfig", Base: obj{"name": "ab", "location": "eastus"}})
			if err != nil {
				errs <- err
				return
			}
			if len(report.Violations) != 1 {
				errs <- errors.New("unexpected violations")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
