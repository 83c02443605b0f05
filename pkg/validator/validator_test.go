package validator

import (
	"errors"
	"testing"

	"github.com/openfroyo/tplcheck/pkg/registry"
	"github.com/openfroyo/tplcheck/pkg/resolver"
	"github.com/openfroyo/tplcheck/pkg/types"
)

type obj = map[string]interface{}
type arr = []interface{}

func literal(s string) *types.TypeRef {
	return types.InlineRef(types.PrimitiveUnion{Members: []interface{}{s}})
}

// expand seals r and expands name, failing the test on error.
func expand(t *testing.T, r *registry.Registry, name string) *resolver.Schema {
	t.Helper()
	if err := r.Seal(); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	schema, err := resolver.New(r).ExpandNamed(name)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	return schema
}

func validate(t *testing.T, schema *resolver.Schema, value interface{}) *types.Result {
	t.Helper()
	result, err := New().Validate(value, schema)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return result
}

func assertViolations(t *testing.T, result *types.Result, want ...types.Violation) {
	t.Helper()
	if len(result.Violations) != len(want) {
		t.Fatalf("Expected %d violations, got %d: %v", len(want), len(result.Violations), result.Violations)
	}
	for i, w := range want {
		got := result.Violations[i]
		if got.Kind != w.Kind || got.Path.String() != w.Path.String() {
			t.Errorf("Violation %d: expected %s at %s, got %s at %s", i, w.Kind, w.Path, got.Kind, got.Path)
		}
	}
}

func appSchema(t *testing.T) *resolver.Schema {
	r := registry.New("app")
	r.MustRegister("Region", types.PrimitiveUnion{Members: []interface{}{"eastus", "westus"}})
	r.MustRegister("AppConfig", types.Struct{Fields: []types.Field{
		{Name: "name", Type: types.StringRef().With(types.MinLength(3), types.MaxLength(60))},
		{Name: "location", Type: types.Ref("Region")},
	}})
	return expand(t, r, "AppConfig")
}

func TestValidate_EndToEnd(t *testing.T) {
	schema := appSchema(t)

	t.Run("valid", func(t *testing.T) {
		result := validate(t, schema, obj{"name": "abc", "location": "eastus"})
		if !result.Valid() {
			t.Errorf("Expected valid, got %v", result.Violations)
		}
	})

	t.Run("name too short", func(t *testing.T) {
		result := validate(t, schema, obj{"name": "ab", "location": "eastus"})
		assertViolations(t, result, types.Violation{Kind: types.ViolationConstraint, Path: types.Root.Key("name")})
	})

	t.Run("location not in union", func(t *testing.T) {
		result := validate(t, schema, obj{"name": "abc", "location": "northpole"})
		assertViolations(t, result, types.Violation{Kind: types.ViolationConstraint, Path: types.Root.Key("location")})
		if got := result.Violations[0].Expected; got != "one of {'eastus', 'westus'}" {
			t.Errorf("Unexpected expected text: %q", got)
		}
	})
}

func TestValidate_Completeness(t *testing.T) {
	r := registry.New("test")
	r.MustRegister("Server", types.Struct{Fields: []types.Field{
		{Name: "host", Type: types.StringRef()},
		{Name: "port", Type: types.IntRef()},
		{Name: "tls", Type: types.BoolRef(), Optional: true},
	}})
	schema := expand(t, r, "Server")

	result := validate(t, schema, obj{"tls": true, "hostname": "x"})
	assertViolations(t, result,
		types.Violation{Kind: types.ViolationMissingField, Path: types.Root.Key("host")},
		types.Violation{Kind: types.ViolationMissingField, Path: types.Root.Key("port")},
		types.Violation{Kind: types.ViolationUnknownField, Path: types.Root.Key("hostname")},
	)
}

func TestValidate_ClosedWorld(t *testing.T) {
	r := registry.New("test")
	r.MustRegister("A", types.Struct{Fields: []types.Field{{Name: "a", Type: types.IntRef()}}})
	schema := expand(t, r, "A")

	result := validate(t, schema, obj{"a": int64(1), "b": int64(2)})
	assertViolations(t, result, types.Violation{Kind: types.ViolationUnknownField, Path: types.Root.Key("b")})
}

func TestValidate_UnknownFieldsSorted(t *testing.T) {
	r := registry.New("test")
	r.MustRegister("A", types.Struct{Fields: []types.Field{{Name: "a", Type: types.IntRef()}}})
	schema := expand(t, r, "A")

	result := validate(t, schema, obj{"a": "wrong", "z": 1, "m": 2})
	assertViolations(t, result,
		types.Violation{Kind: types.ViolationTypeMismatch, Path: types.Root.Key("a")},
		types.Violation{Kind: types.ViolationUnknownField, Path: types.Root.Key("m")},
		types.Violation{Kind: types.ViolationUnknownField, Path: types.Root.Key("z")},
	)
}

func storageSchema(t *testing.T) *resolver.Schema {
	r := registry.New("storage")
	r.MustRegister("X", types.Struct{Fields: []types.Field{
		{Name: "kind", Type: literal("x")},
		{Name: "onlyXField", Type: types.StringRef()},
	}})
	r.MustRegister("Y", types.Struct{Fields: []types.Field{
		{Name: "kind", Type: literal("y")},
		{Name: "onlyYField", Type: types.IntRef()},
	}})
	r.MustRegister("Backend", types.DiscriminatedUnion{
		Discriminator: "kind",
		Variants:      []*types.TypeRef{types.Ref("X"), types.Ref("Y")},
	})
	return expand(t, r, "Backend")
}

func TestValidate_DiscriminatorExclusivity(t *testing.T) {
	schema := storageSchema(t)

	result := validate(t, schema, obj{"kind": "x", "onlyXField": "a", "onlyYField": int64(1)})
	assertViolations(t, result, types.Violation{Kind: types.ViolationUnknownField, Path: types.Root.Key("onlyYField")})

	result = validate(t, schema, obj{"kind": "y", "onlyYField": int64(1)})
	if !result.Valid() {
		t.Errorf("Expected valid y variant, got %v", result.Violations)
	}
}

func TestValidate_NoMatchingVariant(t *testing.T) {
	schema := storageSchema(t)

	tests := []struct {
		name  string
		value interface{}
	}{
		{"unknown value", obj{"kind": "z"}},
		{"missing discriminator", obj{"onlyXField": "a"}},
		{"non-string discriminator", obj{"kind": int64(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validate(t, schema, tt.value)
			assertViolations(t, result, types.Violation{Kind: types.ViolationNoMatchingVariant, Path: types.Root.Key("kind")})
			if got := result.Violations[0].Expected; got != "one of {'x', 'y'}" {
				t.Errorf("Expected accepted values listed, got %q", got)
			}
		})
	}
}

func TestValidate_NullableShortCircuit(t *testing.T) {
	r := registry.New("test")
	r.MustRegister("Scale", types.Struct{Fields: []types.Field{
		{Name: "replicas", Type: types.IntRef().With(types.MinValue(10)).OrNull()},
		{Name: "size", Type: types.IntRef().With(types.MinValue(10))},
	}})
	schema := expand(t, r, "Scale")

	result := validate(t, schema, obj{"replicas": nil, "size": int64(10)})
	if !result.Valid() {
		t.Errorf("Expected null to short-circuit, got %v", result.Violations)
	}

	result = validate(t, schema, obj{"replicas": int64(3), "size": nil})
	assertViolations(t, result,
		types.Violation{Kind: types.ViolationConstraint, Path: types.Root.Key("replicas")},
		types.Violation{Kind: types.ViolationTypeMismatch, Path: types.Root.Key("size")},
	)
}

func TestValidate_OptionalNullIsAbsent(t *testing.T) {
	r := registry.New("test")
	r.MustRegister("A", types.Struct{Fields: []types.Field{
		{Name: "note", Type: types.StringRef(), Optional: true},
	}})
	schema := expand(t, r, "A")

	result := validate(t, schema, obj{"note": nil})
	if !result.Valid() {
		t.Errorf("Expected optional null to be treated as absent, got %v", result.Violations)
	}
}

func TestValidate_ConstraintBoundaries(t *testing.T) {
	r := registry.New("test")
	r.MustRegister("A", types.Struct{Fields: []types.Field{
		{Name: "name", Type: types.StringRef().With(types.MinLength(3))},
		{Name: "days", Type: types.IntRef().With(types.MaxValue(30))},
	}})
	schema := expand(t, r, "A")

	tests := []struct {
		name  string
		value interface{}
		want  int
	}{
		{"at both bounds", obj{"name": "abc", "days": int64(30)}, 0},
		{"name too short", obj{"name": "ab", "days": int64(30)}, 1},
		{"days too many", obj{"name": "abc", "days": int64(31)}, 1},
		{"both", obj{"name": "ab", "days": int64(31)}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validate(t, schema, tt.value)
			if len(result.Violations) != tt.want {
				t.Errorf("Expected %d violations, got %v", tt.want, result.Violations)
			}
		})
	}
}

func TestValidate_ConstraintsSkippedOnShapeMismatch(t *testing.T) {
	r := registry.New("test")
	r.MustRegister("A", types.Struct{Fields: []types.Field{
		{Name: "name", Type: types.StringRef().With(types.MinLength(3))},
	}})
	schema := expand(t, r, "A")

	result := validate(t, schema, obj{"name": int64(1)})
	assertViolations(t, result, types.Violation{Kind: types.ViolationTypeMismatch, Path: types.Root.Key("name")})
}

func TestValidate_ArraysAndTuples(t *testing.T) {
	minOne, maxTwo := 1, 2
	r := registry.New("net")
	r.MustRegister("Subnet", types.Struct{Fields: []types.Field{
		{Name: "name", Type: types.StringRef()},
		{Name: "range", Type: types.InlineRef(types.Tuple{Elems: []*types.TypeRef{types.StringRef(), types.IntRef()}})},
	}})
	r.MustRegister("Vnet", types.Struct{Fields: []types.Field{
		{Name: "subnets", Type: types.InlineRef(types.Array{Elem: types.Ref("Subnet"), MinLength: &minOne, MaxLength: &maxTwo})},
		{Name: "dns", Type: types.InlineRef(types.Array{Elem: types.StringRef()}).With(types.MaxLength(1)), Optional: true},
	}})
	schema := expand(t, r, "Vnet")

	result := validate(t, schema, obj{
		"subnets": arr{
			obj{"range": arr{"10.0.0.0", int64(24)}},
			obj{"name": "b", "range": arr{"10.0.1.0"}},
			obj{"name": "c", "range": arr{int64(1), int64(2)}},
		},
		"dns": arr{"a", "b"},
	})

	assertViolations(t, result,
		types.Violation{Kind: types.ViolationConstraint, Path: types.Root.Key("subnets")},
		types.Violation{Kind: types.ViolationMissingField, Path: types.ParsePath("subnets[0].name")},
		types.Violation{Kind: types.ViolationTypeMismatch, Path: types.ParsePath("subnets[1].range")},
		types.Violation{Kind: types.ViolationTypeMismatch, Path: types.ParsePath("subnets[2].range[0]")},
		types.Violation{Kind: types.ViolationConstraint, Path: types.Root.Key("dns")},
	)

	result = validate(t, schema, obj{"subnets": arr{}})
	assertViolations(t, result, types.Violation{Kind: types.ViolationConstraint, Path: types.Root.Key("subnets")})
}

func TestValidate_TypeMismatch(t *testing.T) {
	r := registry.New("test")
	r.MustRegister("A", types.Struct{Fields: []types.Field{
		{Name: "tags", Type: types.ObjectRef()},
		{Name: "ratio", Type: types.NumberRef()},
		{Name: "items", Type: types.InlineRef(types.Array{Elem: types.AnyRef()})},
	}})
	schema := expand(t, r, "A")

	result := validate(t, schema, arr{})
	assertViolations(t, result, types.Violation{Kind: types.ViolationTypeMismatch, Path: types.Root})

	result = validate(t, schema, obj{"tags": "x", "ratio": int64(2), "items": obj{}})
	assertViolations(t, result,
		types.Violation{Kind: types.ViolationTypeMismatch, Path: types.Root.Key("tags")},
		types.Violation{Kind: types.ViolationTypeMismatch, Path: types.Root.Key("items")},
	)

	result = validate(t, schema, obj{"tags": obj{}, "ratio": 0.5, "items": arr{"a", int64(1), nil}})
	assertViolations(t, result, types.Violation{Kind: types.ViolationTypeMismatch, Path: types.ParsePath("items[2]")})
}

func TestValidate_RecursiveSchema(t *testing.T) {
	r := registry.New("tree")
	r.MustRegister("Node", types.Struct{Fields: []types.Field{
		{Name: "name", Type: types.StringRef()},
		{Name: "children", Type: types.InlineRef(types.Array{Elem: types.Ref("Node")}), Optional: true},
	}})
	schema := expand(t, r, "Node")

	result := validate(t, schema, obj{
		"name": "root",
		"children": arr{
			obj{"name": "a", "children": arr{obj{"name": int64(1)}}},
		},
	})
	assertViolations(t, result, types.Violation{Kind: types.ViolationTypeMismatch, Path: types.ParsePath("children[0].children[0].name")})
}

func TestValidatePartial(t *testing.T) {
	r := registry.New("test")
	r.MustRegister("Inner", types.Struct{Fields: []types.Field{{Name: "x", Type: types.IntRef()}}})
	r.MustRegister("A", types.Struct{Fields: []types.Field{
		{Name: "name", Type: types.StringRef()},
		{Name: "inner", Type: types.Ref("Inner")},
	}})
	schema := expand(t, r, "A")

	result, err := New().ValidatePartial(obj{"inner": obj{}, "extra": true}, schema)
	if err != nil {
		t.Fatalf("ValidatePartial failed: %v", err)
	}
	assertViolations(t, result,
		types.Violation{Kind: types.ViolationMissingField, Path: types.ParsePath("inner.x")},
		types.Violation{Kind: types.ViolationUnknownField, Path: types.Root.Key("extra")},
	)

	// A null at the root is an absent override.
	result, err = New().ValidatePartial(obj{"name": nil, "gone": nil}, schema)
	if err != nil {
		t.Fatalf("ValidatePartial failed: %v", err)
	}
	if !result.Valid() {
		t.Errorf("Expected null overrides to be valid, got %v", result.Violations)
	}

	result = validate(t, schema, obj{"name": nil, "inner": obj{"x": int64(1)}})
	assertViolations(t, result, types.Violation{Kind: types.ViolationTypeMismatch, Path: types.Root.Key("name")})
}

func TestValidatePartial_UnionWithoutDiscriminator(t *testing.T) {
	schema := storageSchema(t)

	tests := []struct {
		name  string
		value obj
		want  []types.Violation
	}{
		{"fields of one variant", obj{"onlyXField": "a"}, nil},
		{"fields of both variants", obj{"onlyXField": "a", "onlyYField": int64(2)}, nil},
		{
			name:  "undeclared key",
			value: obj{"onlyXField": int64(5), "typoField": true},
			want:  []types.Violation{{Kind: types.ViolationUnknownField, Path: types.Root.Key("typoField")}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := New().ValidatePartial(tt.value, schema)
			if err != nil {
				t.Fatalf("ValidatePartial failed: %v", err)
			}
			assertViolations(t, result, tt.want...)
		})
	}
}

func TestValidate_MalformedSchema(t *testing.T) {
	_, err := New().Validate(obj{}, nil)
	if !errors.Is(err, types.ErrMalformedSchema) {
		t.Errorf("Expected malformed schema error, got %v", err)
	}

	broken := &resolver.Schema{Type: "Broken", Root: &resolver.Ref{Node: &resolver.Node{Kind: types.KindStruct}}}
	_, err = New().Validate(obj{}, broken)
	if !errors.Is(err, types.ErrMalformedSchema) {
		t.Errorf("Expected malformed schema error for unfilled node, got %v", err)
	}
	if !types.IsInternalError(err) {
		t.Error("Expected internal class")
	}
}
