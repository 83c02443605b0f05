package registry

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/tplcheck/pkg/types"
)

func regionDef() types.TypeDef {
	return types.PrimitiveUnion{Members: []interface{}{"eastus", "westus"}}
}

func appConfigDef() types.TypeDef {
	return types.Struct{Fields: []types.Field{
		{Name: "name", Type: types.StringRef().With(types.MinLength(3), types.MaxLength(60))},
		{Name: "location", Type: types.Ref("Region")},
	}}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := New("app")

	if err := r.Register("Region", regionDef()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register("AppConfig", appConfigDef()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	def, err := r.Resolve("Region")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if def.Kind() != types.KindPrimitiveUnion {
		t.Errorf("Expected primitive union, got %s", def.Kind())
	}

	if r.Len() != 2 {
		t.Errorf("Expected 2 types, got %d", r.Len())
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "Region" || names[1] != "AppConfig" {
		t.Errorf("Expected registration order, got %v", names)
	}
	if r.Namespace() != "app" {
		t.Errorf("Expected namespace app, got %s", r.Namespace())
	}
}

func TestRegistry_DuplicateType(t *testing.T) {
	r := New("app")
	r.MustRegister("Region", regionDef())

	err := r.Register("Region", regionDef())
	if !errors.Is(err, types.ErrDuplicateType) {
		t.Fatalf("Expected duplicate type error, got %v", err)
	}
	if !types.IsRegistrationError(err) {
		t.Error("Expected registration class")
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := New("app")
	_, err := r.Resolve("Missing")
	if !errors.Is(err, types.ErrUnknownType) {
		t.Fatalf("Expected unknown type error, got %v", err)
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	tests := []struct {
		name    string
		typName string
		def     types.TypeDef
		wantErr *types.Error
	}{
		{"empty name", "", regionDef(), types.ErrInvalidType},
		{"name with dash", "my-type", regionDef(), types.ErrInvalidType},
		{"nil def", "X", nil, types.ErrInvalidType},
		{"empty union", "X", types.PrimitiveUnion{}, types.ErrInvalidType},
		{"duplicate member", "X", types.PrimitiveUnion{Members: []interface{}{"a", "a"}}, types.ErrInvalidType},
		{"float member", "X", types.PrimitiveUnion{Members: []interface{}{1.5}}, types.ErrInvalidType},
		{
			"duplicate field", "X",
			types.Struct{Fields: []types.Field{{Name: "a", Type: types.IntRef()}, {Name: "a", Type: types.IntRef()}}},
			types.ErrInvalidType,
		},
		{
			"malformed ref", "X",
			types.Struct{Fields: []types.Field{{Name: "a", Type: &types.TypeRef{}}}},
			types.ErrInvalidType,
		},
		{
			"length on int", "X",
			types.Struct{Fields: []types.Field{{Name: "a", Type: types.IntRef().With(types.MinLength(1))}}},
			types.ErrConstraintDefinition,
		},
		{
			"value on nested string", "X",
			types.Struct{Fields: []types.Field{{Name: "outer", Type: types.InlineRef(types.Struct{Fields: []types.Field{
				{Name: "inner", Type: types.StringRef().With(types.MaxValue(3))},
			}})}}},
			types.ErrConstraintDefinition,
		},
		{"empty tuple", "X", types.Tuple{}, types.ErrInvalidType},
		{"union without variants", "X", types.DiscriminatedUnion{Discriminator: "kind"}, types.ErrInvalidType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("test")
			err := r.Register(tt.typName, tt.def)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %s, got %v", tt.wantErr.Code, err)
			}
			if r.Len() != 0 {
				t.Errorf("Expected nothing registered, got %d", r.Len())
			}
		})
	}
}

func TestRegistry_Seal(t *testing.T) {
	r := New("app")
	r.MustRegister("AppConfig", appConfigDef())
	r.MustRegister("Region", regionDef())

	if err := r.Seal(); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !r.Sealed() {
		t.Error("Expected registry to be sealed")
	}

	err := r.Register("Late", regionDef())
	if !errors.Is(err, types.ErrRegistrySealed) {
		t.Errorf("Expected sealed error, got %v", err)
	}

	if err := r.Seal(); err != nil {
		t.Errorf("Expected second Seal to be a no-op, got %v", err)
	}
}

func TestRegistry_SealUnknownReference(t *testing.T) {
	r := New("app")
	r.MustRegister("AppConfig", appConfigDef())

	err := r.Seal()
	if !errors.Is(err, types.ErrUnknownType) {
		t.Fatalf("Expected unknown type error, got %v", err)
	}
	if !strings.Contains(err.Error(), "referenced by AppConfig") {
		t.Errorf("Expected referencing type in message, got %v", err)
	}
	if r.Sealed() {
		t.Error("Expected failed Seal to leave registry open")
	}
}

func TestRegistry_SealNamedConstraint(t *testing.T) {
	r := New("app")
	r.MustRegister("Region", regionDef())
	r.MustRegister("Port", types.Alias{Target: types.IntRef()})
	r.MustRegister("Bad", types.Struct{Fields: []types.Field{
		{Name: "region", Type: types.Ref("Region").With(types.MinValue(1))},
	}})

	err := r.Seal()
	if !errors.Is(err, types.ErrConstraintDefinition) {
		t.Fatalf("Expected constraint definition error, got %v", err)
	}

	ok := New("app")
	ok.MustRegister("Region", regionDef())
	ok.MustRegister("Port", types.Alias{Target: types.IntRef()})
	ok.MustRegister("Good", types.Struct{Fields: []types.Field{
		{Name: "region", Type: types.Ref("Region").With(types.MaxLength(6))},
		{Name: "port", Type: types.Ref("Port").With(types.MinValue(1), types.MaxValue(65535))},
	}})
	if err := ok.Seal(); err != nil {
		t.Fatalf("Expected constraints through alias to be accepted, got %v", err)
	}
}

func TestRegistry_ConcurrentReadsAfterSeal(t *testing.T) {
	r := New("app")
	r.MustRegister("Region", regionDef())
	r.MustRegister("AppConfig", appConfigDef())
	if err := r.Seal(); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := r.Resolve("AppConfig"); err != nil {
					t.Errorf("Resolve failed: %v", err)
					return
				}
				_ = r.Names()
			}
		}()
	}
	wg.Wait()
}
