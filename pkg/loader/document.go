package loader

import (
	"fmt"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/tplcheck/pkg/types"
)

// Document is a parsed type document: the types one namespace declares and
// the types it imports from other namespaces.
type Document struct {
	Source    string
	Namespace string
	Imports   []ImportSpec
	Types     []TypeSpec
}

// ImportSpec brings a type of another namespace into scope.
type ImportSpec struct {
	From string `yaml:"from" json:"from"`
	Type string `yaml:"type" json:"type"`
	As   string `yaml:"as,omitempty" json:"as,omitempty"`
}

// LocalName returns the name the import is visible under.
func (i ImportSpec) LocalName() string {
	if i.As != "" {
		return i.As
	}
	return i.Type
}

// TypeSpec is one named definition in document order.
type TypeSpec struct {
	Name string
	Def  types.TypeDef
}

// Definitions returns the imports as aliases followed by the declared types,
// in the order they should be registered.
func (d *Document) Definitions() []TypeSpec {
	out := make([]TypeSpec, 0, len(d.Imports)+len(d.Types))
	for _, imp := range d.Imports {
		out = append(out, TypeSpec{
			Name: imp.LocalName(),
			Def:  types.Alias{Target: types.ImportRef(imp.From, imp.Type, imp.As)},
		})
	}
	return append(out, d.Types...)
}

// specNode is the format-neutral shape of a definition: an expression
// string, an ordered mapping (struct) or a sequence (tuple).
type specNode struct {
	expr   string
	fields []specField
	elems  []specNode
	kind   specKind
}

type specKind int

const (
	specExpr specKind = iota
	specStruct
	specTuple
)

type specField struct {
	key      string
	optional bool
	node     specNode
}

// rawDocument is what the format decoders produce before type expressions
// are parsed.
type rawDocument struct {
	namespace string
	imports   []ImportSpec
	types     []specField
}

// DecodeDocument parses a type document. The format is chosen by the
// extension of source: .yaml, .yml and .json are read as YAML, .cue as CUE.
func DecodeDocument(source string, data []byte) (*Document, error) {
	var (
		raw *rawDocument
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(source)); ext {
	case ".yaml", ".yml", ".json":
		raw, err = decodeYAMLDocument(data)
	case ".cue":
		raw, err = decodeCUEDocument(source, data)
	default:
		return nil, fmt.Errorf("%s: unsupported type document format %q", source, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	if raw.namespace == "" {
		return nil, fmt.Errorf("%s: namespace is required", source)
	}

	doc := &Document{Source: source, Namespace: raw.namespace, Imports: raw.imports}
	for i, imp := range raw.imports {
		if imp.From == "" || imp.Type == "" {
			return nil, fmt.Errorf("%s: imports[%d]: from and type are required", source, i)
		}
	}
	for _, t := range raw.types {
		if t.optional {
			return nil, fmt.Errorf("%s: type %s: only struct fields can be optional", source, t.key)
		}
		def, err := buildDef(t.node)
		if err != nil {
			return nil, fmt.Errorf("%s: type %s: %w", source, t.key, err)
		}
		doc.Types = append(doc.Types, TypeSpec{Name: t.key, Def: def})
	}
	return doc, nil
}

// buildDef converts a top-level spec into a definition. An expression that
// is a bare inline definition is registered as that definition; anything
// carrying a name, nullability or constraints becomes an alias.
func buildDef(n specNode) (types.TypeDef, error) {
	ref, _, err := buildRef(n)
	if err != nil {
		return nil, err
	}
	if ref.Inline != nil && !ref.Nullable && len(ref.Constraints) == 0 {
		return ref.Inline, nil
	}
	return types.Alias{Target: ref}, nil
}

func buildRef(n specNode) (*types.TypeRef, string, error) {
	switch n.kind {
	case specStruct:
		st := types.Struct{Fields: make([]types.Field, 0, len(n.fields))}
		for _, f := range n.fields {
			ref, desc, err := buildRef(f.node)
			if err != nil {
				return nil, "", fmt.Errorf("field %s: %w", f.key, err)
			}
			st.Fields = append(st.Fields, types.Field{
				Name:        f.key,
				Type:        ref,
				Optional:    f.optional,
				Description: desc,
			})
		}
		return types.InlineRef(st), "", nil
	case specTuple:
		tup := types.Tuple{Elems: make([]*types.TypeRef, 0, len(n.elems))}
		for i, e := range n.elems {
			ref, _, err := buildRef(e)
			if err != nil {
				return nil, "", fmt.Errorf("[%d]: %w", i, err)
			}
			tup.Elems = append(tup.Elems, ref)
		}
		return types.InlineRef(tup), "", nil
	default:
		e, err := parseExpr(n.expr)
		if err != nil {
			return nil, "", err
		}
		return e.ref, e.description, nil
	}
}

// fieldKey splits the optional marker off a struct key.
func fieldKey(key string) (string, bool) {
	if name, ok := strings.CutSuffix(key, "?"); ok {
		return name, true
	}
	return key, false
}

func decodeYAMLDocument(data []byte) (*rawDocument, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: document must be a mapping", top.Line)
	}

	raw := &rawDocument{}
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, val := top.Content[i], top.Content[i+1]
		switch key.Value {
		case "namespace":
			raw.namespace = val.Value
		case "imports":
			if err := val.Decode(&raw.imports); err != nil {
				return nil, fmt.Errorf("line %d: imports: %w", val.Line, err)
			}
		case "types":
			if val.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("line %d: types must be a mapping", val.Line)
			}
			fields, err := yamlFields(val)
			if err != nil {
				return nil, err
			}
			raw.types = fields
		default:
			return nil, fmt.Errorf("line %d: unknown key %q", key.Line, key.Value)
		}
	}
	return raw, nil
}

func yamlFields(n *yaml.Node) ([]specField, error) {
	fields := make([]specField, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		spec, err := yamlSpec(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key.Value, err)
		}
		name, optional := fieldKey(key.Value)
		fields = append(fields, specField{key: name, optional: optional, node: spec})
	}
	return fields, nil
}

func yamlSpec(n *yaml.Node) (specNode, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return specNode{kind: specExpr, expr: n.Value}, nil
	case yaml.MappingNode:
		fields, err := yamlFields(n)
		if err != nil {
			return specNode{}, err
		}
		return specNode{kind: specStruct, fields: fields}, nil
	case yaml.SequenceNode:
		elems := make([]specNode, 0, len(n.Content))
		for _, c := range n.Content {
			e, err := yamlSpec(c)
			if err != nil {
				return specNode{}, err
			}
			elems = append(elems, e)
		}
		return specNode{kind: specTuple, elems: elems}, nil
	case yaml.AliasNode:
		return yamlSpec(n.Alias)
	default:
		return specNode{}, fmt.Errorf("line %d: unsupported node", n.Line)
	}
}

func decodeCUEDocument(source string, data []byte) (*rawDocument, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(source))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile document: %w", err)
	}

	raw := &rawDocument{}
	if ns := v.LookupPath(cue.ParsePath("namespace")); ns.Exists() {
		s, err := ns.String()
		if err != nil {
			return nil, fmt.Errorf("namespace: %w", err)
		}
		raw.namespace = s
	}
	if imports := v.LookupPath(cue.ParsePath("imports")); imports.Exists() {
		if err := imports.Decode(&raw.imports); err != nil {
			return nil, fmt.Errorf("imports: %w", err)
		}
	}
	if ts := v.LookupPath(cue.ParsePath("types")); ts.Exists() {
		fields, err := cueFields(ts)
		if err != nil {
			return nil, err
		}
		raw.types = fields
	}
	return raw, nil
}

func cueFields(v cue.Value) ([]specField, error) {
	iter, err := v.Fields(cue.Optional(true))
	if err != nil {
		return nil, fmt.Errorf("failed to iterate fields: %w", err)
	}
	var fields []specField
	for iter.Next() {
		sel := iter.Selector()
		if sel.LabelType() != cue.StringLabel {
			continue
		}
		spec, err := cueSpec(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sel.Unquoted(), err)
		}
		name, optional := fieldKey(sel.Unquoted())
		fields = append(fields, specField{
			key:      name,
			optional: optional || iter.IsOptional(),
			node:     spec,
		})
	}
	return fields, nil
}

func cueSpec(v cue.Value) (specNode, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return specNode{}, err
		}
		return specNode{kind: specExpr, expr: s}, nil
	case cue.StructKind:
		fields, err := cueFields(v)
		if err != nil {
			return specNode{}, err
		}
		return specNode{kind: specStruct, fields: fields}, nil
	case cue.ListKind:
		list, err := v.List()
		if err != nil {
			return specNode{}, err
		}
		var elems []specNode
		for list.Next() {
			e, err := cueSpec(list.Value())
			if err != nil {
				return specNode{}, err
			}
			elems = append(elems, e)
		}
		return specNode{kind: specTuple, elems: elems}, nil
	default:
		return specNode{}, fmt.Errorf("expected a type expression string, struct or list, found %s", v.IncompleteKind())
	}
}
