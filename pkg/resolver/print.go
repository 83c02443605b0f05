package resolver

import (
	"fmt"
	"io"
	"strings"

	"github.com/openfroyo/tplcheck/pkg/types"
)

// Fprint writes an indented rendering of the schema to w. Named nodes are
// expanded once; later references print the name only.
func Fprint(w io.Writer, s *Schema) error {
	p := &printer{w: w, seen: make(map[*Node]bool)}
	p.ref(s.Root, 0)
	return p.err
}

// String renders the schema with Fprint.
func (s *Schema) String() string {
	var sb strings.Builder
	_ = Fprint(&sb, s)
	return sb.String()
}

type printer struct {
	w    io.Writer
	seen map[*Node]bool
	err  error
}

func (p *printer) printf(depth int, format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, "%s%s\n", strings.Repeat("  ", depth), fmt.Sprintf(format, args...))
}

func (p *printer) ref(r *Ref, depth int) {
	p.printf(depth, "%s", header(r))
	p.body(r.Node, depth+1)
}

func (p *printer) body(n *Node, depth int) {
	if n == nil {
		return
	}
	if n.Name != "" {
		if p.seen[n] {
			return
		}
		p.seen[n] = true
	}

	switch n.Kind {
	case types.KindStruct:
		for _, f := range n.Fields {
			opt := ""
			if f.Optional {
				opt = "?"
			}
			p.printf(depth, "%s%s: %s", f.Name, opt, header(f.Type))
			p.body(f.Type.Node, depth+1)
		}
	case types.KindDiscriminatedUnion:
		for _, value := range n.Accepted {
			v := n.VariantIndex[value]
			p.printf(depth, "%s=%q: %s", n.Discriminator, value, header(v))
			p.body(v.Node, depth+1)
		}
	case types.KindArray:
		p.printf(depth, "[]: %s", header(n.Elem))
		p.body(n.Elem.Node, depth+1)
	case types.KindTuple:
		for i, e := range n.Elems {
			p.printf(depth, "[%d]: %s", i, header(e))
			p.body(e.Node, depth+1)
		}
	}
}

func header(r *Ref) string {
	var sb strings.Builder
	for _, c := range r.Constraints {
		sb.WriteString(c.String())
		sb.WriteByte(' ')
	}
	sb.WriteString(r.TypeName())
	if r.Node != nil && r.Node.Kind != types.KindScalar && r.Node.Kind != types.KindPrimitiveUnion && (r.Display != "" || r.Node.Name != "") {
		fmt.Fprintf(&sb, " (%s)", r.Node.Kind)
	}
	if r.Node != nil && r.Node.Kind == types.KindPrimitiveUnion && r.Display != "" {
		fmt.Fprintf(&sb, " = %s", r.Node.describe())
	}
	if r.Node != nil && r.Node.Kind == types.KindArray {
		if r.Node.MinLength != nil || r.Node.MaxLength != nil {
			fmt.Fprintf(&sb, " len[%s..%s]", bound(r.Node.MinLength), bound(r.Node.MaxLength))
		}
	}
	if r.Nullable {
		sb.WriteString(" | null")
	}
	return sb.String()
}

func bound(n *int) string {
	if n == nil {
		return ""
	}
	return fmt.Sprint(*n)
}
