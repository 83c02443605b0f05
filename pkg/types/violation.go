package types

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ViolationKind classifies a validation finding.
type ViolationKind string

const (
	ViolationMissingField      ViolationKind = "missing_field"
	ViolationUnknownField      ViolationKind = "unknown_field"
	ViolationNoMatchingVariant ViolationKind = "no_matching_variant"
	ViolationTypeMismatch      ViolationKind = "type_mismatch"
	ViolationConstraint        ViolationKind = "constraint"
	ViolationPolicy            ViolationKind = "policy"
)

// PathElem is one step of a value path: an object key or an array index.
type PathElem struct {
	Key   string
	Index int
	IsKey bool
}

// Key returns an object key path element.
func Key(k string) PathElem { return PathElem{Key: k, IsKey: true} }

// Index returns an array index path element.
func Index(i int) PathElem { return PathElem{Index: i} }

// Path locates a value inside a configuration document.
type Path []PathElem

// Root is the empty path.
var Root = Path(nil)

// Key returns a new path extended by an object key. p is never modified.
func (p Path) Key(k string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Key(k))
}

// Index returns a new path extended by an array index.
func (p Path) Index(i int) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Index(i))
}

// String renders p as `subnets[0].name`; the root renders as `$`.
func (p Path) String() string {
	if len(p) == 0 {
		return "$"
	}
	var sb strings.Builder
	for i, e := range p {
		if e.IsKey {
			if i > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(e.Key)
			continue
		}
		sb.WriteByte('[')
		sb.WriteString(strconv.Itoa(e.Index))
		sb.WriteByte(']')
	}
	return sb.String()
}

// MarshalJSON encodes the path in its rendered form.
func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// ParsePath is the inverse of Path.String for keys that contain no dots or
// brackets.
func ParsePath(s string) Path {
	if s == "" || s == "$" {
		return Root
	}
	var p Path
	for _, seg := range strings.Split(s, ".") {
		name := seg
		var idx []int
		if open := strings.IndexByte(seg, '['); open >= 0 {
			name = seg[:open]
			rest := seg[open:]
			for len(rest) > 0 && rest[0] == '[' {
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					break
				}
				if n, err := strconv.Atoi(rest[1:end]); err == nil {
					idx = append(idx, n)
				}
				rest = rest[end+1:]
			}
		}
		if name != "" {
			p = append(p, Key(name))
		}
		for _, n := range idx {
			p = append(p, Index(n))
		}
	}
	return p
}

// Violation is a single validation finding.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	Path     Path          `json:"path"`
	Expected string        `json:"expected,omitempty"`
	Observed string        `json:"observed,omitempty"`
	Message  string        `json:"message"`
}

// String renders the violation as `path: message`.
func (v Violation) String() string {
	return v.Path.String() + ": " + v.Message
}

// Result holds every violation found in one validation run.
type Result struct {
	Violations []Violation `json:"violations"`
}

// Valid reports whether no violations were found.
func (r *Result) Valid() bool {
	return r == nil || len(r.Violations) == 0
}

// Add appends violations to r.
func (r *Result) Add(vs ...Violation) {
	r.Violations = append(r.Violations, vs...)
}

// Merge appends all violations of other to r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// CountByKind tallies violations per kind.
func (r *Result) CountByKind() map[ViolationKind]int {
	counts := make(map[ViolationKind]int)
	if r == nil {
		return counts
	}
	for _, v := range r.Violations {
		counts[v.Kind]++
	}
	return counts
}
