package ir

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Delim separates atoms when a Name is rendered as text.
const Delim = "¦"

// Atom is one element of a Name: a string, an int64 or a float64.
type Atom = any

// Attrs is the attribute source consulted by Name.Apply.
// event.Context implements it.
type Attrs interface {
	Lookup(key string) (any, bool)
}

// Name is an immutable, ordered tuple of atoms used as a hierarchical
// identifier (event names, statement words, worker names).
//
// The zero Name is empty and valid.
type Name struct {
	atoms []Atom
}

// MissingAttributeError is returned by Apply when a $placeholder has no
// matching attribute. Substitution never falls back to a default.
type MissingAttributeError struct {
	Attr string
	Name Name
}

// Error implements the error interface.
func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("no value for $%s in %s", e.Attr, e.Name)
}

// MakeName builds a Name from parts. Each part may be an atom, a Name or a
// []any; containers are flattened. Integers become int64 and floats float64.
func MakeName(parts ...any) (Name, error) {
	atoms := make([]Atom, 0, len(parts))
	var err error
	for _, p := range parts {
		atoms, err = appendAtom(atoms, p)
		if err != nil {
			return Name{}, err
		}
	}
	return Name{atoms: atoms}, nil
}

// NewName is MakeName for callers that only pass literal atoms.
// Panics on an unsupported part type.
func NewName(parts ...any) Name {
	n, err := MakeName(parts...)
	if err != nil {
		panic(err)
	}
	return n
}

// ParseName splits s on whitespace into a Name of string atoms.
func ParseName(s string) Name {
	fields := strings.Fields(s)
	atoms := make([]Atom, len(fields))
	for i, f := range fields {
		atoms[i] = f
	}
	return Name{atoms: atoms}
}

func appendAtom(atoms []Atom, p any) ([]Atom, error) {
	switch v := p.(type) {
	case string:
		return append(atoms, v), nil
	case int64:
		return append(atoms, v), nil
	case float64:
		return append(atoms, v), nil
	case int:
		return append(atoms, int64(v)), nil
	case int32:
		return append(atoms, int64(v)), nil
	case uint:
		return append(atoms, int64(v)), nil
	case uint32:
		return append(atoms, int64(v)), nil
	case float32:
		return append(atoms, float64(v)), nil
	case Name:
		return append(atoms, v.atoms...), nil
	case []any:
		var err error
		for _, e := range v {
			if atoms, err = appendAtom(atoms, e); err != nil {
				return nil, err
			}
		}
		return atoms, nil
	case []string:
		for _, e := range v {
			atoms = append(atoms, e)
		}
		return atoms, nil
	default:
		return nil, fmt.Errorf("name: unsupported atom %T (%v)", p, p)
	}
}

// Len returns the number of atoms.
func (n Name) Len() int { return len(n.atoms) }

// IsEmpty reports whether n has no atoms.
func (n Name) IsEmpty() bool { return len(n.atoms) == 0 }

// At returns atom i.
func (n Name) At(i int) Atom { return n.atoms[i] }

// Head returns the first atom rendered as text, or "" for an empty Name.
func (n Name) Head() string {
	if len(n.atoms) == 0 {
		return ""
	}
	return AtomString(n.atoms[0])
}

// Atoms returns a copy of the atoms.
func (n Name) Atoms() []Atom {
	out := make([]Atom, len(n.atoms))
	copy(out, n.atoms)
	return out
}

// Strings renders each atom as text.
func (n Name) Strings() []string {
	out := make([]string, len(n.atoms))
	for i, a := range n.atoms {
		out[i] = AtomString(a)
	}
	return out
}

// Slice returns the sub-name [from:to].
func (n Name) Slice(from, to int) Name {
	return Name{atoms: n.atoms[from:to:to]}
}

// Drop returns n without its first k atoms.
func (n Name) Drop(k int) Name {
	if k >= len(n.atoms) {
		return Name{}
	}
	return Name{atoms: n.atoms[k:len(n.atoms):len(n.atoms)]}
}

// Append returns a new Name with parts appended.
func (n Name) Append(parts ...any) Name {
	return NewName(n, parts)
}

// String joins the atoms with Delim.
func (n Name) String() string {
	return strings.Join(n.Strings(), Delim)
}

// Words joins the atoms with single spaces, the form statements are typed in.
func (n Name) Words() string {
	return strings.Join(n.Strings(), " ")
}

// Key returns a string suitable as a map key. A single string atom yields
// the string itself, so Name("a") and "a" share a key. Every other Name,
// including a lone number, uses the canonical JSON array form; a string
// starting with '[' does too, so the two forms never collide.
func (n Name) Key() string {
	if len(n.atoms) == 1 {
		if s, ok := n.atoms[0].(string); ok && !strings.HasPrefix(s, "[") {
			return s
		}
	}
	b, err := MarshalCanonical(n)
	if err != nil {
		return n.String()
	}
	return string(b)
}

// Equal reports whether n and o have identical atoms.
func (n Name) Equal(o Name) bool {
	return n.Compare(o) == 0
}

// EqualString compares n against a bare string the way the rendered form
// would: Name("a") equals "a", Name("a","b") equals "a¦b" only.
func (n Name) EqualString(s string) bool {
	return n.String() == s
}

// Compare orders names atom by atom; a shorter prefix sorts first.
// Numbers sort before strings.
func (n Name) Compare(o Name) int {
	for i := 0; i < len(n.atoms) && i < len(o.atoms); i++ {
		if c := compareAtoms(n.atoms[i], o.atoms[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(n.atoms), len(o.atoms))
}

// CompareString orders n against a bare string using the rendered form.
func (n Name) CompareString(s string) int {
	return strings.Compare(n.String(), s)
}

// HasPrefix reports whether n starts with the atoms of p.
func (n Name) HasPrefix(p Name) bool {
	if p.Len() > n.Len() {
		return false
	}
	return n.Slice(0, p.Len()).Equal(p)
}

// Apply returns a copy of n with the first drop atoms removed and every
// string atom of the form "$x" replaced by attrs.Lookup("x").
// A placeholder without a matching attribute is an error, never passed through.
// A nil attrs performs only the drop.
func (n Name) Apply(attrs Attrs, drop int) (Name, error) {
	src := n.Drop(drop)
	if attrs == nil {
		return src, nil
	}
	out := make([]Atom, 0, src.Len())
	for _, a := range src.atoms {
		s, ok := a.(string)
		if !ok || len(s) < 2 || s[0] != '$' {
			out = append(out, a)
			continue
		}
		v, found := attrs.Lookup(s[1:])
		if !found {
			return Name{}, &MissingAttributeError{Attr: s[1:], Name: n}
		}
		var err error
		if out, err = appendAtom(out, v); err != nil {
			return Name{}, fmt.Errorf("substitute $%s: %w", s[1:], err)
		}
	}
	return Name{atoms: out}, nil
}

// AtomString renders a single atom as text. Floats use the shortest
// representation that round-trips.
func AtomString(a Atom) string {
	switch v := a.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func compareAtoms(a, b Atom) int {
	as, aStr := a.(string)
	bs, bStr := b.(string)
	switch {
	case aStr && bStr:
		return strings.Compare(as, bs)
	case aStr:
		return 1
	case bStr:
		return -1
	}
	return cmp.Compare(atomFloat(a), atomFloat(b))
}

func atomFloat(a Atom) float64 {
	switch v := a.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return 0
}
