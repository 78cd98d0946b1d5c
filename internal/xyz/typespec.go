package xyz

import (
	"fmt"
	"strings"
)

// Typespec is the structured description of a graph's typed interface.
// Composite types carry their type parameters recursively, e.g.
// {type: "List", params: [{type: "Int"}]}.
type Typespec struct {
	Type   string      `json:"type"`
	Params []*Typespec `json:"params,omitempty"`
}

// resultTypeForSpec maps a typespec's outermost type name to the declared
// ResultType enum. Names outside this table are rejected by the validator.
var resultTypeForSpec = map[string]ResultType{
	"Image":             ResultTypeRaster,
	"ImageCollection":   ResultTypeRaster,
	"Feature":           ResultTypeVector,
	"FeatureCollection": ResultTypeVector,
	"Geometry":          ResultTypeVector,
	"Int":               ResultTypeScalar,
	"Float":             ResultTypeScalar,
	"Bool":              ResultTypeScalar,
	"Str":               ResultTypeScalar,
	"Table":             ResultTypeTable,
	"Dataframe":         ResultTypeTable,
}

// ResultType reports the ResultType the typespec's outermost type denotes.
func (ts *Typespec) ResultType() (ResultType, bool) {
	t, ok := resultTypeForSpec[ts.Type]
	return t, ok
}

// wellFormed walks the tree checking every node names a type.
func (ts *Typespec) wellFormed() error {
	if ts.Type == "" {
		return fmt.Errorf("typespec node missing type name")
	}
	for _, p := range ts.Params {
		if p == nil {
			return fmt.Errorf("typespec %s: nil type parameter", ts.Type)
		}
		if err := p.wellFormed(); err != nil {
			return err
		}
	}
	return nil
}

// Serialize renders the legacy string form, e.g. "List[Int]". Only used to
// canonicalize for fingerprinting; new records never store this form.
func (ts *Typespec) Serialize() string {
	if len(ts.Params) == 0 {
		return ts.Type
	}
	parts := make([]string, len(ts.Params))
	for i, p := range ts.Params {
		parts[i] = p.Serialize()
	}
	return ts.Type + "[" + strings.Join(parts, ", ") + "]"
}

// ResolveTypespec returns the effective typespec of a draft or stored record:
// the structured form when present, otherwise the parsed deprecated legacy
// serialization. This is the single place legacy fallback happens.
func ResolveTypespec(structured *Typespec, legacy string) (*Typespec, error) {
	if structured != nil {
		return structured, nil
	}
	if legacy == "" {
		return nil, fmt.Errorf("no typespec present")
	}
	ts, rest, err := parseLegacyTypespec(legacy)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rest) != "" {
		return nil, fmt.Errorf("trailing input %q in legacy typespec", rest)
	}
	return ts, nil
}

// parseLegacyTypespec parses one type expression of the legacy grammar
// `Name` | `Name[expr, expr, ...]` and returns the unconsumed remainder.
func parseLegacyTypespec(s string) (*Typespec, string, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	if i == 0 {
		return nil, "", fmt.Errorf("expected type name at %q", s)
	}
	ts := &Typespec{Type: s[:i]}
	rest := s[i:]
	if !strings.HasPrefix(rest, "[") {
		return ts, rest, nil
	}
	rest = rest[1:]
	for {
		param, r, err := parseLegacyTypespec(rest)
		if err != nil {
			return nil, "", err
		}
		ts.Params = append(ts.Params, param)
		rest = strings.TrimSpace(r)
		if strings.HasPrefix(rest, ",") {
			rest = rest[1:]
			continue
		}
		if strings.HasPrefix(rest, "]") {
			return ts, rest[1:], nil
		}
		return nil, "", fmt.Errorf("expected ',' or ']' at %q", rest)
	}
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
