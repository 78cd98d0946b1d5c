// Package xyz holds the domain model for XYZ computation definitions:
// named, typed, versioned computation graphs registered for later serving.
package xyz

import (
	"encoding/json"
	"fmt"
)

// ResultType is the declared output type of a computation graph.
type ResultType int

const (
	ResultTypeUnspecified ResultType = iota
	ResultTypeRaster
	ResultTypeVector
	ResultTypeScalar
	ResultTypeTable
)

var resultTypeNames = map[ResultType]string{
	ResultTypeUnspecified: "UNSPECIFIED",
	ResultTypeRaster:      "RASTER",
	ResultTypeVector:      "VECTOR",
	ResultTypeScalar:      "SCALAR",
	ResultTypeTable:       "TABLE",
}

var resultTypeValues = map[string]ResultType{
	"UNSPECIFIED": ResultTypeUnspecified,
	"RASTER":      ResultTypeRaster,
	"VECTOR":      ResultTypeVector,
	"SCALAR":      ResultTypeScalar,
	"TABLE":       ResultTypeTable,
}

func (t ResultType) String() string {
	if name, ok := resultTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ResultType(%d)", int(t))
}

// ParseResultType converts a wire enum name into a ResultType.
func ParseResultType(s string) (ResultType, error) {
	if t, ok := resultTypeValues[s]; ok {
		return t, nil
	}
	return ResultTypeUnspecified, fmt.Errorf("unknown result type %q", s)
}

func (t ResultType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *ResultType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseResultType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Identity is an authenticated caller, already resolved by the auth layer.
// The registry trusts it and never accepts owner fields from request bodies.
type Identity struct {
	User string
	Org  string
}

// Draft is a client-submitted definition before validation and registration.
// Owner fields are deliberately absent: they come from the caller's Identity.
type Draft struct {
	Name        string
	Description string
	Type        ResultType
	Channel     string
	Graft       string
	Typespec    *Typespec
	// LegacyTypespec is the deprecated serialized form. Accepted on reads of
	// old records and on drafts produced by old clients; never written back
	// for new registrations.
	LegacyTypespec string
}

// Definition is a registered XYZ computation definition. Immutable after
// creation: no update path exists, so CreatedTimestamp == UpdatedTimestamp
// until a future revision introduces metadata edits.
type Definition struct {
	ID               string
	CreatedTimestamp int64
	UpdatedTimestamp int64
	Name             string
	Description      string
	Type             ResultType
	Channel          string
	Graft            string
	Typespec         *Typespec
	LegacyTypespec   string
	User             string
	Org              string

	// Fingerprint is the owner-scoped content identity used for dedup.
	// Derived, not client-visible on the wire.
	Fingerprint string
}

// Owner reports the identity that registered the definition.
func (d *Definition) Owner() Identity {
	return Identity{User: d.User, Org: d.Org}
}
