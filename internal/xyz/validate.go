package xyz

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/kaptinlin/jsonschema"
)

// graftSchema constrains the serialized graph format: a JSON object whose
// "returns" key names the node producing the result, with every other key
// binding a node name to an expression.
const graftSchema = `{
	"type": "object",
	"properties": {
		"returns": {"type": "string", "minLength": 1}
	},
	"required": ["returns"],
	"minProperties": 2
}`

var channelPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]{0,63}$`)

// Validator checks the internal consistency of a submitted draft. The graft
// and typespec formats themselves belong to the graph engine; the validator
// only establishes well-formedness and result-type agreement.
type Validator struct {
	graft *jsonschema.Schema
}

// NewValidator compiles the embedded graft schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(graftSchema))
	if err != nil {
		return nil, fmt.Errorf("compile graft schema: %w", err)
	}
	return &Validator{graft: schema}, nil
}

// Validate runs the checks in order and fails fast on the first violation:
// graft well-formed, typespec well-formed, typespec/result-type agreement,
// channel identifier. Returns nil only for a fully valid draft.
func (v *Validator) Validate(draft *Draft) error {
	if err := v.checkGraft(draft.Graft); err != nil {
		return err
	}
	ts, err := v.checkTypespec(draft)
	if err != nil {
		return err
	}
	declared, ok := ts.ResultType()
	if !ok {
		return &ValidationError{
			Reason: ReasonMalformedTypespec,
			Detail: fmt.Sprintf("unknown result type name %q", ts.Type),
		}
	}
	if declared != draft.Type {
		return &ValidationError{
			Reason: ReasonTypeMismatch,
			Detail: fmt.Sprintf("typespec %s denotes %s, draft declares %s", ts.Serialize(), declared, draft.Type),
		}
	}
	if !channelPattern.MatchString(draft.Channel) {
		return &ValidationError{
			Reason: ReasonInvalidChannel,
			Detail: fmt.Sprintf("channel %q is not a valid identifier", draft.Channel),
		}
	}
	return nil
}

func (v *Validator) checkGraft(graft string) error {
	if graft == "" {
		return &ValidationError{Reason: ReasonMalformedGraft, Detail: "graft is empty"}
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(graft), &doc); err != nil {
		return &ValidationError{Reason: ReasonMalformedGraft, Detail: err.Error()}
	}
	result := v.graft.ValidateJSON([]byte(graft))
	if !result.IsValid() {
		return &ValidationError{
			Reason: ReasonMalformedGraft,
			Detail: fmt.Sprintf("graft schema violation: %v", result.Errors),
		}
	}
	// The returns key must reference a node defined in the graft.
	var returns string
	if err := json.Unmarshal(doc["returns"], &returns); err != nil {
		return &ValidationError{Reason: ReasonMalformedGraft, Detail: "returns is not a string"}
	}
	if _, ok := doc[returns]; !ok {
		return &ValidationError{
			Reason: ReasonMalformedGraft,
			Detail: fmt.Sprintf("returns references undefined node %q", returns),
		}
	}
	return nil
}

func (v *Validator) checkTypespec(draft *Draft) (*Typespec, error) {
	if draft.Typespec == nil && draft.LegacyTypespec == "" {
		return nil, &ValidationError{Reason: ReasonMalformedTypespec, Detail: "typespec is missing"}
	}
	ts, err := ResolveTypespec(draft.Typespec, draft.LegacyTypespec)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonMalformedTypespec, Detail: err.Error()}
	}
	if err := ts.wellFormed(); err != nil {
		return nil, &ValidationError{Reason: ReasonMalformedTypespec, Detail: err.Error()}
	}
	return ts, nil
}
