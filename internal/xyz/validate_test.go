package xyz

import (
	"testing"
)

const validGraft = `{"1": ["Image.load", "sentinel-2"], "returns": "1"}`

func validDraft() *Draft {
	return &Draft{
		Name:     "ndvi",
		Type:     ResultTypeRaster,
		Channel:  "v1",
		Graft:    validGraft,
		Typespec: &Typespec{Type: "Image"},
	}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidateAccepts(t *testing.T) {
	v := newTestValidator(t)

	if err := v.Validate(validDraft()); err != nil {
		t.Fatalf("Validate(valid draft) = %v, want nil", err)
	}
}

func TestValidateLegacyTypespecEquivalent(t *testing.T) {
	v := newTestValidator(t)

	draft := validDraft()
	draft.Typespec = nil
	draft.LegacyTypespec = "Image"

	if err := v.Validate(draft); err != nil {
		t.Fatalf("legacy-only draft should validate like structured: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Draft)
		reason ValidationReason
	}{
		{"empty graft", func(d *Draft) { d.Graft = "" }, ReasonMalformedGraft},
		{"graft not JSON", func(d *Draft) { d.Graft = "{" }, ReasonMalformedGraft},
		{"graft not an object", func(d *Draft) { d.Graft = `[1, 2]` }, ReasonMalformedGraft},
		{"graft missing returns", func(d *Draft) { d.Graft = `{"1": ["Image.load"]}` }, ReasonMalformedGraft},
		{"graft returns dangling", func(d *Draft) { d.Graft = `{"1": ["Image.load"], "returns": "2"}` }, ReasonMalformedGraft},
		{"typespec missing", func(d *Draft) { d.Typespec = nil }, ReasonMalformedTypespec},
		{"typespec empty node", func(d *Draft) { d.Typespec = &Typespec{} }, ReasonMalformedTypespec},
		{"typespec unknown name", func(d *Draft) { d.Typespec = &Typespec{Type: "Banana"} }, ReasonMalformedTypespec},
		{"legacy typespec garbage", func(d *Draft) {
			d.Typespec = nil
			d.LegacyTypespec = "List[Int"
		}, ReasonMalformedTypespec},
		{"type mismatch", func(d *Draft) { d.Type = ResultTypeScalar }, ReasonTypeMismatch},
		{"empty channel", func(d *Draft) { d.Channel = "" }, ReasonInvalidChannel},
		{"channel starts with digit", func(d *Draft) { d.Channel = "1v" }, ReasonInvalidChannel},
		{"channel with spaces", func(d *Draft) { d.Channel = "v 1" }, ReasonInvalidChannel},
	}

	v := newTestValidator(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := validDraft()
			tt.modify(draft)

			err := v.Validate(draft)
			if err == nil {
				t.Fatal("Validate() = nil, want rejection")
			}
			ve, ok := AsValidationError(err)
			if !ok {
				t.Fatalf("error %v is not a ValidationError", err)
			}
			if ve.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", ve.Reason, tt.reason)
			}
		})
	}
}

func TestValidateFailsFast(t *testing.T) {
	v := newTestValidator(t)

	// Both the graft and the channel are bad; the graft check runs first.
	draft := validDraft()
	draft.Graft = "{"
	draft.Channel = ""

	err := v.Validate(draft)
	ve, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Reason != ReasonMalformedGraft {
		t.Errorf("reason = %s, want first failed check %s", ve.Reason, ReasonMalformedGraft)
	}
}
