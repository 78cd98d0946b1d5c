package xyz

import (
	"testing"
)

func TestParseLegacyTypespec(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string // re-serialized form
		wantErr bool
	}{
		{"simple", "Image", "Image", false},
		{"one param", "List[Int]", "List[Int]", false},
		{"two params", "Dict[Str, Int]", "Dict[Str, Int]", false},
		{"nested", "List[Dict[Str, Image]]", "List[Dict[Str, Image]]", false},
		{"whitespace", "  Dict[ Str ,Int ]  ", "Dict[Str, Int]", false},
		{"empty", "", "", true},
		{"unclosed bracket", "List[Int", "", true},
		{"dangling comma", "Dict[Str,]", "", true},
		{"trailing garbage", "Image]extra", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := ResolveTypespec(nil, tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveTypespec(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := ts.Serialize(); got != tt.want {
				t.Errorf("Serialize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveTypespecPrefersStructured(t *testing.T) {
	structured := &Typespec{Type: "Image"}

	ts, err := ResolveTypespec(structured, "Int")
	if err != nil {
		t.Fatalf("ResolveTypespec: %v", err)
	}
	if ts.Type != "Image" {
		t.Errorf("got %q, want the structured form to win over legacy", ts.Type)
	}
}

func TestResolveTypespecMissingBoth(t *testing.T) {
	if _, err := ResolveTypespec(nil, ""); err == nil {
		t.Fatal("expected error when neither form is present")
	}
}

func TestTypespecResultType(t *testing.T) {
	tests := []struct {
		spec string
		want ResultType
	}{
		{"Image", ResultTypeRaster},
		{"ImageCollection", ResultTypeRaster},
		{"FeatureCollection", ResultTypeVector},
		{"Int", ResultTypeScalar},
		{"Dataframe", ResultTypeTable},
	}
	for _, tt := range tests {
		ts := &Typespec{Type: tt.spec}
		got, ok := ts.ResultType()
		if !ok {
			t.Errorf("ResultType(%s): not mapped", tt.spec)
			continue
		}
		if got != tt.want {
			t.Errorf("ResultType(%s) = %s, want %s", tt.spec, got, tt.want)
		}
	}

	if _, ok := (&Typespec{Type: "Banana"}).ResultType(); ok {
		t.Error("unknown type name should not map to a result type")
	}
}
