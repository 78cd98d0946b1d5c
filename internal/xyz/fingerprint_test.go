package xyz

import (
	"testing"
)

func TestFingerprintStable(t *testing.T) {
	owner := Identity{User: "alice@example.com", Org: "acme"}

	a := validDraft()
	b := validDraft()
	// Same content, different JSON surface
	b.Graft = `{ "returns" : "1",  "1": ["Image.load", "sentinel-2"] }`

	fa, err := Fingerprint(a, owner)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	fb, err := Fingerprint(b, owner)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fa != fb {
		t.Errorf("fingerprints differ for semantically identical grafts:\n%s\n%s", fa, fb)
	}
}

func TestFingerprintLegacyEqualsStructured(t *testing.T) {
	owner := Identity{User: "alice@example.com", Org: "acme"}

	structured := validDraft()
	legacy := validDraft()
	legacy.Typespec = nil
	legacy.LegacyTypespec = "Image"

	fs, err := Fingerprint(structured, owner)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	fl, err := Fingerprint(legacy, owner)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fs != fl {
		t.Error("legacy and structured forms of the same typespec should fingerprint identically")
	}
}

func TestFingerprintDistinctness(t *testing.T) {
	owner := Identity{User: "alice@example.com", Org: "acme"}
	base, err := Fingerprint(validDraft(), owner)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	tests := []struct {
		name   string
		draft  *Draft
		owner  Identity
	}{
		{"different graft", func() *Draft {
			d := validDraft()
			d.Graft = `{"1": ["Image.load", "landsat-8"], "returns": "1"}`
			return d
		}(), owner},
		{"different typespec", func() *Draft {
			d := validDraft()
			d.Typespec = &Typespec{Type: "ImageCollection"}
			return d
		}(), owner},
		{"different channel", func() *Draft {
			d := validDraft()
			d.Channel = "v2"
			return d
		}(), owner},
		{"different user", validDraft(), Identity{User: "bob@example.com", Org: "acme"}},
		{"different org", validDraft(), Identity{User: "alice@example.com", Org: "globex"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, err := Fingerprint(tt.draft, tt.owner)
			if err != nil {
				t.Fatalf("Fingerprint: %v", err)
			}
			if fp == base {
				t.Error("expected a distinct fingerprint")
			}
		})
	}
}

func TestFingerprintIgnoresMetadata(t *testing.T) {
	owner := Identity{User: "alice@example.com", Org: "acme"}

	a := validDraft()
	b := validDraft()
	b.Name = "renamed"
	b.Description = "same computation, new words"

	fa, _ := Fingerprint(a, owner)
	fb, _ := Fingerprint(b, owner)
	if fa != fb {
		t.Error("name and description must not affect the fingerprint")
	}
}
