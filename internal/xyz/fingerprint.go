package xyz

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// fingerprintEnvelope is the canonical content identity of a definition.
// Owner fields are part of it: two owners submitting byte-identical graphs
// get distinct fingerprints, since a layer is scoped to its owner. Name and
// description are metadata and deliberately excluded.
type fingerprintEnvelope struct {
	Graft      json.RawMessage `json:"graft"`
	Typespec   string          `json:"typespec"`
	ResultType string          `json:"result_type"`
	Channel    string          `json:"channel"`
	User       string          `json:"user"`
	Org        string          `json:"org"`
}

// Fingerprint derives the stable, owner-scoped content identity of a draft.
// The graft JSON is canonicalized per RFC 8785 so key order and whitespace
// never change the digest; the typespec contributes its serialized form so
// a legacy-only draft and its structured equivalent collide on purpose.
func Fingerprint(draft *Draft, owner Identity) (string, error) {
	ts, err := ResolveTypespec(draft.Typespec, draft.LegacyTypespec)
	if err != nil {
		return "", fmt.Errorf("resolving typespec: %w", err)
	}
	env := fingerprintEnvelope{
		Graft:      json.RawMessage(draft.Graft),
		Typespec:   ts.Serialize(),
		ResultType: draft.Type.String(),
		Channel:    draft.Channel,
		User:       owner.User,
		Org:        owner.Org,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encoding fingerprint envelope: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing fingerprint envelope: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
