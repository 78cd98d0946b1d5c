package xyz

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefinitionStore is the persistence the registry needs. PutIfAbsent is the
// single write path and must be atomic per fingerprint: when two concurrent
// calls race on the same fingerprint, exactly one row is created and both
// callers observe the winning record.
type DefinitionStore interface {
	// PutIfAbsent inserts def keyed by its fingerprint unless a definition
	// with that fingerprint already exists. It returns the stored record
	// (the new one or the pre-existing one) and whether this call created it.
	PutIfAbsent(ctx context.Context, def *Definition) (*Definition, bool, error)
	// GetDefinition returns the record with the given id, or ErrNotFound.
	GetDefinition(ctx context.Context, id string) (*Definition, error)
}

// AccessPolicy decides whether an identity may read a definition. The
// policy itself is an external concern; the registry only invokes it.
type AccessPolicy func(caller Identity, def *Definition) bool

// OwnerOrOrgPolicy grants read access to the registering user and to any
// caller in the same org.
func OwnerOrOrgPolicy(caller Identity, def *Definition) bool {
	if caller.User != "" && caller.User == def.User {
		return true
	}
	return caller.Org != "" && caller.Org == def.Org
}

// Registry owns the create/get lifecycle of XYZ definitions.
type Registry struct {
	store     DefinitionStore
	validator *Validator
	policy    AccessPolicy
	now       func() time.Time
}

// NewRegistry wires a registry over the given store.
func NewRegistry(store DefinitionStore, validator *Validator, policy AccessPolicy) *Registry {
	if policy == nil {
		policy = OwnerOrOrgPolicy
	}
	return &Registry{
		store:     store,
		validator: validator,
		policy:    policy,
		now:       time.Now,
	}
}

// Create validates the draft, derives its owner-scoped fingerprint and
// performs a conditional insert. Repeated submissions of identical content
// by the same owner return the existing record with its original id and
// timestamps; nothing is ever duplicated or mutated.
func (r *Registry) Create(ctx context.Context, draft *Draft, caller Identity) (*Definition, bool, error) {
	if caller.User == "" {
		return nil, false, ErrUnauthenticated
	}
	if err := r.validator.Validate(draft); err != nil {
		return nil, false, err
	}
	fp, err := Fingerprint(draft, caller)
	if err != nil {
		// Validation already established both blobs parse, so this is an
		// internal fault rather than a client error.
		return nil, false, &StoreError{Op: "fingerprint", Err: err}
	}

	now := r.now().UnixMilli()
	def := &Definition{
		ID:               uuid.New().String(),
		CreatedTimestamp: now,
		UpdatedTimestamp: now,
		Name:             draft.Name,
		Description:      draft.Description,
		Type:             draft.Type,
		Channel:          draft.Channel,
		Graft:            draft.Graft,
		Typespec:         draft.Typespec,
		User:             caller.User,
		Org:              caller.Org,
		Fingerprint:      fp,
	}
	// Legacy-only drafts from old clients keep their legacy form readable,
	// but a structured typespec is never downgraded to it.
	if def.Typespec == nil {
		def.LegacyTypespec = draft.LegacyTypespec
	}

	stored, created, err := r.store.PutIfAbsent(ctx, def)
	if err != nil {
		return nil, false, &StoreError{Op: "registry.create", Err: err}
	}
	log.Debug().
		Str("xyz_id", stored.ID).
		Str("fingerprint", fp[:12]).
		Bool("created", created).
		Str("user", caller.User).
		Msg("definition registered")
	return stored, created, nil
}

// Get returns the definition with the given id. Records the caller cannot
// read are reported as ErrNotFound, not ErrPermissionDenied, so ids do not
// leak across orgs.
func (r *Registry) Get(ctx context.Context, id string, caller Identity) (*Definition, error) {
	if caller.User == "" {
		return nil, ErrUnauthenticated
	}
	def, err := r.store.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.policy(caller, def) {
		return nil, ErrNotFound
	}
	return def, nil
}

// Exists reports whether a readable definition with the given id exists.
func (r *Registry) Exists(ctx context.Context, id string, caller Identity) (bool, error) {
	_, err := r.Get(ctx, id, caller)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
