package xyz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStore implements DefinitionStore with the same conditional-insert
// semantics as the real backends.
type fakeStore struct {
	mu            sync.Mutex
	byFingerprint map[string]*Definition
	byID          map[string]*Definition
	failWith      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byFingerprint: make(map[string]*Definition),
		byID:          make(map[string]*Definition),
	}
}

func (s *fakeStore) PutIfAbsent(_ context.Context, def *Definition) (*Definition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, false, s.failWith
	}
	if existing, ok := s.byFingerprint[def.Fingerprint]; ok {
		return existing, false, nil
	}
	cp := *def
	s.byFingerprint[def.Fingerprint] = &cp
	s.byID[def.ID] = &cp
	return &cp, true, nil
}

func (s *fakeStore) GetDefinition(_ context.Context, id string) (*Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	def, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return def, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byFingerprint)
}

func newTestRegistry(t *testing.T, store DefinitionStore) *Registry {
	t.Helper()
	return NewRegistry(store, newTestValidator(t), nil)
}

var alice = Identity{User: "alice@example.com", Org: "acme"}

func TestCreateIdempotent(t *testing.T) {
	store := newFakeStore()
	reg := newTestRegistry(t, store)
	ctx := context.Background()

	first, created, err := reg.Create(ctx, validDraft(), alice)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if !created {
		t.Error("first Create should report created=true")
	}

	second, created, err := reg.Create(ctx, validDraft(), alice)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if created {
		t.Error("second Create should report created=false")
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if store.count() != 1 {
		t.Errorf("store holds %d entries, want 1", store.count())
	}
}

func TestCreateDistinctness(t *testing.T) {
	store := newFakeStore()
	reg := newTestRegistry(t, store)
	ctx := context.Background()

	base, _, err := reg.Create(ctx, validDraft(), alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	other := validDraft()
	other.Channel = "v2"
	second, _, err := reg.Create(ctx, other, alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if base.ID == second.ID {
		t.Error("drafts differing in channel must get distinct ids")
	}

	// Same bytes, different owner
	bob := Identity{User: "bob@example.com", Org: "acme"}
	third, _, err := reg.Create(ctx, validDraft(), bob)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if base.ID == third.ID {
		t.Error("identical drafts from different owners must get distinct ids")
	}
}

func TestCreateSetsOwnerAndTimestamps(t *testing.T) {
	reg := newTestRegistry(t, newFakeStore())
	fixed := time.UnixMilli(1700000000000)
	reg.now = func() time.Time { return fixed }

	def, _, err := reg.Create(context.Background(), validDraft(), alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if def.User != alice.User || def.Org != alice.Org {
		t.Errorf("owner = %s/%s, want %s/%s", def.User, def.Org, alice.User, alice.Org)
	}
	if def.CreatedTimestamp != fixed.UnixMilli() {
		t.Errorf("CreatedTimestamp = %d, want %d", def.CreatedTimestamp, fixed.UnixMilli())
	}
	if def.UpdatedTimestamp != def.CreatedTimestamp {
		t.Errorf("UpdatedTimestamp = %d, want equal to CreatedTimestamp", def.UpdatedTimestamp)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	store := newFakeStore()
	reg := newTestRegistry(t, store)

	draft := validDraft()
	draft.Graft = "{"
	_, _, err := reg.Create(context.Background(), draft, alice)
	if _, ok := AsValidationError(err); !ok {
		t.Fatalf("Create with bad graft = %v, want ValidationError", err)
	}
	if store.count() != 0 {
		t.Error("rejected draft must not reach the store")
	}
}

func TestCreateUnauthenticated(t *testing.T) {
	reg := newTestRegistry(t, newFakeStore())

	_, _, err := reg.Create(context.Background(), validDraft(), Identity{})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Create without identity = %v, want ErrUnauthenticated", err)
	}
}

func TestGetImmutability(t *testing.T) {
	reg := newTestRegistry(t, newFakeStore())
	ctx := context.Background()

	created, _, err := reg.Create(ctx, validDraft(), alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := reg.Get(ctx, created.ID, alice)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.CreatedTimestamp != created.CreatedTimestamp {
			t.Errorf("CreatedTimestamp changed across reads: %d vs %d", got.CreatedTimestamp, created.CreatedTimestamp)
		}
	}
}

func TestGetNotFound(t *testing.T) {
	reg := newTestRegistry(t, newFakeStore())

	_, err := reg.Get(context.Background(), "no-such-id", alice)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestGetCrossOrgHiddenAsNotFound(t *testing.T) {
	reg := newTestRegistry(t, newFakeStore())
	ctx := context.Background()

	def, _, err := reg.Create(ctx, validDraft(), alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	stranger := Identity{User: "mallory@example.com", Org: "globex"}
	if _, err := reg.Get(ctx, def.ID, stranger); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-org Get = %v, want ErrNotFound", err)
	}

	// Same org, different user still reads it.
	colleague := Identity{User: "carol@example.com", Org: "acme"}
	if _, err := reg.Get(ctx, def.ID, colleague); err != nil {
		t.Fatalf("same-org Get = %v, want nil", err)
	}
}

func TestCreateStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("connection refused")
	reg := newTestRegistry(t, store)

	_, _, err := reg.Create(context.Background(), validDraft(), alice)
	if err == nil {
		t.Fatal("expected store failure to surface")
	}
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a StoreError", err)
	}
}
