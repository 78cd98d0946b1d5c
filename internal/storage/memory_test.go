package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"xyz-layer-registry/internal/errlog"
	"xyz-layer-registry/internal/xyz"
)

func testDef(id, fingerprint string) *xyz.Definition {
	return &xyz.Definition{
		ID:               id,
		Fingerprint:      fingerprint,
		CreatedTimestamp: 1000,
		UpdatedTimestamp: 1000,
		Name:             "ndvi",
		Type:             xyz.ResultTypeRaster,
		Channel:          "v1",
		Graft:            `{"1": ["Image.load"], "returns": "1"}`,
		User:             "alice@example.com",
		Org:              "acme",
	}
}

func TestMemoryPutIfAbsent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	first, created, err := store.PutIfAbsent(ctx, testDef("id-1", "fp-1"))
	if err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	if !created {
		t.Error("first insert should create")
	}

	// Same fingerprint, new id: the original row wins.
	second, created, err := store.PutIfAbsent(ctx, testDef("id-2", "fp-1"))
	if err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	if created {
		t.Error("duplicate fingerprint should not create")
	}
	if second.ID != first.ID {
		t.Errorf("duplicate insert returned id %s, want existing %s", second.ID, first.ID)
	}

	if _, err := store.GetDefinition(ctx, "id-2"); !errors.Is(err, xyz.ErrNotFound) {
		t.Error("losing insert must not be retrievable by its id")
	}
}

func TestMemoryPutIfAbsentConcurrent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	createdCount := make(chan bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			def := testDef(uuidLike(i), "fp-shared")
			_, created, err := store.PutIfAbsent(ctx, def)
			if err != nil {
				t.Errorf("PutIfAbsent: %v", err)
				return
			}
			createdCount <- created
		}(i)
	}
	wg.Wait()
	close(createdCount)

	wins := 0
	for created := range createdCount {
		if created {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("%d concurrent inserts won, want exactly 1", wins)
	}
}

func uuidLike(i int) string {
	return string(rune('a'+i%26)) + "-id"
}

func TestMemoryGetDefinitionCopies(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if _, _, err := store.PutIfAbsent(ctx, testDef("id-1", "fp-1")); err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}

	got, err := store.GetDefinition(ctx, "id-1")
	if err != nil {
		t.Fatalf("GetDefinition: %v", err)
	}
	got.Name = "mutated"

	again, err := store.GetDefinition(ctx, "id-1")
	if err != nil {
		t.Fatalf("GetDefinition: %v", err)
	}
	if again.Name != "ndvi" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestMemoryErrorLedger(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	key := errlog.Key{XYZID: "xyz-1", SessionID: "sess-1"}

	put := func(ts int64) errlog.Record {
		rec, err := store.AppendError(ctx, errlog.Record{
			XYZID: key.XYZID, SessionID: key.SessionID,
			Code: errlog.CodeTimeout, Message: "boom", Timestamp: ts,
		})
		if err != nil {
			t.Fatalf("AppendError: %v", err)
		}
		return rec
	}

	put(300)
	first100 := put(100)
	put(100)

	recs, err := store.ReadErrors(ctx, key, 0, errlog.Cursor{}, 10)
	if err != nil {
		t.Fatalf("ReadErrors: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Timestamp != 100 || recs[1].Timestamp != 100 || recs[2].Timestamp != 300 {
		t.Errorf("wrong order: %v", recs)
	}
	if recs[0].Seq != first100.Seq {
		t.Error("tie at ts=100 not broken by arrival sequence")
	}

	// Timestamp bound is inclusive.
	recs, err = store.ReadErrors(ctx, key, 100, errlog.Cursor{}, 10)
	if err != nil {
		t.Fatalf("ReadErrors: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("ReadErrors(100) returned %d records, want 3 (bound inclusive)", len(recs))
	}
	recs, _ = store.ReadErrors(ctx, key, 101, errlog.Cursor{}, 10)
	if len(recs) != 1 {
		t.Errorf("ReadErrors(101) returned %d records, want 1", len(recs))
	}

	// Limit applies after filtering.
	recs, _ = store.ReadErrors(ctx, key, 0, errlog.Cursor{}, 2)
	if len(recs) != 2 {
		t.Errorf("limit ignored: got %d records", len(recs))
	}

	// Other sessions are invisible.
	other := errlog.Key{XYZID: "xyz-1", SessionID: "sess-2"}
	recs, _ = store.ReadErrors(ctx, other, 0, errlog.Cursor{}, 10)
	if len(recs) != 0 {
		t.Errorf("foreign session returned %d records", len(recs))
	}
}

func TestMemorySessionCompletion(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	key := errlog.Key{XYZID: "xyz-1", SessionID: "sess-1"}

	done, err := store.SessionCompleted(ctx, key)
	if err != nil {
		t.Fatalf("SessionCompleted: %v", err)
	}
	if done {
		t.Error("fresh session should not be completed")
	}

	if err := store.SetSessionCompleted(ctx, key); err != nil {
		t.Fatalf("SetSessionCompleted: %v", err)
	}
	done, err = store.SessionCompleted(ctx, key)
	if err != nil {
		t.Fatalf("SessionCompleted: %v", err)
	}
	if !done {
		t.Error("session should be completed after the mark")
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	if _, err := Open(ctx, Config{Backend: "memory"}); err != nil {
		t.Errorf("Open(memory) = %v", err)
	}
	if _, err := Open(ctx, Config{}); err != nil {
		t.Errorf("Open(default) = %v, want memory fallback", err)
	}
	if _, err := Open(ctx, Config{Backend: "bogus"}); err == nil {
		t.Error("Open(bogus) should fail")
	}
}
