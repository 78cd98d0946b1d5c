package errlog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
)

// memStore is an in-package Store fake with the same ordering and cursor
// semantics as the real backends.
type memStore struct {
	mu        sync.Mutex
	records   map[Key][]Record
	nextSeq   map[Key]uint64
	completed map[Key]bool
	readErr   error
}

func newMemStore() *memStore {
	return &memStore{
		records:   make(map[Key][]Record),
		nextSeq:   make(map[Key]uint64),
		completed: make(map[Key]bool),
	}
}

func (s *memStore) AppendError(_ context.Context, rec Record) (Record, error) {
	key := Key{XYZID: rec.XYZID, SessionID: rec.SessionID}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq[key]++
	rec.Seq = s.nextSeq[key]
	s.records[key] = append(s.records[key], rec)
	return rec, nil
}

func (s *memStore) ReadErrors(_ context.Context, key Key, startTS int64, after Cursor, limit int) ([]Record, error) {
	s.mu.Lock()
	if s.readErr != nil {
		err := s.readErr
		s.mu.Unlock()
		return nil, err
	}
	recs := make([]Record, len(s.records[key]))
	copy(recs, s.records[key])
	s.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Timestamp != recs[j].Timestamp {
			return recs[i].Timestamp < recs[j].Timestamp
		}
		return recs[i].Seq < recs[j].Seq
	})

	var out []Record
	for _, rec := range recs {
		if rec.Timestamp < startTS {
			continue
		}
		if after.Set {
			if rec.Timestamp < after.Timestamp {
				continue
			}
			if rec.Timestamp == after.Timestamp && rec.Seq <= after.Seq {
				continue
			}
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) SetSessionCompleted(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[key] = true
	return nil
}

func (s *memStore) SessionCompleted(_ context.Context, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[key], nil
}

var testKey = Key{XYZID: "xyz-1", SessionID: "sess-1"}

func appendRecord(t *testing.T, ledger *Ledger, ts int64, code ErrorCode) Record {
	t.Helper()
	rec, err := ledger.Append(context.Background(), Record{
		XYZID:     testKey.XYZID,
		SessionID: testKey.SessionID,
		Code:      code,
		Message:   "boom",
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return rec
}

func TestAppendAssignsIncreasingSeq(t *testing.T) {
	ledger := NewLedger(newMemStore())

	a := appendRecord(t, ledger, 100, CodeTimeout)
	b := appendRecord(t, ledger, 100, CodeTimeout)
	if b.Seq <= a.Seq {
		t.Errorf("sequence not increasing: %d then %d", a.Seq, b.Seq)
	}
}

func TestReadOrdering(t *testing.T) {
	ledger := NewLedger(newMemStore())
	ctx := context.Background()

	// Timestamps arrive out of order across producers; ties on 100.
	appendRecord(t, ledger, 300, CodeOOM)
	appendRecord(t, ledger, 100, CodeTimeout)
	appendRecord(t, ledger, 100, CodeInvalid)
	appendRecord(t, ledger, 200, CodeUnknown)

	recs, err := ledger.Read(ctx, testKey, 0, Cursor{}, 100)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("got %d records, want 4", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		prev, cur := recs[i-1], recs[i]
		if cur.Timestamp < prev.Timestamp ||
			(cur.Timestamp == prev.Timestamp && cur.Seq < prev.Seq) {
			t.Errorf("records out of order at %d: (%d,%d) before (%d,%d)",
				i, prev.Timestamp, prev.Seq, cur.Timestamp, cur.Seq)
		}
	}
	// The two ts=100 records keep their arrival order.
	if recs[0].Code != CodeTimeout || recs[1].Code != CodeInvalid {
		t.Errorf("tie not broken by arrival order: %s then %s", recs[0].Code, recs[1].Code)
	}
}

func TestReadTimestampBound(t *testing.T) {
	ledger := NewLedger(newMemStore())

	appendRecord(t, ledger, 50, CodeTimeout)
	appendRecord(t, ledger, 150, CodeTimeout)

	recs, err := ledger.Read(context.Background(), testKey, 100, Cursor{}, 100)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(recs) != 1 || recs[0].Timestamp != 150 {
		t.Fatalf("ReadFrom(100) = %v, want exactly the ts=150 record", recs)
	}
}

func TestReadCursorExcludesDelivered(t *testing.T) {
	ledger := NewLedger(newMemStore())
	ctx := context.Background()

	first := appendRecord(t, ledger, 100, CodeTimeout)
	appendRecord(t, ledger, 100, CodeInvalid)

	var cursor Cursor
	cursor.Advance(first)

	recs, err := ledger.Read(ctx, testKey, 0, cursor, 100)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(recs) != 1 || recs[0].Code != CodeInvalid {
		t.Fatalf("cursor read = %v, want only the undelivered record", recs)
	}
}

func TestWatchWakesOnAppend(t *testing.T) {
	ledger := NewLedger(newMemStore())

	wake := ledger.Watch(testKey)
	appendRecord(t, ledger, 100, CodeTimeout)

	select {
	case <-wake:
	default:
		t.Fatal("watch channel not closed after append")
	}
}

func TestWatchWakesOnCompletion(t *testing.T) {
	ledger := NewLedger(newMemStore())

	wake := ledger.Watch(testKey)
	if err := ledger.MarkCompleted(context.Background(), testKey); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	select {
	case <-wake:
	default:
		t.Fatal("watch channel not closed after completion")
	}

	done, err := ledger.Completed(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	if !done {
		t.Error("Completed() = false after MarkCompleted")
	}
}

func TestAppendSurfacesStoreFailure(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(failingAppendStore{store})

	_, err := ledger.Append(context.Background(), Record{XYZID: "x", SessionID: "s"})
	if err == nil {
		t.Fatal("expected append failure to surface to the producer")
	}
}

type failingAppendStore struct{ Store }

func (failingAppendStore) AppendError(context.Context, Record) (Record, error) {
	return Record{}, errors.New("disk full")
}
