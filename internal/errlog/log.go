package errlog

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Cursor marks the last record a reader has consumed, so one stream never
// re-delivers within its own lifetime. A fresh stream starts with an unset
// cursor; reconnects re-read from the timestamp bound and are therefore
// at-least-once at that boundary.
type Cursor struct {
	Timestamp int64
	Seq       uint64
	Set       bool
}

// Advance moves the cursor past rec.
func (c *Cursor) Advance(rec Record) {
	c.Timestamp = rec.Timestamp
	c.Seq = rec.Seq
	c.Set = true
}

// Store is the durable half of a session error ledger. Implementations must
// assign arrival sequence numbers so that concurrent appends to one session
// serialize into a total order, and must return reads ordered by
// (timestamp, seq) ascending.
type Store interface {
	// AppendError persists rec, assigns its Seq and returns the stored copy.
	AppendError(ctx context.Context, rec Record) (Record, error)
	// ReadErrors returns up to limit records of key with
	// timestamp >= startTimestamp that lie strictly after the cursor.
	ReadErrors(ctx context.Context, key Key, startTimestamp int64, after Cursor, limit int) ([]Record, error)
	// SetSessionCompleted durably marks the session terminated.
	SetSessionCompleted(ctx context.Context, key Key) error
	// SessionCompleted reports whether the session was marked terminated.
	SessionCompleted(ctx context.Context, key Key) (bool, error)
}

// Ledger is the append-only error log shared by producers and readers. It
// adds an in-process wakeup channel per session on top of the durable store:
// appends are durable first, then watchers are woken, so a reader that
// drains after a wakeup always observes the record that caused it.
type Ledger struct {
	store Store

	mu      sync.Mutex
	watches map[Key]chan struct{}
}

// NewLedger wraps store with watch bookkeeping.
func NewLedger(store Store) *Ledger {
	return &Ledger{
		store:   store,
		watches: make(map[Key]chan struct{}),
	}
}

// Append ingests one error record. The store serializes sequence assignment;
// failures are reported to the producer, never retried here.
func (l *Ledger) Append(ctx context.Context, rec Record) (Record, error) {
	stored, err := l.store.AppendError(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	l.broadcast(Key{XYZID: stored.XYZID, SessionID: stored.SessionID})
	log.Debug().
		Str("xyz_id", stored.XYZID).
		Str("session_id", stored.SessionID).
		Str("code", stored.Code.String()).
		Uint64("seq", stored.Seq).
		Msg("error record appended")
	return stored, nil
}

// MarkCompleted records the executor's session-terminated signal and wakes
// all readers so they can finish draining and complete.
func (l *Ledger) MarkCompleted(ctx context.Context, key Key) error {
	if err := l.store.SetSessionCompleted(ctx, key); err != nil {
		return err
	}
	l.broadcast(key)
	log.Info().Str("session", key.String()).Msg("session marked completed")
	return nil
}

// Completed reports whether the session has been marked terminated.
func (l *Ledger) Completed(ctx context.Context, key Key) (bool, error) {
	return l.store.SessionCompleted(ctx, key)
}

// Read drains records for key past the cursor, bounded below by
// startTimestamp, in (timestamp, seq) order.
func (l *Ledger) Read(ctx context.Context, key Key, startTimestamp int64, after Cursor, limit int) ([]Record, error) {
	return l.store.ReadErrors(ctx, key, startTimestamp, after, limit)
}

// Watch returns a channel closed on the next append or completion signal for
// key. Callers re-arm by calling Watch again after each wakeup; readers that
// stop watching hold no resources.
func (l *Ledger) Watch(key Key) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.watches[key]
	if !ok {
		ch = make(chan struct{})
		l.watches[key] = ch
	}
	return ch
}

// broadcast closes the current watch channel for key, waking every parked
// reader at once. Sessions nobody watches cost nothing.
func (l *Ledger) broadcast(key Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.watches[key]; ok {
		close(ch)
		delete(l.watches, key)
	}
}
