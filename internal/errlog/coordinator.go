package errlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"xyz-layer-registry/internal/xyz"
)

// ErrLogUnreadable terminates a stream when the backing store fails
// mid-flight. Distinct from normal completion so clients can tell "session
// ended" from "ledger broke".
var ErrLogUnreadable = errors.New("session error log unreadable")

// readBatch bounds one drain pass. The ledger is the buffer: a slow consumer
// just leaves records durable in the store, nothing queues in memory.
const readBatch = 256

// Sink receives streamed records. A Send error means the caller is gone.
type Sink interface {
	Send(rec Record) error
}

// DefinitionChecker validates the xyz id a stream names. Satisfied by
// *xyz.Registry.
type DefinitionChecker interface {
	Exists(ctx context.Context, id string, caller xyz.Identity) (bool, error)
}

// StreamRequest opens one reader over a session's ledger.
type StreamRequest struct {
	XYZID          string
	SessionID      string
	StartTimestamp int64
	Caller         xyz.Identity
}

// Coordinator serves independent server-streaming reads over session error
// ledgers. Any number of coordinators may watch the same session at
// different positions; they share only the ledger's broadcast channel and
// never block each other.
type Coordinator struct {
	ledger   *Ledger
	registry DefinitionChecker
	// pollInterval is a liveness fallback for wakeups lost to external
	// truncation or store-level replication lag.
	pollInterval time.Duration
}

// NewCoordinator wires a coordinator over the ledger.
func NewCoordinator(ledger *Ledger, registry DefinitionChecker, pollInterval time.Duration) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Coordinator{ledger: ledger, registry: registry, pollInterval: pollInterval}
}

// Stream drives the stream state machine to a terminal state:
//   - nil: the session was marked terminated and the ledger fully drained.
//   - ctx.Err(): the caller cancelled or disconnected.
//   - ErrLogUnreadable (wrapped): the backing log failed mid-flight.
//   - xyz.ErrNotFound: the xyz id does not exist (stream never starts).
//
// Records are pushed to sink in (timestamp, seq) order, restricted to
// timestamp >= StartTimestamp. Once drained the coordinator parks on the
// ledger's watch channel rather than spinning.
func (c *Coordinator) Stream(ctx context.Context, req StreamRequest, sink Sink) error {
	ok, err := c.registry.Exists(ctx, req.XYZID, req.Caller)
	if err != nil {
		return err
	}
	if !ok {
		return xyz.ErrNotFound
	}

	key := Key{XYZID: req.XYZID, SessionID: req.SessionID}
	var cursor Cursor
	log.Debug().
		Str("session", key.String()).
		Int64("start_timestamp", req.StartTimestamp).
		Msg("stream started")

	for {
		// Arm the watch before draining: an append between drain and park
		// still fires this channel.
		wake := c.ledger.Watch(key)

		drained, err := c.drain(ctx, key, req.StartTimestamp, &cursor, sink)
		if err != nil {
			return err
		}
		if !drained {
			continue
		}

		done, err := c.ledger.Completed(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrLogUnreadable, err)
		}
		if done {
			// One final drain covers records appended after the completion
			// mark was read.
			if _, err := c.drain(ctx, key, req.StartTimestamp, &cursor, sink); err != nil {
				return err
			}
			log.Debug().Str("session", key.String()).Msg("stream completed")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-time.After(c.pollInterval):
		}
	}
}

// drain pushes all currently readable records past the cursor. Reports
// whether the ledger was exhausted (false means a full batch was read and
// more may follow immediately).
func (c *Coordinator) drain(ctx context.Context, key Key, startTS int64, cursor *Cursor, sink Sink) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		recs, err := c.ledger.Read(ctx, key, startTS, *cursor, readBatch)
		if err != nil {
			// A read aborted by cancellation is a cancel, not a log fault.
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, fmt.Errorf("%w: %s", ErrLogUnreadable, err)
		}
		for _, rec := range recs {
			if err := sink.Send(rec); err != nil {
				// The transport rejected the push: treat as caller gone.
				return false, fmt.Errorf("sending record: %w", err)
			}
			cursor.Advance(rec)
		}
		if len(recs) < readBatch {
			return true, nil
		}
	}
}
