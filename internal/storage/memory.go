package storage

import (
	"context"
	"sort"
	"sync"

	"xyz-layer-registry/internal/errlog"
	"xyz-layer-registry/internal/xyz"
)

// Memory is a mutex-guarded in-process Store. It is the default backend when
// no DSN or path is configured and the workhorse for unit tests; semantics
// (conditional insert, sequence assignment, read ordering) match the durable
// backends exactly.
type Memory struct {
	mu            sync.Mutex
	byFingerprint map[string]*xyz.Definition
	byID          map[string]*xyz.Definition
	errors        map[errlog.Key][]errlog.Record
	nextSeq       map[errlog.Key]uint64
	completed     map[errlog.Key]bool
	audits        []AuditRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byFingerprint: make(map[string]*xyz.Definition),
		byID:          make(map[string]*xyz.Definition),
		errors:        make(map[errlog.Key][]errlog.Record),
		nextSeq:       make(map[errlog.Key]uint64),
		completed:     make(map[errlog.Key]bool),
	}
}

func (m *Memory) PutIfAbsent(_ context.Context, def *xyz.Definition) (*xyz.Definition, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byFingerprint[def.Fingerprint]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *def
	m.byFingerprint[def.Fingerprint] = &cp
	m.byID[def.ID] = &cp
	out := cp
	return &out, true, nil
}

func (m *Memory) GetDefinition(_ context.Context, id string) (*xyz.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.byID[id]
	if !ok {
		return nil, xyz.ErrNotFound
	}
	cp := *def
	return &cp, nil
}

func (m *Memory) AppendError(_ context.Context, rec errlog.Record) (errlog.Record, error) {
	key := errlog.Key{XYZID: rec.XYZID, SessionID: rec.SessionID}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq[key]++
	rec.Seq = m.nextSeq[key]
	m.errors[key] = append(m.errors[key], rec)
	return rec, nil
}

func (m *Memory) ReadErrors(_ context.Context, key errlog.Key, startTS int64, after errlog.Cursor, limit int) ([]errlog.Record, error) {
	m.mu.Lock()
	recs := make([]errlog.Record, len(m.errors[key]))
	copy(recs, m.errors[key])
	m.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Timestamp != recs[j].Timestamp {
			return recs[i].Timestamp < recs[j].Timestamp
		}
		return recs[i].Seq < recs[j].Seq
	})

	out := make([]errlog.Record, 0, limit)
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

func (m *Memory) SetSessionCompleted(_ context.Context, key errlog.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[key] = true
	return nil
}

func (m *Memory) SessionCompleted(_ context.Context, key errlog.Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed[key], nil
}

func (m *Memory) AppendAudit(_ context.Context, rec *AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, *rec)
	return nil
}

// Audits returns a snapshot of the audit trail, oldest first.
func (m *Memory) Audits() []AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditRecord, len(m.audits))
	copy(out, m.audits)
	return out
}

func (m *Memory) Healthy(context.Context) bool { return true }

func (m *Memory) Close() error { return nil }
