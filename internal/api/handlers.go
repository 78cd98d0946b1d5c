package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"xyz-layer-registry/internal/auth"
	"xyz-layer-registry/internal/errlog"
	"xyz-layer-registry/internal/monitor"
	"xyz-layer-registry/internal/storage"
	"xyz-layer-registry/internal/xyz"
)

type Handlers struct {
	registry    *xyz.Registry
	ledger      *errlog.Ledger
	coordinator *errlog.Coordinator
	metrics     *monitor.Metrics
	tracer      *monitor.Tracer
	auditWriter *storage.AuditWriter
}

func NewHandlers(registry *xyz.Registry, ledger *errlog.Ledger, coordinator *errlog.Coordinator, metrics *monitor.Metrics, auditWriter *storage.AuditWriter) *Handlers {
	return &Handlers{
		registry:    registry,
		ledger:      ledger,
		coordinator: coordinator,
		metrics:     metrics,
		tracer:      monitor.NewTracer(),
		auditWriter: auditWriter,
	}
}

// HandleCreateXYZ registers a computation definition. Identical content from
// the same owner returns the existing record; server-assigned fields on the
// inbound object are ignored.
func (h *Handlers) HandleCreateXYZ(w http.ResponseWriter, r *http.Request) {
	var req CreateXYZRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	draft := draftFromWire(req.XYZ)
	h.metrics.GraftSizeBytes.Observe(float64(len(draft.Graft)))

	caller := auth.FromContext(r.Context())
	ctx, span := h.tracer.StartSpan(r.Context(), "create",
		monitor.AttrChannel.String(draft.Channel),
		monitor.AttrResultType.String(draft.Type.String()),
	)
	defer span.End()

	def, created, err := h.registry.Create(ctx, draft, caller)
	if err != nil {
		if ve, ok := xyz.AsValidationError(err); ok {
			h.metrics.RecordCreate("rejected")
			h.metrics.RecordValidationFailure(string(ve.Reason))
		} else {
			h.metrics.RecordCreate("error")
		}
		h.writeDomainError(w, r, err)
		return
	}

	outcome := "created"
	if !created {
		outcome = "deduplicated"
	}
	h.metrics.RecordCreate(outcome)
	span.SetAttributes(
		monitor.AttrXYZID.String(def.ID),
		monitor.AttrFingerprint.String(def.Fingerprint),
		monitor.AttrCreated.Bool(created),
	)
	h.logAudit("create", def.ID, "", outcome, r)

	writeJSON(w, http.StatusOK, toWire(def))
}

// HandleGetXYZ returns one definition by id.
func (h *Handlers) HandleGetXYZ(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "xyz id required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	caller := auth.FromContext(r.Context())
	ctx, span := h.tracer.StartSpan(r.Context(), "get", monitor.AttrXYZID.String(id))
	defer span.End()

	start := time.Now()
	def, err := h.registry.Get(ctx, id, caller)
	h.metrics.StoreReadLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, xyz.ErrNotFound) {
			h.metrics.GetsTotal.WithLabelValues("not_found").Inc()
		} else {
			h.metrics.GetsTotal.WithLabelValues("error").Inc()
		}
		h.writeDomainError(w, r, err)
		return
	}

	h.metrics.GetsTotal.WithLabelValues("ok").Inc()
	h.logAudit("get", id, "", "ok", r)
	writeJSON(w, http.StatusOK, toWire(def))
}

// HandleStreamErrors serves GetXYZSessionErrors: a server-streaming read of
// one session's error ledger from start_timestamp onward. The response stays
// open until the session ends, the client disconnects, or the log fails.
func (h *Handlers) HandleStreamErrors(w http.ResponseWriter, r *http.Request) {
	xyzID := r.PathValue("id")
	sessionID := r.PathValue("sessionId")
	if xyzID == "" || sessionID == "" {
		writeError(w, "xyz id and session id required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	var startTS int64
	if raw := r.URL.Query().Get("start_timestamp"); raw != "" {
		var err error
		if startTS, err = strconv.ParseInt(raw, 10, 64); err != nil {
			writeError(w, "start_timestamp must be an integer", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
	}

	caller := auth.FromContext(r.Context())

	// Resolve NotFound before committing to the SSE response so the client
	// gets a proper status code instead of a broken stream.
	ok, err := h.registry.Exists(r.Context(), xyzID, caller)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !ok {
		h.metrics.RecordStream("not_found")
		h.writeDomainError(w, r, xyz.ErrNotFound)
		return
	}

	stream := NewSSEStream(w)
	if stream == nil {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}

	h.metrics.ActiveStreams.Inc()
	defer h.metrics.ActiveStreams.Dec()

	ctx, span := h.tracer.StartSpan(r.Context(), "stream_errors",
		monitor.AttrXYZID.String(xyzID),
		monitor.AttrSessionID.String(sessionID),
	)
	defer span.End()

	sink := &countingSink{inner: stream, metrics: h.metrics}
	err = h.coordinator.Stream(ctx, errlog.StreamRequest{
		XYZID:          xyzID,
		SessionID:      sessionID,
		StartTimestamp: startTS,
		Caller:         caller,
	}, sink)

	switch {
	case err == nil:
		stream.Done()
		h.metrics.RecordStream("completed")
		h.logAudit("stream", xyzID, sessionID, "completed", r)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful can be written.
		h.metrics.RecordStream("cancelled")
		h.logAudit("stream", xyzID, sessionID, "cancelled", r)
	case errors.Is(err, errlog.ErrLogUnreadable):
		log.Error().Err(err).
			Str("xyz_id", xyzID).
			Str("session_id", sessionID).
			Str("request_id", RequestIDFromContext(r.Context())).
			Msg("stream failed")
		stream.Fail("session error log unreadable")
		h.metrics.RecordStream("failed")
		h.logAudit("stream", xyzID, sessionID, "failed", r)
	default:
		h.metrics.RecordStream("cancelled")
		h.logAudit("stream", xyzID, sessionID, "cancelled", r)
	}
}

// HandleAppendError ingests one error record from a session executor. The
// session's ledger is created implicitly on first append.
func (h *Handlers) HandleAppendError(w http.ResponseWriter, r *http.Request) {
	xyzID := r.PathValue("id")
	sessionID := r.PathValue("sessionId")
	if xyzID == "" || sessionID == "" {
		writeError(w, "xyz id and session id required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	var in XYZError
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	rec, err := h.ledger.Append(r.Context(), errlog.Record{
		XYZID:     xyzID,
		SessionID: sessionID,
		Code:      in.Code,
		Message:   in.Message,
		Timestamp: in.Timestamp,
	})
	if err != nil {
		h.writeDomainError(w, r, &xyz.StoreError{Op: "errlog.append", Err: err})
		return
	}

	h.metrics.ErrorAppendsTotal.WithLabelValues(rec.Code.String()).Inc()
	h.logAudit("append", xyzID, sessionID, "ok", r)
	writeJSON(w, http.StatusOK, errorToWire(rec))
}

// HandleCompleteSession records the executor's session-terminated signal so
// open streams can finish draining and complete.
func (h *Handlers) HandleCompleteSession(w http.ResponseWriter, r *http.Request) {
	xyzID := r.PathValue("id")
	sessionID := r.PathValue("sessionId")
	if xyzID == "" || sessionID == "" {
		writeError(w, "xyz id and session id required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	key := errlog.Key{XYZID: xyzID, SessionID: sessionID}
	if err := h.ledger.MarkCompleted(r.Context(), key); err != nil {
		h.writeDomainError(w, r, &xyz.StoreError{Op: "errlog.complete", Err: err})
		return
	}

	h.logAudit("complete", xyzID, sessionID, "ok", r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// countingSink forwards records to the SSE stream and counts deliveries.
type countingSink struct {
	inner   *SSEStream
	metrics *monitor.Metrics
}

func (s *countingSink) Send(rec errlog.Record) error {
	if err := s.inner.Send(rec); err != nil {
		return err
	}
	s.metrics.RecordsStreamed.Inc()
	return nil
}

// writeDomainError maps domain errors onto wire status codes: validation
// failures carry their sub-reason, NotFound/auth errors map directly, store
// faults surface as retryable 503s.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := xyz.AsValidationError(err); ok {
		writeError(w, ve.Error(), string(ve.Reason), http.StatusBadRequest, r)
		return
	}
	switch {
	case errors.Is(err, xyz.ErrNotFound):
		writeError(w, "not found", "NOT_FOUND", http.StatusNotFound, r)
	case errors.Is(err, xyz.ErrUnauthenticated):
		writeError(w, "unauthenticated", "UNAUTHENTICATED", http.StatusUnauthorized, r)
	case errors.Is(err, xyz.ErrPermissionDenied):
		writeError(w, "permission denied", "PERMISSION_DENIED", http.StatusForbidden, r)
	default:
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("store failure")
		writeError(w, "store unavailable, retry later", "UNAVAILABLE", http.StatusServiceUnavailable, r)
	}
}

func (h *Handlers) logAudit(op, xyzID, sessionID, status string, r *http.Request) {
	if h.auditWriter == nil {
		return
	}
	caller := auth.FromContext(r.Context())
	h.auditWriter.Log(&storage.AuditRecord{
		ID:        uuid.New().String(),
		Op:        op,
		XYZID:     xyzID,
		SessionID: sessionID,
		User:      caller.User,
		Org:       caller.Org,
		Status:    status,
		RequestID: RequestIDFromContext(r.Context()),
		CreatedAt: time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
