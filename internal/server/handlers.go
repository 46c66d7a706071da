package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/audit"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/auth"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/incident"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/orchestrator"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/target"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	orch                *orchestrator.Orchestrator
	manager             *incident.Manager
	store               audit.Store
	broker              *Broker
	jwtMgr              *auth.JWTManager
	apiKeyHash          string
	target              *target.Target
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Store, Broker, JWTMgr.
type HandlersDeps struct {
	Orchestrator        *orchestrator.Orchestrator
	Manager             *incident.Manager
	Store               audit.Store
	Broker              *Broker
	JWTMgr              *auth.JWTManager
	APIKeyHash          string
	Target              *target.Target
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		orch:                d.Orchestrator,
		manager:             d.Manager,
		store:               d.Store,
		broker:              d.Broker,
		jwtMgr:              d.JWTMgr,
		apiKeyHash:          d.APIKeyHash,
		target:              d.Target,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token. Exchanges the operator API
// key for a signed JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.jwtMgr == nil || h.apiKeyHash == "" {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication is disabled")
		return
	}

	var req model.TokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, h.apiKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken()
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.TokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleTrigger handles POST /api/trigger. Probes the target and, if
// the probe fails, starts a healing run.
func (h *Handlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	var req model.TriggerRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	traceID, err := h.orch.Trigger(r.Context(), req)
	if err != nil {
		if errors.Is(err, orchestrator.ErrTargetHealthy) {
			writeJSON(w, r, http.StatusOK, model.TriggerResponse{Status: "healthy"})
			return
		}
		h.writeInternalError(w, r, "failed to trigger healing", err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, model.TriggerResponse{
		TraceID: traceID,
		Status:  string(model.StatusFailing),
	})
}

// HandleListTraces handles GET /api/traces.
func (h *Handlers) HandleListTraces(w http.ResponseWriter, r *http.Request) {
	traces := h.manager.List()
	writeList(w, r, http.StatusOK, traces, len(traces))
}

// HandleGetTrace handles GET /api/traces/{trace_id}.
func (h *Handlers) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	trace, ok := h.manager.Snapshot(traceID)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
		return
	}
	writeJSON(w, r, http.StatusOK, trace)
}

// HandleGetTraceEvents handles GET /api/traces/{trace_id}/events.
// Serves the durable audit log for the trace.
func (h *Handlers) HandleGetTraceEvents(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	if _, ok := h.manager.Snapshot(traceID); !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
		return
	}

	events, err := h.store.EventsByTrace(r.Context(), traceID, 0)
	if err != nil {
		h.writeInternalError(w, r, "failed to load events", err)
		return
	}
	writeList(w, r, http.StatusOK, events, len(events))
}

// HandleApprove handles POST /api/traces/{trace_id}/approve.
func (h *Handlers) HandleApprove(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	if _, ok := h.manager.Snapshot(traceID); !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
		return
	}
	if err := h.orch.Approve(traceID); err != nil {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"trace_id": traceID, "status": "approved"})
}

// HandleRollback handles POST /api/traces/{trace_id}/rollback.
func (h *Handlers) HandleRollback(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")

	if _, ok := h.manager.Snapshot(traceID); !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
		return
	}

	var req model.RollbackRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		req = model.RollbackRequest{}
	}

	if err := h.orch.RequestRollback(traceID, req.Reason); err != nil {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"trace_id": traceID, "status": "rollback_requested"})
}

// HandleReplay handles POST /api/traces/{trace_id}/replay. Re-runs the
// trace's captured request against the live target and reports the
// current outcome without mutating the trace.
func (h *Handlers) HandleReplay(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	trace, ok := h.manager.Snapshot(traceID)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
		return
	}
	if trace.Capture == nil {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "trace has no captured request to replay")
		return
	}

	start := time.Now()
	observed, fault, err := h.target.Replay(r.Context(), *trace.Capture)
	if err != nil {
		h.writeInternalError(w, r, "replay failed", err)
		return
	}

	result := map[string]any{
		"trace_id":  traceID,
		"observed":  observed,
		"passed":    fault == nil,
		"replay_ms": time.Since(start).Milliseconds(),
	}
	if fault != nil {
		result["failure"] = fault
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleEventStream handles GET /api/events/stream. Streams healing
// events as SSE, optionally filtered by trace_id.
func (h *Handlers) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "event streaming is not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming unsupported")
		return
	}

	traceFilter := r.URL.Query().Get("trace_id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	// Heartbeat keeps intermediaries from closing the idle stream.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-ch:
			if traceFilter != "" && ev.TraceID != traceFilter {
				continue
			}
			data, err := encodeEvent(ev)
			if err != nil {
				h.logger.Warn("stream: encode event", "error", err, "type", ev.Type)
				continue
			}
			if _, err := w.Write(formatSSE(string(ev.Type), data)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// encodeEvent marshals an event for the SSE data field.
func encodeEvent(ev model.Event) ([]byte, error) {
	return json.Marshal(ev)
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}
