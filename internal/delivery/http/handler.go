package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"teamclaude/internal/shared/logging"
	"teamclaude/internal/sprint/engine"
)

// APIHandler is the control API's HTTP surface over a single Engine.
// Constructed with the teacher's functional-options pattern so optional
// collaborators (only the logger, here — the teacher's handler has many
// more) can be added without overloading the constructor signature.
type APIHandler struct {
	engine *engine.Engine
	logger logging.Logger

	upgrader websocket.Upgrader
}

// Option configures an APIHandler.
type Option func(*APIHandler)

// WithLogger sets the handler's logger.
func WithLogger(logger logging.Logger) Option {
	return func(h *APIHandler) { h.logger = logging.OrNop(logger) }
}

// NewAPIHandler constructs an APIHandler over eng.
func NewAPIHandler(eng *engine.Engine, opts ...Option) *APIHandler {
	h := &APIHandler{
		engine: eng,
		logger: logging.OrNop(nil),
		upgrader: websocket.Upgrader{
			// A local control-plane daemon has no browser-origin threat model
			// distinct from any other localhost dev server; same pattern the
			// hector a2a server uses for its websocket upgrade.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleGetState returns the current full SprintState.
func (h *APIHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.StateSnapshot())
}

// HandlePause toggles paused and broadcasts the change.
func (h *APIHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.engine.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStop stops the sprint, writes history, and returns the retro/record paths.
func (h *APIHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	done := make(chan engine.StopResult, 1)
	h.engine.Stop(done)
	select {
	case result := <-done:
		writeJSON(w, http.StatusOK, result)
	case <-time.After(30 * time.Second):
		writeError(w, http.StatusGatewayTimeout, "stop timed out")
	}
}

type checkpointRequest struct {
	TaskID string `json:"taskId"`
}

// HandleCheckpoint adds a task id to the checkpoint gate set.
func (h *APIHandler) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req checkpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "taskId required")
		return
	}
	h.engine.Checkpoint(req.TaskID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCheckpointRelease clears the pending checkpoint.
func (h *APIHandler) HandleCheckpointRelease(w http.ResponseWriter, r *http.Request) {
	h.engine.ReleaseCheckpoint()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleDismissEscalation clears the current escalation.
func (h *APIHandler) HandleDismissEscalation(w http.ResponseWriter, r *http.Request) {
	h.engine.DismissEscalation()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleDismissMergeConflict clears the current merge conflict.
func (h *APIHandler) HandleDismissMergeConflict(w http.ResponseWriter, r *http.Request) {
	h.engine.DismissMergeConflict()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleResume restores state from the persisted snapshot.
func (h *APIHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.engine.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleListMemories lists memories filtered by role/q query params.
func (h *APIHandler) HandleListMemories(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	q := r.URL.Query().Get("q")
	writeJSON(w, http.StatusOK, h.engine.Memories().List(role, q))
}

type createMemoryRequest struct {
	Role     string `json:"role"`
	Key      string `json:"key"`
	Value    string `json:"value"`
	SprintID string `json:"sprintId"`
}

// HandleCreateMemory upserts a memory by (role, key).
func (h *APIHandler) HandleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" || req.Key == "" {
		writeError(w, http.StatusBadRequest, "role and key required")
		return
	}
	rec, err := h.engine.Memories().Upsert(req.Role, req.Key, req.Value, req.SprintID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleDeleteMemory removes the memory identified by {id}.
func (h *APIHandler) HandleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := h.engine.Memories().Delete(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleListLearnings returns the role-partitioned learnings store.
func (h *APIHandler) HandleListLearnings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Learnings().List())
}

// HandleDeleteLearning removes the learning identified by {id}.
func (h *APIHandler) HandleDeleteLearning(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := h.engine.Learnings().Delete(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "learning not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleHealth reports process liveness.
func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleMetrics serves the Prometheus text exposition format. Returns 404
// when telemetry metrics aren't configured, same as the collector's own
// disabled-state Handler.
func (h *APIHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.engine.Metrics()
	if metrics == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	metrics.Handler().ServeHTTP(w, r)
}

// HandleWebSocket upgrades the connection and registers it on the engine's
// broadcast bus, sending an immediate init event per spec §4.8. Upgrade
// pattern grounded on the hector a2a server's handleStreamTask.
func (h *APIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	client := newWSClient(conn)
	id := uuid.NewString()

	h.engine.Bus().RegisterClient(id, client)
	h.engine.Bus().SendInit(client, h.engine.StateSnapshot())

	defer func() {
		h.engine.Bus().UnregisterClient(id)
		_ = conn.Close()
	}()

	// The control API is push-only: the daemon never expects inbound
	// messages, but ReadMessage must still run so gorilla/websocket
	// processes control frames (ping/pong/close) and detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
