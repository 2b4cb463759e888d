// Package http assembles the control API: a thin HTTP surface over the
// engine plus one WebSocket endpoint. Route registration follows the
// teacher's Go 1.22+ method-pattern mux and route-annotation wrapper;
// middleware is trimmed to what a single-tenant local daemon needs
// (logging and latency only — auth, CORS, and rate limiting don't apply
// to a localhost control plane).
package http

import (
	"net/http"
	"time"

	"teamclaude/internal/shared/logging"
)

// NewRouter builds the full control API handler.
func NewRouter(h *APIHandler) http.Handler {
	logger := logging.NewComponentLogger("router")
	latency := logging.NewLatencyLogger("http")

	mux := http.NewServeMux()

	mux.Handle("GET /api/state", route("/api/state", http.HandlerFunc(h.HandleGetState)))
	mux.Handle("POST /api/pause", route("/api/pause", http.HandlerFunc(h.HandlePause)))
	mux.Handle("POST /api/stop", route("/api/stop", http.HandlerFunc(h.HandleStop)))
	mux.Handle("POST /api/checkpoint", route("/api/checkpoint", http.HandlerFunc(h.HandleCheckpoint)))
	mux.Handle("POST /api/checkpoint/release", route("/api/checkpoint/release", http.HandlerFunc(h.HandleCheckpointRelease)))
	mux.Handle("POST /api/dismiss-escalation", route("/api/dismiss-escalation", http.HandlerFunc(h.HandleDismissEscalation)))
	mux.Handle("POST /api/dismiss-merge-conflict", route("/api/dismiss-merge-conflict", http.HandlerFunc(h.HandleDismissMergeConflict)))
	mux.Handle("POST /api/resume", route("/api/resume", http.HandlerFunc(h.HandleResume)))

	mux.Handle("GET /api/memories", route("/api/memories", http.HandlerFunc(h.HandleListMemories)))
	mux.Handle("POST /api/memories", route("/api/memories", http.HandlerFunc(h.HandleCreateMemory)))
	mux.Handle("DELETE /api/memories/{id}", route("/api/memories/:id", http.HandlerFunc(h.HandleDeleteMemory)))

	mux.Handle("GET /api/process-learnings", route("/api/process-learnings", http.HandlerFunc(h.HandleListLearnings)))
	mux.Handle("DELETE /api/process-learnings/{id}", route("/api/process-learnings/:id", http.HandlerFunc(h.HandleDeleteLearning)))

	mux.Handle("GET /ws", route("/ws", http.HandlerFunc(h.HandleWebSocket)))
	mux.Handle("GET /health", route("/health", http.HandlerFunc(h.HandleHealth)))
	mux.Handle("GET /metrics", route("/metrics", http.HandlerFunc(h.HandleMetrics)))

	var handler http.Handler = mux
	handler = loggingMiddleware(logger, latency)(handler)
	return handler
}

func route(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = withRouteName(r, name)
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger logging.Logger, latency *logging.LatencyLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			route := routeName(r)
			latency.Record(route, rw.status, time.Since(start))
			logger.Debug("%s %s -> %d", r.Method, route, rw.status)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

