package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/EpicMandM/vsphere-group-manager/internal/logger"
	"github.com/EpicMandM/vsphere-group-manager/internal/orchestrator"
	"github.com/EpicMandM/vsphere-group-manager/internal/output"
)

// GroupReader is the read side of a loaded group.
type GroupReader interface {
	Names() []string
	State(ctx context.Context) ([]orchestrator.MachineState, error)
	Snapshots(ctx context.Context) ([]orchestrator.MachineSnapshots, error)
	CurrentSnapshots(ctx context.Context) ([]orchestrator.CurrentSnapshot, error)
}

// APIHandler serves a read-only JSON view of one group. Requests are
// serialised because a group is not safe for concurrent use.
type APIHandler struct {
	mu     sync.Mutex
	group  GroupReader
	logger *logger.Logger
}

func NewAPIHandler(group GroupReader, log *logger.Logger) *APIHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &APIHandler{
		group:  group,
		logger: log,
	}
}

// Routes registers the API on a new mux.
func (h *APIHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/group", h.ListMembers)
	mux.HandleFunc("GET /api/group/state", h.GroupState)
	mux.HandleFunc("GET /api/group/snapshots", h.GroupSnapshots)
	mux.HandleFunc("GET /api/group/current", h.CurrentSnapshots)
	return mux
}

// ListMembers handles GET /api/group
func (h *APIHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	names := h.group.Names()
	h.mu.Unlock()
	if names == nil {
		names = []string{}
	}
	h.writeJSON(w, r, names)
}

// GroupState handles GET /api/group/state
func (h *APIHandler) GroupState(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	states, err := h.group.State(r.Context())
	h.mu.Unlock()
	if err != nil {
		h.fail(w, r, "Failed to query group state", err)
		return
	}
	if states == nil {
		states = []orchestrator.MachineState{}
	}
	h.writeJSON(w, r, states)
}

// GroupSnapshots handles GET /api/group/snapshots
func (h *APIHandler) GroupSnapshots(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	trees, err := h.group.Snapshots(r.Context())
	h.mu.Unlock()
	if err != nil {
		h.fail(w, r, "Failed to list group snapshots", err)
		return
	}
	h.writeJSON(w, r, output.SnapshotLists(trees))
}

// CurrentSnapshots handles GET /api/group/current
func (h *APIHandler) CurrentSnapshots(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current, err := h.group.CurrentSnapshots(r.Context())
	h.mu.Unlock()
	if err != nil {
		h.fail(w, r, "Failed to list current snapshots", err)
		return
	}
	if current == nil {
		current = []orchestrator.CurrentSnapshot{}
	}
	h.writeJSON(w, r, current)
}

func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		logger.Action("api"),
		logger.Status("failed"),
		logger.Path(r.URL.Path),
		logger.F("REQUEST_ID", requestID(w)),
		logger.Error(err))
	http.Error(w, msg, http.StatusInternalServerError)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Error encoding JSON", logger.Path(r.URL.Path), logger.Error(err))
		return
	}
	h.logger.Debug("Request served", logger.Action("api"), logger.Path(r.URL.Path), logger.F("REQUEST_ID", requestID(w)))
}

// WithRequestID tags every response with a fresh X-Request-ID.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func requestID(w http.ResponseWriter) string {
	return w.Header().Get("X-Request-ID")
}
