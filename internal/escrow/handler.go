package escrow

// Read-only HTTP query API used by the Gateway and dashboards.
//
// Routes:
//
//	GET /jobs?state=ACTIVE&start=1&end=50 → jobs in a state within an id range
//	GET /jobs/{id}                         → job record
//	GET /jobs/{id}/applicants              → applicants in application order
//	GET /jobs/{id}/certificate             → certificate holder and lock flag
//	GET /jobs/{id}/history                 → journaled events of the job
//	GET /freelancers/{id}                  → registry entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// History lists the journaled events of a job.
type History interface {
	ListByJob(ctx context.Context, jobID uint64) ([]Event, error)
}

// Handler serves the query API.
type Handler struct {
	engine  *Engine
	history History
}

// NewHandler returns a Handler. history may be nil, in which case the
// history route answers 404.
func NewHandler(engine *Engine, history History) *Handler {
	return &Handler{engine: engine, history: history}
}

// RegisterRoutes mounts all query routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/jobs", h.handleJobs)
	mux.HandleFunc("/jobs/", h.handleJob)
	mux.HandleFunc("/freelancers/", h.handleFreelancer)
}

// ─── Route dispatch ───────────────────────────────────────────────────────────

// handleJobs handles GET /jobs
func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	state, err := ParseState(q.Get("state"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, err1 := strconv.ParseUint(q.Get("start"), 10, 64)
	end, err2 := strconv.ParseUint(q.Get("end"), 10, 64)
	if err1 != nil || err2 != nil {
		jsonError(w, "start and end must be unsigned integers", http.StatusBadRequest)
		return
	}

	jobs, err := h.engine.JobsInState(state, start, end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, jobs)
}

// handleJob handles GET /jobs/{id}[/applicants|/certificate|/history]
func (h *Handler) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	jobID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		jsonError(w, "job id must be an unsigned integer", http.StatusBadRequest)
		return
	}

	action := ""
	if len(parts) == 3 {
		action = parts[2]
	}

	switch action {
	case "":
		job, err := h.engine.Job(jobID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		jsonOK(w, job)
	case "applicants":
		applicants, err := h.engine.Applicants(jobID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		jsonOK(w, applicants)
	case "certificate":
		h.certificate(w, jobID)
	case "history":
		h.jobHistory(w, r, jobID)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
	}
}

// handleFreelancer handles GET /freelancers/{id}
func (h *Handler) handleFreelancer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/freelancers/")
	if id == "" || strings.Contains(id, "/") {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	jsonOK(w, h.engine.Freelancer(Identity(id)))
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) certificate(w http.ResponseWriter, jobID uint64) {
	owner, err := h.engine.CertificateOwner(jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, map[string]any{
		"jobId":  jobID,
		"owner":  owner,
		"locked": h.engine.Certificates().IsLocked(jobID),
	})
}

func (h *Handler) jobHistory(w http.ResponseWriter, r *http.Request, jobID uint64) {
	if h.history == nil {
		jsonError(w, "history is not available", http.StatusNotFound)
		return
	}
	if _, err := h.engine.Job(jobID); err != nil {
		writeDomainError(w, err)
		return
	}
	events, err := h.history.ListByJob(r.Context(), jobID)
	if err != nil {
		slog.Error("list job history failed", "jobId", jobID, "err", err)
		jsonError(w, "database error", http.StatusInternalServerError)
		return
	}
	jsonOK(w, events)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func writeDomainError(w http.ResponseWriter, err error) {
	var (
		ae *AuthorizationError
		se *StateError
		ve *ValueError
	)
	switch {
	case errors.Is(err, ErrJobNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &ae):
		jsonError(w, ae.Msg, http.StatusForbidden)
	case errors.As(err, &se):
		jsonError(w, se.Msg, http.StatusConflict)
	case errors.As(err, &ve):
		jsonError(w, ve.Msg, http.StatusBadRequest)
	default:
		slog.Error("query failed", "err", err)
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
