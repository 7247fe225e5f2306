package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadaliao/claude-relay-service/pkg/account"
	"github.com/kadaliao/claude-relay-service/pkg/store"
)

// handleHealth reports liveness plus a coarse pool summary. It answers
// 200 as long as the process serves; an empty pool is reported in the
// body rather than as a failure so orchestrators don't restart a
// healthy process that merely has no accounts yet.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	states := s.pool.Snapshot()
	available := 0
	for _, st := range states {
		if st.Status == account.StatusNormal {
			available++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"accounts":           len(states),
		"accounts_available": available,
	})
}

// handleListAccounts returns the pool's runtime view of every account:
// status, cooldown, and in-flight counts. Credentials never appear here.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Snapshot())
}

// handlePauseAccount excludes an account from selection by admin action.
func (s *Server) handlePauseAccount(w http.ResponseWriter, r *http.Request) {
	s.setAccountStatus(w, r, account.StatusPaused)
}

// handleResumeAccount returns a paused or errored account to rotation.
// Resuming an errored account only makes sense after re-authorization.
func (s *Server) handleResumeAccount(w http.ResponseWriter, r *http.Request) {
	s.setAccountStatus(w, r, account.StatusNormal)
}

func (s *Server) setAccountStatus(w http.ResponseWriter, r *http.Request, status account.Status) {
	id := chi.URLParam(r, "id")

	if err := s.store.UpdateStatus(r.Context(), id, status, time.Time{}); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err := s.pool.Reload(r.Context()); err != nil {
		slog.Error("pool reload after status change failed", "account_id", id, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(status),
	})
}

// handleUsage returns per-account usage totals. The optional "since"
// query parameter takes an RFC 3339 timestamp.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid since parameter, want RFC 3339",
			})
			return
		}
		since = t
	}

	totals, err := s.store.UsageByAccount(r.Context(), since)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if totals == nil {
		totals = []store.UsageTotals{}
	}
	writeJSON(w, http.StatusOK, totals)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
