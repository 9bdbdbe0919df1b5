package restapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/krakalus/ledger/internal/entry"
	"github.com/krakalus/ledger/internal/verify"
)

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	store    Store
	verifier *verify.Verifier
}

// NewServer creates a new Server with the provided storage layer. verifier
// may be nil, in which case handleVerify responds with 503 — the daemon can
// run without a trust map configured, trading verify availability for a
// simpler deployment. cmd/ledgerd passes nil only when no trust map path is
// configured; a configured trust map that fails verify.New stops the daemon
// at boot.
func NewServer(store Store, verifier *verify.Verifier) *Server {
	return &Server{store: store, verifier: verifier}
}

// handleHealthz responds to GET /healthz.
//
// This endpoint does not require authentication and returns HTTP 200 with a
// simple JSON body so load balancers and orchestrators can verify liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleListSessions responds to GET /api/v1/sessions.
//
// Returns HTTP 200 with a JSON array of session ids, most recently active
// first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if ids == nil {
		ids = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ids)
}

// handleGetMessages responds to GET /api/v1/sessions/{id}/messages.
//
// Supported query parameters:
//
//	limit – maximum number of entries to return, oldest first (optional;
//	        returns the full chain when omitted)
//
// Returns HTTP 400 when limit is present but not a positive integer, HTTP
// 404 when the session has no entries, and HTTP 200 with a JSON array of
// entries otherwise.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var (
		chain []entry.Entry
		err   error
	)

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, convErr := strconv.Atoi(limitStr)
		if convErr != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		chain, err = s.store.Recent(sessionID, limit)
	} else {
		chain, err = s.store.LoadMessages(sessionID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if len(chain) == 0 {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(chain)
}

// handleVerify responds to GET /api/v1/sessions/{id}/verify.
//
// Returns HTTP 503 when the daemon was started without a trust map, HTTP
// 404 when the session has no entries, and HTTP 200 with the verify.Result
// JSON body otherwise — a failed verification is still a 200, since the
// request itself succeeded; callers should inspect the "is_valid" field.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "verification is not configured on this server")
		return
	}

	sessionID := chi.URLParam(r, "id")
	chain, err := s.store.LoadMessages(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if len(chain) == 0 {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	result := s.verifier.Verify(chain)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}
