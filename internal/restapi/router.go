package restapi

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the ledger REST façade.
//
// Route layout:
//
//	GET /healthz                          – liveness probe (no authentication required)
//	GET /api/v1/sessions                  – list session ids (JWT required)
//	GET /api/v1/sessions/{id}/messages     – load a session's chain, optional ?limit=N (JWT required)
//	GET /api/v1/sessions/{id}/verify       – run offline verification over a session (JWT required)
//
// pubKey is the RSA public key used to verify RS256 Bearer tokens on all
// /api/v1 routes. Pass nil to disable JWT validation (useful in tests and
// local development).
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}

		r.Get("/sessions", srv.handleListSessions)
		r.Get("/sessions/{id}/messages", srv.handleGetMessages)
		r.Get("/sessions/{id}/verify", srv.handleVerify)
	})

	return r
}
