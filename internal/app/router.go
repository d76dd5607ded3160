package app

import (
	"net/http"

	"github.com/aliuyar1234/bizdesk/internal/accessreq"
	"github.com/aliuyar1234/bizdesk/internal/apperrors"
	"github.com/aliuyar1234/bizdesk/internal/businesses"
	"github.com/aliuyar1234/bizdesk/internal/config"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/aliuyar1234/bizdesk/internal/membership"
	"github.com/aliuyar1234/bizdesk/internal/orgs"
	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(cfg *config.Config, port store.Port, svc *Services) *chi.Mux {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(apperrors.RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", apperrors.RequestIDHeader},
		ExposedHeaders:   []string{apperrors.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(identity.Middleware(svc.Verifier))

	// Health check routes (no identity required)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.WriteNotFound(w, r, "Route not found")
	})

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(port))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(NoCacheMiddleware)
		r.Use(identity.RequireIdentity)

		r.Post("/session/sign-in", membership.HandleSignIn(svc.Resolver))
		r.Post("/session/sign-out", membership.HandleSignOut(svc.Resolver))
		r.Get("/me/memberships", membership.HandleMemberships(svc.Resolver))

		r.Route("/orgs", func(r chi.Router) {
			r.Post("/", orgs.HandleCreate(svc.Orgs))
			r.Get("/{org_id}/members", orgs.HandleListMembers(svc.Orgs))
			r.Post("/{org_id}/invites", orgs.HandleCreateInvite(svc.Orgs, cfg.BaseURL))
			r.Get("/{org_id}/invites", orgs.HandleListInvites(svc.Orgs))
			r.Post("/{org_id}/businesses", businesses.HandleCreate(svc.Businesses))
			r.Get("/{org_id}/audit", orgs.HandleListAudit(svc.Orgs, svc.Auditor))
		})

		r.With(RateLimitMiddleware(cfg.RedeemRateLimitRPM)).Post("/invites/redeem", orgs.HandleRedeemInvite(svc.Orgs))

		r.Route("/businesses/{business_id}/access-requests", func(r chi.Router) {
			r.With(RateLimitMiddleware(cfg.RedeemRateLimitRPM)).Post("/", accessreq.HandleSubmit(svc.Access))
			r.Get("/", accessreq.HandleList(svc.Access))
		})
		r.Post("/access-requests/{request_id}/decision", accessreq.HandleDecide(svc.Access))
	})

	return r
}

// handleHealthz returns a simple liveness check
// Always returns 200 OK if the service is running
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleReadyz reports 503 while the backing store is unreachable.
func handleReadyz(port store.Port) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := port.Ping(r.Context()); err != nil {
			w.Header().Set("Retry-After", "5")
			apperrors.WriteServiceUnavailable(w, r, "Store connection failed")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "ready",
			"store":  "ok",
		})
	}
}
