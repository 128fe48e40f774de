package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
)

// Routes builds the API router. authRL guards credential endpoints and
// signRL the public token-bearing signing endpoints.
func (h *Handler) Routes(authRL, signRL *RateLimiter) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", h.Health)

	// Public signing: the token is the only credential, so these routes
	// carry no ambient authority and skip CSRF.
	r.Route("/api/sign/{token}", func(r chi.Router) {
		r.Use(signRL.Middleware)
		r.Use(noStore)
		r.Get("/", h.SignLinkView)
		r.Get("/file", h.SignLinkFile)
		r.Post("/", h.SignLinkSign)
		r.Post("/reject", h.SignLinkReject)
	})

	csrfProtect := csrf.Protect(
		[]byte(h.Cfg.SessionSecret),
		csrf.Secure(h.secureCookies()),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			renderJSONError(w, http.StatusForbidden, "CSRF", "Missing or invalid CSRF token.")
		})),
	)

	r.Group(func(r chi.Router) {
		r.Use(csrfProtect)
		r.Use(noStore)

		r.Get("/api/csrf", h.CSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(authRL.Middleware)
			r.Post("/api/auth/register", h.Register)
			r.Post("/api/auth/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)

			r.Post("/api/auth/logout", h.Logout)
			r.Get("/api/auth/profile", h.Profile)

			r.Post("/api/docs", h.DocumentUpload)
			r.Get("/api/docs", h.DocumentList)
			r.Get("/api/docs/{id}", h.DocumentGet)
			r.Get("/api/docs/{id}/file", h.DocumentFile)
			r.Get("/api/docs/{id}/download", h.DocumentDownload)
			r.Delete("/api/docs/{id}", h.DocumentDelete)
			r.Post("/api/docs/{id}/regenerate", h.DocumentRegenerate)
			r.Get("/api/docs/{id}/events", h.DocumentEvents)

			r.Post("/api/signatures", h.FieldPlace)
			r.Get("/api/signatures/document/{docID}", h.FieldList)
			r.Delete("/api/signatures/{id}", h.FieldRemove)

			r.Post("/api/share/{docID}", h.Share)
			r.Get("/api/audit/{docID}", h.AuditTrail)

			r.Post("/api/webhooks", h.WebhookCreate)
			r.Get("/api/webhooks", h.WebhookList)
			r.Delete("/api/webhooks/{id}", h.WebhookDelete)
			r.Get("/api/webhooks/{id}/deliveries", h.WebhookDeliveries)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "No such endpoint.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		renderJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed.")
	})

	return r
}

func (h *Handler) secureCookies() bool {
	return strings.HasPrefix(h.Cfg.BaseURL, "https")
}
