package handler

import (
	"net/http"
	"time"

	"github.com/YannKr/signflow/internal/auth"
	"github.com/YannKr/signflow/internal/db"
)

// RequireAuth resolves the session cookie to an account or answers 401.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := auth.GetSessionID(r, h.Cfg.SessionSecret)
		if !ok {
			renderJSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in.")
			return
		}
		session, err := db.GetSession(h.DB, sessionID)
		if err != nil || session == nil || !session.ExpiresAt.After(time.Now()) {
			auth.ClearSessionCookie(w)
			renderJSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Your session has expired.")
			return
		}

		account, err := db.GetAccountByID(h.DB, session.AccountID)
		if err != nil || account == nil {
			auth.ClearSessionCookie(w)
			renderJSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in.")
			return
		}

		ctx := auth.ContextWithAccount(r.Context(), account.ID, account.Email, account.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// noStore marks responses carrying signer or owner data as uncacheable.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
