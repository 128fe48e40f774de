package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/csrf"

	"github.com/YannKr/signflow/internal/auth"
	"github.com/YannKr/signflow/internal/db"
	"github.com/YannKr/signflow/internal/model"
)

type accountJSON struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func accountToJSON(a *model.Account) accountJSON {
	return accountJSON{ID: a.ID, Email: a.Email, Name: a.Name, CreatedAt: a.CreatedAt}
}

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]string{"csrfToken": csrf.Token(r)})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	switch {
	case req.Name == "" || req.Email == "":
		renderJSONError(w, http.StatusBadRequest, "VALIDATION", "Name and email are required.")
		return
	case !strings.Contains(req.Email, "@"):
		renderJSONError(w, http.StatusBadRequest, "VALIDATION", "Email address is invalid.")
		return
	case len(req.Password) < auth.MinPasswordLength || len(req.Password) > 72:
		renderJSONError(w, http.StatusBadRequest, "VALIDATION", "Password must be between 8 and 72 characters.")
		return
	}

	existing, err := db.GetAccountByEmail(h.DB, req.Email)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	if existing != nil {
		renderJSONError(w, http.StatusConflict, "CONFLICT", "An account with this email already exists.")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	account := &model.Account{
		ID:           uuid.New().String(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.CreateAccount(h.DB, account); err != nil {
		renderServiceError(w, r, err)
		return
	}
	if !h.startSession(w, r, account) {
		return
	}
	renderJSON(w, http.StatusCreated, map[string]any{"user": accountToJSON(account)})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeJSON(w, r, &req) {
		return
	}
	account, err := db.GetAccountByEmail(h.DB, strings.TrimSpace(req.Email))
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	if account == nil || !auth.CheckPassword(account.PasswordHash, req.Password) {
		renderJSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid email or password.")
		return
	}
	if !h.startSession(w, r, account) {
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"user": accountToJSON(account)})
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, account *model.Account) bool {
	sessionID, err := auth.GenerateToken(32)
	if err != nil {
		renderServiceError(w, r, err)
		return false
	}
	session := &model.Session{
		ID:        sessionID,
		AccountID: account.ID,
		ExpiresAt: time.Now().Add(auth.SessionMaxAge),
	}
	if err := db.CreateSession(h.DB, session); err != nil {
		renderServiceError(w, r, err)
		return false
	}
	auth.SetSessionCookie(w, sessionID, h.Cfg.SessionSecret, h.secureCookies())
	return true
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID, ok := auth.GetSessionID(r, h.Cfg.SessionSecret); ok {
		if err := db.DeleteSession(h.DB, sessionID); err != nil {
			renderServiceError(w, r, err)
			return
		}
	}
	auth.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	account, err := db.GetAccountByID(h.DB, auth.AccountFromContext(r.Context()))
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	if account == nil {
		renderJSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in.")
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"user": accountToJSON(account)})
}
