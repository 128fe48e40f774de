package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/YannKr/signflow/internal/auth"
	"github.com/YannKr/signflow/internal/config"
	"github.com/YannKr/signflow/internal/db"
	"github.com/YannKr/signflow/internal/diskstat"
	"github.com/YannKr/signflow/internal/email"
	"github.com/YannKr/signflow/internal/model"
	"github.com/YannKr/signflow/internal/signing"
	"github.com/YannKr/signflow/internal/sse"
	"github.com/YannKr/signflow/internal/storage"
)

// maxJSONBody bounds every JSON request body, signature images included.
const maxJSONBody = 10 << 20

type Handler struct {
	DB      *sql.DB
	Cfg     *config.Config
	Svc     *signing.Service
	Files   *storage.Files
	Mailer  *email.Mailer
	SSE     *sse.Hub
	Disk    *diskstat.Cache
	Effects signing.EffectSink
}

func New(database *sql.DB, cfg *config.Config, svc *signing.Service, files *storage.Files,
	mailer *email.Mailer, hub *sse.Hub, disk *diskstat.Cache, effects signing.EffectSink) *Handler {
	if effects == nil {
		effects = signing.Discard{}
	}
	return &Handler{
		DB:      database,
		Cfg:     cfg,
		Svc:     svc,
		Files:   files,
		Mailer:  mailer,
		SSE:     hub,
		Disk:    disk,
		Effects: effects,
	}
}

func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write json response", "error", err)
	}
}

func renderJSONError(w http.ResponseWriter, status int, code, message string) {
	renderJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

var statusByCode = map[signing.Code]int{
	signing.CodeNotFound:        http.StatusNotFound,
	signing.CodeExpired:         http.StatusGone,
	signing.CodeAlreadySigned:   http.StatusConflict,
	signing.CodeAlreadyRejected: http.StatusConflict,
	signing.CodeForbidden:       http.StatusForbidden,
	signing.CodeConflict:        http.StatusConflict,
	signing.CodeValidation:      http.StatusBadRequest,
	signing.CodePipelineFailure: http.StatusInternalServerError,
}

// renderServiceError maps a signing error to its HTTP form. Uncoded errors
// are storage failures and are logged, not shown.
func renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var se *signing.Error
	if errors.As(err, &se) {
		renderJSONError(w, statusByCode[se.Code], string(se.Code), se.Message)
		return
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong.")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			renderJSONError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Request body is too large.")
			return false
		}
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "Request body must be valid JSON.")
		return false
	}
	return true
}

// actor describes the caller of r for the audit trail.
func actor(r *http.Request) signing.Actor {
	ctx := r.Context()
	return signing.Actor{
		AccountID: auth.AccountFromContext(ctx),
		Email:     auth.EmailFromContext(ctx),
		Name:      auth.NameFromContext(ctx),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// clientIP strips the port RealIP leaves on RemoteAddr when no proxy
// header was present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ownedDocument loads the document an owner route refers to, writing the
// error response itself when the caller may not see it.
func (h *Handler) ownedDocument(w http.ResponseWriter, r *http.Request, id string) (*model.Document, bool) {
	if !validID(id) {
		renderJSONError(w, http.StatusNotFound, string(signing.CodeNotFound), "Document not found.")
		return nil, false
	}
	doc, err := db.GetDocument(r.Context(), h.DB, id)
	if err != nil {
		renderServiceError(w, r, err)
		return nil, false
	}
	if doc == nil {
		renderJSONError(w, http.StatusNotFound, string(signing.CodeNotFound), "Document not found.")
		return nil, false
	}
	if doc.OwnerID != auth.AccountFromContext(r.Context()) {
		renderJSONError(w, http.StatusForbidden, string(signing.CodeForbidden), "You do not own this document.")
		return nil, false
	}
	return doc, true
}

// recordAudit appends an audit entry for an owner action outside the
// signing state machine.
func (h *Handler) recordAudit(r *http.Request, doc *model.Document, action string, meta map[string]any) {
	h.Effects.Apply(r.Context(), []signing.Effect{{
		Kind:       signing.EffectAudit,
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		Action:     action,
		Actor:      actor(r),
		Metadata:   meta,
	}})
}
