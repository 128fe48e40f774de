package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/YannKr/signflow/internal/auth"
	"github.com/YannKr/signflow/internal/db"
	"github.com/YannKr/signflow/internal/model"
	"github.com/YannKr/signflow/internal/signing"
)

type shareRequest struct {
	SignerEmail string `json:"signerEmail"`
	SignerName  string `json:"signerName"`
}

// Share emails a signer the link to their pending field. The link is
// returned even when the email could not be sent.
func (h *Handler) Share(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r, chi.URLParam(r, "docID"))
	if !ok {
		return
	}
	var req shareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	signerEmail := strings.ToLower(strings.TrimSpace(req.SignerEmail))
	if signerEmail == "" {
		renderJSONError(w, http.StatusBadRequest, string(signing.CodeValidation), "signerEmail is required.")
		return
	}

	fields, err := db.ListFieldsByDocument(r.Context(), h.DB, doc.ID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	var field *model.SignatureField
	now := time.Now()
	for i := range fields {
		if fields[i].SignerEmail == signerEmail && fields[i].Actionable(now) {
			field = &fields[i]
			break
		}
	}
	if field == nil {
		renderJSONError(w, http.StatusNotFound, string(signing.CodeNotFound), "No pending signature field for this signer.")
		return
	}

	signerName := strings.TrimSpace(req.SignerName)
	if signerName == "" {
		signerName = field.SignerName
	}
	url := h.Svc.SigningURL(field.Token)

	emailSent, emailError := false, false
	if h.Mailer.Enabled() {
		ownerName := auth.NameFromContext(r.Context())
		if err := h.Mailer.SendSigningRequest(signerEmail, signerName, ownerName, doc.Title, url); err != nil {
			slog.Error("share email failed", "document", doc.ID, "to", signerEmail, "error", err)
			emailError = true
		} else {
			emailSent = true
		}
	}

	h.recordAudit(r, doc, model.AuditLinkShared, map[string]any{
		"fieldId":     field.ID,
		"signerEmail": signerEmail,
		"emailSent":   emailSent,
	})
	renderJSON(w, http.StatusOK, map[string]any{
		"signingUrl": url,
		"emailSent":  emailSent,
		"emailError": emailError,
	})
}
