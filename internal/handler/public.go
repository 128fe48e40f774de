package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/YannKr/signflow/internal/model"
	"github.com/YannKr/signflow/internal/signing"
)

type publicFieldJSON struct {
	ID          string    `json:"id"`
	SignerEmail string    `json:"signerEmail"`
	SignerName  string    `json:"signerName,omitempty"`
	Page        int       `json:"page"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Width       float64   `json:"width"`
	Height      float64   `json:"height"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type publicViewJSON struct {
	Document struct {
		Title      string `json:"title"`
		FileName   string `json:"fileName"`
		Status     string `json:"status"`
		TotalPages int    `json:"totalPages"`
	} `json:"document"`
	OwnerName string          `json:"ownerName"`
	Field     publicFieldJSON `json:"field"`
}

func viewToJSON(v *signing.PublicView) publicViewJSON {
	var j publicViewJSON
	j.Document.Title = v.Document.Title
	j.Document.FileName = v.Document.FileName
	j.Document.Status = v.Document.Status
	j.Document.TotalPages = v.Document.TotalPages
	j.OwnerName = v.OwnerName
	j.Field = publicFieldJSON{
		ID:          v.Field.ID,
		SignerEmail: v.Field.SignerEmail,
		SignerName:  v.Field.SignerName,
		Page:        v.Field.Page,
		X:           v.Field.X,
		Y:           v.Field.Y,
		Width:       v.Field.Width,
		Height:      v.Field.Height,
		Status:      v.Field.Status,
		ExpiresAt:   v.Field.ExpiresAt,
	}
	return j
}

func (h *Handler) SignLinkView(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.ResolveByToken(r.Context(), chi.URLParam(r, "token"), actor(r))
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, viewToJSON(view))
}

// SignLinkFile streams the original PDF to the signer while the link is
// actionable.
func (h *Handler) SignLinkFile(w http.ResponseWriter, r *http.Request) {
	_, doc, err := h.Svc.FieldForToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	serveFile(w, r, doc.FilePath, doc.FileName, "inline")
}

type signBody struct {
	SignatureData string `json:"signatureData"`
	SignatureType string `json:"signatureType"`
}

func (h *Handler) SignLinkSign(w http.ResponseWriter, r *http.Request) {
	var body signBody
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := h.Svc.Sign(r.Context(), signing.SignRequest{
		Token:   chi.URLParam(r, "token"),
		Payload: body.SignatureData,
		Kind:    body.SignatureType,
		Actor:   actor(r),
	})
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	if res.Completion.Err != nil {
		// The signature is recorded; only the signed PDF is missing.
		slog.Warn("signed pdf not produced", "document", res.Field.DocumentID, "error", res.Completion.Err)
	}

	status := res.Completion.Status
	if status == "" {
		status = model.DocumentPending
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"message":        "Signature recorded.",
		"fieldId":        res.Field.ID,
		"fieldStatus":    res.Field.Status,
		"signedAt":       res.Field.SignedAt,
		"documentStatus": status,
	})
}

type rejectBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) SignLinkReject(w http.ResponseWriter, r *http.Request) {
	var body rejectBody
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &body) {
			return
		}
	}
	res, err := h.Svc.Reject(r.Context(), signing.RejectRequest{
		Token:  chi.URLParam(r, "token"),
		Reason: body.Reason,
		Actor:  actor(r),
	})
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"message":         "Signature request rejected.",
		"fieldId":         res.Field.ID,
		"fieldStatus":     res.Field.Status,
		"rejectionReason": res.Field.RejectionReason,
		"documentStatus":  res.DocumentStatus,
	})
}
