package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/YannKr/signflow/internal/auth"
	"github.com/YannKr/signflow/internal/db"
	"github.com/YannKr/signflow/internal/model"
	"github.com/YannKr/signflow/internal/signing"
)

type fieldJSON struct {
	ID              string     `json:"id"`
	DocumentID      string     `json:"documentId"`
	SignerEmail     string     `json:"signerEmail"`
	SignerName      string     `json:"signerName,omitempty"`
	Page            int        `json:"page"`
	X               float64    `json:"x"`
	Y               float64    `json:"y"`
	Width           float64    `json:"width"`
	Height          float64    `json:"height"`
	Status          string     `json:"status"`
	SignatureType   string     `json:"signatureType,omitempty"`
	SignatureData   *string    `json:"signatureData,omitempty"`
	RejectionReason *string    `json:"rejectionReason,omitempty"`
	SignedAt        *time.Time `json:"signedAt,omitempty"`
	TokenExpiresAt  time.Time  `json:"tokenExpiresAt"`
	SigningURL      string     `json:"signingUrl,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// fieldToJSON is the owner's view of a field; the signing link is only
// included while it can still be used.
func (h *Handler) fieldToJSON(f *model.SignatureField) fieldJSON {
	j := fieldJSON{
		ID:              f.ID,
		DocumentID:      f.DocumentID,
		SignerEmail:     f.SignerEmail,
		SignerName:      f.SignerName,
		Page:            f.Page,
		X:               f.X,
		Y:               f.Y,
		Width:           f.Width,
		Height:          f.Height,
		Status:          f.Status,
		SignatureData:   f.SignatureData,
		RejectionReason: f.RejectionReason,
		SignedAt:        f.SignedAt,
		TokenExpiresAt:  f.TokenExpiresAt,
		CreatedAt:       f.CreatedAt,
	}
	if f.Status != model.FieldPending {
		j.SignatureType = f.SignatureType
	}
	if f.Actionable(time.Now()) {
		j.SigningURL = h.Svc.SigningURL(f.Token)
	}
	return j
}

type placeRequest struct {
	DocumentID  string   `json:"documentId"`
	SignerEmail string   `json:"signerEmail"`
	SignerName  string   `json:"signerName"`
	Page        int      `json:"page"`
	X           *float64 `json:"x"`
	Y           *float64 `json:"y"`
	Width       *float64 `json:"width"`
	Height      *float64 `json:"height"`
}

func (h *Handler) FieldPlace(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DocumentID == "" {
		renderJSONError(w, http.StatusBadRequest, string(signing.CodeValidation), "documentId is required.")
		return
	}
	if !validID(req.DocumentID) {
		renderJSONError(w, http.StatusNotFound, string(signing.CodeNotFound), "Document not found.")
		return
	}

	p, err := h.Svc.Place(r.Context(), signing.PlaceRequest{
		DocumentID:  req.DocumentID,
		CallerID:    auth.AccountFromContext(r.Context()),
		SignerEmail: req.SignerEmail,
		SignerName:  req.SignerName,
		Page:        req.Page,
		X:           req.X,
		Y:           req.Y,
		Width:       req.Width,
		Height:      req.Height,
		Actor:       actor(r),
	})
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, map[string]any{
		"field":      h.fieldToJSON(p.Field),
		"signingUrl": p.SigningURL,
	})
}

func (h *Handler) FieldList(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r, chi.URLParam(r, "docID"))
	if !ok {
		return
	}
	fields, err := db.ListFieldsByDocument(r.Context(), h.DB, doc.ID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	out := make([]fieldJSON, len(fields))
	for i := range fields {
		out[i] = h.fieldToJSON(&fields[i])
	}
	renderJSON(w, http.StatusOK, map[string]any{"fields": out})
}

func (h *Handler) FieldRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(id) {
		renderJSONError(w, http.StatusNotFound, string(signing.CodeNotFound), "Signature field not found.")
		return
	}
	if err := h.Svc.Remove(r.Context(), id, auth.AccountFromContext(r.Context()), actor(r)); err != nil {
		renderServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
