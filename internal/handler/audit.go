package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/YannKr/signflow/internal/db"
)

type auditJSON struct {
	ID             string         `json:"id"`
	Action         string         `json:"action"`
	AccountID      string         `json:"accountId,omitempty"`
	PerformerEmail string         `json:"performerEmail,omitempty"`
	PerformerName  string         `json:"performerName,omitempty"`
	IPAddress      string         `json:"ipAddress,omitempty"`
	UserAgent      string         `json:"userAgent,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"createdAt"`
}

func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r, chi.URLParam(r, "docID"))
	if !ok {
		return
	}
	entries, err := db.ListAuditEntries(r.Context(), h.DB, doc.ID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	out := make([]auditJSON, len(entries))
	for i, e := range entries {
		meta := e.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		out[i] = auditJSON{
			ID:             e.ID,
			Action:         e.Action,
			AccountID:      e.AccountID,
			PerformerEmail: e.PerformerEmail,
			PerformerName:  e.PerformerName,
			IPAddress:      e.IPAddress,
			UserAgent:      e.UserAgent,
			Metadata:       meta,
			CreatedAt:      e.CreatedAt,
		}
	}
	renderJSON(w, http.StatusOK, map[string]any{"entries": out})
}
