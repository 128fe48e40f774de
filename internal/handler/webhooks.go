package handler

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/YannKr/signflow/internal/auth"
	"github.com/YannKr/signflow/internal/db"
	"github.com/YannKr/signflow/internal/model"
)

const deliveryPageSize = 50

type webhookJSON struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Enabled   bool      `json:"enabled"`
	Secret    string    `json:"secret,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func webhookToJSON(wh *model.Webhook) webhookJSON {
	return webhookJSON{
		ID:        wh.ID,
		URL:       wh.URL,
		Events:    strings.Split(wh.Events, ","),
		Enabled:   wh.Enabled,
		CreatedAt: wh.CreatedAt,
	}
}

type webhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// WebhookCreate registers a webhook. The signing secret is only shown in
// this response.
func (h *Handler) WebhookCreate(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION", "url must be an absolute http(s) URL.")
		return
	}
	events := req.Events
	if len(events) == 0 {
		events = model.WebhookEvents
	}
	for _, e := range events {
		if !slices.Contains(model.WebhookEvents, e) {
			renderJSONError(w, http.StatusBadRequest, "VALIDATION", "Unknown event "+e+".")
			return
		}
	}

	secret, err := auth.GenerateToken(32)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	wh := &model.Webhook{
		ID:        uuid.New().String(),
		AccountID: auth.AccountFromContext(r.Context()),
		URL:       u.String(),
		Secret:    secret,
		Events:    strings.Join(events, ","),
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.CreateWebhook(r.Context(), h.DB, wh); err != nil {
		renderServiceError(w, r, err)
		return
	}
	j := webhookToJSON(wh)
	j.Secret = secret
	renderJSON(w, http.StatusCreated, map[string]any{"webhook": j})
}

func (h *Handler) WebhookList(w http.ResponseWriter, r *http.Request) {
	hooks, err := db.ListWebhooks(r.Context(), h.DB, auth.AccountFromContext(r.Context()))
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	out := make([]webhookJSON, len(hooks))
	for i := range hooks {
		out[i] = webhookToJSON(&hooks[i])
	}
	renderJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}

func (h *Handler) WebhookDelete(w http.ResponseWriter, r *http.Request) {
	ok, err := db.DeleteWebhook(r.Context(), h.DB, chi.URLParam(r, "id"), auth.AccountFromContext(r.Context()))
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	if !ok {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "Webhook not found.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deliveryJSON struct {
	ID            string     `json:"id"`
	EventType     string     `json:"eventType"`
	EventID       string     `json:"eventId"`
	AttemptNumber int        `json:"attemptNumber"`
	State         string     `json:"state"`
	Status        *int       `json:"responseStatus,omitempty"`
	Error         string     `json:"error,omitempty"`
	NextRetryAt   *time.Time `json:"nextRetryAt,omitempty"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (h *Handler) WebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	wh, err := db.GetWebhookByID(r.Context(), h.DB, chi.URLParam(r, "id"))
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	if wh == nil || wh.AccountID != auth.AccountFromContext(r.Context()) {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "Webhook not found.")
		return
	}
	deliveries, err := db.ListWebhookDeliveries(r.Context(), h.DB, wh.ID, deliveryPageSize)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	out := make([]deliveryJSON, len(deliveries))
	for i, d := range deliveries {
		out[i] = deliveryJSON{
			ID:            d.ID,
			EventType:     d.EventType,
			EventID:       d.EventID,
			AttemptNumber: d.AttemptNumber,
			State:         d.State,
			Status:        d.ResponseStatus,
			Error:         d.ErrorMessage,
			NextRetryAt:   d.NextRetryAt,
			DeliveredAt:   d.DeliveredAt,
			CreatedAt:     d.CreatedAt,
		}
	}
	renderJSON(w, http.StatusOK, map[string]any{"deliveries": out})
}
