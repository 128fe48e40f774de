package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YannKr/signflow/internal/db"
	"github.com/YannKr/signflow/internal/model"
)

const SignatureHeader = "X-Signflow-Signature"

const (
	StatePending   = "pending"
	StateDelivered = "delivered"
	StateFailed    = "failed"
	StateExhausted = "exhausted"
)

var backoffSchedule = []time.Duration{
	30 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

func nextRetryAt(now time.Time, attemptNumber int) *time.Time {
	idx := attemptNumber - 1
	if idx < 0 || idx >= len(backoffSchedule) {
		return nil
	}
	t := now.Add(backoffSchedule[idx])
	return &t
}

// Dispatcher fans document events out to the owner's enabled webhooks.
type Dispatcher struct {
	DB     *sql.DB
	Client *http.Client

	wg sync.WaitGroup
}

type Event struct {
	EventType  string `json:"event_type"`
	EventID    string `json:"event_id"`
	Timestamp  string `json:"timestamp"`
	DocumentID string `json:"document_id"`
	Data       any    `json:"data"`
}

// Dispatch records one delivery per matching webhook and attempts each in
// the background. Failed attempts are picked up by the Retrier.
func (d *Dispatcher) Dispatch(ctx context.Context, accountID, documentID, eventType string, data any) {
	if d == nil || d.DB == nil {
		return
	}

	webhooks, err := db.ListEnabledWebhooks(ctx, d.DB, accountID, eventType)
	if err != nil {
		slog.Error("webhook lookup", "account", accountID, "error", err)
		return
	}
	if len(webhooks) == 0 {
		return
	}

	eventID := uuid.New().String()
	now := time.Now().UTC()
	payload, err := json.Marshal(Event{
		EventType:  eventType,
		EventID:    eventID,
		Timestamp:  now.Format(time.RFC3339),
		DocumentID: documentID,
		Data:       data,
	})
	if err != nil {
		slog.Error("webhook marshal", "event", eventType, "error", err)
		return
	}

	for i := range webhooks {
		wh := webhooks[i]
		delivery := &model.WebhookDelivery{
			ID:            uuid.New().String(),
			WebhookID:     wh.ID,
			EventType:     eventType,
			EventID:       eventID,
			PayloadJSON:   string(payload),
			AttemptNumber: 1,
			State:         StatePending,
			NextRetryAt:   &now,
		}
		if err := db.CreateWebhookDelivery(ctx, d.DB, delivery); err != nil {
			slog.Error("webhook: create delivery record", "webhook", wh.ID, "error", err)
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.attemptAndRecord(context.WithoutCancel(ctx), &wh, delivery)
		}()
	}
}

// Wait blocks until in-flight first attempts have been recorded.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (d *Dispatcher) attemptAndRecord(ctx context.Context, wh *model.Webhook, delivery *model.WebhookDelivery) {
	status, preview, err := postWebhook(ctx, d.client(), wh.URL, wh.Secret, []byte(delivery.PayloadJSON))

	delivery.ResponseStatus = status
	delivery.ResponseBodyPreview = preview

	now := time.Now()
	if err == nil {
		delivery.State = StateDelivered
		delivery.NextRetryAt = nil
		delivery.DeliveredAt = &now
		delivery.ErrorMessage = ""
		slog.Info("webhook delivered", "url", wh.URL, "event", delivery.EventType)
	} else {
		delivery.ErrorMessage = err.Error()
		nextAt := nextRetryAt(now, delivery.AttemptNumber)
		if nextAt == nil {
			delivery.State = StateExhausted
			delivery.NextRetryAt = nil
			slog.Warn("webhook exhausted", "url", wh.URL, "event", delivery.EventType, "attempts", delivery.AttemptNumber)
		} else {
			delivery.State = StateFailed
			delivery.NextRetryAt = nextAt
			slog.Warn("webhook failed, will retry", "url", wh.URL, "event", delivery.EventType,
				"attempt", delivery.AttemptNumber, "next_retry", nextAt)
		}
	}

	if uerr := db.UpdateWebhookDelivery(ctx, d.DB, delivery); uerr != nil {
		slog.Error("webhook: update delivery record", "delivery", delivery.ID, "error", uerr)
	}
}

// Sign returns the signature header value for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(ctx context.Context, client *http.Client, url, secret string, payload []byte) (statusCode *int, preview string, err error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if reqErr != nil {
		return nil, "", fmt.Errorf("create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(secret, payload))

	resp, respErr := client.Do(req)
	if respErr != nil {
		return nil, "", fmt.Errorf("post: %w", respErr)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
	preview = string(body)
	code := resp.StatusCode
	statusCode = &code

	if resp.StatusCode >= 400 {
		return statusCode, preview, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return statusCode, preview, nil
}
