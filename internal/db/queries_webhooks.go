package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/YannKr/signflow/internal/model"
)

func CreateWebhook(ctx context.Context, database *sql.DB, w *model.Webhook) error {
	_, err := database.ExecContext(ctx,
		`INSERT INTO webhooks (id, account_id, url, secret, events, enabled) VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.AccountID, w.URL, w.Secret, w.Events, boolToInt(w.Enabled),
	)
	return err
}

func scanWebhooks(rows *sql.Rows) ([]model.Webhook, error) {
	defer rows.Close()
	var webhooks []model.Webhook
	for rows.Next() {
		var w model.Webhook
		var enabled int
		var createdAt SQLiteTime
		if err := rows.Scan(&w.ID, &w.AccountID, &w.URL, &w.Secret, &w.Events, &enabled, &createdAt); err != nil {
			return nil, err
		}
		w.Enabled = enabled != 0
		w.CreatedAt = createdAt.Time
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func ListWebhooks(ctx context.Context, database *sql.DB, accountID string) ([]model.Webhook, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT id, account_id, url, secret, events, enabled, created_at
		 FROM webhooks WHERE account_id = ? ORDER BY created_at DESC`, accountID,
	)
	if err != nil {
		return nil, err
	}
	return scanWebhooks(rows)
}

func GetWebhookByID(ctx context.Context, database *sql.DB, id string) (*model.Webhook, error) {
	w := &model.Webhook{}
	var enabled int
	var createdAt SQLiteTime
	err := database.QueryRowContext(ctx,
		`SELECT id, account_id, url, secret, events, enabled, created_at FROM webhooks WHERE id = ?`, id,
	).Scan(&w.ID, &w.AccountID, &w.URL, &w.Secret, &w.Events, &enabled, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.Enabled = enabled != 0
	w.CreatedAt = createdAt.Time
	return w, nil
}

// DeleteWebhook reports whether a webhook owned by accountID was removed.
func DeleteWebhook(ctx context.Context, database *sql.DB, id, accountID string) (bool, error) {
	res, err := database.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func ListEnabledWebhooks(ctx context.Context, database *sql.DB, accountID, eventType string) ([]model.Webhook, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT id, account_id, url, secret, events, enabled, created_at
		 FROM webhooks WHERE account_id = ? AND enabled = 1 ORDER BY created_at ASC`, accountID,
	)
	if err != nil {
		return nil, err
	}
	all, err := scanWebhooks(rows)
	if err != nil {
		return nil, err
	}

	var matched []model.Webhook
	for _, w := range all {
		for _, e := range strings.Split(w.Events, ",") {
			if strings.TrimSpace(e) == eventType {
				matched = append(matched, w)
				break
			}
		}
	}
	return matched, nil
}

func CreateWebhookDelivery(ctx context.Context, database *sql.DB, d *model.WebhookDelivery) error {
	_, err := database.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, webhook_id, event_type, event_id, payload_json, attempt_number, state, next_retry_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WebhookID, d.EventType, d.EventID, d.PayloadJSON, d.AttemptNumber, d.State, nullableTime(d.NextRetryAt),
	)
	return err
}

func UpdateWebhookDelivery(ctx context.Context, database *sql.DB, d *model.WebhookDelivery) error {
	_, err := database.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET attempt_number = ?, response_status = ?, response_body_preview = ?, error_message = ?,
		     state = ?, next_retry_at = ?, delivered_at = ?
		 WHERE id = ?`,
		d.AttemptNumber, d.ResponseStatus, d.ResponseBodyPreview, d.ErrorMessage,
		d.State, nullableTime(d.NextRetryAt), nullableTime(d.DeliveredAt), d.ID,
	)
	return err
}

const deliveryColumns = `id, webhook_id, event_type, event_id, payload_json, attempt_number, response_status,
	response_body_preview, error_message, state, next_retry_at, delivered_at, created_at`

func scanDeliveries(rows *sql.Rows) ([]model.WebhookDelivery, error) {
	defer rows.Close()
	var out []model.WebhookDelivery
	for rows.Next() {
		var d model.WebhookDelivery
		var status sql.NullInt64
		var nextRetry, delivered sql.NullString
		var createdAt SQLiteTime
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.EventID, &d.PayloadJSON, &d.AttemptNumber,
			&status, &d.ResponseBodyPreview, &d.ErrorMessage, &d.State, &nextRetry, &delivered, &createdAt); err != nil {
			return nil, err
		}
		if status.Valid {
			code := int(status.Int64)
			d.ResponseStatus = &code
		}
		d.NextRetryAt = parseNullTime(nextRetry)
		d.DeliveredAt = parseNullTime(delivered)
		d.CreatedAt = createdAt.Time
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListDueWebhookDeliveries returns failed deliveries whose retry time has passed.
func ListDueWebhookDeliveries(ctx context.Context, database *sql.DB, now time.Time) ([]model.WebhookDelivery, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT `+deliveryColumns+`
		 FROM webhook_deliveries
		 WHERE state = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		 ORDER BY next_retry_at ASC LIMIT 100`, formatTime(now),
	)
	if err != nil {
		return nil, err
	}
	return scanDeliveries(rows)
}

// ListWebhookDeliveries returns the most recent deliveries of one webhook.
func ListWebhookDeliveries(ctx context.Context, database *sql.DB, webhookID string, limit int) ([]model.WebhookDelivery, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT `+deliveryColumns+`
		 FROM webhook_deliveries WHERE webhook_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, webhookID, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanDeliveries(rows)
}

func PruneOldWebhookDeliveries(ctx context.Context, database *sql.DB, before time.Time) (int64, error) {
	res, err := database.ExecContext(ctx,
		`DELETE FROM webhook_deliveries WHERE state IN ('delivered', 'exhausted') AND created_at < ?`,
		formatTime(before),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
