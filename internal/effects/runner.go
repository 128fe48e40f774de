// Package effects carries out the side effects of committed signing
// transitions: audit trail, live events, webhooks, owner email and
// compositing retries. Failures are logged and never reported back.
package effects

import (
	"context"
	"database/sql"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YannKr/signflow/internal/db"
	"github.com/YannKr/signflow/internal/model"
	"github.com/YannKr/signflow/internal/signing"
	"github.com/YannKr/signflow/internal/sse"
)

const DefaultRetryDelay = time.Minute

type WebhookDispatcher interface {
	Dispatch(ctx context.Context, accountID, documentID, eventType string, data any)
}

type CompletionMailer interface {
	Enabled() bool
	SendDocumentCompleted(to, ownerName, title string, signers int) error
}

type Runner struct {
	DB       *sql.DB
	Hub      *sse.Hub
	Webhooks WebhookDispatcher
	Mailer   CompletionMailer
	// RetryDelay is how long a failed compositing waits before the worker
	// picks it up.
	RetryDelay time.Duration

	wg sync.WaitGroup
}

var _ signing.EffectSink = (*Runner)(nil)

func (r *Runner) Apply(ctx context.Context, effects []signing.Effect) {
	for _, e := range effects {
		switch e.Kind {
		case signing.EffectAudit:
			r.audit(ctx, e)
		case signing.EffectPublish:
			r.publish(ctx, e)
		case signing.EffectNotifyCompleted:
			r.wg.Add(1)
			go func(e signing.Effect) {
				defer r.wg.Done()
				r.notifyCompleted(context.WithoutCancel(ctx), e)
			}(e)
		case signing.EffectScheduleComposite:
			r.scheduleComposite(ctx, e)
		default:
			slog.Warn("unknown effect", "kind", e.Kind, "document", e.DocumentID)
		}
	}
}

// Wait blocks until background notifications have finished.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) audit(ctx context.Context, e signing.Effect) {
	entry := &model.AuditEntry{
		ID:             uuid.New().String(),
		DocumentID:     e.DocumentID,
		Action:         e.Action,
		AccountID:      e.Actor.AccountID,
		PerformerEmail: e.Actor.Email,
		PerformerName:  e.Actor.Name,
		IPAddress:      e.Actor.IP,
		UserAgent:      e.Actor.UserAgent,
		Metadata:       e.Metadata,
	}
	if err := db.InsertAuditEntry(ctx, r.DB, entry); err != nil {
		slog.Error("audit write failed", "document", e.DocumentID, "action", e.Action, "error", err)
	}
}

func (r *Runner) publish(ctx context.Context, e signing.Effect) {
	data := make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		data[k] = v
	}
	data["documentId"] = e.DocumentID

	if r.Hub != nil {
		ev, err := sse.NewEvent(e.Action, data)
		if err != nil {
			slog.Error("sse event encode", "document", e.DocumentID, "event", e.Action, "error", err)
		} else {
			r.Hub.Publish(sse.DocumentTopic(e.DocumentID), ev)
		}
	}
	if r.Webhooks != nil && slices.Contains(model.WebhookEvents, e.Action) {
		r.Webhooks.Dispatch(ctx, e.OwnerID, e.DocumentID, e.Action, data)
	}
}

func (r *Runner) notifyCompleted(ctx context.Context, e signing.Effect) {
	if r.Mailer == nil || !r.Mailer.Enabled() {
		return
	}
	doc, err := db.GetDocument(ctx, r.DB, e.DocumentID)
	if err != nil || doc == nil {
		slog.Error("completion email: load document", "document", e.DocumentID, "error", err)
		return
	}
	owner, err := db.GetAccountByID(r.DB, doc.OwnerID)
	if err != nil || owner == nil {
		slog.Error("completion email: load owner", "document", e.DocumentID, "error", err)
		return
	}
	fields, err := db.ListFieldsByDocument(ctx, r.DB, doc.ID)
	if err != nil {
		slog.Error("completion email: list fields", "document", e.DocumentID, "error", err)
		return
	}
	if err := r.Mailer.SendDocumentCompleted(owner.Email, owner.Name, doc.Title, len(fields)); err != nil {
		slog.Error("completion email failed", "document", e.DocumentID, "to", owner.Email, "error", err)
		return
	}
	slog.Info("completion email sent", "document", e.DocumentID)
}

func (r *Runner) scheduleComposite(ctx context.Context, e signing.Effect) {
	delay := r.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	job := &model.Job{
		ID:         uuid.New().String(),
		JobType:    model.JobComposite,
		DocumentID: e.DocumentID,
		RunAfter:   time.Now().Add(delay),
	}
	exists, err := db.EnqueueJobIfNotExists(ctx, r.DB, job)
	if err != nil {
		slog.Error("enqueue composite retry", "document", e.DocumentID, "error", err)
		return
	}
	if !exists {
		slog.Info("composite retry scheduled", "document", e.DocumentID, "run_after", job.RunAfter)
	}
}
