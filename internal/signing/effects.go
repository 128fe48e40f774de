package signing

import "context"

type EffectKind int

const (
	// EffectAudit appends an audit entry.
	EffectAudit EffectKind = iota + 1
	// EffectPublish notifies live subscribers and webhooks of the document owner.
	EffectPublish
	// EffectNotifyCompleted tells the owner their document is fully signed.
	EffectNotifyCompleted
	// EffectScheduleComposite queues a background compositing retry.
	EffectScheduleComposite
)

// Actor identifies who caused a transition. Public signing actions carry
// the signer identity; owner actions carry the account.
type Actor struct {
	AccountID string
	Email     string
	Name      string
	IP        string
	UserAgent string
}

// Effect is a side observation of a committed transition. Applying it is
// best effort and never affects the outcome of the operation.
type Effect struct {
	Kind       EffectKind
	DocumentID string
	OwnerID    string
	// Action is the audit action for EffectAudit and the event type for
	// EffectPublish.
	Action   string
	Actor    Actor
	Metadata map[string]any
}

// EffectSink executes effects after the transition that produced them.
type EffectSink interface {
	Apply(ctx context.Context, effects []Effect)
}

// Discard drops every effect.
type Discard struct{}

func (Discard) Apply(context.Context, []Effect) {}

func audit(docID, ownerID, action string, actor Actor, meta map[string]any) Effect {
	return Effect{Kind: EffectAudit, DocumentID: docID, OwnerID: ownerID, Action: action, Actor: actor, Metadata: meta}
}

func publish(docID, ownerID, event string, data map[string]any) Effect {
	return Effect{Kind: EffectPublish, DocumentID: docID, OwnerID: ownerID, Action: event, Metadata: data}
}
