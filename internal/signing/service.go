package signing

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YannKr/signflow/internal/model"
)

const (
	DefaultTokenTTL     = 7 * 24 * time.Hour
	DefaultClaimTimeout = 10 * time.Minute
	DefaultRejectReason = "No reason provided"
)

type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	OwnerName(ctx context.Context, ownerID string) (string, error)
	MarkDocumentPending(ctx context.Context, id string) (bool, error)
	MarkDocumentRejected(ctx context.Context, id string) (bool, error)
	ClaimCompositing(ctx context.Context, id, status string, now, staleBefore time.Time) (bool, error)
	ReleaseCompositing(ctx context.Context, id string) error
	CompleteDocument(ctx context.Context, id, signedPath string, now time.Time) (bool, error)
	SetSignedFile(ctx context.Context, id, signedPath string) error
}

type FieldStore interface {
	CreateField(ctx context.Context, f *model.SignatureField) error
	GetField(ctx context.Context, id string) (*model.SignatureField, error)
	GetFieldByToken(ctx context.Context, token string) (*model.SignatureField, error)
	ListFields(ctx context.Context, docID string) ([]model.SignatureField, error)
	SignField(ctx context.Context, token, data, kind, ip string, now time.Time) (bool, error)
	RejectField(ctx context.Context, token, reason, ip string, now time.Time) (bool, error)
	DeletePendingField(ctx context.Context, id string) (bool, error)
}

// Compositor produces the signed artifact for a document whose fields are
// all signed and returns its file reference.
type Compositor interface {
	Composite(ctx context.Context, doc *model.Document, fields []model.SignatureField) (string, error)
}

type Options struct {
	TokenTTL     time.Duration
	ClaimTimeout time.Duration
	// ClientURL is the base of the public signing links.
	ClientURL string
}

type Service struct {
	docs       DocumentStore
	fields     FieldStore
	compositor Compositor
	sink       EffectSink
	opts       Options
	now        func() time.Time
}

func NewService(docs DocumentStore, fields FieldStore, compositor Compositor, sink EffectSink, opts Options) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = DefaultClaimTimeout
	}
	opts.ClientURL = strings.TrimRight(opts.ClientURL, "/")
	if sink == nil {
		sink = Discard{}
	}
	return &Service{
		docs:       docs,
		fields:     fields,
		compositor: compositor,
		sink:       sink,
		opts:       opts,
		now:        time.Now,
	}
}

// SigningURL is the public link for token.
func (s *Service) SigningURL(token string) string {
	return s.opts.ClientURL + "/sign/" + token
}

type PlaceRequest struct {
	DocumentID  string
	CallerID    string
	SignerEmail string
	SignerName  string
	Page        int
	X, Y        *float64
	// Width and Height fall back to the 200x50 default when nil.
	Width, Height *float64
	Actor         Actor
}

type Placement struct {
	Field      *model.SignatureField
	SigningURL string
}

func (s *Service) Place(ctx context.Context, req PlaceRequest) (*Placement, error) {
	email, err := normalizeEmail(req.SignerEmail)
	if err != nil {
		return nil, err
	}
	if req.Page < 1 {
		return nil, Validation("Page must be 1 or greater.")
	}
	if req.X == nil || req.Y == nil {
		return nil, Validation("Field position (x, y) is required.")
	}
	width, height := float64(model.DefaultFieldWidth), float64(model.DefaultFieldHeight)
	if req.Width != nil {
		width = *req.Width
	}
	if req.Height != nil {
		height = *req.Height
	}
	if width <= 0 || height <= 0 {
		return nil, Validation("Field width and height must be positive.")
	}

	doc, err := s.ownedDocument(ctx, req.DocumentID, req.CallerID)
	if err != nil {
		return nil, err
	}
	if doc.Status == model.DocumentCompleted || doc.Status == model.DocumentRejected {
		return nil, Conflict(fmt.Sprintf("Document is %s; no further fields can be placed.", doc.Status))
	}

	now := s.now()
	f := &model.SignatureField{
		ID:             uuid.New().String(),
		DocumentID:     doc.ID,
		SignerEmail:    email,
		SignerName:     strings.TrimSpace(req.SignerName),
		Page:           req.Page,
		X:              *req.X,
		Y:              *req.Y,
		Width:          width,
		Height:         height,
		Status:         model.FieldPending,
		SignatureType:  model.PayloadText,
		Token:          uuid.New().String(),
		TokenExpiresAt: now.Add(s.opts.TokenTTL),
		CreatedAt:      now,
	}
	if err := s.fields.CreateField(ctx, f); err != nil {
		return nil, fmt.Errorf("create field: %w", err)
	}

	ok, err := s.docs.MarkDocumentPending(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("mark document pending: %w", err)
	}
	if !ok {
		// Completed or rejected between the read and the write.
		if _, derr := s.fields.DeletePendingField(ctx, f.ID); derr != nil {
			slog.Error("remove orphaned field", "field", f.ID, "error", derr)
		}
		return nil, Conflict("Document is no longer accepting fields.")
	}

	s.sink.Apply(ctx, []Effect{
		audit(doc.ID, doc.OwnerID, model.AuditFieldPlaced, req.Actor, map[string]any{
			"fieldId":     f.ID,
			"signerEmail": f.SignerEmail,
			"page":        f.Page,
		}),
		publish(doc.ID, doc.OwnerID, model.EventFieldPlaced, map[string]any{
			"fieldId":     f.ID,
			"signerEmail": f.SignerEmail,
		}),
	})

	return &Placement{Field: f, SigningURL: s.SigningURL(f.Token)}, nil
}

// PublicDocument is the part of a document a signer may see.
type PublicDocument struct {
	Title      string
	FileName   string
	Status     string
	TotalPages int
}

// PublicField is the signer's own field.
type PublicField struct {
	ID          string
	SignerEmail string
	SignerName  string
	Page        int
	X, Y        float64
	Width       float64
	Height      float64
	Status      string
	ExpiresAt   time.Time
}

type PublicView struct {
	Document  PublicDocument
	OwnerName string
	Field     PublicField
}

// ResolveByToken returns the signer view for an actionable token.
func (s *Service) ResolveByToken(ctx context.Context, token string, actor Actor) (*PublicView, error) {
	f, err := s.actionableField(ctx, token)
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.GetDocument(ctx, f.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return nil, errTokenNotFound
	}

	ownerName, err := s.docs.OwnerName(ctx, doc.OwnerID)
	if err != nil {
		slog.Warn("owner name lookup", "document", doc.ID, "error", err)
	}

	actor.Email, actor.Name = f.SignerEmail, f.SignerName
	s.sink.Apply(ctx, []Effect{
		audit(doc.ID, doc.OwnerID, model.AuditLinkAccessed, actor, map[string]any{"fieldId": f.ID}),
	})

	return &PublicView{
		Document: PublicDocument{
			Title:      doc.Title,
			FileName:   doc.FileName,
			Status:     doc.Status,
			TotalPages: doc.TotalPages,
		},
		OwnerName: ownerName,
		Field: PublicField{
			ID:          f.ID,
			SignerEmail: f.SignerEmail,
			SignerName:  f.SignerName,
			Page:        f.Page,
			X:           f.X,
			Y:           f.Y,
			Width:       f.Width,
			Height:      f.Height,
			Status:      f.Status,
			ExpiresAt:   f.TokenExpiresAt,
		},
	}, nil
}

// FieldForToken returns the field and document behind an actionable token
// without recording an access.
func (s *Service) FieldForToken(ctx context.Context, token string) (*model.SignatureField, *model.Document, error) {
	f, err := s.actionableField(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	doc, err := s.docs.GetDocument(ctx, f.DocumentID)
	if err != nil {
		return nil, nil, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return nil, nil, errTokenNotFound
	}
	return f, doc, nil
}

type SignRequest struct {
	Token   string
	Payload string
	// Kind is one of model.PayloadText, PayloadDraw, PayloadImage; empty
	// means text.
	Kind  string
	Actor Actor
}

type SignResult struct {
	Field      *model.SignatureField
	Completion Completion
}

func (s *Service) Sign(ctx context.Context, req SignRequest) (*SignResult, error) {
	f, err := s.actionableField(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Payload) == "" {
		return nil, Validation("Signature data is required.")
	}
	kind := req.Kind
	if kind == "" {
		kind = model.PayloadText
	}
	switch kind {
	case model.PayloadText, model.PayloadDraw, model.PayloadImage:
	default:
		return nil, Validation("Signature type must be text, draw or image.")
	}

	now := s.now()
	won, err := s.fields.SignField(ctx, req.Token, req.Payload, kind, req.Actor.IP, now)
	if err != nil {
		return nil, fmt.Errorf("sign field: %w", err)
	}
	if !won {
		return nil, s.classifyLoser(ctx, req.Token)
	}

	doc, err := s.docs.GetDocument(ctx, f.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	ownerID := ""
	if doc != nil {
		ownerID = doc.OwnerID
	}

	f.Status = model.FieldSigned
	f.SignatureData = &req.Payload
	f.SignatureType = kind
	f.SignedAt = &now
	if req.Actor.IP != "" {
		ip := req.Actor.IP
		f.IPAddress = &ip
	}

	actor := req.Actor
	actor.Email, actor.Name = f.SignerEmail, f.SignerName
	s.sink.Apply(ctx, []Effect{
		audit(f.DocumentID, ownerID, model.AuditFieldSigned, actor, map[string]any{
			"fieldId":       f.ID,
			"signatureType": kind,
		}),
		publish(f.DocumentID, ownerID, model.EventFieldSigned, map[string]any{
			"fieldId":     f.ID,
			"signerEmail": f.SignerEmail,
		}),
	})

	completion, err := s.RecomputeDocumentStatus(ctx, f.DocumentID)
	if err != nil {
		// The signature is recorded; only the aggregate step failed.
		slog.Error("recompute document status", "document", f.DocumentID, "error", err)
		completion = Completion{Status: model.DocumentPending, Err: err}
	}
	return &SignResult{Field: f, Completion: completion}, nil
}

type RejectRequest struct {
	Token  string
	Reason string
	Actor  Actor
}

type RejectResult struct {
	Field          *model.SignatureField
	DocumentStatus string
}

func (s *Service) Reject(ctx context.Context, req RejectRequest) (*RejectResult, error) {
	f, err := s.actionableField(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = DefaultRejectReason
	}

	won, err := s.fields.RejectField(ctx, req.Token, reason, req.Actor.IP, s.now())
	if err != nil {
		return nil, fmt.Errorf("reject field: %w", err)
	}
	if !won {
		return nil, s.classifyLoser(ctx, req.Token)
	}
	f.Status = model.FieldRejected
	f.RejectionReason = &reason

	flipped, err := s.docs.MarkDocumentRejected(ctx, f.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("mark document rejected: %w", err)
	}
	doc, err := s.docs.GetDocument(ctx, f.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	ownerID, status := "", model.DocumentRejected
	if doc != nil {
		ownerID, status = doc.OwnerID, doc.Status
	}

	actor := req.Actor
	actor.Email, actor.Name = f.SignerEmail, f.SignerName
	effects := []Effect{
		audit(f.DocumentID, ownerID, model.AuditFieldRejected, actor, map[string]any{
			"fieldId": f.ID,
			"reason":  reason,
		}),
		publish(f.DocumentID, ownerID, model.EventFieldRejected, map[string]any{
			"fieldId":     f.ID,
			"signerEmail": f.SignerEmail,
			"reason":      reason,
		}),
	}
	if flipped {
		effects = append(effects, publish(f.DocumentID, ownerID, model.EventDocumentRejected, map[string]any{
			"fieldId": f.ID,
		}))
	}
	s.sink.Apply(ctx, effects)

	return &RejectResult{Field: f, DocumentStatus: status}, nil
}

// Remove deletes a pending field on behalf of the document owner.
func (s *Service) Remove(ctx context.Context, fieldID, callerID string, actor Actor) error {
	f, err := s.fields.GetField(ctx, fieldID)
	if err != nil {
		return fmt.Errorf("get field: %w", err)
	}
	if f == nil {
		return NotFound("Signature field not found.")
	}
	doc, err := s.ownedDocument(ctx, f.DocumentID, callerID)
	if err != nil {
		return err
	}
	if f.Status != model.FieldPending {
		return Conflict(fmt.Sprintf("Only pending fields can be deleted; this one is %s.", f.Status))
	}
	ok, err := s.fields.DeletePendingField(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("delete field: %w", err)
	}
	if !ok {
		return Conflict("Field was acted on before it could be deleted.")
	}

	s.sink.Apply(ctx, []Effect{
		audit(doc.ID, doc.OwnerID, model.AuditFieldDeleted, actor, map[string]any{
			"fieldId":     f.ID,
			"signerEmail": f.SignerEmail,
		}),
	})

	// The removed field may have been the last one outstanding.
	if _, err := s.RecomputeDocumentStatus(ctx, doc.ID); err != nil {
		slog.Error("recompute document status", "document", doc.ID, "error", err)
	}
	return nil
}

func (s *Service) ownedDocument(ctx context.Context, docID, callerID string) (*model.Document, error) {
	doc, err := s.docs.GetDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return nil, NotFound("Document not found.")
	}
	if doc.OwnerID != callerID {
		return nil, Forbidden("You do not own this document.")
	}
	return doc, nil
}

// actionableField resolves token and applies the public guard: unknown,
// expired, then already actioned.
func (s *Service) actionableField(ctx context.Context, token string) (*model.SignatureField, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, errTokenNotFound
	}
	f, err := s.fields.GetFieldByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get field by token: %w", err)
	}
	if f == nil {
		return nil, errTokenNotFound
	}
	if err := guard(f, s.now()); err != nil {
		return nil, err
	}
	return f, nil
}

func guard(f *model.SignatureField, now time.Time) error {
	if !now.Before(f.TokenExpiresAt) {
		return errTokenExpired
	}
	switch f.Status {
	case model.FieldSigned:
		return errAlreadySigned
	case model.FieldRejected:
		return errAlreadyRejected
	}
	return nil
}

// classifyLoser explains why a compare-and-set on token did not apply.
func (s *Service) classifyLoser(ctx context.Context, token string) error {
	f, err := s.fields.GetFieldByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("get field by token: %w", err)
	}
	if f == nil {
		return errTokenNotFound
	}
	if err := guard(f, s.now()); err != nil {
		return err
	}
	return Conflict("The signature could not be recorded; try again.")
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", Validation("Signer email is required.")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", Validation("Signer email is not a valid address.")
	}
	return strings.ToLower(addr.Address), nil
}
