package signing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/YannKr/signflow/internal/model"
)

// Completion is the outcome of a completion check.
type Completion struct {
	// Status is the document status after the check.
	Status string
	// Composited is true when this call ran the pipeline and published the
	// signed artifact.
	Composited bool
	SignedFile string
	// Err is a *Error with CodePipelineFailure when compositing was attempted
	// and failed. The document then stays pending.
	Err error
}

// RecomputeDocumentStatus derives the document status from its fields. When
// every field is signed and the document is still pending, the caller that
// wins the compositing claim runs the pipeline and completes the document;
// any concurrent caller returns without compositing.
func (s *Service) RecomputeDocumentStatus(ctx context.Context, docID string) (Completion, error) {
	doc, err := s.docs.GetDocument(ctx, docID)
	if err != nil {
		return Completion{}, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return Completion{}, NotFound("Document not found.")
	}
	if doc.Status != model.DocumentPending {
		return Completion{Status: doc.Status}, nil
	}

	fields, err := s.fields.ListFields(ctx, docID)
	if err != nil {
		return Completion{}, fmt.Errorf("list fields: %w", err)
	}
	if len(fields) == 0 {
		return Completion{Status: doc.Status}, nil
	}
	for _, f := range fields {
		if f.Status == model.FieldRejected {
			if _, err := s.docs.MarkDocumentRejected(ctx, docID); err != nil {
				return Completion{}, fmt.Errorf("mark document rejected: %w", err)
			}
			return Completion{Status: model.DocumentRejected}, nil
		}
	}
	for _, f := range fields {
		if f.Status != model.FieldSigned {
			return Completion{Status: doc.Status}, nil
		}
	}

	now := s.now()
	claimed, err := s.docs.ClaimCompositing(ctx, docID, model.DocumentPending, now, now.Add(-s.opts.ClaimTimeout))
	if err != nil {
		return Completion{}, fmt.Errorf("claim compositing: %w", err)
	}
	if !claimed {
		slog.Debug("compositing already claimed", "document", docID)
		return Completion{Status: doc.Status}, nil
	}

	path, cerr := s.composite(ctx, doc, fields)
	if cerr != nil {
		return s.compositeFailed(ctx, doc, cerr, false), nil
	}

	ok, err := s.docs.CompleteDocument(ctx, docID, path, s.now())
	if err != nil {
		if rerr := s.docs.ReleaseCompositing(ctx, docID); rerr != nil {
			slog.Error("release compositing claim", "document", docID, "error", rerr)
		}
		return Completion{}, fmt.Errorf("complete document: %w", err)
	}
	if !ok {
		// Rejected while compositing; rejection is sticky.
		if err := s.docs.ReleaseCompositing(ctx, docID); err != nil {
			slog.Error("release compositing claim", "document", docID, "error", err)
		}
		return Completion{Status: model.DocumentRejected}, nil
	}

	s.sink.Apply(ctx, []Effect{
		audit(docID, doc.OwnerID, model.AuditPDFGenerated, Actor{}, map[string]any{
			"signedFile": path,
			"fields":     len(fields),
		}),
		publish(docID, doc.OwnerID, model.EventDocumentCompleted, map[string]any{
			"title": doc.Title,
		}),
		{Kind: EffectNotifyCompleted, DocumentID: docID, OwnerID: doc.OwnerID},
	})
	slog.Info("document completed", "document", docID, "signed_file", path)

	return Completion{Status: model.DocumentCompleted, Composited: true, SignedFile: path}, nil
}

// Regenerate re-runs compositing on the owner's request. A pending document
// whose fields are all signed is completed; a completed document gets its
// signed artifact rebuilt and overwritten.
func (s *Service) Regenerate(ctx context.Context, docID, callerID string, actor Actor) (Completion, error) {
	doc, err := s.ownedDocument(ctx, docID, callerID)
	if err != nil {
		return Completion{}, err
	}

	switch doc.Status {
	case model.DocumentPending:
		c, err := s.RecomputeDocumentStatus(ctx, docID)
		if err != nil {
			return c, err
		}
		if c.Status == model.DocumentPending && !c.Composited && c.Err == nil {
			return c, Conflict("Not every signature field has been signed yet.")
		}
		return c, nil
	case model.DocumentCompleted:
	default:
		return Completion{}, Conflict(fmt.Sprintf("A %s document has no signed PDF to generate.", doc.Status))
	}

	fields, err := s.fields.ListFields(ctx, docID)
	if err != nil {
		return Completion{}, fmt.Errorf("list fields: %w", err)
	}
	now := s.now()
	claimed, err := s.docs.ClaimCompositing(ctx, docID, model.DocumentCompleted, now, now.Add(-s.opts.ClaimTimeout))
	if err != nil {
		return Completion{}, fmt.Errorf("claim compositing: %w", err)
	}
	if !claimed {
		return Completion{Status: doc.Status}, Conflict("The signed PDF is already being generated.")
	}

	path, cerr := s.composite(ctx, doc, fields)
	if cerr != nil {
		return s.compositeFailed(ctx, doc, cerr, true), nil
	}
	if err := s.docs.SetSignedFile(ctx, docID, path); err != nil {
		return Completion{}, fmt.Errorf("set signed file: %w", err)
	}

	s.sink.Apply(ctx, []Effect{
		audit(docID, doc.OwnerID, model.AuditPDFGenerated, actor, map[string]any{
			"signedFile":  path,
			"fields":      len(fields),
			"regenerated": true,
		}),
	})
	return Completion{Status: model.DocumentCompleted, Composited: true, SignedFile: path}, nil
}

func (s *Service) composite(ctx context.Context, doc *model.Document, fields []model.SignatureField) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compositor panic: %v", r)
		}
	}()
	return s.compositor.Composite(ctx, doc, fields)
}

// compositeFailed releases the claim and records the failure. The document
// keeps its status; a background retry is queued unless the caller asked
// for the regeneration explicitly.
func (s *Service) compositeFailed(ctx context.Context, doc *model.Document, cause error, manual bool) Completion {
	slog.Error("compositing failed", "document", doc.ID, "error", cause)
	if err := s.docs.ReleaseCompositing(ctx, doc.ID); err != nil {
		slog.Error("release compositing claim", "document", doc.ID, "error", err)
	}
	effects := []Effect{
		audit(doc.ID, doc.OwnerID, model.AuditPDFFailed, Actor{}, map[string]any{"error": cause.Error()}),
	}
	if !manual {
		effects = append(effects, Effect{Kind: EffectScheduleComposite, DocumentID: doc.ID, OwnerID: doc.OwnerID})
	}
	s.sink.Apply(ctx, effects)
	return Completion{Status: doc.Status, Err: pipelineFailure(cause)}
}
