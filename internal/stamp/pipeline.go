package stamp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/YannKr/signflow/internal/model"
)

// ArtifactStore reads originals and publishes derived artifacts.
type ArtifactStore interface {
	ReadOriginal(path string) ([]byte, error)
	PublishSigned(docID, originalName string, data []byte) (string, error)
}

// Pipeline composites a document's signed fields onto its original PDF and
// publishes the result.
type Pipeline struct {
	Files ArtifactStore
}

func (p *Pipeline) Composite(ctx context.Context, doc *model.Document, fields []model.SignatureField) (string, error) {
	src, err := p.Files.ReadOriginal(doc.FilePath)
	if err != nil {
		return "", err
	}

	signed := make([]model.SignatureField, 0, len(fields))
	for _, f := range fields {
		if f.Status == model.FieldSigned {
			signed = append(signed, f)
		}
	}
	sort.SliceStable(signed, func(i, j int) bool { return signed[i].CreatedAt.Before(signed[j].CreatedAt) })

	marks := make([]Mark, len(signed))
	for i, f := range signed {
		marks[i] = markFor(f)
	}

	res, err := Apply(src, marks)
	if err != nil {
		return "", fmt.Errorf("stamp %s: %w", doc.ID, err)
	}
	for _, i := range res.Skipped {
		slog.Warn("signature field outside document, skipped",
			"document", doc.ID, "field", signed[i].ID, "page", signed[i].Page, "pages", res.PageCount)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := p.Files.PublishSigned(doc.ID, doc.FileName, res.PDF)
	if err != nil {
		return "", err
	}
	slog.Info("signed pdf written", "document", doc.ID, "marks", len(res.Placed), "bytes", len(res.PDF))
	return path, nil
}

func markFor(f model.SignatureField) Mark {
	m := Mark{
		Page:     f.Page,
		X:        f.X,
		Y:        f.Y,
		Width:    f.Width,
		Height:   f.Height,
		Kind:     Kind(f.SignatureType),
		Fallback: f.DisplayName(),
	}
	if m.Kind == "" {
		m.Kind = KindText
	}
	if f.SignatureData != nil {
		m.Payload = *f.SignatureData
	}
	if f.SignedAt != nil {
		m.SignedAt = *f.SignedAt
	}
	return m
}
