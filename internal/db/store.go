package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/YannKr/signflow/internal/model"
)

// Store adapts the query functions to the signing service's store
// interfaces.
type Store struct {
	DB *sql.DB
}

func (s *Store) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return GetDocument(ctx, s.DB, id)
}

func (s *Store) OwnerName(ctx context.Context, ownerID string) (string, error) {
	a, err := GetAccountByID(s.DB, ownerID)
	if err != nil || a == nil {
		return "", err
	}
	return a.Name, nil
}

func (s *Store) MarkDocumentPending(ctx context.Context, id string) (bool, error) {
	return MarkDocumentPending(ctx, s.DB, id)
}

func (s *Store) MarkDocumentRejected(ctx context.Context, id string) (bool, error) {
	return MarkDocumentRejected(ctx, s.DB, id)
}

func (s *Store) ClaimCompositing(ctx context.Context, id, status string, now, staleBefore time.Time) (bool, error) {
	return ClaimCompositing(ctx, s.DB, id, status, now, staleBefore)
}

func (s *Store) ReleaseCompositing(ctx context.Context, id string) error {
	return ReleaseCompositing(ctx, s.DB, id)
}

func (s *Store) CompleteDocument(ctx context.Context, id, signedPath string, now time.Time) (bool, error) {
	return CompleteDocument(ctx, s.DB, id, signedPath, now)
}

func (s *Store) SetSignedFile(ctx context.Context, id, signedPath string) error {
	return SetSignedFile(ctx, s.DB, id, signedPath)
}

func (s *Store) CreateField(ctx context.Context, f *model.SignatureField) error {
	return CreateField(ctx, s.DB, f)
}

func (s *Store) GetField(ctx context.Context, id string) (*model.SignatureField, error) {
	return GetField(ctx, s.DB, id)
}

func (s *Store) GetFieldByToken(ctx context.Context, token string) (*model.SignatureField, error) {
	return GetFieldByToken(ctx, s.DB, token)
}

func (s *Store) ListFields(ctx context.Context, docID string) ([]model.SignatureField, error) {
	return ListFieldsByDocument(ctx, s.DB, docID)
}

func (s *Store) SignField(ctx context.Context, token, data, kind, ip string, now time.Time) (bool, error) {
	return SignField(ctx, s.DB, token, data, kind, ip, now)
}

func (s *Store) RejectField(ctx context.Context, token, reason, ip string, now time.Time) (bool, error) {
	return RejectField(ctx, s.DB, token, reason, ip, now)
}

func (s *Store) DeletePendingField(ctx context.Context, id string) (bool, error) {
	return DeletePendingField(ctx, s.DB, id)
}
