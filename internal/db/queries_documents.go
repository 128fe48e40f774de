package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/YannKr/signflow/internal/model"
)

const documentColumns = `id, owner_id, title, file_name, file_path, file_size, mime_type,
	total_pages, status, signed_file_path, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(s rowScanner, d *model.Document) error {
	var completedAt sql.NullString
	var createdAt, updatedAt SQLiteTime
	if err := s.Scan(&d.ID, &d.OwnerID, &d.Title, &d.FileName, &d.FilePath, &d.FileSize, &d.MimeType,
		&d.TotalPages, &d.Status, &d.SignedFilePath, &completedAt, &createdAt, &updatedAt); err != nil {
		return err
	}
	d.CompletedAt = parseNullTime(completedAt)
	d.CreatedAt = createdAt.Time
	d.UpdatedAt = updatedAt.Time
	return nil
}

func CreateDocument(ctx context.Context, database *sql.DB, d *model.Document) error {
	_, err := database.ExecContext(ctx,
		`INSERT INTO documents (id, owner_id, title, file_name, file_path, file_size, mime_type, total_pages, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OwnerID, d.Title, d.FileName, d.FilePath, d.FileSize, d.MimeType, d.TotalPages, d.Status,
	)
	return err
}

func GetDocument(ctx context.Context, database *sql.DB, id string) (*model.Document, error) {
	d := &model.Document{}
	err := scanDocument(database.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id), d)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// DocumentFilter narrows ListDocuments. Empty fields are ignored.
type DocumentFilter struct {
	OwnerID string
	Status  string
	Search  string
	Limit   int
	Offset  int
}

func ListDocuments(ctx context.Context, database *sql.DB, f DocumentFilter) ([]model.DocumentSummary, int, error) {
	where := `WHERE d.owner_id = ?`
	args := []any{f.OwnerID}
	if f.Status != "" && f.Status != "all" {
		where += ` AND d.status = ?`
		args = append(args, f.Status)
	}
	if f.Search != "" {
		where += ` AND d.title LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(f.Search)+"%")
	}

	var total int
	if err := database.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents d `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := database.QueryContext(ctx, `
		SELECT d.id, d.owner_id, d.title, d.file_name, d.file_path, d.file_size, d.mime_type,
		       d.total_pages, d.status, d.signed_file_path, d.completed_at, d.created_at, d.updated_at,
		       (SELECT COUNT(*) FROM signature_fields f WHERE f.document_id = d.id),
		       (SELECT COUNT(*) FROM signature_fields f WHERE f.document_id = d.id AND f.status = 'signed')
		FROM documents d `+where+`
		ORDER BY d.created_at DESC
		LIMIT ? OFFSET ?`, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var docs []model.DocumentSummary
	for rows.Next() {
		var s model.DocumentSummary
		var completedAt sql.NullString
		var createdAt, updatedAt SQLiteTime
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Title, &s.FileName, &s.FilePath, &s.FileSize, &s.MimeType,
			&s.TotalPages, &s.Status, &s.SignedFilePath, &completedAt, &createdAt, &updatedAt,
			&s.FieldsTotal, &s.FieldsSigned); err != nil {
			return nil, 0, err
		}
		s.CompletedAt = parseNullTime(completedAt)
		s.CreatedAt = createdAt.Time
		s.UpdatedAt = updatedAt.Time
		docs = append(docs, s)
	}
	return docs, total, rows.Err()
}

// MarkDocumentPending moves a draft document to pending. A document that is
// already pending counts as success; completed or rejected ones do not.
func MarkDocumentPending(ctx context.Context, database *sql.DB, id string) (bool, error) {
	res, err := database.ExecContext(ctx,
		`UPDATE documents SET status = 'pending', updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ? AND status IN ('draft', 'pending')`, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func MarkDocumentRejected(ctx context.Context, database *sql.DB, id string) (bool, error) {
	res, err := database.ExecContext(ctx,
		`UPDATE documents SET status = 'rejected', updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ? AND status IN ('draft', 'pending')`, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClaimCompositing takes the per-document compositing claim when the
// document is in the given status and no claim newer than staleBefore is
// held. Exactly one concurrent caller observes true.
func ClaimCompositing(ctx context.Context, database *sql.DB, id, status string, now, staleBefore time.Time) (bool, error) {
	res, err := database.ExecContext(ctx,
		`UPDATE documents SET completion_claimed_at = ?
		 WHERE id = ? AND status = ?
		   AND (completion_claimed_at IS NULL OR completion_claimed_at < ?)`,
		formatTime(now), id, status, formatTime(staleBefore),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func ReleaseCompositing(ctx context.Context, database *sql.DB, id string) error {
	_, err := database.ExecContext(ctx,
		`UPDATE documents SET completion_claimed_at = NULL WHERE id = ?`, id)
	return err
}

// CompleteDocument flips a pending document to completed, publishing the
// derived file reference and dropping the claim in the same statement.
func CompleteDocument(ctx context.Context, database *sql.DB, id, signedPath string, now time.Time) (bool, error) {
	res, err := database.ExecContext(ctx,
		`UPDATE documents
		 SET status = 'completed', signed_file_path = ?, completed_at = ?, completion_claimed_at = NULL,
		     updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ? AND status = 'pending'`,
		signedPath, formatTime(now), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetSignedFile replaces the derived file reference of a completed document
// and drops the claim.
func SetSignedFile(ctx context.Context, database *sql.DB, id, signedPath string) error {
	_, err := database.ExecContext(ctx,
		`UPDATE documents
		 SET signed_file_path = ?, completion_claimed_at = NULL, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`, signedPath, id,
	)
	return err
}

func DeleteDocument(ctx context.Context, database *sql.DB, id string) error {
	_, err := database.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
