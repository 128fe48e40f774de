package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/YannKr/signflow/internal/model"
)

const fieldColumns = `id, document_id, signer_email, signer_name, page, x, y, width, height, status,
	signature_data, signature_type, rejection_reason, signed_at, ip_address, token, token_expires_at, created_at`

func scanField(s rowScanner, f *model.SignatureField) error {
	var signedAt sql.NullString
	var expiresAt, createdAt SQLiteTime
	if err := s.Scan(&f.ID, &f.DocumentID, &f.SignerEmail, &f.SignerName, &f.Page, &f.X, &f.Y, &f.Width, &f.Height,
		&f.Status, &f.SignatureData, &f.SignatureType, &f.RejectionReason, &signedAt, &f.IPAddress,
		&f.Token, &expiresAt, &createdAt); err != nil {
		return err
	}
	f.SignedAt = parseNullTime(signedAt)
	f.TokenExpiresAt = expiresAt.Time
	f.CreatedAt = createdAt.Time
	return nil
}

func CreateField(ctx context.Context, database *sql.DB, f *model.SignatureField) error {
	_, err := database.ExecContext(ctx,
		`INSERT INTO signature_fields (id, document_id, signer_email, signer_name, page, x, y, width, height,
		                               status, signature_type, token, token_expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.DocumentID, f.SignerEmail, f.SignerName, f.Page, f.X, f.Y, f.Width, f.Height,
		f.Status, f.SignatureType, f.Token, formatTime(f.TokenExpiresAt),
	)
	return err
}

func GetField(ctx context.Context, database *sql.DB, id string) (*model.SignatureField, error) {
	f := &model.SignatureField{}
	err := scanField(database.QueryRowContext(ctx,
		`SELECT `+fieldColumns+` FROM signature_fields WHERE id = ?`, id), f)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func GetFieldByToken(ctx context.Context, database *sql.DB, token string) (*model.SignatureField, error) {
	f := &model.SignatureField{}
	err := scanField(database.QueryRowContext(ctx,
		`SELECT `+fieldColumns+` FROM signature_fields WHERE token = ?`, token), f)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListFieldsByDocument returns fields in placement order.
func ListFieldsByDocument(ctx context.Context, database *sql.DB, docID string) ([]model.SignatureField, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT `+fieldColumns+` FROM signature_fields WHERE document_id = ? ORDER BY created_at, rowid`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []model.SignatureField
	for rows.Next() {
		var f model.SignatureField
		if err := scanField(rows, &f); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// SignField records a signature when the field is still pending and its
// token has not expired at now. It reports whether this call won.
func SignField(ctx context.Context, database *sql.DB, token, data, kind, ip string, now time.Time) (bool, error) {
	var id string
	err := database.QueryRowContext(ctx,
		`UPDATE signature_fields
		 SET status = 'signed', signature_data = ?, signature_type = ?, signed_at = ?, ip_address = ?
		 WHERE token = ? AND status = 'pending' AND token_expires_at > ?
		 RETURNING id`,
		data, kind, formatTime(now), ip, token, formatTime(now),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RejectField is the rejection counterpart of SignField.
func RejectField(ctx context.Context, database *sql.DB, token, reason, ip string, now time.Time) (bool, error) {
	var id string
	err := database.QueryRowContext(ctx,
		`UPDATE signature_fields
		 SET status = 'rejected', rejection_reason = ?, ip_address = ?
		 WHERE token = ? AND status = 'pending' AND token_expires_at > ?
		 RETURNING id`,
		reason, ip, token, formatTime(now),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeletePendingField removes a field only while it has not been acted on.
func DeletePendingField(ctx context.Context, database *sql.DB, id string) (bool, error) {
	res, err := database.ExecContext(ctx,
		`DELETE FROM signature_fields WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
