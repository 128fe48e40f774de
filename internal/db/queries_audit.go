package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/YannKr/signflow/internal/model"
)

func InsertAuditEntry(ctx context.Context, database *sql.DB, e *model.AuditEntry) error {
	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		meta = string(b)
	}
	_, err := database.ExecContext(ctx,
		`INSERT INTO audit_entries (id, document_id, action, account_id, performer_email, performer_name,
		                            ip_address, user_agent, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DocumentID, e.Action, e.AccountID, e.PerformerEmail, e.PerformerName,
		e.IPAddress, e.UserAgent, meta,
	)
	return err
}

// ListAuditEntries returns a document's trail, newest first.
func ListAuditEntries(ctx context.Context, database *sql.DB, docID string) ([]model.AuditEntry, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT id, document_id, action, account_id, performer_email, performer_name,
		        ip_address, user_agent, metadata, created_at
		 FROM audit_entries WHERE document_id = ?
		 ORDER BY created_at DESC, rowid DESC`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var meta string
		var createdAt SQLiteTime
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Action, &e.AccountID, &e.PerformerEmail, &e.PerformerName,
			&e.IPAddress, &e.UserAgent, &meta, &createdAt); err != nil {
			return nil, err
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("audit %s metadata: %w", e.ID, err)
			}
		}
		e.CreatedAt = createdAt.Time
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
