package repo

import (
	"context"
	"strings"

	"quoteline/internal/domain"
)

// Read side of the audit trail. Appending happens through audit.Writer inside
// workflow transactions; the repo only ever reads.

type AuditFilters struct {
	QuotationID string
	ActorID     string
	Limit       int
	Cursor      int64
}

func (r Repo) ListAuditEntries(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.QuotationID != "" {
		clauses = append(clauses, "quotation_id=?")
		args = append(args, f.QuotationID)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	query := `SELECT id,quotation_id,actor_id,description,created_at FROM quotation_audit WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.QuotationID, &e.ActorID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// AuditEntriesAfter returns entries with IDs greater than the cursor in
// ascending order. Used by the webhook forwarder.
func (r Repo) AuditEntriesAfter(ctx context.Context, limit int, cursor int64) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,quotation_id,actor_id,description,created_at FROM quotation_audit WHERE id>? ORDER BY id ASC LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.QuotationID, &e.ActorID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestAuditEntryID returns the most recent audit entry ID.
func (r Repo) LatestAuditEntryID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM quotation_audit`).Scan(&id)
	return id, err
}
