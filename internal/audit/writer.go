package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Writer appends entries to the quotation audit trail. Append always runs
// inside the caller's transaction: a transition that cannot record its audit
// entry does not commit.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, quotationID, actorID, description string) error {
	if quotationID == "" || actorID == "" {
		return errors.New("quotation_id and actor_id required")
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO quotation_audit(quotation_id,actor_id,description,created_at) VALUES (?,?,?,?)`,
		quotationID, actorID, description, ts)
	return err
}
