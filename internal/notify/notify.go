package notify

import (
	"context"
	"log"
	"path"
	"time"

	"github.com/google/uuid"

	"quoteline/internal/domain"
	"quoteline/internal/repo"
)

// Dispatcher fans user-facing alerts out to a recipient set. Delivery is
// best-effort: a failed insert for one recipient is logged and never blocks
// the others, and no failure here unwinds the workflow transition that
// triggered it.
type Dispatcher struct {
	Repo     repo.Repo
	Logger   *log.Logger
	LinkBase string
	Now      func() time.Time
}

func (d *Dispatcher) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// QuotationLink builds the deep link for a quotation detail view.
func (d *Dispatcher) QuotationLink(quotationID string) string {
	base := d.LinkBase
	if base == "" {
		base = "/quotations"
	}
	return path.Join(base, quotationID)
}

// Send creates one notification row per recipient. Duplicate recipients are
// collapsed so a creator who also reviews gets a single alert.
func (d *Dispatcher) Send(ctx context.Context, recipients []string, typ, title, message, link string) {
	seen := make(map[string]bool, len(recipients))
	ts := d.now().UTC().Format(time.RFC3339)
	for _, userID := range recipients {
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		n := domain.Notification{
			ID:        uuid.New().String(),
			UserID:    userID,
			Type:      typ,
			Title:     title,
			Message:   message,
			Link:      link,
			CreatedAt: ts,
		}
		if err := d.Repo.InsertNotification(ctx, n); err != nil {
			d.logger().Printf("notify: deliver %s to %s failed: %v", typ, userID, err)
		}
	}
}
