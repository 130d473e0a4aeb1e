package domain

import "github.com/shopspring/decimal"

// Quotation statuses. Approved and rejected are terminal.
const (
	StatusDraft       = "draft"
	StatusOpen        = "open"
	StatusNegotiation = "negotiation"
	StatusApproved    = "approved"
	StatusRejected    = "rejected"
)

type Quotation struct {
	ID         string     `json:"id"`
	DisplayID  string     `json:"display_id"`
	Status     string     `json:"status" enum:"draft,open,negotiation,approved,rejected"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  string     `json:"created_at" format:"date-time"`
	RowVersion int64      `json:"row_version"`
	Items      []LineItem `json:"items,omitempty"`
}

type LineItem struct {
	ID          string  `json:"id"`
	QuotationID string  `json:"quotation_id"`
	ProductID   string  `json:"product_id"`
	Quantity    int     `json:"quantity"`
	Observation string  `json:"observation,omitempty"`
	Bids        []Bid   `json:"bids,omitempty"`
	LowestBidID *string `json:"lowest_bid_id,omitempty"`
}

type Bid struct {
	ID                   string           `json:"id"`
	LineItemID           string           `json:"line_item_id"`
	SupplierID           string           `json:"supplier_id"`
	UnitPrice            decimal.Decimal  `json:"unit_price"`
	NegotiationRequested bool             `json:"negotiation_requested"`
	TargetPrice          *decimal.Decimal `json:"target_price,omitempty"`
	NegotiationReason    string           `json:"negotiation_reason,omitempty"`
}

// AuditEntry records one workflow action against a quotation. Entries are
// insert-only; there is no update or delete path.
type AuditEntry struct {
	ID          int64  `json:"id"`
	QuotationID string `json:"quotation_id"`
	ActorID     string `json:"actor_id"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Product struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Unit      string `json:"unit,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Supplier struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Terminal reports whether a status has no outgoing transitions.
func Terminal(status string) bool {
	return status == StatusApproved || status == StatusRejected
}
