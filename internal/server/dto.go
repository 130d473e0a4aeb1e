package server

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"quoteline/internal/domain"
	"quoteline/internal/engine"
)

// Request payloads. Prices travel as strings so clients never lose cents to
// float rounding; they are parsed into decimals at the edge.

type BidRequest struct {
	SupplierID           string  `json:"supplier_id"`
	UnitPrice            string  `json:"unit_price" example:"4.20"`
	NegotiationRequested bool    `json:"negotiation_requested,omitempty"`
	TargetPrice          *string `json:"target_price,omitempty"`
	NegotiationReason    string  `json:"negotiation_reason,omitempty"`
}

type LineItemRequest struct {
	ProductID   string       `json:"product_id"`
	Quantity    int          `json:"quantity"`
	Observation string       `json:"observation,omitempty"`
	Bids        []BidRequest `json:"bids,omitempty"`
}

type CreateQuotationRequest struct {
	Items []LineItemRequest `json:"items,omitempty"`
}

type ReplaceItemsRequest struct {
	Items []LineItemRequest `json:"items"`
}

type NegotiationTargetRequest struct {
	BidID       string `json:"bid_id"`
	TargetPrice string `json:"target_price" example:"4.00"`
	Reason      string `json:"reason,omitempty"`
}

type RequestNegotiationRequest struct {
	Targets []NegotiationTargetRequest `json:"targets"`
}

type UpsertProductRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Unit string `json:"unit,omitempty"`
}

type UpsertSupplierRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type UpsertUserRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty"`
	Source  string `json:"source"`
}

// Response payloads

type BidResponse struct {
	ID                   string  `json:"id"`
	SupplierID           string  `json:"supplier_id"`
	UnitPrice            string  `json:"unit_price" example:"4.20"`
	NegotiationRequested bool    `json:"negotiation_requested"`
	TargetPrice          *string `json:"target_price,omitempty"`
	NegotiationReason    string  `json:"negotiation_reason,omitempty"`
}

type LineItemResponse struct {
	ID          string        `json:"id"`
	ProductID   string        `json:"product_id"`
	Quantity    int           `json:"quantity"`
	Observation string        `json:"observation,omitempty"`
	Bids        []BidResponse `json:"bids"`
	LowestBidID *string       `json:"lowest_bid_id,omitempty"`
}

type QuotationResponse struct {
	ID         string             `json:"id"`
	DisplayID  string             `json:"display_id"`
	Status     string             `json:"status" enum:"draft,open,negotiation,approved,rejected"`
	CreatedBy  string             `json:"created_by"`
	CreatedAt  string             `json:"created_at" format:"date-time"`
	RowVersion int64              `json:"row_version"`
	Items      []LineItemResponse `json:"items,omitempty"`
}

type AuditEntryResponse struct {
	ID          int64  `json:"id"`
	QuotationID string `json:"quotation_id"`
	ActorID     string `json:"actor_id"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type NotificationResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only populated on creation; the server stores a hash.
	Key string `json:"key,omitempty"`
}

type SupplierSpendResponse struct {
	SupplierID string `json:"supplier_id"`
	Total      string `json:"total" example:"1234.50"`
	Items      int    `json:"items"`
}

type paginatedQuotations struct {
	Items      []QuotationResponse `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedAudit struct {
	Items      []AuditEntryResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedNotifications struct {
	Items      []NotificationResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// Conversion helpers

func bidResponse(b domain.Bid) BidResponse {
	res := BidResponse{
		ID:                   b.ID,
		SupplierID:           b.SupplierID,
		UnitPrice:            b.UnitPrice.String(),
		NegotiationRequested: b.NegotiationRequested,
		NegotiationReason:    b.NegotiationReason,
	}
	if b.TargetPrice != nil {
		s := b.TargetPrice.String()
		res.TargetPrice = &s
	}
	return res
}

func lineItemResponse(it domain.LineItem) LineItemResponse {
	bids := make([]BidResponse, 0, len(it.Bids))
	for _, b := range it.Bids {
		bids = append(bids, bidResponse(b))
	}
	return LineItemResponse{
		ID:          it.ID,
		ProductID:   it.ProductID,
		Quantity:    it.Quantity,
		Observation: it.Observation,
		Bids:        bids,
		LowestBidID: it.LowestBidID,
	}
}

func quotationResponse(q domain.Quotation) QuotationResponse {
	res := QuotationResponse{
		ID:         q.ID,
		DisplayID:  q.DisplayID,
		Status:     q.Status,
		CreatedBy:  q.CreatedBy,
		CreatedAt:  q.CreatedAt,
		RowVersion: q.RowVersion,
	}
	for _, it := range q.Items {
		res.Items = append(res.Items, lineItemResponse(it))
	}
	return res
}

func auditEntryResponse(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:          e.ID,
		QuotationID: e.QuotationID,
		ActorID:     e.ActorID,
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
	}
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Link:      n.Link,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func mapQuotations(items []domain.Quotation) []QuotationResponse {
	res := make([]QuotationResponse, 0, len(items))
	for _, q := range items {
		res = append(res, quotationResponse(q))
	}
	return res
}

// Parse helpers turning wire payloads into engine inputs.

func parsePrice(field, raw string) (decimal.Decimal, huma.StatusError) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, newAPIError(http.StatusBadRequest, "bad_request",
			field+" must be a decimal string", map[string]any{"field": field, "value": raw})
	}
	return d, nil
}

func parseItems(items []LineItemRequest) ([]engine.LineItemInput, huma.StatusError) {
	out := make([]engine.LineItemInput, 0, len(items))
	for _, it := range items {
		in := engine.LineItemInput{
			ProductID:   it.ProductID,
			Quantity:    it.Quantity,
			Observation: it.Observation,
		}
		for _, b := range it.Bids {
			price, perr := parsePrice("unit_price", b.UnitPrice)
			if perr != nil {
				return nil, perr
			}
			bid := engine.BidInput{
				SupplierID:           b.SupplierID,
				UnitPrice:            price,
				NegotiationRequested: b.NegotiationRequested,
				NegotiationReason:    b.NegotiationReason,
			}
			if b.TargetPrice != nil {
				target, perr := parsePrice("target_price", *b.TargetPrice)
				if perr != nil {
					return nil, perr
				}
				bid.TargetPrice = &target
			}
			in.Bids = append(in.Bids, bid)
		}
		out = append(out, in)
	}
	return out, nil
}
