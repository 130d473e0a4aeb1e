package quotelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Quoteline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Bid represents one supplier offer on a line item. Prices are decimal
// strings on the wire.
type Bid struct {
	ID                   string  `json:"id"`
	SupplierID           string  `json:"supplier_id"`
	UnitPrice            string  `json:"unit_price"`
	NegotiationRequested bool    `json:"negotiation_requested"`
	TargetPrice          *string `json:"target_price,omitempty"`
	NegotiationReason    string  `json:"negotiation_reason,omitempty"`
}

// LineItem represents one product request inside a quotation.
type LineItem struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"product_id"`
	Quantity    int     `json:"quantity"`
	Observation string  `json:"observation,omitempty"`
	Bids        []Bid   `json:"bids"`
	LowestBidID *string `json:"lowest_bid_id,omitempty"`
}

// Quotation represents the API quotation model.
type Quotation struct {
	ID         string     `json:"id"`
	DisplayID  string     `json:"display_id"`
	Status     string     `json:"status"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  string     `json:"created_at"`
	RowVersion int64      `json:"row_version"`
	Items      []LineItem `json:"items,omitempty"`
}

// AuditEntry is one row of a quotation's audit trail.
type AuditEntry struct {
	ID          int64  `json:"id"`
	QuotationID string `json:"quotation_id"`
	ActorID     string `json:"actor_id"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

// LineItemInput is the write shape for create, edit and revise calls.
type LineItemInput struct {
	ProductID   string     `json:"product_id"`
	Quantity    int        `json:"quantity"`
	Observation string     `json:"observation,omitempty"`
	Bids        []BidInput `json:"bids,omitempty"`
}

type BidInput struct {
	SupplierID           string  `json:"supplier_id"`
	UnitPrice            string  `json:"unit_price"`
	NegotiationRequested bool    `json:"negotiation_requested,omitempty"`
	TargetPrice          *string `json:"target_price,omitempty"`
	NegotiationReason    string  `json:"negotiation_reason,omitempty"`
}

// NegotiationTarget names one bid a reviewer wants reworked.
type NegotiationTarget struct {
	BidID       string `json:"bid_id"`
	TargetPrice string `json:"target_price"`
	Reason      string `json:"reason,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedQuotations wraps list responses with cursors.
type PaginatedQuotations struct {
	Items      []Quotation `json:"items"`
	NextCursor string      `json:"next_cursor"`
}

type paginatedAudit struct {
	Items      []AuditEntry `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// CreateQuotation opens a new draft.
func (c *Client) CreateQuotation(ctx context.Context, items []LineItemInput) (Quotation, error) {
	var resp Quotation
	err := c.do(ctx, http.MethodPost, "quotations", map[string]any{"items": items}, &resp)
	return resp, err
}

// GetQuotation fetches one quotation with items and bids.
func (c *Client) GetQuotation(ctx context.Context, id string) (Quotation, error) {
	var resp Quotation
	err := c.do(ctx, http.MethodGet, "quotations/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListQuotations returns a page of quotation headers.
func (c *Client) ListQuotations(ctx context.Context, status string, limit int, cursor string) (PaginatedQuotations, error) {
	endpoint := "quotations"
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedQuotations
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ReplaceItems swaps the full line-item set of a draft.
func (c *Client) ReplaceItems(ctx context.Context, id string, items []LineItemInput) (Quotation, error) {
	var resp Quotation
	err := c.do(ctx, http.MethodPut, "quotations/"+url.PathEscape(id)+"/items", map[string]any{"items": items}, &resp)
	return resp, err
}

// AddBid appends one bid to a line item.
func (c *Client) AddBid(ctx context.Context, quotationID, itemID string, bid BidInput) (Bid, error) {
	var resp Bid
	endpoint := fmt.Sprintf("quotations/%s/items/%s/bids", url.PathEscape(quotationID), url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, bid, &resp)
	return resp, err
}

// Submit moves a draft to open.
func (c *Client) Submit(ctx context.Context, id string) (Quotation, error) {
	return c.transition(ctx, id, "submit")
}

// Approve closes an open quotation as accepted.
func (c *Client) Approve(ctx context.Context, id string) (Quotation, error) {
	return c.transition(ctx, id, "approve")
}

// Reject closes an open quotation as declined.
func (c *Client) Reject(ctx context.Context, id string) (Quotation, error) {
	return c.transition(ctx, id, "reject")
}

// RequestNegotiation flags bids and moves the quotation to negotiation.
func (c *Client) RequestNegotiation(ctx context.Context, id string, targets []NegotiationTarget) (Quotation, error) {
	var resp Quotation
	endpoint := "quotations/" + url.PathEscape(id) + "/negotiation"
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"targets": targets}, &resp)
	return resp, err
}

// Revise replaces the line-item set of a quotation under negotiation and
// returns it to open.
func (c *Client) Revise(ctx context.Context, id string, items []LineItemInput) (Quotation, error) {
	var resp Quotation
	endpoint := "quotations/" + url.PathEscape(id) + "/revision"
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"items": items}, &resp)
	return resp, err
}

// DeleteQuotation removes a quotation and everything under it.
func (c *Client) DeleteQuotation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "quotations/"+url.PathEscape(id), nil, nil)
}

// Audit returns the audit trail, newest first.
func (c *Client) Audit(ctx context.Context, id string) ([]AuditEntry, error) {
	var resp paginatedAudit
	err := c.do(ctx, http.MethodGet, "quotations/"+url.PathEscape(id)+"/audit", nil, &resp)
	return resp.Items, err
}

func (c *Client) transition(ctx context.Context, id, action string) (Quotation, error) {
	var resp Quotation
	endpoint := fmt.Sprintf("quotations/%s/%s", url.PathEscape(id), action)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	reqURL := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
