package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"quoteline/internal/domain"
	"quoteline/internal/repo"
)

// LowestBid returns the cheapest bid on a line item. Ties keep the bid that
// appears first in the item's stored order, so repeated evaluations of the
// same quotation always pick the same winner.
func LowestBid(item domain.LineItem) (domain.Bid, bool) {
	if len(item.Bids) == 0 {
		return domain.Bid{}, false
	}
	best := item.Bids[0]
	for _, b := range item.Bids[1:] {
		if b.UnitPrice.LessThan(best.UnitPrice) {
			best = b
		}
	}
	return best, true
}

// EligibleForNegotiation lists the bids a reviewer may pick as negotiation
// targets. Any bid qualifies; whether negotiation can start at all depends on
// the quotation status, which the workflow checks, not this function.
func EligibleForNegotiation(item domain.LineItem) []domain.Bid {
	out := make([]domain.Bid, len(item.Bids))
	copy(out, item.Bids)
	return out
}

// FlaggedBids lists the bids carrying a pending negotiation request.
func FlaggedBids(item domain.LineItem) []domain.Bid {
	var out []domain.Bid
	for _, b := range item.Bids {
		if b.NegotiationRequested {
			out = append(out, b)
		}
	}
	return out
}

// annotateLowest stamps each item with the id of its winning bid.
func annotateLowest(items []domain.LineItem) {
	for i := range items {
		if best, ok := LowestBid(items[i]); ok {
			id := best.ID
			items[i].LowestBidID = &id
		}
	}
}

// SupplierSpend is one row of the approved-spend report.
type SupplierSpend struct {
	SupplierID string          `json:"supplier_id"`
	Total      decimal.Decimal `json:"total"`
	Items      int             `json:"items"`
}

// ApprovedSpendBySupplier totals quantity times winning unit price across all
// approved quotations, grouped by the supplier holding the lowest bid on each
// line item.
func (e Engine) ApprovedSpendBySupplier(ctx context.Context) ([]SupplierSpend, error) {
	quotations, err := e.Repo.ListQuotations(ctx, repo.QuotationFilters{Status: domain.StatusApproved, Limit: -1})
	if err != nil {
		return nil, err
	}
	totals := map[string]*SupplierSpend{}
	var order []string
	for _, q := range quotations {
		items, err := e.Repo.ListLineItems(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			best, ok := LowestBid(item)
			if !ok {
				continue
			}
			row := totals[best.SupplierID]
			if row == nil {
				row = &SupplierSpend{SupplierID: best.SupplierID}
				totals[best.SupplierID] = row
				order = append(order, best.SupplierID)
			}
			row.Total = row.Total.Add(best.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
			row.Items++
		}
	}
	out := make([]SupplierSpend, 0, len(order))
	for _, id := range order {
		out = append(out, *totals[id])
	}
	return out, nil
}
