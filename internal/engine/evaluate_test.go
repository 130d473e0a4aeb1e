package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"quoteline/internal/domain"
	"quoteline/internal/engine"
)

func bid(id, supplier, unitPrice string) domain.Bid {
	return domain.Bid{ID: id, SupplierID: supplier, UnitPrice: decimal.RequireFromString(unitPrice)}
}

func TestLowestBidTieBreaksOnFirstEncountered(t *testing.T) {
	item := domain.LineItem{Bids: []domain.Bid{
		bid("b1", "sup-a", "12.50"),
		bid("b2", "sup-b", "9.99"),
		bid("b3", "sup-c", "9.99"),
	}}
	lowest, ok := engine.LowestBid(item)
	if !ok {
		t.Fatalf("expected a lowest bid")
	}
	if lowest.ID != "b2" {
		t.Fatalf("tie must resolve to the first encountered bid, got %s", lowest.ID)
	}
}

func TestLowestBidEmptyItem(t *testing.T) {
	if _, ok := engine.LowestBid(domain.LineItem{}); ok {
		t.Fatalf("expected no lowest bid for an item without bids")
	}
}

func TestEligibleForNegotiation(t *testing.T) {
	flagged := bid("b2", "sup-b", "8.00")
	flagged.NegotiationRequested = true
	item := domain.LineItem{Bids: []domain.Bid{bid("b1", "sup-a", "7.00"), flagged}}

	// every bid may be picked as a target, flagged or not
	if got := engine.EligibleForNegotiation(item); len(got) != 2 {
		t.Fatalf("expected both bids eligible, got %+v", got)
	}
	got := engine.FlaggedBids(item)
	if len(got) != 1 || got[0].ID != "b2" {
		t.Fatalf("expected only the flagged bid, got %+v", got)
	}
}

func TestApprovedSpendBySupplier(t *testing.T) {
	env := newTestEnv(t)

	q, err := env.Engine.Create(env.Ctx, "bob", []engine.LineItemInput{{
		ProductID: "prod-widget",
		Quantity:  4,
		Bids: []engine.BidInput{
			{SupplierID: "sup-a", UnitPrice: price(t, "2.50")},
			{SupplierID: "sup-b", UnitPrice: price(t, "2.00")},
		},
	}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, "bob", q.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "alice", q.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// a still-open quotation must not count
	open, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "100.00"))
	if err != nil {
		t.Fatalf("create open: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, "bob", open.ID); err != nil {
		t.Fatalf("submit open: %v", err)
	}

	spend, err := env.Engine.ApprovedSpendBySupplier(env.Ctx)
	if err != nil {
		t.Fatalf("spend report: %v", err)
	}
	if len(spend) != 1 {
		t.Fatalf("expected a single winning supplier, got %+v", spend)
	}
	if spend[0].SupplierID != "sup-b" || spend[0].Items != 1 {
		t.Fatalf("expected sup-b to win the item, got %+v", spend[0])
	}
	if !spend[0].Total.Equal(price(t, "8.00")) {
		t.Fatalf("expected total 8.00 (4 x 2.00), got %s", spend[0].Total)
	}
}
