package engine_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quoteline/internal/config"
	"quoteline/internal/db"
	"quoteline/internal/domain"
	"quoteline/internal/engine"
	"quoteline/internal/migrate"
	"quoteline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test")
	eng := engine.New(conn, cfg, log.New(io.Discard, "", 0))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	users := []domain.User{
		{ID: "alice", Name: "Alice", Role: "manager", CreatedAt: now},
		{ID: "bob", Name: "Bob", Role: "requester", CreatedAt: now},
		{ID: "rita", Name: "Rita", Role: "reviewer", CreatedAt: now},
	}
	for _, u := range users {
		if err := eng.Repo.UpsertUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	if err := eng.Repo.UpsertProduct(ctx, domain.Product{ID: "prod-widget", Name: "Widget", Unit: "un", CreatedAt: now}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	for _, id := range []string{"sup-a", "sup-b", "sup-c", "sup-d"} {
		if err := eng.Repo.UpsertSupplier(ctx, domain.Supplier{ID: id, Name: id, CreatedAt: now}); err != nil {
			t.Fatalf("seed supplier %s: %v", id, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func price(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad price %s: %v", s, err)
	}
	return d
}

func singleItem(t *testing.T, prices ...string) []engine.LineItemInput {
	t.Helper()
	item := engine.LineItemInput{ProductID: "prod-widget", Quantity: 10}
	suppliers := []string{"sup-a", "sup-b", "sup-c"}
	for i, p := range prices {
		item.Bids = append(item.Bids, engine.BidInput{
			SupplierID: suppliers[i%len(suppliers)],
			UnitPrice:  price(t, p),
		})
	}
	return []engine.LineItemInput{item}
}

func TestFullNegotiationLifecycle(t *testing.T) {
	env := newTestEnv(t)

	q, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "5.00", "4.50"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if q.Status != domain.StatusDraft {
		t.Fatalf("expected draft, got %s", q.Status)
	}
	if q.DisplayID != "RFQ-000001" {
		t.Fatalf("unexpected display id %s", q.DisplayID)
	}

	q, err = env.Engine.Submit(env.Ctx, "bob", q.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if q.Status != domain.StatusOpen {
		t.Fatalf("expected open after submit, got %s", q.Status)
	}

	full, err := env.Engine.Get(env.Ctx, q.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	lowest, ok := engine.LowestBid(full.Items[0])
	if !ok || !lowest.UnitPrice.Equal(price(t, "4.50")) {
		t.Fatalf("expected 4.50 as lowest bid, got %v", lowest.UnitPrice)
	}

	// reviewer asks the cheapest supplier to go lower
	q, err = env.Engine.RequestNegotiation(env.Ctx, "alice", q.ID, []engine.NegotiationTarget{
		{BidID: lowest.ID, TargetPrice: price(t, "4.00"), Reason: "budget cap"},
	})
	if err != nil {
		t.Fatalf("request negotiation: %v", err)
	}
	if q.Status != domain.StatusNegotiation {
		t.Fatalf("expected negotiation, got %s", q.Status)
	}
	full, _ = env.Engine.Get(env.Ctx, q.ID)
	flagged := engine.FlaggedBids(full.Items[0])
	if len(flagged) != 1 || flagged[0].TargetPrice == nil || !flagged[0].TargetPrice.Equal(price(t, "4.00")) {
		t.Fatalf("expected one flagged bid with target 4.00, got %+v", flagged)
	}

	// supplier comes back at 4.20, above target but accepted
	revised := singleItem(t, "5.00", "4.20")
	q, err = env.Engine.ReviseInNegotiation(env.Ctx, "bob", q.ID, revised)
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if q.Status != domain.StatusOpen {
		t.Fatalf("expected open after revision, got %s", q.Status)
	}

	q, err = env.Engine.Approve(env.Ctx, "alice", q.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if q.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", q.Status)
	}

	// approved is terminal
	if _, err := env.Engine.Submit(env.Ctx, "bob", q.ID); err == nil {
		t.Fatalf("expected terminal quotation to refuse submit")
	}
	if _, err := env.Engine.EditDraft(env.Ctx, "alice", q.ID, revised); err == nil {
		t.Fatalf("expected terminal quotation to refuse edits")
	}

	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{QuotationID: q.ID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	want := []string{"approved", "revised after negotiation", "requested negotiation on 1 bid(s)", "submitted for analysis", "created draft"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d audit entries, got %d", len(want), len(entries))
	}
	for i, entry := range entries {
		if entry.Description != want[i] {
			t.Fatalf("audit[%d]: expected %q, got %q", i, want[i], entry.Description)
		}
	}
}

func TestBidCapPerLineItem(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "1.00", "2.00", "3.00", "4.00")); err == nil {
		t.Fatalf("expected 4-bid item to be rejected on create")
	}

	q, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "1.00", "2.00", "3.00"))
	if err != nil {
		t.Fatalf("create with 3 bids: %v", err)
	}
	full, _ := env.Engine.Get(env.Ctx, q.ID)
	_, err = env.Engine.AddBid(env.Ctx, "bob", q.ID, full.Items[0].ID, engine.BidInput{
		SupplierID: "sup-d",
		UnitPrice:  price(t, "0.50"),
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error on fourth bid, got %v", err)
	}
	full, _ = env.Engine.Get(env.Ctx, q.ID)
	if len(full.Items[0].Bids) != 3 {
		t.Fatalf("expected bid count unchanged at 3, got %d", len(full.Items[0].Bids))
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)

	empty, err := env.Engine.Create(env.Ctx, "bob", nil)
	if err != nil {
		t.Fatalf("create empty: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, "bob", empty.ID); err == nil {
		t.Fatalf("expected submit of empty quotation to fail")
	}

	noBids, err := env.Engine.Create(env.Ctx, "bob", []engine.LineItemInput{{ProductID: "prod-widget", Quantity: 1}})
	if err != nil {
		t.Fatalf("create without bids: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, "bob", noBids.ID); err == nil {
		t.Fatalf("expected submit without bids to fail")
	}

	zeroPrice, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "0"))
	if err != nil {
		t.Fatalf("create with zero-price bid: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, "bob", zeroPrice.ID); err == nil {
		t.Fatalf("expected submit with zero price to fail")
	}

	full, _ := env.Engine.Get(env.Ctx, zeroPrice.ID)
	if full.Status != domain.StatusDraft {
		t.Fatalf("failed submit must leave quotation in draft, got %s", full.Status)
	}
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "1.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var te engine.InvalidTransitionError
	if _, err := env.Engine.Approve(env.Ctx, "alice", q.ID); !errors.As(err, &te) {
		t.Fatalf("expected invalid transition approving a draft, got %v", err)
	}
	if _, err := env.Engine.RequestNegotiation(env.Ctx, "alice", q.ID, []engine.NegotiationTarget{{BidID: "x", TargetPrice: price(t, "1")}}); !errors.As(err, &te) {
		t.Fatalf("expected invalid transition negotiating a draft, got %v", err)
	}
	if _, err := env.Engine.ReviseInNegotiation(env.Ctx, "bob", q.ID, singleItem(t, "1.00")); !errors.As(err, &te) {
		t.Fatalf("expected invalid transition revising a draft, got %v", err)
	}

	if _, err := env.Engine.Submit(env.Ctx, "bob", q.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, "bob", q.ID); !errors.As(err, &te) {
		t.Fatalf("expected invalid transition submitting twice, got %v", err)
	}
}

func TestLineItemReplaceIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "2.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// second row references a product that does not exist; nothing may change
	bad := []engine.LineItemInput{
		{ProductID: "prod-widget", Quantity: 5},
		{ProductID: "prod-ghost", Quantity: 1},
	}
	_, err = env.Engine.EditDraft(env.Ctx, "bob", q.ID, bad)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}

	full, err := env.Engine.Get(env.Ctx, q.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(full.Items) != 1 || full.Items[0].Quantity != 10 || len(full.Items[0].Bids) != 1 {
		t.Fatalf("failed replace must leave the original set intact, got %+v", full.Items)
	}
	if full.RowVersion != q.RowVersion {
		t.Fatalf("failed replace must not bump row_version: %d != %d", full.RowVersion, q.RowVersion)
	}
}

func TestNegotiationFlagsSurviveRevision(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "3.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, "bob", q.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	full, _ := env.Engine.Get(env.Ctx, q.ID)
	bidID := full.Items[0].Bids[0].ID
	if _, err := env.Engine.RequestNegotiation(env.Ctx, "alice", q.ID, []engine.NegotiationTarget{
		{BidID: bidID, TargetPrice: price(t, "2.50")},
	}); err != nil {
		t.Fatalf("request negotiation: %v", err)
	}

	// the revision resubmits the flag with the new price, so it stays visible
	target := price(t, "2.50")
	items := []engine.LineItemInput{{
		ProductID: "prod-widget",
		Quantity:  10,
		Bids: []engine.BidInput{{
			SupplierID:           "sup-a",
			UnitPrice:            price(t, "2.80"),
			NegotiationRequested: true,
			TargetPrice:          &target,
		}},
	}}
	if _, err := env.Engine.ReviseInNegotiation(env.Ctx, "bob", q.ID, items); err != nil {
		t.Fatalf("revise: %v", err)
	}
	full, _ = env.Engine.Get(env.Ctx, q.ID)
	b := full.Items[0].Bids[0]
	if !b.NegotiationRequested || b.TargetPrice == nil || !b.TargetPrice.Equal(target) {
		t.Fatalf("expected negotiation flag preserved through revision, got %+v", b)
	}
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.Engine.Create(env.Ctx, "rita", nil); err == nil {
		t.Fatalf("expected review-only role to be refused create")
	}

	q, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "1.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, "bob", q.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// requesters cannot decide
	if _, err := env.Engine.Approve(env.Ctx, "bob", q.ID); err == nil {
		t.Fatalf("expected requester to be refused approve")
	}
	// reviewers can
	if _, err := env.Engine.Approve(env.Ctx, "rita", q.ID); err != nil {
		t.Fatalf("reviewer approve: %v", err)
	}

	// only managers may delete
	if err := env.Engine.Delete(env.Ctx, "bob", q.ID); err == nil {
		t.Fatalf("expected requester to be refused delete")
	}
	if err := env.Engine.Delete(env.Ctx, "alice", q.ID); err != nil {
		t.Fatalf("manager delete: %v", err)
	}

	// editing someone else's draft needs manage
	other, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "1.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.EditDraft(env.Ctx, "rita", other.ID, singleItem(t, "1.50")); err == nil {
		t.Fatalf("expected non-creator without manage to be refused edit")
	}
	if _, err := env.Engine.EditDraft(env.Ctx, "alice", other.ID, singleItem(t, "1.50")); err != nil {
		t.Fatalf("manager edit of foreign draft: %v", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "1.00", "2.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.Delete(env.Ctx, "alice", q.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Get(env.Ctx, q.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	items, err := env.Engine.Repo.ListLineItems(env.Ctx, q.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected cascade to remove line items, got %d", len(items))
	}
	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{QuotationID: q.ID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected cascade to remove audit entries, got %d", len(entries))
	}

	if err := env.Engine.Delete(env.Ctx, "alice", q.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found deleting twice, got %v", err)
	}
}

func TestNotificationsOnTransitions(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "1.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, "bob", q.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// every user whose role reviews hears about the submission
	for _, reviewer := range []string{"alice", "rita"} {
		items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: reviewer})
		if err != nil {
			t.Fatalf("list notifications for %s: %v", reviewer, err)
		}
		if len(items) != 1 || items[0].Type != "quotation.submitted" {
			t.Fatalf("expected one submitted notification for %s, got %+v", reviewer, items)
		}
	}

	if _, err := env.Engine.Reject(env.Ctx, "alice", q.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: "bob"})
	if err != nil {
		t.Fatalf("list notifications for bob: %v", err)
	}
	if len(items) != 1 || items[0].Type != "quotation.rejected" {
		t.Fatalf("expected creator to hear about rejection, got %+v", items)
	}
	// reviewers hear about the decision too
	items, err = env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: "rita"})
	if err != nil {
		t.Fatalf("list notifications for rita: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected rita to have submit and reject alerts, got %+v", items)
	}
}

func TestStaleVersionLosesTheRace(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.Create(env.Ctx, "bob", singleItem(t, "1.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// another writer bumps the row first
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	ok, err := env.Engine.Repo.BumpQuotationTx(env.Ctx, tx, q.ID, q.Status, q.RowVersion)
	if err != nil || !ok {
		t.Fatalf("first bump: ok=%v err=%v", ok, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx, err = env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	ok, err = env.Engine.Repo.BumpQuotationTx(env.Ctx, tx, q.ID, q.Status, q.RowVersion)
	if err != nil {
		t.Fatalf("second bump: %v", err)
	}
	if ok {
		t.Fatalf("expected stale row_version to be rejected")
	}
}

func TestSequentialDisplayIDs(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.Create(env.Ctx, "bob", nil)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := env.Engine.Create(env.Ctx, "bob", nil)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if first.DisplayID != "RFQ-000001" || second.DisplayID != "RFQ-000002" {
		t.Fatalf("expected sequential display ids, got %s and %s", first.DisplayID, second.DisplayID)
	}
}
