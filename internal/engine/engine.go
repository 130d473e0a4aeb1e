package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quoteline/internal/audit"
	"quoteline/internal/config"
	"quoteline/internal/domain"
	"quoteline/internal/engine/auth"
	"quoteline/internal/notify"
	"quoteline/internal/repo"
)

// Engine owns every quotation state transition. Each operation validates its
// input, checks the actor's capabilities, then applies the write and its
// audit entry inside a single transaction. Notifications go out after commit
// and never roll a transition back.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Auth   auth.Service
	Notify *notify.Dispatcher
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, logger *log.Logger) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Audit:  audit.Writer{DB: db},
		Auth:   auth.Service{Repo: r, Config: cfg},
		Notify: &notify.Dispatcher{Repo: r, Logger: logger, LinkBase: cfg.Notifications.LinkBase},
		Config: cfg,
		Now:    time.Now,
	}
}

// LineItemInput is the caller's view of one line item, used on create, draft
// edits and negotiation revisions. The whole set replaces whatever is stored.
type LineItemInput struct {
	ProductID   string     `json:"product_id"`
	Quantity    int        `json:"quantity"`
	Observation string     `json:"observation,omitempty"`
	Bids        []BidInput `json:"bids,omitempty"`
}

// BidInput carries the negotiation fields too so a revision can keep or drop
// the flags set by a reviewer. Rows resubmitted without them come back clean.
type BidInput struct {
	SupplierID           string           `json:"supplier_id"`
	UnitPrice            decimal.Decimal  `json:"unit_price"`
	NegotiationRequested bool             `json:"negotiation_requested,omitempty"`
	TargetPrice          *decimal.Decimal `json:"target_price,omitempty"`
	NegotiationReason    string           `json:"negotiation_reason,omitempty"`
}

// NegotiationTarget names one bid a reviewer wants reworked.
type NegotiationTarget struct {
	BidID       string          `json:"bid_id"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Reason      string          `json:"reason,omitempty"`
}

const maxBidsPerItem = 3

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Get returns one quotation with items, bids and winning-bid annotations.
func (e Engine) Get(ctx context.Context, id string) (domain.Quotation, error) {
	q, err := e.Repo.GetQuotationFull(ctx, id)
	if err != nil {
		return q, err
	}
	annotateLowest(q.Items)
	return q, nil
}

// List returns quotation headers matching the filters.
func (e Engine) List(ctx context.Context, f repo.QuotationFilters) ([]domain.Quotation, error) {
	return e.Repo.ListQuotations(ctx, f)
}

// Create opens a new draft quotation owned by the actor.
func (e Engine) Create(ctx context.Context, actorID string, items []LineItemInput) (domain.Quotation, error) {
	actor, err := e.Auth.Resolve(ctx, actorID)
	if err != nil {
		return domain.Quotation{}, err
	}
	if !e.Auth.CanCreate(actor) {
		return domain.Quotation{}, auth.UnauthorizedError{Capability: config.CapEdit}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quotation{}, err
	}
	defer tx.Rollback()

	seq, err := e.Repo.NextSequenceTx(ctx, tx, "quotation")
	if err != nil {
		return domain.Quotation{}, err
	}
	q := domain.Quotation{
		ID:         uuid.New().String(),
		DisplayID:  fmt.Sprintf("%s-%06d", e.Config.Workspace.DisplayPrefix, seq),
		Status:     domain.StatusDraft,
		CreatedBy:  actor.ID,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
		RowVersion: 1,
	}
	if err := e.Repo.InsertQuotationTx(ctx, tx, q); err != nil {
		return domain.Quotation{}, err
	}
	built, err := e.buildItems(ctx, tx, q.ID, items)
	if err != nil {
		return domain.Quotation{}, err
	}
	if err := e.Repo.ReplaceLineItemsTx(ctx, tx, q.ID, built); err != nil {
		return domain.Quotation{}, err
	}
	if err := e.Audit.Append(ctx, tx, q.ID, actor.ID, "created draft"); err != nil {
		return domain.Quotation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Quotation{}, err
	}
	q.Items = built
	annotateLowest(q.Items)
	return q, nil
}

// EditDraft replaces the full line-item set. Creators may edit their own
// drafts; managers may also rework quotations that are open or in
// negotiation.
func (e Engine) EditDraft(ctx context.Context, actorID, quotationID string, items []LineItemInput) (domain.Quotation, error) {
	actor, q, err := e.load(ctx, actorID, quotationID)
	if err != nil {
		return domain.Quotation{}, err
	}
	switch q.Status {
	case domain.StatusDraft:
		if !e.Auth.CanEditDraft(actor, q) {
			return domain.Quotation{}, auth.UnauthorizedError{Capability: config.CapEdit}
		}
	case domain.StatusOpen, domain.StatusNegotiation:
		if !e.Auth.CanManage(actor) {
			return domain.Quotation{}, auth.UnauthorizedError{Capability: config.CapManage}
		}
	default:
		return domain.Quotation{}, InvalidTransitionError{Status: q.Status, Action: "edit"}
	}
	return e.replaceItems(ctx, actor, q, q.Status, items, "updated line items")
}

// AddBid appends a single bid to a line item without touching the rest of the
// quotation.
func (e Engine) AddBid(ctx context.Context, actorID, quotationID, lineItemID string, in BidInput) (domain.Bid, error) {
	actor, q, err := e.load(ctx, actorID, quotationID)
	if err != nil {
		return domain.Bid{}, err
	}
	switch q.Status {
	case domain.StatusDraft:
		if !e.Auth.CanEditDraft(actor, q) {
			return domain.Bid{}, auth.UnauthorizedError{Capability: config.CapEdit}
		}
	case domain.StatusOpen, domain.StatusNegotiation:
		if !e.Auth.CanManage(actor) {
			return domain.Bid{}, auth.UnauthorizedError{Capability: config.CapManage}
		}
	default:
		return domain.Bid{}, InvalidTransitionError{Status: q.Status, Action: "add a bid"}
	}
	if in.UnitPrice.IsNegative() {
		return domain.Bid{}, validationf("unit_price must not be negative")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.BumpQuotationTx(ctx, tx, q.ID, q.Status, q.RowVersion)
	if err != nil {
		return domain.Bid{}, err
	}
	if !ok {
		return domain.Bid{}, ErrConflict
	}
	item, err := e.Repo.GetLineItemTx(ctx, tx, lineItemID)
	if err != nil {
		return domain.Bid{}, err
	}
	if item.QuotationID != q.ID {
		return domain.Bid{}, repo.ErrNotFound
	}
	exists, err := e.Repo.SupplierExistsTx(ctx, tx, in.SupplierID)
	if err != nil {
		return domain.Bid{}, err
	}
	if !exists {
		return domain.Bid{}, validationf("unknown supplier %s", in.SupplierID)
	}
	count, err := e.Repo.CountBidsTx(ctx, tx, item.ID)
	if err != nil {
		return domain.Bid{}, err
	}
	if count >= maxBidsPerItem {
		return domain.Bid{}, validationf("line item already has %d bids, the maximum", maxBidsPerItem)
	}
	b := domain.Bid{
		ID:         uuid.New().String(),
		LineItemID: item.ID,
		SupplierID: in.SupplierID,
		UnitPrice:  in.UnitPrice,
	}
	if err := e.Repo.InsertBidTx(ctx, tx, b, count); err != nil {
		return domain.Bid{}, err
	}
	if err := e.Audit.Append(ctx, tx, q.ID, actor.ID, fmt.Sprintf("added bid from supplier %s", in.SupplierID)); err != nil {
		return domain.Bid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, err
	}
	return b, nil
}

// Submit moves a draft to open so reviewers can work it. Every line item must
// carry at least one bid with a positive price.
func (e Engine) Submit(ctx context.Context, actorID, quotationID string) (domain.Quotation, error) {
	actor, q, err := e.load(ctx, actorID, quotationID)
	if err != nil {
		return domain.Quotation{}, err
	}
	if !e.Auth.CanSubmit(actor, q) {
		return domain.Quotation{}, auth.UnauthorizedError{Capability: config.CapSubmit}
	}
	if q.Status != domain.StatusDraft {
		return domain.Quotation{}, InvalidTransitionError{Status: q.Status, Action: "submit"}
	}
	items, err := e.Repo.ListLineItems(ctx, q.ID)
	if err != nil {
		return domain.Quotation{}, err
	}
	if len(items) == 0 {
		return domain.Quotation{}, validationf("cannot submit a quotation without line items")
	}
	for _, it := range items {
		if len(it.Bids) == 0 {
			return domain.Quotation{}, validationf("line item %s has no bids", it.ID)
		}
		for _, b := range it.Bids {
			if !b.UnitPrice.IsPositive() {
				return domain.Quotation{}, validationf("bid %s needs a positive unit price before submission", b.ID)
			}
		}
	}
	q, err = e.transition(ctx, actor, q, domain.StatusOpen, "submitted for analysis")
	if err != nil {
		return domain.Quotation{}, err
	}
	e.notifyReviewers(ctx, q, "quotation.submitted",
		fmt.Sprintf("Quotation %s submitted", q.DisplayID),
		fmt.Sprintf("%s submitted quotation %s for analysis.", actor.Name, q.DisplayID))
	return q, nil
}

// RequestNegotiation flags one or more bids and moves the quotation from open
// to negotiation.
func (e Engine) RequestNegotiation(ctx context.Context, actorID, quotationID string, targets []NegotiationTarget) (domain.Quotation, error) {
	actor, q, err := e.load(ctx, actorID, quotationID)
	if err != nil {
		return domain.Quotation{}, err
	}
	if !e.Auth.CanReview(actor) {
		return domain.Quotation{}, auth.UnauthorizedError{Capability: config.CapReview}
	}
	if q.Status != domain.StatusOpen {
		return domain.Quotation{}, InvalidTransitionError{Status: q.Status, Action: "request negotiation"}
	}
	if len(targets) == 0 {
		return domain.Quotation{}, validationf("negotiation needs at least one target bid")
	}
	for _, t := range targets {
		if t.TargetPrice.IsNegative() {
			return domain.Quotation{}, validationf("target price for bid %s must not be negative", t.BidID)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quotation{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.BumpQuotationTx(ctx, tx, q.ID, domain.StatusNegotiation, q.RowVersion)
	if err != nil {
		return domain.Quotation{}, err
	}
	if !ok {
		return domain.Quotation{}, ErrConflict
	}
	for _, t := range targets {
		owner, err := e.Repo.QuotationOfBidTx(ctx, tx, t.BidID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Quotation{}, validationf("bid %s does not exist", t.BidID)
			}
			return domain.Quotation{}, err
		}
		if owner != q.ID {
			return domain.Quotation{}, validationf("bid %s belongs to another quotation", t.BidID)
		}
		if err := e.Repo.FlagBidTx(ctx, tx, t.BidID, t.TargetPrice, t.Reason); err != nil {
			return domain.Quotation{}, err
		}
	}
	desc := fmt.Sprintf("requested negotiation on %d bid(s)", len(targets))
	if err := e.Audit.Append(ctx, tx, q.ID, actor.ID, desc); err != nil {
		return domain.Quotation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Quotation{}, err
	}
	q.Status = domain.StatusNegotiation
	q.RowVersion++
	e.notifyReviewers(ctx, q, "quotation.negotiation",
		fmt.Sprintf("Negotiation requested on %s", q.DisplayID),
		fmt.Sprintf("%s requested negotiation on %d bid(s) of quotation %s.", actor.Name, len(targets), q.DisplayID),
		q.CreatedBy)
	return q, nil
}

// ReviseInNegotiation replaces the line-item set with renegotiated prices and
// returns the quotation to open. Negotiation flags on resubmitted bids stay
// exactly as the caller sends them; nothing is cleared automatically.
func (e Engine) ReviseInNegotiation(ctx context.Context, actorID, quotationID string, items []LineItemInput) (domain.Quotation, error) {
	actor, q, err := e.load(ctx, actorID, quotationID)
	if err != nil {
		return domain.Quotation{}, err
	}
	if !e.Auth.CanEditDraft(actor, q) {
		return domain.Quotation{}, auth.UnauthorizedError{Capability: config.CapEdit}
	}
	if q.Status != domain.StatusNegotiation {
		return domain.Quotation{}, InvalidTransitionError{Status: q.Status, Action: "revise"}
	}
	q, err = e.replaceItems(ctx, actor, q, domain.StatusOpen, items, "revised after negotiation")
	if err != nil {
		return domain.Quotation{}, err
	}
	e.notifyReviewers(ctx, q, "quotation.revised",
		fmt.Sprintf("Quotation %s revised", q.DisplayID),
		fmt.Sprintf("%s revised quotation %s after negotiation.", actor.Name, q.DisplayID))
	return q, nil
}

// Approve closes an open quotation as accepted. Terminal.
func (e Engine) Approve(ctx context.Context, actorID, quotationID string) (domain.Quotation, error) {
	return e.review(ctx, actorID, quotationID, domain.StatusApproved, "approve", "approved", "quotation.approved")
}

// Reject closes an open quotation as declined. Terminal.
func (e Engine) Reject(ctx context.Context, actorID, quotationID string) (domain.Quotation, error) {
	return e.review(ctx, actorID, quotationID, domain.StatusRejected, "reject", "rejected", "quotation.rejected")
}

func (e Engine) review(ctx context.Context, actorID, quotationID, status, action, desc, notifType string) (domain.Quotation, error) {
	actor, q, err := e.load(ctx, actorID, quotationID)
	if err != nil {
		return domain.Quotation{}, err
	}
	if !e.Auth.CanReview(actor) {
		return domain.Quotation{}, auth.UnauthorizedError{Capability: config.CapReview}
	}
	if q.Status != domain.StatusOpen {
		return domain.Quotation{}, InvalidTransitionError{Status: q.Status, Action: action}
	}
	q, err = e.transition(ctx, actor, q, status, desc)
	if err != nil {
		return domain.Quotation{}, err
	}
	e.notifyReviewers(ctx, q, notifType,
		fmt.Sprintf("Quotation %s %s", q.DisplayID, desc),
		fmt.Sprintf("%s %s quotation %s.", actor.Name, desc, q.DisplayID),
		q.CreatedBy)
	return q, nil
}

// Delete removes a quotation and, through foreign keys, its line items, bids
// and audit trail. Allowed from any status for managers.
func (e Engine) Delete(ctx context.Context, actorID, quotationID string) error {
	actor, err := e.Auth.Resolve(ctx, actorID)
	if err != nil {
		return err
	}
	if !e.Auth.CanManage(actor) {
		return auth.UnauthorizedError{Capability: config.CapManage}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteQuotationTx(ctx, tx, quotationID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- shared plumbing ---

func (e Engine) load(ctx context.Context, actorID, quotationID string) (auth.Actor, domain.Quotation, error) {
	actor, err := e.Auth.Resolve(ctx, actorID)
	if err != nil {
		return auth.Actor{}, domain.Quotation{}, err
	}
	q, err := e.Repo.GetQuotation(ctx, quotationID)
	if err != nil {
		return auth.Actor{}, domain.Quotation{}, err
	}
	return actor, q, nil
}

// transition bumps the quotation to a new status and records why, all in one
// transaction.
func (e Engine) transition(ctx context.Context, actor auth.Actor, q domain.Quotation, status, desc string) (domain.Quotation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quotation{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.BumpQuotationTx(ctx, tx, q.ID, status, q.RowVersion)
	if err != nil {
		return domain.Quotation{}, err
	}
	if !ok {
		return domain.Quotation{}, ErrConflict
	}
	if err := e.Audit.Append(ctx, tx, q.ID, actor.ID, desc); err != nil {
		return domain.Quotation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Quotation{}, err
	}
	q.Status = status
	q.RowVersion++
	return q, nil
}

// replaceItems validates and swaps the full line-item set while bumping the
// quotation to newStatus in the same transaction.
func (e Engine) replaceItems(ctx context.Context, actor auth.Actor, q domain.Quotation, newStatus string, items []LineItemInput, desc string) (domain.Quotation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quotation{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.BumpQuotationTx(ctx, tx, q.ID, newStatus, q.RowVersion)
	if err != nil {
		return domain.Quotation{}, err
	}
	if !ok {
		return domain.Quotation{}, ErrConflict
	}
	built, err := e.buildItems(ctx, tx, q.ID, items)
	if err != nil {
		return domain.Quotation{}, err
	}
	if err := e.Repo.ReplaceLineItemsTx(ctx, tx, q.ID, built); err != nil {
		return domain.Quotation{}, err
	}
	if err := e.Audit.Append(ctx, tx, q.ID, actor.ID, desc); err != nil {
		return domain.Quotation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Quotation{}, err
	}
	q.Status = newStatus
	q.RowVersion++
	q.Items = built
	annotateLowest(q.Items)
	return q, nil
}

// buildItems validates the whole input set before a single row is written, so
// a bad entry in the middle never leaves the quotation half-replaced.
func (e Engine) buildItems(ctx context.Context, tx *sql.Tx, quotationID string, items []LineItemInput) ([]domain.LineItem, error) {
	built := make([]domain.LineItem, 0, len(items))
	for i, in := range items {
		if in.ProductID == "" {
			return nil, validationf("item %d: product_id required", i)
		}
		exists, err := e.Repo.ProductExistsTx(ctx, tx, in.ProductID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, validationf("item %d: unknown product %s", i, in.ProductID)
		}
		if in.Quantity <= 0 {
			return nil, validationf("item %d: quantity must be positive", i)
		}
		if len(in.Bids) > maxBidsPerItem {
			return nil, validationf("item %d: at most %d bids per line item", i, maxBidsPerItem)
		}
		item := domain.LineItem{
			ID:          uuid.New().String(),
			QuotationID: quotationID,
			ProductID:   in.ProductID,
			Quantity:    in.Quantity,
			Observation: in.Observation,
		}
		for j, b := range in.Bids {
			if b.SupplierID == "" {
				return nil, validationf("item %d bid %d: supplier_id required", i, j)
			}
			ok, err := e.Repo.SupplierExistsTx(ctx, tx, b.SupplierID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, validationf("item %d bid %d: unknown supplier %s", i, j, b.SupplierID)
			}
			if b.UnitPrice.IsNegative() {
				return nil, validationf("item %d bid %d: unit_price must not be negative", i, j)
			}
			if b.TargetPrice != nil && b.TargetPrice.IsNegative() {
				return nil, validationf("item %d bid %d: target_price must not be negative", i, j)
			}
			item.Bids = append(item.Bids, domain.Bid{
				ID:                   uuid.New().String(),
				LineItemID:           item.ID,
				SupplierID:           b.SupplierID,
				UnitPrice:            b.UnitPrice,
				NegotiationRequested: b.NegotiationRequested,
				TargetPrice:          b.TargetPrice,
				NegotiationReason:    b.NegotiationReason,
			})
		}
		built = append(built, item)
	}
	return built, nil
}

// notifyReviewers fans an alert out to every reviewer-capability user, plus
// any extra recipients (typically the creator). The dispatcher dedupes, so a
// creator who also reviews gets one row.
func (e Engine) notifyReviewers(ctx context.Context, q domain.Quotation, typ, title, message string, extra ...string) {
	reviewers, err := e.Auth.ReviewerIDs(ctx)
	if err != nil {
		l := e.Notify.Logger
		if l == nil {
			l = log.Default()
		}
		l.Printf("notify: resolving reviewers failed: %v", err)
		reviewers = nil
	}
	e.Notify.Send(ctx, append(extra, reviewers...), typ, title, message, e.Notify.QuotationLink(q.ID))
}
