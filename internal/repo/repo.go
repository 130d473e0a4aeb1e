package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"quoteline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertQuotationTx(ctx context.Context, tx *sql.Tx, q domain.Quotation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO quotations(id,display_id,status,created_by,created_at,row_version) VALUES (?,?,?,?,?,?)`,
		q.ID, q.DisplayID, q.Status, q.CreatedBy, q.CreatedAt, q.RowVersion)
	return err
}

func (r Repo) GetQuotation(ctx context.Context, id string) (domain.Quotation, error) {
	var q domain.Quotation
	err := r.DB.QueryRowContext(ctx, `SELECT id,display_id,status,created_by,created_at,row_version FROM quotations WHERE id=?`, id).
		Scan(&q.ID, &q.DisplayID, &q.Status, &q.CreatedBy, &q.CreatedAt, &q.RowVersion)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	return q, err
}

// GetQuotationFull returns the quotation with its line items and bids.
func (r Repo) GetQuotationFull(ctx context.Context, id string) (domain.Quotation, error) {
	q, err := r.GetQuotation(ctx, id)
	if err != nil {
		return q, err
	}
	q.Items, err = r.ListLineItems(ctx, id)
	return q, err
}

// BumpQuotationTx advances row_version (and optionally status) only when the
// caller still holds the version it read. Returns false when another writer
// got there first.
func (r Repo) BumpQuotationTx(ctx context.Context, tx *sql.Tx, id, status string, expectedVersion int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE quotations SET status=?, row_version=row_version+1 WHERE id=? AND row_version=?`,
		status, id, expectedVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) DeleteQuotationTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM quotations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type QuotationFilters struct {
	Status          string
	CreatedBy       string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListQuotations(ctx context.Context, f QuotationFilters) ([]domain.Quotation, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,display_id,status,created_by,created_at,row_version FROM quotations ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Quotation
	for rows.Next() {
		var q domain.Quotation
		if err := rows.Scan(&q.ID, &q.DisplayID, &q.Status, &q.CreatedBy, &q.CreatedAt, &q.RowVersion); err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

// NextSequenceTx increments and returns the named counter.
func (r Repo) NextSequenceTx(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO sequences(name,value) VALUES (?,0) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sequences SET value=value+1 WHERE name=?`, name); err != nil {
		return 0, err
	}
	var v int64
	err := tx.QueryRowContext(ctx, `SELECT value FROM sequences WHERE name=?`, name).Scan(&v)
	return v, err
}

// --- line items and bids ---

func (r Repo) ListLineItems(ctx context.Context, quotationID string) ([]domain.LineItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,quotation_id,product_id,quantity,COALESCE(observation,'') FROM quotation_line_items WHERE quotation_id=? ORDER BY position ASC, id ASC`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.LineItem
	for rows.Next() {
		var it domain.LineItem
		if err := rows.Scan(&it.ID, &it.QuotationID, &it.ProductID, &it.Quantity, &it.Observation); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range items {
		bids, err := r.ListBids(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Bids = bids
	}
	return items, nil
}

func (r Repo) ListBids(ctx context.Context, lineItemID string) ([]domain.Bid, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,line_item_id,supplier_id,unit_price,is_negotiation_requested,target_price,COALESCE(negotiation_reason,'')
FROM quotation_bids WHERE line_item_id=? ORDER BY position ASC, id ASC`, lineItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func scanBid(rows *sql.Rows) (domain.Bid, error) {
	var b domain.Bid
	var target decimal.NullDecimal
	if err := rows.Scan(&b.ID, &b.LineItemID, &b.SupplierID, &b.UnitPrice, &b.NegotiationRequested, &target, &b.NegotiationReason); err != nil {
		return b, err
	}
	if target.Valid {
		b.TargetPrice = &target.Decimal
	}
	return b, nil
}

func (r Repo) GetBidTx(ctx context.Context, tx *sql.Tx, id string) (domain.Bid, error) {
	var b domain.Bid
	var target decimal.NullDecimal
	err := tx.QueryRowContext(ctx, `SELECT id,line_item_id,supplier_id,unit_price,is_negotiation_requested,target_price,COALESCE(negotiation_reason,'')
FROM quotation_bids WHERE id=?`, id).
		Scan(&b.ID, &b.LineItemID, &b.SupplierID, &b.UnitPrice, &b.NegotiationRequested, &target, &b.NegotiationReason)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if target.Valid {
		b.TargetPrice = &target.Decimal
	}
	return b, err
}

func (r Repo) GetLineItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.LineItem, error) {
	var it domain.LineItem
	err := tx.QueryRowContext(ctx, `SELECT id,quotation_id,product_id,quantity,COALESCE(observation,'') FROM quotation_line_items WHERE id=?`, id).
		Scan(&it.ID, &it.QuotationID, &it.ProductID, &it.Quantity, &it.Observation)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

func (r Repo) CountBidsTx(ctx context.Context, tx *sql.Tx, lineItemID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM quotation_bids WHERE line_item_id=?`, lineItemID).Scan(&n)
	return n, err
}

// QuotationOfBidTx resolves which quotation a bid belongs to.
func (r Repo) QuotationOfBidTx(ctx context.Context, tx *sql.Tx, bidID string) (string, error) {
	var quotationID string
	err := tx.QueryRowContext(ctx, `SELECT li.quotation_id FROM quotation_bids b JOIN quotation_line_items li ON li.id=b.line_item_id WHERE b.id=?`, bidID).
		Scan(&quotationID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return quotationID, err
}

// ReplaceLineItemsTx discards every line item (bids cascade) for the
// quotation and inserts the provided set in order. Validation is the
// caller's job; this only writes.
func (r Repo) ReplaceLineItemsTx(ctx context.Context, tx *sql.Tx, quotationID string, items []domain.LineItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM quotation_bids WHERE line_item_id IN (SELECT id FROM quotation_line_items WHERE quotation_id=?)`, quotationID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM quotation_line_items WHERE quotation_id=?`, quotationID); err != nil {
		return err
	}
	for pos, it := range items {
		if err := r.InsertLineItemTx(ctx, tx, it, pos); err != nil {
			return err
		}
		for bpos, b := range it.Bids {
			if err := r.InsertBidTx(ctx, tx, b, bpos); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r Repo) InsertLineItemTx(ctx context.Context, tx *sql.Tx, it domain.LineItem, position int) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO quotation_line_items(id,quotation_id,product_id,quantity,observation,position) VALUES (?,?,?,?,?,?)`,
		it.ID, it.QuotationID, it.ProductID, it.Quantity, nullable(it.Observation), position)
	return err
}

func (r Repo) InsertBidTx(ctx context.Context, tx *sql.Tx, b domain.Bid, position int) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO quotation_bids(id,line_item_id,supplier_id,unit_price,is_negotiation_requested,target_price,negotiation_reason,position)
VALUES (?,?,?,?,?,?,?,?)`,
		b.ID, b.LineItemID, b.SupplierID, b.UnitPrice, b.NegotiationRequested, nullableDecimal(b.TargetPrice), nullable(b.NegotiationReason), position)
	return err
}

// FlagBidTx marks one bid with a negotiation request.
func (r Repo) FlagBidTx(ctx context.Context, tx *sql.Tx, bidID string, target decimal.Decimal, reason string) error {
	res, err := tx.ExecContext(ctx, `UPDATE quotation_bids SET is_negotiation_requested=1, target_price=?, negotiation_reason=? WHERE id=?`,
		target, nullable(reason), bidID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

