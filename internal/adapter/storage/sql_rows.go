package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/rl1809/reseller/internal/core/domain"
)

const (
	accountColumns    = `id, role, referrer_id, api_key_hash, is_active, created_at`
	productColumns    = `id, name, kind, base_cost, selling_price, distributor_price, is_active, stock, created_at, updated_at`
	unitColumns       = `id, product_id, code, serial, claimed, order_id, claimed_by, claimed_at, created_at`
	orderColumns      = `id, account_id, product_id, quantity, unit_price, total_price, status, is_api_origin, created_at, updated_at`
	ledgerColumns     = `id, wallet_id, type, amount, balance_before, balance_after, description, order_id, created_at`
	commissionColumns = `id, referrer_id, referred_id, order_id, order_amount, amount, status, created_at, withdrawn_at`
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func getAccount(ctx context.Context, q queryer, d Dialect, accountID string) (*domain.Account, error) {
	acc, err := scanAccount(q.QueryRowContext(ctx, d.rebind(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`), accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "account %s", accountID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get account")
	}
	return acc, nil
}

func getProduct(ctx context.Context, q queryer, d Dialect, productID string) (*domain.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, d.rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrProductNotFound, "product %s", productID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	return p, nil
}

func countUnclaimed(ctx context.Context, q queryer, d Dialect, productID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		d.rebind(`SELECT COUNT(*) FROM inventory_units WHERE product_id = ? AND claimed = FALSE`),
		productID).Scan(&n)
	return n, errors.Wrap(err, "count unclaimed units")
}

// refreshStock overwrites the product's stock with the live unclaimed count.
func refreshStock(ctx context.Context, q queryer, d Dialect, productID string, at time.Time) (int, error) {
	n, err := countUnclaimed(ctx, q, d, productID)
	if err != nil {
		return 0, err
	}
	_, err = q.ExecContext(ctx, d.rebind(`UPDATE products SET stock = ?, updated_at = ? WHERE id = ?`), n, at, productID)
	if err != nil {
		return 0, errors.Wrap(err, "update product stock")
	}
	return n, nil
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a        domain.Account
		role     string
		referrer sql.NullString
		keyHash  sql.NullString
	)
	if err := row.Scan(&a.ID, &role, &referrer, &keyHash, &a.IsActive, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Role = domain.Role(role)
	a.ReferrerID = referrer.String
	a.APIKeyHash = keyHash.String
	return &a, nil
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p    domain.Product
		kind string
	)
	err := row.Scan(&p.ID, &p.Name, &kind, &p.BaseCost, &p.SellingPrice, &p.DistributorPrice,
		&p.IsActive, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Kind = domain.ProductKind(kind)
	return &p, nil
}

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := row.Scan(&w.ID, &w.AccountID, &w.Balance, &w.Currency, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func scanUnit(row rowScanner) (*domain.InventoryUnit, error) {
	var (
		u                          domain.InventoryUnit
		serial, orderID, claimedBy sql.NullString
		claimedAt                  sql.NullTime
	)
	err := row.Scan(&u.ID, &u.ProductID, &u.Code, &serial, &u.Claimed, &orderID, &claimedBy, &claimedAt, &u.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "scan inventory unit")
	}
	u.Serial = serial.String
	u.OrderID = orderID.String
	u.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		t := claimedAt.Time
		u.ClaimedAt = &t
	}
	return &u, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := row.Scan(&o.ID, &o.AccountID, &o.ProductID, &o.Quantity, &o.UnitPrice, &o.TotalPrice,
		&status, &o.IsAPIOrigin, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan order")
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func queryLedger(ctx context.Context, q queryer, query string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select ledger entries")
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e       domain.LedgerEntry
			typ     string
			orderID sql.NullString
		)
		err := rows.Scan(&e.ID, &e.WalletID, &typ, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
			&e.Description, &orderID, &e.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "scan ledger entry")
		}
		e.Type = domain.EntryType(typ)
		e.OrderID = orderID.String
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "iterate ledger entries")
}

func queryCommissions(ctx context.Context, q queryer, query string, args ...any) ([]domain.ReferralCommission, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select commissions")
	}
	defer rows.Close()

	var out []domain.ReferralCommission
	for rows.Next() {
		var (
			c         domain.ReferralCommission
			status    string
			withdrawn sql.NullTime
		)
		err := rows.Scan(&c.ID, &c.ReferrerID, &c.ReferredID, &c.OrderID, &c.OrderAmount, &c.Amount,
			&status, &c.CreatedAt, &withdrawn)
		if err != nil {
			return nil, errors.Wrap(err, "scan commission")
		}
		c.Status = domain.CommissionStatus(status)
		if withdrawn.Valid {
			t := withdrawn.Time
			c.WithdrawnAt = &t
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "iterate commissions")
}
