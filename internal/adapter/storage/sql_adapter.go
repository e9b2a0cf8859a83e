package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/port"
)

// SQLAdapter implements port.DatabaseRepository on MySQL or Postgres.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: dialect}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// InTx runs fn at READ COMMITTED. Locks are explicit SELECT ... FOR UPDATE
// statements, so the weaker isolation level is enough and avoids gap locks.
func (a *SQLAdapter) InTx(ctx context.Context, fn func(ctx context.Context, tx port.TxRepository) error) error {
	return a.withTx(ctx, func(q queryer) error {
		return fn(ctx, &sqlTx{q: q, dialect: a.dialect})
	})
}

func (a *SQLAdapter) withTx(ctx context.Context, fn func(q queryer) error) error {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

type sqlTx struct {
	q       queryer
	dialect Dialect
}

func (tx *sqlTx) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return getAccount(ctx, tx.q, tx.dialect, accountID)
}

func (tx *sqlTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, tx.q, tx.dialect, productID)
}

func (tx *sqlTx) LockWallet(ctx context.Context, accountID string) (*domain.Wallet, error) {
	query := tx.dialect.rebind(`
		SELECT id, account_id, balance, currency, updated_at
		FROM wallets WHERE account_id = ? FOR UPDATE`)

	w, err := scanWallet(tx.q.QueryRowContext(ctx, query, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrWalletNotFound, "account %s", accountID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock wallet")
	}
	return w, nil
}

func (tx *sqlTx) UpdateWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	query := tx.dialect.rebind(`UPDATE wallets SET balance = ?, updated_at = ? WHERE id = ?`)

	res, err := tx.q.ExecContext(ctx, query, balance, at, walletID)
	if err != nil {
		return errors.Wrap(err, "update wallet balance")
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return errors.Errorf("update wallet balance: %d rows affected", n)
	}
	return nil
}

func (tx *sqlTx) AppendLedgerEntry(ctx context.Context, e domain.LedgerEntry) error {
	query := tx.dialect.rebind(`
		INSERT INTO ledger_entries
			(id, wallet_id, type, amount, balance_before, balance_after, description, order_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := tx.q.ExecContext(ctx, query,
		e.ID, e.WalletID, string(e.Type), e.Amount, e.BalanceBefore, e.BalanceAfter,
		e.Description, nullString(e.OrderID), e.CreatedAt)
	return errors.Wrap(err, "insert ledger entry")
}

// LockUnclaimedUnits blocks on units held by other transactions rather than
// skipping them, so a buyer only sees a shortage when the stock is gone.
func (tx *sqlTx) LockUnclaimedUnits(ctx context.Context, productID string, limit int) ([]domain.InventoryUnit, error) {
	query := tx.dialect.rebind(`
		SELECT ` + unitColumns + `
		FROM inventory_units
		WHERE product_id = ? AND claimed = FALSE
		ORDER BY id
		LIMIT ?
		FOR UPDATE`)

	rows, err := tx.q.QueryContext(ctx, query, productID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select unclaimed units")
	}
	defer rows.Close()

	var units []domain.InventoryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, errors.Wrap(rows.Err(), "iterate unclaimed units")
}

func (tx *sqlTx) ClaimUnits(ctx context.Context, unitIDs []string, orderID, accountID string, at time.Time) (int, error) {
	if len(unitIDs) == 0 {
		return 0, nil
	}
	query := tx.dialect.rebind(`
		UPDATE inventory_units
		SET claimed = TRUE, order_id = ?, claimed_by = ?, claimed_at = ?
		WHERE claimed = FALSE AND id IN (` + placeholders(len(unitIDs)) + `)`)

	args := make([]any, 0, len(unitIDs)+3)
	args = append(args, orderID, accountID, at)
	for _, id := range unitIDs {
		args = append(args, id)
	}

	res, err := tx.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "claim units")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "claim units rows affected")
	}
	return int(n), nil
}

func (tx *sqlTx) RefreshProductStock(ctx context.Context, productID string, at time.Time) (int, error) {
	return refreshStock(ctx, tx.q, tx.dialect, productID, at)
}

func (tx *sqlTx) InsertOrder(ctx context.Context, o domain.Order) error {
	query := tx.dialect.rebind(`
		INSERT INTO orders
			(id, account_id, product_id, quantity, unit_price, total_price, status, is_api_origin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := tx.q.ExecContext(ctx, query,
		o.ID, o.AccountID, o.ProductID, o.Quantity, o.UnitPrice, o.TotalPrice,
		string(o.Status), o.IsAPIOrigin, o.CreatedAt, o.UpdatedAt)
	return errors.Wrap(err, "insert order")
}

// ActiveCommissionSettings returns the most recent settings row, active or
// not, so an operator can switch commissions off.
func (tx *sqlTx) ActiveCommissionSettings(ctx context.Context) (*domain.CommissionSettings, error) {
	query := `
		SELECT type, value, is_active, updated_at
		FROM commission_settings
		ORDER BY updated_at DESC, id DESC
		LIMIT 1`

	var (
		s   domain.CommissionSettings
		typ string
	)
	err := tx.q.QueryRowContext(ctx, query).Scan(&typ, &s.Value, &s.IsActive, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select commission settings")
	}
	s.Type = domain.CommissionType(typ)
	return &s, nil
}

func (tx *sqlTx) InsertCommission(ctx context.Context, c domain.ReferralCommission) error {
	query := tx.dialect.rebind(`
		INSERT INTO referral_commissions
			(id, referrer_id, referred_id, order_id, order_amount, amount, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := tx.q.ExecContext(ctx, query,
		c.ID, c.ReferrerID, c.ReferredID, c.OrderID, c.OrderAmount, c.Amount, string(c.Status), c.CreatedAt)
	if isUniqueViolation(err) {
		return errors.Errorf("commission for order %s already exists", c.OrderID)
	}
	return errors.Wrap(err, "insert commission")
}

func (tx *sqlTx) LockCompletedCommissions(ctx context.Context, referrerID string) ([]domain.ReferralCommission, error) {
	query := tx.dialect.rebind(`
		SELECT ` + commissionColumns + `
		FROM referral_commissions
		WHERE referrer_id = ? AND status = ?
		ORDER BY id
		FOR UPDATE`)

	return queryCommissions(ctx, tx.q, query, referrerID, string(domain.CommissionStatusCompleted))
}

func (tx *sqlTx) MarkCommissionsWithdrawn(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := tx.dialect.rebind(`
		UPDATE referral_commissions
		SET status = ?, withdrawn_at = ?
		WHERE status = ? AND id IN (` + placeholders(len(ids)) + `)`)

	args := make([]any, 0, len(ids)+3)
	args = append(args, string(domain.CommissionStatusWithdrawn), at, string(domain.CommissionStatusCompleted))
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := tx.q.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "mark commissions withdrawn")
	}
	if n, _ := res.RowsAffected(); int(n) != len(ids) {
		return errors.Errorf("mark commissions withdrawn: %d of %d rows affected", n, len(ids))
	}
	return nil
}

// Read models

func (a *SQLAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, a.db, a.dialect, productID)
}

func (a *SQLAdapter) GetWallet(ctx context.Context, accountID string) (*domain.Wallet, error) {
	query := a.dialect.rebind(`
		SELECT id, account_id, balance, currency, updated_at
		FROM wallets WHERE account_id = ?`)

	w, err := scanWallet(a.db.QueryRowContext(ctx, query, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrWalletNotFound, "account %s", accountID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get wallet")
	}
	return w, nil
}

func (a *SQLAdapter) ListLedgerEntries(ctx context.Context, walletID string, page port.Page) ([]domain.LedgerEntry, error) {
	page = page.Normalize()
	query := a.dialect.rebind(`
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE wallet_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`)

	return queryLedger(ctx, a.db, query, walletID, page.Limit, page.Offset)
}

func (a *SQLAdapter) LedgerChain(ctx context.Context, walletID string) ([]domain.LedgerEntry, error) {
	query := a.dialect.rebind(`
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE wallet_id = ?
		ORDER BY created_at, id`)

	return queryLedger(ctx, a.db, query, walletID)
}

func (a *SQLAdapter) ListOrders(ctx context.Context, accountID string, page port.Page) ([]domain.Order, error) {
	page = page.Normalize()
	query := a.dialect.rebind(`
		SELECT ` + orderColumns + `
		FROM orders
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`)

	rows, err := a.db.QueryContext(ctx, query, accountID, page.Limit, page.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, errors.Wrap(rows.Err(), "iterate orders")
}

func (a *SQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.OrderDetail, error) {
	query := a.dialect.rebind(`SELECT ` + orderColumns + ` FROM orders WHERE id = ?`)

	o, err := scanOrder(a.db.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "order %s", orderID)
	}
	if err != nil {
		return nil, err
	}

	unitsQuery := a.dialect.rebind(`
		SELECT ` + unitColumns + `
		FROM inventory_units
		WHERE order_id = ?
		ORDER BY id`)
	rows, err := a.db.QueryContext(ctx, unitsQuery, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select order units")
	}
	defer rows.Close()

	detail := &domain.OrderDetail{Order: *o}
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		detail.Units = append(detail.Units, u.Allocated())
	}
	return detail, errors.Wrap(rows.Err(), "iterate order units")
}

func (a *SQLAdapter) ListCommissions(ctx context.Context, referrerID string) ([]domain.ReferralCommission, error) {
	query := a.dialect.rebind(`
		SELECT ` + commissionColumns + `
		FROM referral_commissions
		WHERE referrer_id = ?
		ORDER BY created_at, id`)

	return queryCommissions(ctx, a.db, query, referrerID)
}

func (a *SQLAdapter) CountUnclaimedUnits(ctx context.Context, productID string) (int, error) {
	return countUnclaimed(ctx, a.db, a.dialect, productID)
}

func (a *SQLAdapter) FindAccountByAPIKeyHash(ctx context.Context, hash string) (*domain.Account, error) {
	query := a.dialect.rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE api_key_hash = ?`)

	acc, err := scanAccount(a.db.QueryRowContext(ctx, query, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(domain.ErrNotFound, "api key")
	}
	if err != nil {
		return nil, errors.Wrap(err, "find account by api key")
	}
	return acc, nil
}

// Provisioning

func (a *SQLAdapter) CreateAccount(ctx context.Context, account domain.Account, wallet domain.Wallet) error {
	if wallet.Balance.IsNegative() {
		return errors.Wrap(domain.ErrInvalidInput, "opening balance is negative")
	}
	return a.withTx(ctx, func(q queryer) error {
		_, err := q.ExecContext(ctx, a.dialect.rebind(`
			INSERT INTO accounts (id, role, referrer_id, api_key_hash, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			account.ID, string(account.Role), nullString(account.ReferrerID),
			nullString(account.APIKeyHash), account.IsActive, account.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "insert account")
		}

		_, err = q.ExecContext(ctx, a.dialect.rebind(`
			INSERT INTO wallets (id, account_id, balance, currency, updated_at)
			VALUES (?, ?, ?, ?, ?)`),
			wallet.ID, account.ID, wallet.Balance, wallet.Currency, wallet.UpdatedAt)
		return errors.Wrap(err, "insert wallet")
	})
}

func (a *SQLAdapter) CreateProduct(ctx context.Context, p domain.Product) error {
	query := a.dialect.rebind(`
		INSERT INTO products
			(id, name, kind, base_cost, selling_price, distributor_price, is_active, stock, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`)

	_, err := a.db.ExecContext(ctx, query,
		p.ID, p.Name, string(p.Kind), p.BaseCost, p.SellingPrice, p.DistributorPrice,
		p.IsActive, p.CreatedAt, p.UpdatedAt)
	return errors.Wrap(err, "insert product")
}

func (a *SQLAdapter) AddInventoryUnits(ctx context.Context, productID string, units []domain.InventoryUnit) (int, error) {
	var stock int
	err := a.withTx(ctx, func(q queryer) error {
		// Serializes concurrent imports of the same product.
		var locked string
		err := q.QueryRowContext(ctx, a.dialect.rebind(`SELECT id FROM products WHERE id = ? FOR UPDATE`), productID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(domain.ErrProductNotFound, "product %s", productID)
		}
		if err != nil {
			return errors.Wrap(err, "lock product")
		}

		query := a.dialect.rebind(`
			INSERT INTO inventory_units (id, product_id, code, serial, claimed, created_at)
			VALUES (?, ?, ?, ?, FALSE, ?)`)
		for _, u := range units {
			_, err := q.ExecContext(ctx, query, u.ID, productID, u.Code, nullString(u.Serial), u.CreatedAt)
			if isUniqueViolation(err) {
				return errors.Wrapf(domain.ErrDuplicateCode, "code already imported for product %s", productID)
			}
			if err != nil {
				return errors.Wrap(err, "insert inventory unit")
			}
		}

		stock, err = refreshStock(ctx, q, a.dialect, productID, time.Now().UTC())
		return err
	})
	if err != nil {
		return 0, err
	}
	return stock, nil
}

func (a *SQLAdapter) SaveCommissionSettings(ctx context.Context, s domain.CommissionSettings) error {
	query := a.dialect.rebind(`
		INSERT INTO commission_settings (id, type, value, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?)`)

	_, err := a.db.ExecContext(ctx, query, uuid.Must(uuid.NewV7()).String(), string(s.Type), s.Value, s.IsActive, s.UpdatedAt)
	return errors.Wrap(err, "insert commission settings")
}
