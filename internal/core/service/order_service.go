package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/port"
)

// Notifier receives post-commit events. Enqueue must not block.
type Notifier interface {
	Enqueue(ev domain.Event) bool
}

type OrderService struct {
	db                port.DatabaseRepository
	cache             port.CacheRepository
	notifier          Notifier
	defaultCommission decimal.Decimal
	logger            *slog.Logger
	now               func() time.Time
}

// NewOrderService builds the fulfillment engine. cache and notifier are
// optional.
func NewOrderService(db port.DatabaseRepository, cache port.CacheRepository, notifier Notifier, defaultCommission decimal.Decimal, logger *slog.Logger) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		db:                db,
		cache:             cache,
		notifier:          notifier,
		defaultCommission: defaultCommission,
		logger:            logger,
		now:               time.Now,
	}
}

type fulfillment struct {
	result  domain.OrderResult
	product domain.Product
	order   domain.Order
	stock   int
}

// Purchase debits the buyer's wallet, allocates quantity unclaimed units and
// records the order, ledger entry, stock refresh and referral commission in
// one transaction. On any error nothing is persisted.
func (s *OrderService) Purchase(ctx context.Context, req domain.PurchaseRequest) (result *domain.OrderResult, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.RequestID != "" && s.cache != nil {
		key := fmt.Sprintf("purchase:%s:%s", req.AccountID, req.RequestID)

		ok, err := s.cache.SetIdempotency(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, "idempotency check failed")
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
		defer func() {
			if err == nil {
				return
			}
			if releaseErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); releaseErr != nil {
				s.logger.Warn("release idempotency key", "key", key, "error", releaseErr)
			}
		}()
	}

	var f *fulfillment
	err = s.db.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		var txErr error
		f, txErr = s.fulfill(ctx, tx, req)
		return txErr
	})
	if err != nil {
		s.logFailure(req, err)
		return nil, err
	}

	s.logger.Info("order completed",
		"order_id", f.order.ID,
		"account_id", req.AccountID,
		"product_id", req.ProductID,
		"quantity", req.Quantity,
		"total", f.order.TotalPrice.String(),
		"api", req.IsAPIOrigin,
	)
	s.notify(f)

	return &f.result, nil
}

// fulfill runs inside the transaction. Check order: product, wallet lock and
// balance, unit locks; then the writes, all stamped with the post-lock time.
func (s *OrderService) fulfill(ctx context.Context, tx port.TxRepository, req domain.PurchaseRequest) (*fulfillment, error) {
	product, err := tx.GetProduct(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get product")
	}

	unitPrice, err := ResolvePrice(product, req.Role)
	if err != nil {
		return nil, err
	}
	total := unitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))

	wallet, err := tx.LockWallet(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			return nil, errors.Wrapf(domain.ErrInsufficientFunds, "account %s has no wallet", req.AccountID)
		}
		return nil, errors.Wrap(err, "lock wallet")
	}
	now := s.now().UTC()
	if wallet.Balance.LessThan(total) {
		return nil, errors.Wrapf(domain.ErrInsufficientFunds, "balance %s, required %s", wallet.Balance, total)
	}

	units, err := tx.LockUnclaimedUnits(ctx, product.ID, req.Quantity)
	if err != nil {
		return nil, errors.Wrap(err, "lock inventory units")
	}
	if len(units) < req.Quantity {
		return nil, errors.Wrapf(domain.ErrInsufficientStock, "available %d, requested %d", len(units), req.Quantity)
	}
	units = units[:req.Quantity]

	order := domain.Order{
		ID:          newID(),
		AccountID:   req.AccountID,
		ProductID:   product.ID,
		Quantity:    req.Quantity,
		UnitPrice:   unitPrice,
		TotalPrice:  total,
		Status:      domain.OrderStatusCompleted,
		IsAPIOrigin: req.IsAPIOrigin,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	ids := make([]string, len(units))
	allocated := make([]domain.AllocatedUnit, len(units))
	for i, u := range units {
		ids[i] = u.ID
		allocated[i] = u.Allocated()
	}
	claimed, err := tx.ClaimUnits(ctx, ids, order.ID, req.AccountID, now)
	if err != nil {
		return nil, errors.Wrap(err, "claim units")
	}
	if claimed != req.Quantity {
		return nil, errors.Wrapf(domain.ErrInsufficientStock, "claimed %d of %d units", claimed, req.Quantity)
	}

	_, err = post(ctx, tx, wallet, posting{
		Type:        domain.EntryTypePurchase,
		Amount:      total.Neg(),
		Description: fmt.Sprintf("Purchase %d x %s", req.Quantity, product.Name),
		OrderID:     order.ID,
		At:          now,
	})
	if err != nil {
		return nil, err
	}

	stock, err := tx.RefreshProductStock(ctx, product.ID, now)
	if err != nil {
		return nil, errors.Wrap(err, "refresh product stock")
	}

	if err := s.accrueCommission(ctx, tx, order); err != nil {
		return nil, err
	}

	return &fulfillment{
		result: domain.OrderResult{
			OrderID:        order.ID,
			UnitPrice:      unitPrice,
			TotalPrice:     total,
			AllocatedUnits: allocated,
			NewBalance:     wallet.Balance,
		},
		product: *product,
		order:   order,
		stock:   stock,
	}, nil
}

// accrueCommission records the referrer's commission for order. Missing
// referral data is a no-op.
func (s *OrderService) accrueCommission(ctx context.Context, tx port.TxRepository, order domain.Order) error {
	buyer, err := tx.GetAccount(ctx, order.AccountID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "get buyer account")
	}
	if !buyer.HasReferrer() {
		return nil
	}

	settings, err := tx.ActiveCommissionSettings(ctx)
	if err != nil {
		return errors.Wrap(err, "read commission settings")
	}
	if settings == nil {
		settings = defaultCommissionSettings(s.defaultCommission)
	}

	amount := ComputeCommission(order.TotalPrice, settings)
	if !amount.IsPositive() {
		return nil
	}

	err = tx.InsertCommission(ctx, domain.ReferralCommission{
		ID:          newID(),
		ReferrerID:  buyer.ReferrerID,
		ReferredID:  buyer.ID,
		OrderID:     order.ID,
		OrderAmount: order.TotalPrice,
		Amount:      amount,
		Status:      domain.CommissionStatusCompleted,
		CreatedAt:   order.CreatedAt,
	})
	return errors.Wrap(err, "insert referral commission")
}

func (s *OrderService) notify(f *fulfillment) {
	if s.notifier == nil {
		return
	}
	stock := f.stock
	s.notifier.Enqueue(domain.Event{
		Subject:   domain.SubjectOrderCompleted,
		ProductID: f.product.ID,
		Stock:     &stock,
		Payload: domain.OrderCompleted{
			OrderID:     f.order.ID,
			AccountID:   f.order.AccountID,
			ProductID:   f.product.ID,
			ProductKind: f.product.Kind,
			Quantity:    f.order.Quantity,
			TotalPrice:  f.order.TotalPrice,
			IsAPIOrigin: f.order.IsAPIOrigin,
			CompletedAt: f.order.CreatedAt,
		},
	})
}

func (s *OrderService) logFailure(req domain.PurchaseRequest, err error) {
	kind := domain.KindOf(err)
	attrs := []any{
		"account_id", req.AccountID,
		"product_id", req.ProductID,
		"quantity", req.Quantity,
		"kind", string(kind),
		"error", err,
	}
	if kind == domain.KindInfrastructure {
		s.logger.Error("purchase failed", attrs...)
		return
	}
	s.logger.Info("purchase rejected", attrs...)
}

// ListOrders is the buyer's order history, newest first.
func (s *OrderService) ListOrders(ctx context.Context, accountID string, page port.Page) ([]domain.Order, error) {
	orders, err := s.db.ListOrders(ctx, accountID, page.Normalize())
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// GetOrder returns an order with its codes. Orders of other accounts are
// reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, accountID, orderID string) (*domain.OrderDetail, error) {
	detail, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get order")
	}
	if detail.AccountID != accountID {
		return nil, errors.Wrapf(domain.ErrNotFound, "order %s", orderID)
	}
	return detail, nil
}
