package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/port"
)

const maxCodeLength = 255

type UnitInput struct {
	Code   string
	Serial string
}

type InventoryService struct {
	db       port.DatabaseRepository
	cache    port.CacheRepository
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewInventoryService(db port.DatabaseRepository, cache port.CacheRepository, notifier Notifier, logger *slog.Logger) *InventoryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InventoryService{db: db, cache: cache, notifier: notifier, logger: logger, now: time.Now}
}

// Import adds a batch of codes to a product and returns the recomputed stock.
func (s *InventoryService) Import(ctx context.Context, productID string, inputs []UnitInput) (int, error) {
	if productID == "" {
		return 0, errors.Wrap(domain.ErrInvalidInput, "product id is required")
	}
	if len(inputs) == 0 {
		return 0, errors.Wrap(domain.ErrInvalidInput, "no units to import")
	}

	now := s.now().UTC()
	seen := make(map[string]struct{}, len(inputs))
	units := make([]domain.InventoryUnit, 0, len(inputs))
	for i, in := range inputs {
		code := strings.TrimSpace(in.Code)
		if code == "" {
			return 0, errors.Wrapf(domain.ErrInvalidInput, "unit %d has an empty code", i)
		}
		if len(code) > maxCodeLength {
			return 0, errors.Wrapf(domain.ErrInvalidInput, "unit %d code exceeds %d bytes", i, maxCodeLength)
		}
		if _, dup := seen[code]; dup {
			return 0, errors.Wrapf(domain.ErrDuplicateCode, "unit %d", i)
		}
		seen[code] = struct{}{}

		units = append(units, domain.InventoryUnit{
			ID:        newID(),
			ProductID: productID,
			Code:      code,
			Serial:    strings.TrimSpace(in.Serial),
			CreatedAt: now,
		})
	}

	stock, err := s.db.AddInventoryUnits(ctx, productID, units)
	if err != nil {
		if domain.KindOf(err) != domain.KindInfrastructure {
			return 0, err
		}
		return 0, errors.Wrap(err, "add inventory units")
	}

	s.logger.Info("inventory imported", "product_id", productID, "units", len(units), "stock", stock)
	if s.notifier != nil {
		s.notifier.Enqueue(domain.Event{ProductID: productID, Stock: &stock})
	}
	return stock, nil
}

// Stock is the display stock: the cached value when present, otherwise the
// live unclaimed count.
func (s *InventoryService) Stock(ctx context.Context, productID string) (int, error) {
	if s.cache != nil {
		stock, ok, err := s.cache.GetStock(ctx, productID)
		if err != nil {
			s.logger.Warn("stock cache read failed", "product_id", productID, "error", err)
		} else if ok {
			return stock, nil
		}
	}
	stock, err := s.db.CountUnclaimedUnits(ctx, productID)
	if err != nil {
		return 0, errors.Wrap(err, "count unclaimed units")
	}
	return stock, nil
}
