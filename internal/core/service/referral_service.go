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

type ReferralService struct {
	db     port.DatabaseRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewReferralService(db port.DatabaseRepository, logger *slog.Logger) *ReferralService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferralService{db: db, logger: logger, now: time.Now}
}

func (s *ReferralService) Summary(ctx context.Context, referrerID string) (domain.CommissionSummary, error) {
	list, err := s.db.ListCommissions(ctx, referrerID)
	if err != nil {
		return domain.CommissionSummary{}, errors.Wrap(err, "list commissions")
	}
	return domain.SummarizeCommissions(list), nil
}

// Withdraw moves every completed commission of the referrer into their wallet
// as a single deposit entry and marks the commissions withdrawn.
func (s *ReferralService) Withdraw(ctx context.Context, referrerID string) (*domain.WithdrawalResult, error) {
	if referrerID == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "referrer id is required")
	}

	var result domain.WithdrawalResult
	err := s.db.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		wallet, err := tx.LockWallet(ctx, referrerID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return err
			}
			return errors.Wrap(err, "lock wallet")
		}
		now := s.now().UTC()

		commissions, err := tx.LockCompletedCommissions(ctx, referrerID)
		if err != nil {
			return errors.Wrap(err, "lock commissions")
		}

		sum := decimal.Zero
		ids := make([]string, 0, len(commissions))
		for _, c := range commissions {
			sum = sum.Add(c.Amount)
			ids = append(ids, c.ID)
		}
		if !sum.IsPositive() {
			return domain.ErrNothingToWithdraw
		}

		if _, err := post(ctx, tx, wallet, posting{
			Type:        domain.EntryTypeDeposit,
			Amount:      sum,
			Description: fmt.Sprintf("Referral commission withdrawal (%d)", len(ids)),
			At:          now,
		}); err != nil {
			return err
		}
		if err := tx.MarkCommissionsWithdrawn(ctx, ids, now); err != nil {
			return errors.Wrap(err, "mark commissions withdrawn")
		}

		result = domain.WithdrawalResult{Amount: sum, Commissions: len(ids), NewBalance: wallet.Balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("commissions withdrawn",
		"referrer_id", referrerID,
		"amount", result.Amount.String(),
		"count", result.Commissions,
	)
	return &result, nil
}
