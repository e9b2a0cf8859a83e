package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/port"
)

type WalletService struct {
	db     port.DatabaseRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewWalletService(db port.DatabaseRepository, logger *slog.Logger) *WalletService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletService{db: db, logger: logger, now: time.Now}
}

type AdjustmentRequest struct {
	AccountID   string
	Type        domain.EntryType
	Amount      decimal.Decimal
	Description string
}

func (s *WalletService) Balance(ctx context.Context, accountID string) (*domain.Wallet, error) {
	w, err := s.db.GetWallet(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get wallet")
	}
	return w, nil
}

func (s *WalletService) Transactions(ctx context.Context, accountID string, page port.Page) ([]domain.LedgerEntry, error) {
	w, err := s.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := s.db.ListLedgerEntries(ctx, w.ID, page.Normalize())
	if err != nil {
		return nil, errors.Wrap(err, "list ledger entries")
	}
	return entries, nil
}

// Adjust applies an administrative deposit or withdrawal through the ledger.
func (s *WalletService) Adjust(ctx context.Context, req AdjustmentRequest) (*domain.LedgerEntry, error) {
	if req.AccountID == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "account id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "amount must be positive, got %s", req.Amount)
	}

	amount := req.Amount
	switch req.Type {
	case domain.EntryTypeDeposit:
	case domain.EntryTypeWithdrawal:
		amount = amount.Neg()
	default:
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unsupported adjustment type %q", req.Type)
	}

	var entry domain.LedgerEntry
	err := s.db.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		wallet, err := tx.LockWallet(ctx, req.AccountID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return err
			}
			return errors.Wrap(err, "lock wallet")
		}
		entry, err = post(ctx, tx, wallet, posting{
			Type:        req.Type,
			Amount:      amount,
			Description: req.Description,
			At:          s.now().UTC(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("wallet adjusted",
		"account_id", req.AccountID,
		"type", string(req.Type),
		"amount", amount.String(),
		"balance", entry.BalanceAfter.String(),
	)
	return &entry, nil
}

// AuditReport is the outcome of replaying a wallet's ledger chain.
type AuditReport struct {
	AccountID  string          `json:"account_id"`
	WalletID   string          `json:"wallet_id"`
	Balance    decimal.Decimal `json:"balance"`
	Entries    int             `json:"entries"`
	Consistent bool            `json:"consistent"`
	Problem    string          `json:"problem,omitempty"`
}

// Audit verifies the wallet's full ledger chain against its balance. A broken
// chain is reported, not returned as an error.
func (s *WalletService) Audit(ctx context.Context, accountID string) (*AuditReport, error) {
	w, err := s.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	chain, err := s.db.LedgerChain(ctx, w.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load ledger chain")
	}

	report := &AuditReport{
		AccountID:  accountID,
		WalletID:   w.ID,
		Balance:    w.Balance,
		Entries:    len(chain),
		Consistent: true,
	}
	if err := domain.VerifyChain(chain, w.Balance); err != nil {
		s.logger.Error("ledger audit failed", "account_id", accountID, "error", err)
		report.Consistent = false
		report.Problem = err.Error()
	}
	return report, nil
}
