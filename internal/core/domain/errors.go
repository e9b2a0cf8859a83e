package domain

import "github.com/pkg/errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrNotFound          = errors.New("not found")
	ErrNothingToWithdraw = errors.Wrap(ErrNotFound, "no commissions to withdraw")
	ErrWalletNotFound    = errors.Wrap(ErrNotFound, "wallet not found")
	ErrDuplicateCode     = errors.Wrap(ErrInvalidInput, "duplicate inventory code")
)

// Kind is the closed set of caller-visible failure classes.
type Kind string

const (
	KindNone              Kind = ""
	KindValidation        Kind = "validation"
	KindProductNotFound   Kind = "product_not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInsufficientStock Kind = "insufficient_stock"
	KindDuplicateRequest  Kind = "duplicate_request"
	KindNotFound          Kind = "not_found"
	KindInfrastructure    Kind = "infrastructure"
)

// KindOf classifies err. Anything not matching a business sentinel is
// infrastructure.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrProductNotFound):
		return KindProductNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrDuplicateRequest):
		return KindDuplicateRequest
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInfrastructure
	}
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidInput, format, args...)
}
