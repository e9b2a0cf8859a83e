package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/reseller/internal/adapter/storage"
	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/core/service"
	"github.com/rl1809/reseller/internal/port"
)

var (
	buyers   = flag.Int("buyers", 50, "concurrent buyers")
	units    = flag.Int("units", 20, "inventory units on sale")
	quantity = flag.Int("qty", 1, "units per purchase")
	price    = flag.String("price", "10", "unit price")
	driver   = flag.String("driver", "mysql", "database driver when -dsn is set")
	dsn      = flag.String("dsn", "", "database DSN; empty runs against the in-memory store")
)

func main() {
	flag.Parse()
	if *quantity < 1 || *units < 0 || *buyers < 1 {
		log.Fatalf("invalid flags: buyers=%d units=%d qty=%d", *buyers, *units, *quantity)
	}
	ctx := context.Background()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, closeStore, err := openStore(ctx)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer closeStore()

	unitPrice, err := decimal.NewFromString(*price)
	if err != nil {
		log.Fatalf("invalid price: %v", err)
	}

	productID, accountIDs, err := seed(ctx, store, unitPrice)
	if err != nil {
		log.Fatalf("failed to seed: %v", err)
	}

	orderService := service.NewOrderService(store, nil, nil, decimal.Zero, logger)

	var successCount, stockCount, fundsCount atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()

	for _, accountID := range accountIDs {
		g.Go(func() error {
			_, err := orderService.Purchase(gctx, domain.PurchaseRequest{
				AccountID: accountID,
				Role:      domain.RoleBuyer,
				ProductID: productID,
				Quantity:  *quantity,
			})
			switch domain.KindOf(err) {
			case domain.KindNone:
				successCount.Add(1)
			case domain.KindInsufficientStock:
				stockCount.Add(1)
			case domain.KindInsufficientFunds:
				fundsCount.Add(1)
			default:
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("purchase failed: %v", err)
	}
	elapsed := time.Since(start)

	success := int(successCount.Load())
	expected := min(*units / *quantity, *buyers)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Units:            %d\n", *units)
	fmt.Printf("Buyers:           %d x %d\n", *buyers, *quantity)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold out:         %d\n", stockCount.Load())
	fmt.Printf("Insufficient:     %d\n", fundsCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if success == expected {
		fmt.Printf("PASS: exactly %d orders succeeded\n", expected)
	} else {
		fmt.Printf("FAIL: expected %d successful orders, got %d\n", expected, success)
		failed = true
	}

	remaining, err := store.CountUnclaimedUnits(ctx, productID)
	if err != nil {
		log.Fatalf("failed to count units: %v", err)
	}
	wantRemaining := *units - success*(*quantity)
	if remaining == wantRemaining {
		fmt.Printf("PASS: %d units left unclaimed\n", remaining)
	} else {
		fmt.Printf("FAIL: expected %d unclaimed units, got %d\n", wantRemaining, remaining)
		failed = true
	}

	if err := verifyLedgers(ctx, store, accountIDs); err != nil {
		fmt.Printf("FAIL: %v\n", err)
		failed = true
	} else {
		fmt.Println("PASS: every wallet ledger chain is consistent")
	}

	if failed {
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (port.DatabaseRepository, func(), error) {
	if *dsn == "" {
		return storage.NewMemoryAdapter(), func() {}, nil
	}

	dialect, err := storage.ParseDialect(*driver)
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.Open(ctx, dialect, *dsn, storage.PoolOptions{MaxOpenConns: 50, MaxIdleConns: 25})
	if err != nil {
		return nil, nil, err
	}
	if err := storage.RunMigrations(ctx, db, dialect, "up"); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return storage.NewSQLAdapter(db, dialect), func() { _ = db.Close() }, nil
}

// seed creates one product with the configured units and one funded buyer
// per goroutine. Every buyer can afford exactly one purchase.
func seed(ctx context.Context, store port.DatabaseRepository, unitPrice decimal.Decimal) (string, []string, error) {
	now := time.Now().UTC()
	product := domain.Product{
		ID:           uuid.NewString(),
		Name:         "stress-card",
		Kind:         domain.ProductKindDigital,
		BaseCost:     unitPrice,
		SellingPrice: unitPrice,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.CreateProduct(ctx, product); err != nil {
		return "", nil, errors.Wrap(err, "create product")
	}

	batch := make([]domain.InventoryUnit, *units)
	for i := range batch {
		batch[i] = domain.InventoryUnit{
			ID:        uuid.NewString(),
			ProductID: product.ID,
			Code:      fmt.Sprintf("STRESS-%s-%04d", product.ID[:8], i),
			CreatedAt: now,
		}
	}
	if _, err := store.AddInventoryUnits(ctx, product.ID, batch); err != nil {
		return "", nil, errors.Wrap(err, "add units")
	}

	budget := unitPrice.Mul(decimal.NewFromInt(int64(*quantity)))
	accountIDs := make([]string, *buyers)
	for i := range accountIDs {
		account := domain.Account{
			ID:        uuid.NewString(),
			Role:      domain.RoleBuyer,
			IsActive:  true,
			CreatedAt: now,
		}
		wallet := domain.Wallet{
			ID:        uuid.NewString(),
			AccountID: account.ID,
			Balance:   budget,
			Currency:  domain.DefaultCurrency,
			UpdatedAt: now,
		}
		if err := store.CreateAccount(ctx, account, wallet); err != nil {
			return "", nil, errors.Wrap(err, "create account")
		}
		accountIDs[i] = account.ID
	}
	return product.ID, accountIDs, nil
}

func verifyLedgers(ctx context.Context, store port.DatabaseRepository, accountIDs []string) error {
	for _, id := range accountIDs {
		wallet, err := store.GetWallet(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "wallet of %s", id)
		}
		entries, err := store.LedgerChain(ctx, wallet.ID)
		if err != nil {
			return errors.Wrapf(err, "ledger of %s", id)
		}
		if err := domain.VerifyChain(entries, wallet.Balance); err != nil {
			return err
		}
	}
	return nil
}
