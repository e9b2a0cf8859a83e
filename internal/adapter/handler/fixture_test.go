package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/reseller/internal/adapter/storage"
	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/core/service"
)

const (
	testSecret      = "test-secret"
	testAPIKey      = "dist-api-key"
	buyerID         = "acc-buyer"
	referrerID      = "acc-referrer"
	distributorID   = "acc-distributor"
	adminID         = "acc-admin"
	productID       = "prod-card"
	emptyProductID  = "prod-empty"
	inactiveAccount = "acc-disabled"
	inactiveAPIKey  = "disabled-api-key"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Enqueue(ev domain.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return true
}

func (n *recordingNotifier) bySubject(subject string) []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Event
	for _, ev := range n.events {
		if ev.Subject == subject {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	store    *storage.MemoryAdapter
	notifier *recordingNotifier
	auth     *Authenticator
	orders   *service.OrderService
	echo     *echo.Echo
}

// newTestEnv seeds a buyer (50.00, referred), a distributor with an API key
// (100.00), an admin, and a product at 20.00 / 15.00 with three codes.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	store := storage.NewMemoryAdapter()

	accounts := []struct {
		acc     domain.Account
		balance int64
	}{
		{domain.Account{ID: referrerID, Role: domain.RoleBuyer, IsActive: true}, 0},
		{domain.Account{ID: buyerID, Role: domain.RoleBuyer, ReferrerID: referrerID, IsActive: true}, 50},
		{domain.Account{ID: distributorID, Role: domain.RoleDistributor, APIKeyHash: HashAPIKey(testAPIKey), IsActive: true}, 100},
		{domain.Account{ID: adminID, Role: domain.RoleAdmin, IsActive: true}, 0},
		{domain.Account{ID: inactiveAccount, Role: domain.RoleDistributor, APIKeyHash: HashAPIKey(inactiveAPIKey)}, 100},
	}
	for _, a := range accounts {
		a.acc.CreatedAt = now
		require.NoError(t, store.CreateAccount(ctx, a.acc, domain.Wallet{
			ID: "wallet-" + a.acc.ID, Balance: decimal.NewFromInt(a.balance), Currency: domain.DefaultCurrency, UpdatedAt: now,
		}))
	}

	for _, p := range []domain.Product{
		{
			ID: productID, Name: "Gift Card", Kind: domain.ProductKindDigital,
			SellingPrice:     decimal.NewFromInt(20),
			DistributorPrice: decimal.NewNullDecimal(decimal.NewFromInt(15)),
			IsActive:         true, CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: emptyProductID, Name: "Empty", Kind: domain.ProductKindDigital,
			SellingPrice: decimal.NewFromInt(1), IsActive: true, CreatedAt: now, UpdatedAt: now,
		},
	} {
		require.NoError(t, store.CreateProduct(ctx, p))
	}

	notifier := &recordingNotifier{}
	inventory := service.NewInventoryService(store, nil, notifier, nil)
	_, err := inventory.Import(ctx, productID, []service.UnitInput{{Code: "AAA-1"}, {Code: "AAA-2"}, {Code: "AAA-3"}})
	require.NoError(t, err)

	orders := service.NewOrderService(store, nil, notifier, decimal.NewFromInt(5), nil)
	auth := NewAuthenticator(testSecret, "reseller", time.Hour, store, notifier, nil)
	h := NewHTTPHandler(
		orders,
		service.NewWalletService(store, nil),
		service.NewReferralService(store, nil),
		inventory,
		auth,
		nil,
	)

	e := NewEcho(nil, "1MB")
	h.RegisterRoutes(e)

	return &testEnv{store: store, notifier: notifier, auth: auth, orders: orders, echo: e}
}

func (env *testEnv) token(t *testing.T, accountID string, role domain.Role) string {
	t.Helper()
	tok, err := env.auth.IssueToken(accountID, role)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

func (env *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)

	var out envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func bearer(token string) map[string]string {
	return map[string]string{echo.HeaderAuthorization: "Bearer " + token}
}
