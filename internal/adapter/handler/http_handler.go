package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shopspring/decimal"

	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/core/service"
	"github.com/rl1809/reseller/internal/port"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type HTTPHandler struct {
	orders    *service.OrderService
	wallets   *service.WalletService
	referrals *service.ReferralService
	inventory *service.InventoryService
	auth      *Authenticator
	logger    *slog.Logger
}

func NewHTTPHandler(
	orders *service.OrderService,
	wallets *service.WalletService,
	referrals *service.ReferralService,
	inventory *service.InventoryService,
	auth *Authenticator,
	logger *slog.Logger,
) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{
		orders:    orders,
		wallets:   wallets,
		referrals: referrals,
		inventory: inventory,
		auth:      auth,
		logger:    logger,
	}
}

// NewEcho returns an echo instance with the envelope error handler, request
// validation and the shared middleware installed.
func NewEcho(logger *slog.Logger, bodyLimit string) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewRequestValidator()
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.Use(middleware.Recover())
	if bodyLimit != "" {
		e.Use(middleware.BodyLimit(bodyLimit))
	}
	e.Use(requestLogger(logger))
	return e
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			level := slog.LevelDebug
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelInfo
			}
			logger.Log(c.Request().Context(), level, "http request",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", status,
				"latency", time.Since(start),
				"remote_ip", c.RealIP(),
			)
			return nil
		}
	}
}

func (h *HTTPHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.HealthCheck)

	api := e.Group("/api/v1")

	session := api.Group("", h.auth.Session)
	session.POST("/orders", h.Purchase)
	session.GET("/orders", h.ListOrders)
	session.GET("/orders/:id", h.GetOrder)
	session.GET("/wallet", h.Wallet)
	session.GET("/products/:productId/stock", h.Stock)
	session.GET("/wallet/transactions", h.Transactions)
	session.GET("/referrals/commissions", h.Commissions)
	session.POST("/referrals/commissions/withdraw", h.WithdrawCommissions)

	external := api.Group("/external", h.auth.APIKey)
	external.POST("/orders", h.Purchase)
	external.GET("/wallet", h.Wallet)

	admin := api.Group("/admin", h.auth.Session, h.auth.RequireRole(domain.RoleAdmin))
	admin.POST("/wallets/:accountId/adjust", h.AdjustWallet)
	admin.GET("/wallets/:accountId/audit", h.AuditWallet)
	admin.POST("/products/:productId/units", h.ImportUnits)
}

func (h *HTTPHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type PurchaseHTTPRequest struct {
	RequestID string   `json:"request_id" validate:"omitempty,max=128"`
	ProductID string   `json:"product_id" validate:"required"`
	Quantity  Quantity `json:"quantity" validate:"required,min=1,max=100"`
}

func (h *HTTPHandler) Purchase(c echo.Context) error {
	var req PurchaseHTTPRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, string(domain.KindValidation), msgInvalidRequest)
	}
	if err := c.Validate(&req); err != nil {
		return renderError(c, h.logger, err)
	}
	if req.RequestID == "" {
		req.RequestID = strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
	}

	p := principalOf(c)
	result, err := h.orders.Purchase(c.Request().Context(), domain.PurchaseRequest{
		AccountID:   p.AccountID,
		Role:        p.Role,
		ProductID:   strings.TrimSpace(req.ProductID),
		Quantity:    int(req.Quantity),
		IsAPIOrigin: p.APIOrigin,
		RequestID:   req.RequestID,
	})
	if err != nil {
		return renderError(c, h.logger, err)
	}
	return success(c, http.StatusOK, msgOrderPlaced, result)
}

type pageQuery struct {
	Limit  int `query:"limit"`
	Offset int `query:"offset"`
}

func bindPage(c echo.Context) (port.Page, error) {
	var q pageQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return port.Page{}, err
	}
	return port.Page{Limit: q.Limit, Offset: q.Offset}.Normalize(), nil
}

func (h *HTTPHandler) ListOrders(c echo.Context) error {
	page, err := bindPage(c)
	if err != nil {
		return failure(c, http.StatusBadRequest, string(domain.KindValidation), msgInvalidRequest)
	}
	orders, err := h.orders.ListOrders(c.Request().Context(), principalOf(c).AccountID, page)
	if err != nil {
		return renderError(c, h.logger, err)
	}
	return success(c, http.StatusOK, msgOK, mapViews(orders, newOrderView))
}

func (h *HTTPHandler) GetOrder(c echo.Context) error {
	detail, err := h.orders.GetOrder(c.Request().Context(), principalOf(c).AccountID, c.Param("id"))
	if err != nil {
		return renderError(c, h.logger, err)
	}
	view := newOrderView(detail.Order)
	view.Units = detail.Units
	return success(c, http.StatusOK, msgOK, view)
}

func (h *HTTPHandler) Wallet(c echo.Context) error {
	w, err := h.wallets.Balance(c.Request().Context(), principalOf(c).AccountID)
	if err != nil {
		return renderError(c, h.logger, err)
	}
	return success(c, http.StatusOK, msgOK, newWalletView(w))
}

func (h *HTTPHandler) Transactions(c echo.Context) error {
	page, err := bindPage(c)
	if err != nil {
		return failure(c, http.StatusBadRequest, string(domain.KindValidation), msgInvalidRequest)
	}
	entries, err := h.wallets.Transactions(c.Request().Context(), principalOf(c).AccountID, page)
	if err != nil {
		return renderError(c, h.logger, err)
	}
	return success(c, http.StatusOK, msgOK, mapViews(entries, newLedgerEntryView))
}

func (h *HTTPHandler) Commissions(c echo.Context) error {
	summary, err := h.referrals.Summary(c.Request().Context(), principalOf(c).AccountID)
	if err != nil {
		return renderError(c, h.logger, err)
	}
	return success(c, http.StatusOK, msgOK, summary)
}

func (h *HTTPHandler) WithdrawCommissions(c echo.Context) error {
	result, err := h.referrals.Withdraw(c.Request().Context(), principalOf(c).AccountID)
	if err != nil {
		return renderError(c, h.logger, err)
	}
	return success(c, http.StatusOK, msgOK, result)
}

// Stock serves the display stock, preferring the cached value.
func (h *HTTPHandler) Stock(c echo.Context) error {
	stock, err := h.inventory.Stock(c.Request().Context(), c.Param("productId"))
	if err != nil {
		return renderError(c, h.logger, err)
	}
	return success(c, http.StatusOK, msgOK, map[string]any{"product_id": c.Param("productId"), "stock": stock})
}

type AdjustWalletRequest struct {
	Type        string          `json:"type" validate:"required,oneof=deposit withdrawal"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=255"`
}

func (h *HTTPHandler) AdjustWallet(c echo.Context) error {
	var req AdjustWalletRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, string(domain.KindValidation), msgInvalidRequest)
	}
	if err := c.Validate(&req); err != nil {
		return renderError(c, h.logger, err)
	}

	entry, err := h.wallets.Adjust(c.Request().Context(), service.AdjustmentRequest{
		AccountID:   c.Param("accountId"),
		Type:        domain.EntryType(req.Type),
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		return renderError(c, h.logger, err)
	}
	return success(c, http.StatusOK, msgOK, newLedgerEntryView(*entry))
}

func (h *HTTPHandler) AuditWallet(c echo.Context) error {
	report, err := h.wallets.Audit(c.Request().Context(), c.Param("accountId"))
	if err != nil {
		return renderError(c, h.logger, err)
	}
	return success(c, http.StatusOK, msgOK, report)
}

type ImportUnitsRequest struct {
	Units []struct {
		Code   string `json:"code" validate:"required,max=255"`
		Serial string `json:"serial" validate:"max=255"`
	} `json:"units" validate:"required,min=1,max=1000,dive"`
}

func (h *HTTPHandler) ImportUnits(c echo.Context) error {
	var req ImportUnitsRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, string(domain.KindValidation), msgInvalidRequest)
	}
	if err := c.Validate(&req); err != nil {
		return renderError(c, h.logger, err)
	}

	inputs := make([]service.UnitInput, len(req.Units))
	for i, u := range req.Units {
		inputs[i] = service.UnitInput{Code: u.Code, Serial: u.Serial}
	}
	stock, err := h.inventory.Import(c.Request().Context(), c.Param("productId"), inputs)
	if err != nil {
		return renderError(c, h.logger, err)
	}
	return success(c, http.StatusCreated, msgOK, map[string]int{"imported": len(inputs), "stock": stock})
}
