package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/core/service"
	"github.com/rl1809/reseller/internal/port"
)

const (
	HeaderAPIKey = "X-API-Key"

	ctxAccountID = "accountID"
	ctxRole      = "role"
	ctxAPIOrigin = "apiOrigin"
)

// SessionClaims is the payload of the bearer tokens issued to logged-in
// accounts.
type SessionClaims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// AccountLookup resolves API keys to accounts.
type AccountLookup interface {
	FindAccountByAPIKeyHash(ctx context.Context, hash string) (*domain.Account, error)
}

var _ AccountLookup = (port.ReadRepository)(nil)

type Authenticator struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	accounts AccountLookup
	notifier service.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthenticator builds session and API-key middleware. notifier receives
// API audit events and may be nil.
func NewAuthenticator(secret, issuer string, ttl time.Duration, accounts AccountLookup, notifier service.Notifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Authenticator{
		secret:   []byte(secret),
		issuer:   issuer,
		ttl:      ttl,
		accounts: accounts,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// HashAPIKey is the stored form of an API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// IssueToken signs a session token for the account.
func (a *Authenticator) IssueToken(accountID string, role domain.Role) (string, error) {
	now := a.now()
	claims := SessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign session token")
	}
	return signed, nil
}

func (a *Authenticator) parseToken(raw string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return nil, errors.New("token is missing subject or role")
	}
	return claims, nil
}

// Session validates the bearer token and stores the caller on the context.
func (a *Authenticator) Session(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			return echo.ErrUnauthorized
		}

		claims, err := a.parseToken(token)
		if err != nil {
			a.logger.Debug("session rejected", "error", err)
			return echo.ErrUnauthorized
		}

		c.Set(ctxAccountID, claims.Subject)
		c.Set(ctxRole, claims.Role)
		c.Set(ctxAPIOrigin, false)
		return next(c)
	}
}

// APIKey authenticates reseller integrations and emits an audit event for
// every request that gets through.
func (a *Authenticator) APIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := strings.TrimSpace(c.Request().Header.Get(HeaderAPIKey))
		if key == "" {
			return echo.ErrUnauthorized
		}

		account, err := a.accounts.FindAccountByAPIKeyHash(c.Request().Context(), HashAPIKey(key))
		if errors.Is(err, domain.ErrNotFound) {
			return echo.ErrUnauthorized
		}
		if err != nil {
			return err
		}
		if !account.IsActive {
			return echo.ErrForbidden
		}

		c.Set(ctxAccountID, account.ID)
		c.Set(ctxRole, account.Role)
		c.Set(ctxAPIOrigin, true)

		start := a.now()
		err = next(c)
		a.audit(c, account.ID, start, err)
		return err
	}
}

func (a *Authenticator) audit(c echo.Context, accountID string, start time.Time, err error) {
	if a.notifier == nil {
		return
	}
	status := c.Response().Status
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
		}
	}
	a.notifier.Enqueue(domain.Event{
		Subject: domain.SubjectAPIAudit,
		Payload: domain.APIAudit{
			AccountID: accountID,
			Method:    c.Request().Method,
			Path:      c.Path(),
			Status:    status,
			Latency:   a.now().Sub(start),
			At:        start.UTC(),
		},
	})
}

// RequireRole must run after Session or APIKey.
func (a *Authenticator) RequireRole(role domain.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if r, _ := c.Get(ctxRole).(domain.Role); r != role {
				return echo.ErrForbidden
			}
			return next(c)
		}
	}
}

type principal struct {
	AccountID string
	Role      domain.Role
	APIOrigin bool
}

func principalOf(c echo.Context) principal {
	p := principal{}
	p.AccountID, _ = c.Get(ctxAccountID).(string)
	p.Role, _ = c.Get(ctxRole).(domain.Role)
	p.APIOrigin, _ = c.Get(ctxAPIOrigin).(bool)
	return p
}
