package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/rl1809/reseller/internal/core/domain"
)

// Response is the envelope of every HTTP reply.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindDuplicateRequest:
		return http.StatusConflict
	case domain.KindProductNotFound, domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case domain.KindInsufficientStock:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func success(c echo.Context, status int, key messageKey, data any) error {
	return c.JSON(status, Response{
		Success: true,
		Message: localize(c.Request().Header.Get("Accept-Language"), key),
		Data:    data,
	})
}

func failure(c echo.Context, status int, kind string, key messageKey) error {
	return c.JSON(status, Response{
		Success: false,
		Message: localize(c.Request().Header.Get("Accept-Language"), key),
		Kind:    kind,
	})
}

// renderError maps a service error to its status and localized message.
// Infrastructure detail is logged, never returned.
func renderError(c echo.Context, logger *slog.Logger, err error) error {
	kind := domain.KindOf(err)
	if kind == domain.KindInfrastructure {
		logger.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
	}
	return failure(c, statusFor(kind), string(kind), kindKey(kind))
}

// ErrorHandler renders errors that escape the handlers (routing, binding,
// panics recovered by middleware) in the same envelope.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			key := msgInvalidRequest
			kind := string(domain.KindValidation)
			switch {
			case httpErr.Code == http.StatusUnauthorized:
				key, kind = msgUnauthorized, "unauthorized"
			case httpErr.Code == http.StatusForbidden:
				key, kind = msgForbidden, "forbidden"
			case httpErr.Code == http.StatusNotFound || httpErr.Code == http.StatusMethodNotAllowed:
				key, kind = kindKey(domain.KindNotFound), string(domain.KindNotFound)
			case httpErr.Code >= http.StatusInternalServerError:
				key, kind = kindKey(domain.KindInfrastructure), string(domain.KindInfrastructure)
			}
			_ = failure(c, httpErr.Code, kind, key)
			return
		}

		_ = renderError(c, logger, err)
	}
}
