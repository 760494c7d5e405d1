// Package echo provides Echo middleware for credit metering
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hireflow/creditledger/pkg/creditledger"
)

// AccountIDExtractor extracts the account ID from an Echo context
// Return empty string if the caller is not authenticated
type AccountIDExtractor func(c echo.Context) string

// OperationExtractor maps an Echo context to the metered operation it performs
type OperationExtractor func(c echo.Context) creditledger.OperationKind

// Config holds middleware configuration
type Config struct {
	// Ledger is the credit ledger instance
	Ledger *creditledger.Ledger

	// GetAccountID extracts the account ID from the context (required)
	GetAccountID AccountIDExtractor

	// GetOperation maps the request to an operation kind (required)
	GetOperation OperationExtractor

	// DeniedStatusCode is the HTTP status code returned when the account
	// cannot afford the operation
	// Default: 402 (Payment Required)
	DeniedStatusCode int

	// OnDenied is called when the account cannot afford the operation
	// If nil, uses default response: DeniedStatusCode JSON with the decision
	OnDenied func(c echo.Context, decision *creditledger.Decision) error

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that meters credits per request.
//
// The account is checked before the handler runs and charged only after the
// handler returns without an error, so failed requests cost nothing.
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledger == nil {
		panic("creditledger/echo: Config.Ledger is required")
	}
	if cfg.GetAccountID == nil {
		panic("creditledger/echo: Config.GetAccountID is required")
	}
	if cfg.GetOperation == nil {
		panic("creditledger/echo: Config.GetOperation is required")
	}

	if cfg.DeniedStatusCode == 0 {
		cfg.DeniedStatusCode = http.StatusPaymentRequired
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			accountID := cfg.GetAccountID(c)
			if accountID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			op := cfg.GetOperation(c)
			ctx := c.Request().Context()

			decision, err := cfg.Ledger.Check(ctx, accountID, op)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}
			if !decision.Allowed {
				if cfg.OnDenied != nil {
					return cfg.OnDenied(c, decision)
				}
				return c.JSON(cfg.DeniedStatusCode, map[string]interface{}{
					"error":   "Insufficient credits",
					"reason":  decision.Reason,
					"balance": decision.Balance,
				})
			}

			if err := next(c); err != nil {
				return err
			}

			// Charge only completed work.
			if c.Response().Status >= 400 {
				return nil
			}
			_, _ = cfg.Ledger.Spend(ctx, accountID, op)
			return nil
		}
	}
}

// Convenience extractors for Account ID

// FromContext returns an AccountIDExtractor that gets the account ID from Echo
// context values, as set by auth middleware via c.Set(key, "...")
func FromContext(key string) AccountIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns an AccountIDExtractor that gets the account ID from a header
func FromHeader(headerName string) AccountIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns an AccountIDExtractor that gets the account ID from a route parameter
func FromParam(paramName string) AccountIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// Convenience extractors for Operation

// FixedOperation returns an OperationExtractor that always returns the same operation
func FixedOperation(op creditledger.OperationKind) OperationExtractor {
	return func(echo.Context) creditledger.OperationKind {
		return op
	}
}
