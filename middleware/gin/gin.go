// Package gin provides Gin middleware for credit metering
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/hireflow/creditledger/pkg/creditledger"
)

// AccountIDExtractor extracts the account ID from a Gin context
// Return empty string if the caller is not authenticated
type AccountIDExtractor func(c *gongin.Context) string

// OperationExtractor maps a Gin context to the metered operation it performs
type OperationExtractor func(c *gongin.Context) creditledger.OperationKind

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
	OnDenied func(c *gongin.Context, decision *creditledger.Decision)

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that meters credits per request.
//
// The account is checked before the handler runs and charged only after the
// handler completes without aborting or writing an error status, so failed
// requests cost nothing.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledger == nil {
		panic("creditledger/gin: Config.Ledger is required")
	}
	if cfg.GetAccountID == nil {
		panic("creditledger/gin: Config.GetAccountID is required")
	}
	if cfg.GetOperation == nil {
		panic("creditledger/gin: Config.GetOperation is required")
	}

	if cfg.DeniedStatusCode == 0 {
		cfg.DeniedStatusCode = http.StatusPaymentRequired
	}

	return func(c *gongin.Context) {
		accountID := cfg.GetAccountID(c)
		if accountID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		op := cfg.GetOperation(c)
		ctx := c.Request.Context()

		decision, err := cfg.Ledger.Check(ctx, accountID, op)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}
		if !decision.Allowed {
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, decision)
			} else {
				c.JSON(cfg.DeniedStatusCode, gongin.H{
					"error":   "Insufficient credits",
					"reason":  decision.Reason,
					"balance": decision.Balance,
				})
			}
			c.Abort()
			return
		}

		c.Next()

		// Charge only completed work.
		if c.IsAborted() || c.Writer.Status() >= 400 {
			return
		}
		_, _ = cfg.Ledger.Spend(ctx, accountID, op)
	}
}

// Convenience extractors for Account ID

// FromContext returns an AccountIDExtractor that gets the account ID from Gin
// context values, as set by auth middleware via c.Set(key, "...")
func FromContext(key string) AccountIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns an AccountIDExtractor that gets the account ID from a header
func FromHeader(headerName string) AccountIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns an AccountIDExtractor that gets the account ID from a route parameter
func FromParam(paramName string) AccountIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// Convenience extractors for Operation

// FixedOperation returns an OperationExtractor that always returns the same operation
func FixedOperation(op creditledger.OperationKind) OperationExtractor {
	return func(*gongin.Context) creditledger.OperationKind {
		return op
	}
}
