// Package fiber provides Fiber middleware for credit metering
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/hireflow/creditledger/pkg/creditledger"
)

// AccountIDExtractor extracts the account ID from a Fiber context
// Return empty string if the caller is not authenticated
type AccountIDExtractor func(c *fiber.Ctx) string

// OperationExtractor maps a Fiber context to the metered operation it performs
type OperationExtractor func(c *fiber.Ctx) creditledger.OperationKind

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
	OnDenied func(c *fiber.Ctx, decision *creditledger.Decision) error

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that meters credits per request.
//
// The account is checked before the handler runs and charged only after the
// handler returns without an error, so failed requests cost nothing.
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledger == nil {
		panic("creditledger/fiber: Config.Ledger is required")
	}
	if cfg.GetAccountID == nil {
		panic("creditledger/fiber: Config.GetAccountID is required")
	}
	if cfg.GetOperation == nil {
		panic("creditledger/fiber: Config.GetOperation is required")
	}

	if cfg.DeniedStatusCode == 0 {
		cfg.DeniedStatusCode = fiber.StatusPaymentRequired
	}

	return func(c *fiber.Ctx) error {
		accountID := cfg.GetAccountID(c)
		if accountID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		op := cfg.GetOperation(c)
		ctx := c.UserContext()

		decision, err := cfg.Ledger.Check(ctx, accountID, op)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}
		if !decision.Allowed {
			if cfg.OnDenied != nil {
				return cfg.OnDenied(c, decision)
			}
			return c.Status(cfg.DeniedStatusCode).JSON(fiber.Map{
				"error":   "Insufficient credits",
				"reason":  decision.Reason,
				"balance": decision.Balance,
			})
		}

		if err := c.Next(); err != nil {
			return err
		}

		// Charge only completed work.
		if c.Response().StatusCode() >= 400 {
			return nil
		}
		_, _ = cfg.Ledger.Spend(ctx, accountID, op)
		return nil
	}
}

// Convenience extractors for Account ID

// FromLocals returns an AccountIDExtractor that gets the account ID from Fiber
// locals, as set by auth middleware via c.Locals(key, "...")
func FromLocals(key string) AccountIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns an AccountIDExtractor that gets the account ID from a header
func FromHeader(headerName string) AccountIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns an AccountIDExtractor that gets the account ID from a route parameter
func FromParam(paramName string) AccountIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// Convenience extractors for Operation

// FixedOperation returns an OperationExtractor that always returns the same operation
func FixedOperation(op creditledger.OperationKind) OperationExtractor {
	return func(*fiber.Ctx) creditledger.OperationKind {
		return op
	}
}
