// Package http provides HTTP middleware for credit metering
package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hireflow/creditledger/pkg/creditledger"
)

// AccountIDExtractor extracts the account ID from an HTTP request
// Return empty string if the caller is not authenticated
type AccountIDExtractor func(r *http.Request) string

// OperationExtractor maps an HTTP request to the metered operation it performs
// For example: OpInterviewAnalysis, OpAudioTranscription
type OperationExtractor func(r *http.Request) creditledger.OperationKind

// Config holds middleware configuration
type Config struct {
	// Ledger is the credit ledger instance
	Ledger *creditledger.Ledger

	// GetAccountID extracts the account ID from the request (required)
	GetAccountID AccountIDExtractor

	// GetOperation maps the request to an operation kind (required)
	GetOperation OperationExtractor

	// OnDenied is called when the account cannot afford the operation
	// If nil, returns 402 Payment Required
	OnDenied func(w http.ResponseWriter, r *http.Request, decision *creditledger.Decision)

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// statusRecorder captures the status code written by the wrapped handler so
// the middleware can tell whether the metered work actually happened.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

// Middleware creates an HTTP middleware that meters credits per request.
//
// The check before the handler is advisory: it rejects callers that clearly
// cannot afford the operation without touching their balance. The deduction
// happens after the handler returns successfully, so failed requests are
// never charged.
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := config.GetAccountID(r)
			if accountID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			op := config.GetOperation(r)
			ctx := r.Context()

			decision, err := config.Ledger.Check(ctx, accountID, op)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}
			if !decision.Allowed {
				denied(config, w, r, decision)
				return
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// Charge only completed work.
			if rec.status >= 400 {
				return
			}

			result, err := config.Ledger.Spend(ctx, accountID, op)
			if err != nil {
				// The response is already written; the failed deduction is
				// the ledger's to log, not ours to surface.
				return
			}
			if !result.Success {
				// Lost a concurrent race after the advisory check passed.
				// Same story: the work is done and the response is out.
				return
			}
		})
	}
}

// HandlerFunc creates an HTTP middleware that meters credits (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func denied(config Config, w http.ResponseWriter, r *http.Request, decision *creditledger.Decision) {
	if config.OnDenied != nil {
		config.OnDenied(w, r, decision)
		return
	}
	msg := fmt.Sprintf("Insufficient credits: %s (balance %d)", decision.Reason, decision.Balance)
	http.Error(w, msg, http.StatusPaymentRequired)
}

// Common extractors for convenience

// FixedOperation returns an OperationExtractor that always returns the same operation
func FixedOperation(op creditledger.OperationKind) OperationExtractor {
	return func(r *http.Request) creditledger.OperationKind {
		return op
	}
}

// FromHeader returns an AccountIDExtractor that reads the account ID from a header
func FromHeader(headerName string) AccountIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// AccountIDKey is the context key for the account ID
	AccountIDKey ContextKey = "creditledger:accountID"
)

// FromContext returns an AccountIDExtractor that gets the account ID from the request context
func FromContext(key ContextKey) AccountIDExtractor {
	return func(r *http.Request) string {
		if accountID, ok := r.Context().Value(key).(string); ok {
			return accountID
		}
		return ""
	}
}

// WithAccountID adds the account ID to a request context
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}
