package gin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	gongin "github.com/gin-gonic/gin"

	"github.com/hireflow/creditledger/pkg/creditledger"
	"github.com/hireflow/creditledger/storage/memory"
)

func newTestLedger(t *testing.T) (*creditledger.Ledger, *memory.Storage) {
	t.Helper()

	storage := memory.New()
	ledger, err := creditledger.NewLedger(storage, creditledger.Config{})
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	return ledger, storage
}

func newTestRouter(cfg Config) *gongin.Engine {
	gongin.SetMode(gongin.TestMode)
	router := gongin.New()
	router.POST("/analyze", Middleware(cfg), func(c *gongin.Context) {
		c.JSON(http.StatusOK, gongin.H{"status": "done"})
	})
	return router
}

func TestMiddleware_PanicsOnMissingConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for missing Ledger")
		}
	}()
	Middleware(Config{})
}

func TestMiddleware_ChargesOnSuccess(t *testing.T) {
	ledger, storage := newTestLedger(t)
	router := newTestRouter(Config{
		Ledger:       ledger,
		GetAccountID: FromHeader("X-Account-ID"),
		GetOperation: FixedOperation(creditledger.OpInterviewAnalysis),
	})

	req := httptest.NewRequest(http.MethodPost, "/analyze", nil)
	req.Header.Set("X-Account-ID", "acct1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	acct, err := storage.GetAccount(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Balance != creditledger.DefaultSignupBonus-10 {
		t.Errorf("Expected balance %d, got %d", creditledger.DefaultSignupBonus-10, acct.Balance)
	}
}

func TestMiddleware_DoesNotChargeFailedHandler(t *testing.T) {
	ledger, storage := newTestLedger(t)

	gongin.SetMode(gongin.TestMode)
	router := gongin.New()
	router.POST("/analyze", Middleware(Config{
		Ledger:       ledger,
		GetAccountID: FromHeader("X-Account-ID"),
		GetOperation: FixedOperation(creditledger.OpInterviewAnalysis),
	}), func(c *gongin.Context) {
		c.JSON(http.StatusBadGateway, gongin.H{"error": "upstream failed"})
	})

	req := httptest.NewRequest(http.MethodPost, "/analyze", nil)
	req.Header.Set("X-Account-ID", "acct1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}

	acct, err := storage.GetAccount(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Balance != creditledger.DefaultSignupBonus {
		t.Errorf("Expected untouched balance, got %d", acct.Balance)
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	ledger, _ := newTestLedger(t)
	router := newTestRouter(Config{
		Ledger:       ledger,
		GetAccountID: FromHeader("X-Account-ID"),
		GetOperation: FixedOperation(creditledger.OpInterviewAnalysis),
	})

	req := httptest.NewRequest(http.MethodPost, "/analyze", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_Denied(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if err := ledger.SetBalance(context.Background(), "acct1", 3); err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}

	router := newTestRouter(Config{
		Ledger:       ledger,
		GetAccountID: FromHeader("X-Account-ID"),
		GetOperation: FixedOperation(creditledger.OpInterviewAnalysis),
	})

	req := httptest.NewRequest(http.MethodPost, "/analyze", nil)
	req.Header.Set("X-Account-ID", "acct1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", rec.Code)
	}
}

func TestFromParam(t *testing.T) {
	ledger, storage := newTestLedger(t)

	gongin.SetMode(gongin.TestMode)
	router := gongin.New()
	router.POST("/accounts/:id/parse", Middleware(Config{
		Ledger:       ledger,
		GetAccountID: FromParam("id"),
		GetOperation: FixedOperation(creditledger.OpEmailParsing),
	}), func(c *gongin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/accounts/acct1/parse", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if _, err := storage.GetAccount(context.Background(), "acct1"); err != nil {
		t.Errorf("Expected account created, got %v", err)
	}
}
