package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v83"

	"github.com/hireflow/creditledger/pkg/creditledger"
)

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if len(body) > maxWebhookBody {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		p.logger.Warn("stripe webhook signature verification failed",
			creditledger.Field{Key: "error", Value: err.Error()})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := p.processWebhookEvent(r.Context(), &event); err != nil {
		p.logger.Error("stripe webhook processing failed",
			creditledger.Field{Key: "event_type", Value: string(event.Type)},
			creditledger.Field{Key: "error", Value: err.Error()})
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return p.handleCheckoutSessionCompleted(ctx, event)
	default:
		// Unknown event type - ignore silently
		return nil
	}
}

// handleCheckoutSessionCompleted grants the purchased credits to the account
// referenced by the session. Stripe retries webhook delivery until it sees a
// 2xx, so a Grant failure is safe to surface: the retry will land the credits.
func (p *Provider) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	if session.PaymentStatus != "" && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		// Completed but unpaid (e.g. delayed payment methods). A later
		// async_payment_succeeded delivery is the paying event.
		return nil
	}

	accountID := session.ClientReferenceID
	if accountID == "" && session.Metadata != nil {
		accountID = session.Metadata[metadataAccountIDKey]
	}
	if accountID == "" {
		return fmt.Errorf("%w: session %s", ErrMissingAccountID, session.ID)
	}

	credits, err := creditsFromSession(&session)
	if err != nil {
		return fmt.Errorf("session %s: %w", session.ID, err)
	}

	if err := p.ledger.Grant(ctx, accountID, credits); err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}

	p.logger.Info("granted credits from checkout session",
		creditledger.Field{Key: "account_id", Value: accountID},
		creditledger.Field{Key: "session_id", Value: session.ID},
		creditledger.Field{Key: "credits", Value: credits})
	return nil
}

func creditsFromSession(session *stripe.CheckoutSession) (int, error) {
	if session.Metadata == nil {
		return 0, ErrInvalidCreditAmount
	}
	raw, ok := session.Metadata[metadataCreditsKey]
	if !ok {
		return 0, ErrInvalidCreditAmount
	}
	credits, err := strconv.Atoi(raw)
	if err != nil || credits <= 0 {
		return 0, ErrInvalidCreditAmount
	}
	return credits, nil
}
