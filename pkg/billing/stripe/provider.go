// Package stripe turns completed Stripe Checkout sessions into credit
// top-ups. A session carries the purchased credit amount in its metadata and
// the webhook handler grants those credits once payment completes.
package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/hireflow/creditledger/pkg/creditledger"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultWebhookPath = "/webhooks/stripe"

	// maxWebhookBody bounds the request body we are willing to read.
	maxWebhookBody = 256 * 1024

	// metadataCreditsKey is the checkout session metadata key holding the
	// purchased credit amount.
	metadataCreditsKey = "credits"

	// metadataAccountIDKey is the fallback metadata key for the account ID
	// when the session has no client reference.
	metadataAccountIDKey = "account_id"
)

// Config holds Stripe provider configuration
type Config struct {
	// Ledger receives the granted credits (required)
	Ledger *creditledger.Ledger

	// WebhookSecret is the Stripe webhook signing secret (whsec_...)
	WebhookSecret string

	// WebhookPath is the route the handler is mounted at
	// Default: /webhooks/stripe
	WebhookPath string

	// Logger receives webhook processing events
	// Default: creditledger.NoopLogger
	Logger creditledger.Logger
}

// Provider handles Stripe webhook events and credits accounts accordingly
type Provider struct {
	ledger        *creditledger.Ledger
	webhookSecret []byte
	webhookPath   string
	logger        creditledger.Logger
}

// NewProvider creates a new Stripe top-up provider
func NewProvider(config Config) (*Provider, error) {
	if config.Ledger == nil {
		return nil, ErrProviderNotConfigured
	}

	secret := strings.TrimSpace(config.WebhookSecret)
	if secret == "" {
		return nil, ErrProviderNotConfigured
	}

	path := config.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}

	logger := config.Logger
	if logger == nil {
		logger = &creditledger.NoopLogger{}
	}

	return &Provider{
		ledger:        config.Ledger,
		webhookSecret: []byte(secret),
		webhookPath:   path,
		logger:        logger,
	}, nil
}

// WebhookPath returns the route the webhook handler expects to be mounted at
func (p *Provider) WebhookPath() string {
	return p.webhookPath
}

// WebhookHandler returns the HTTP handler for Stripe webhook events
func (p *Provider) WebhookHandler() http.Handler {
	return http.HandlerFunc(p.handleWebhook)
}

// RegisterRoutes mounts the webhook handler on the given mux
func (p *Provider) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(p.webhookPath, p.WebhookHandler())
}
