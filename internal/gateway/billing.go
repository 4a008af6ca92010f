package gateway

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Harshaan-Chugh/rabbitreels/internal/auth"
	"github.com/Harshaan-Chugh/rabbitreels/internal/cache"
	cperr "github.com/Harshaan-Chugh/rabbitreels/internal/errors"
	"github.com/Harshaan-Chugh/rabbitreels/internal/store"
)

// CheckoutSession is the provider-hosted checkout URL + session id
// PaymentProvider.NewCheckoutSession returns.
type CheckoutSession struct {
	URL       string
	SessionID string
}

// CheckoutCompletedEvent is the control-plane-relevant projection of a
// provider webhook event, after signature verification. Grounded on
// original_source/api/billing.py's checkout.session.completed handling:
// client_reference_id → UserID, metadata.credits → Credits, webhook event
// id → EventID (the idempotency key).
type CheckoutCompletedEvent struct {
	EventID string
	UserID  string
	Credits int
}

// PaymentProvider abstracts the external payment processor (Stripe in
// original_source/api/billing.py) that this control plane never vendors a
// proprietary SDK for, per spec §1's Non-goals ("Stripe checkout UI").
// Implementations live outside this module; this package only defines the
// contract its own HTTP handlers need.
type PaymentProvider interface {
	// NewCheckoutSession creates a hosted checkout session for userID to
	// purchase credits, tagging the session so the webhook can attribute
	// it back to the user and credit amount.
	NewCheckoutSession(ctx context.Context, userID string, credits int) (CheckoutSession, error)

	// VerifyWebhookSignature validates the provider's signature header
	// against the raw request body and, on success, extracts the
	// checkout-completed event. A non-nil error means the signature did
	// not verify (400 per spec §6) or the event type is not a completion
	// event this handler cares about.
	VerifyWebhookSignature(signatureHeader string, body []byte) (*CheckoutCompletedEvent, error)
}

// CreditPrices maps a purchasable credit-pack size to its price-list
// entry, validated on checkout-session creation. Spec's supplemented
// checkout flow: "validates the requested credit-pack size against a
// configured price table (400 on an unsupported size)."
type CreditPrices map[int]string // credits -> provider price ID

// BillingHandler implements spec §6's three billing endpoints.
type BillingHandler struct {
	ledger   *store.Ledger
	cache    *cache.Client
	provider PaymentProvider
	prices   CreditPrices
	log      zerolog.Logger
}

func NewBillingHandler(ledger *store.Ledger, c *cache.Client, provider PaymentProvider, prices CreditPrices, log zerolog.Logger) *BillingHandler {
	return &BillingHandler{ledger: ledger, cache: c, provider: provider, prices: prices, log: log.With().Str("component", "billing").Logger()}
}

type balanceResponse struct {
	Credits int `json:"credits"`
}

// HandleBalance implements GET /billing/balance.
func (b *BillingHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeErrorJSON(w, http.StatusUnauthorized, "missing identity")
		return
	}
	credits, err := b.ledger.GetBalance(r.Context(), claims.Subject)
	if err != nil && !cperr.Is(err, cperr.KindNotFound) {
		writeControlPlaneError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Credits: credits})
}

type checkoutRequest struct {
	Credits int `json:"credits" validate:"required,gt=0"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// HandleCheckoutSession implements POST /billing/checkout-session.
func (b *BillingHandler) HandleCheckoutSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeErrorJSON(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var req checkoutRequest
	if !decodeJSON(w, r, &req) || !validateStruct(w, req) {
		return
	}
	if _, supported := b.prices[req.Credits]; !supported {
		writeErrorJSON(w, http.StatusBadRequest, "unsupported credit pack size")
		return
	}
	session, err := b.provider.NewCheckoutSession(r.Context(), claims.Subject, req.Credits)
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "failed to create checkout session")
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{URL: session.URL})
}

// HandleWebhook implements POST /billing/webhook: signature-verified (not
// bearer-authenticated, per spec §6's Auth column: "signature"), and
// idempotent on the provider's event/session id via the
// processed_session:{id} marker spec §6's KV keyspace names, backed here
// by the same idempotency_markers table the Ledger's Grant uses so a
// replayed webhook event credits the user exactly once (spec §8's
// round-trip law).
func (b *BillingHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	event, err := b.provider.VerifyWebhookSignature(r.Header.Get("Stripe-Signature"), body)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid webhook signature")
		return
	}
	if event == nil {
		// Verified but not a completion event this handler acts on
		// (e.g. async_payment_failed) — acknowledge without side effects.
		w.WriteHeader(http.StatusOK)
		return
	}

	_, grantErr := b.ledger.Grant(r.Context(), event.UserID, event.Credits,
		"purchased "+strconv.Itoa(event.Credits)+" credits", event.EventID)
	if grantErr != nil && !cperr.Is(grantErr, cperr.KindDuplicateEvent) {
		b.log.Error().Err(grantErr).Str("event_id", event.EventID).Msg("failed to grant purchased credits")
		writeErrorJSON(w, http.StatusInternalServerError, "failed to process payment event")
		return
	}
	if grantErr != nil {
		b.log.Info().Str("event_id", event.EventID).Msg("webhook event already processed, skipping")
	}

	// Best-effort TTL marker mirror, matching spec §6's
	// processed_session:{id} KV key (>= 24h TTL); the idempotency_markers
	// row above is the durable, authoritative guard.
	if _, err := b.cache.TryMarkProcessed(r.Context(), event.EventID, processedSessionTTL); err != nil {
		b.log.Warn().Err(err).Str("event_id", event.EventID).Msg("processed-session cache mirror failed")
	}

	w.WriteHeader(http.StatusOK)
}

const processedSessionTTL = 24 * time.Hour
