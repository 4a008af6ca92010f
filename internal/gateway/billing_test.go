package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type stubProvider struct {
	verifyEvent *CheckoutCompletedEvent
	verifyErr   error
}

func (s *stubProvider) NewCheckoutSession(ctx context.Context, userID string, credits int) (CheckoutSession, error) {
	return CheckoutSession{}, nil
}

func (s *stubProvider) VerifyWebhookSignature(sigHeader string, body []byte) (*CheckoutCompletedEvent, error) {
	return s.verifyEvent, s.verifyErr
}

func newBillingHandler(provider PaymentProvider, prices CreditPrices) *BillingHandler {
	return NewBillingHandler(nil, nil, provider, prices, zerolog.Nop())
}

func TestHandleCheckoutSession_RejectsRequestWithNoIdentity(t *testing.T) {
	h := newBillingHandler(&stubProvider{}, CreditPrices{10: "price_10"})
	req := httptest.NewRequest(http.MethodPost, "/billing/checkout-session", strings.NewReader(`{"credits":10}`))
	rec := httptest.NewRecorder()

	h.HandleCheckoutSession(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebhook_InvalidSignatureRejected(t *testing.T) {
	h := newBillingHandler(&stubProvider{verifyErr: errors.New("signature mismatch")}, nil)
	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.HandleWebhook(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhook_IrrelevantEventAcknowledgedWithoutLedgerTouch(t *testing.T) {
	// verifyEvent is nil (a verified-but-irrelevant event type), and the
	// handler must ack without ever dereferencing the nil ledger/cache.
	h := newBillingHandler(&stubProvider{verifyEvent: nil}, nil)
	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.HandleWebhook(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
