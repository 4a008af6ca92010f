// Package paymentprovider implements gateway.PaymentProvider against a
// Stripe-shaped webhook/checkout contract, grounded on
// original_source/api/billing.py (checkout.session.completed handling,
// client_reference_id → user, metadata.credits → credit amount) and on
// fairyhunter13-ai-cv-evaluator's crypto/hmac + crypto/sha256 HS256
// signing pattern (internal/adapter/httpserver/auth.go) — the actual
// github.com/stripe/stripe-go SDK is not present anywhere in the
// retrieved pack, so the provider side of the contract is reimplemented
// against the documented wire format (a timestamped HMAC-SHA256 signature
// header) rather than vendored.
package paymentprovider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Harshaan-Chugh/rabbitreels/internal/gateway"
)

// signatureTolerance rejects a webhook whose timestamp is further from
// now than this, guarding against replay of an old captured request.
const signatureTolerance = 5 * time.Minute

// StripeShaped is a Stripe-webhook-compatible PaymentProvider. checkoutURL
// is the base URL of the hosted checkout page; successURL receives
// ?session_id={id} once payment completes.
type StripeShaped struct {
	checkoutBaseURL string
	successURL      string
	webhookSecret   []byte
}

func New(checkoutBaseURL, successURL, webhookSecret string) *StripeShaped {
	return &StripeShaped{
		checkoutBaseURL: checkoutBaseURL,
		successURL:      successURL,
		webhookSecret:   []byte(webhookSecret),
	}
}

var _ gateway.PaymentProvider = (*StripeShaped)(nil)

// NewCheckoutSession mints a session id and composes the hosted checkout
// URL, tagging it with client_reference_id and the requested credit
// amount so the webhook event can attribute the completed payment back to
// the right user without a second lookup.
func (p *StripeShaped) NewCheckoutSession(ctx context.Context, userID string, credits int) (gateway.CheckoutSession, error) {
	sessionID := "cs_" + uuid.NewString()
	q := url.Values{}
	q.Set("client_reference_id", userID)
	q.Set("credits", strconv.Itoa(credits))
	q.Set("session_id", sessionID)
	q.Set("success_url", p.successURL)
	return gateway.CheckoutSession{
		URL:       p.checkoutBaseURL + "?" + q.Encode(),
		SessionID: sessionID,
	}, nil
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID                string `json:"id"`
			ClientReferenceID string `json:"client_reference_id"`
			PaymentStatus     string `json:"payment_status"`
			Metadata          struct {
				Credits string `json:"credits"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

var completionEventTypes = map[string]bool{
	"checkout.session.completed":               true,
	"checkout.session.async_payment_succeeded": true,
}

// VerifyWebhookSignature checks sigHeader against body using Stripe's
// documented scheme: "t=<unix_ts>,v1=<hex hmac-sha256 of '<ts>.<body>'>".
// On a verified completion event it returns the projected
// CheckoutCompletedEvent; on a verified but irrelevant event type (e.g.
// async_payment_failed) it returns (nil, nil) so the caller acknowledges
// without side effects.
func (p *StripeShaped) VerifyWebhookSignature(sigHeader string, body []byte) (*gateway.CheckoutCompletedEvent, error) {
	ts, sig, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}
	if err := p.checkTimestamp(ts); err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, p.webhookSecret)
	mac.Write([]byte(ts + "." + string(body)))
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(expected, got) {
		return nil, fmt.Errorf("webhook signature mismatch")
	}

	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if !completionEventTypes[evt.Type] {
		return nil, nil
	}
	obj := evt.Data.Object
	if obj.ClientReferenceID == "" || obj.Metadata.Credits == "" {
		return nil, fmt.Errorf("completion event %s missing client_reference_id or credits metadata", evt.ID)
	}
	credits, err := strconv.Atoi(obj.Metadata.Credits)
	if err != nil {
		return nil, fmt.Errorf("completion event %s has non-numeric credits metadata", evt.ID)
	}
	return &gateway.CheckoutCompletedEvent{
		EventID: evt.ID,
		UserID:  obj.ClientReferenceID,
		Credits: credits,
	}, nil
}

func (p *StripeShaped) checkTimestamp(raw string) error {
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp")
	}
	ts := time.Unix(sec, 0)
	if delta := time.Since(ts); delta > signatureTolerance || delta < -signatureTolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}
	return nil
}

func parseSignatureHeader(header string) (timestamp, signature string, err error) {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signature = kv[1]
		}
	}
	if timestamp == "" || signature == "" {
		return "", "", fmt.Errorf("malformed signature header")
	}
	return timestamp, signature, nil
}
