package paymentprovider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret, ts, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature_Valid(t *testing.T) {
	p := New("https://checkout.example/session", "https://app.example/success", "whsec_test")
	body := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","client_reference_id":"user_42","payment_status":"paid","metadata":{"credits":"5"}}}}`
	ts := fmt.Sprintf("%d", time.Now().Unix())
	header := fmt.Sprintf("t=%s,v1=%s", ts, sign("whsec_test", ts, body))

	evt, err := p.VerifyWebhookSignature(header, []byte(body))
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "evt_1", evt.EventID)
	assert.Equal(t, "user_42", evt.UserID)
	assert.Equal(t, 5, evt.Credits)
}

func TestVerifyWebhookSignature_WrongSecretRejected(t *testing.T) {
	p := New("https://checkout.example/session", "https://app.example/success", "whsec_test")
	body := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`
	ts := fmt.Sprintf("%d", time.Now().Unix())
	header := fmt.Sprintf("t=%s,v1=%s", ts, sign("wrong_secret", ts, body))

	_, err := p.VerifyWebhookSignature(header, []byte(body))
	assert.Error(t, err)
}

func TestVerifyWebhookSignature_TamperedBodyRejected(t *testing.T) {
	p := New("https://checkout.example/session", "https://app.example/success", "whsec_test")
	body := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`
	ts := fmt.Sprintf("%d", time.Now().Unix())
	header := fmt.Sprintf("t=%s,v1=%s", ts, sign("whsec_test", ts, body))

	tampered := body + " "
	_, err := p.VerifyWebhookSignature(header, []byte(tampered))
	assert.Error(t, err)
}

func TestVerifyWebhookSignature_StaleTimestampRejected(t *testing.T) {
	p := New("https://checkout.example/session", "https://app.example/success", "whsec_test")
	body := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`
	old := time.Now().Add(-10 * time.Minute)
	ts := fmt.Sprintf("%d", old.Unix())
	header := fmt.Sprintf("t=%s,v1=%s", ts, sign("whsec_test", ts, body))

	_, err := p.VerifyWebhookSignature(header, []byte(body))
	assert.Error(t, err)
}

func TestVerifyWebhookSignature_MalformedHeaderRejected(t *testing.T) {
	p := New("https://checkout.example/session", "https://app.example/success", "whsec_test")
	_, err := p.VerifyWebhookSignature("garbage", []byte("{}"))
	assert.Error(t, err)
}

func TestVerifyWebhookSignature_IrrelevantEventTypeReturnsNilNil(t *testing.T) {
	p := New("https://checkout.example/session", "https://app.example/success", "whsec_test")
	body := `{"id":"evt_2","type":"checkout.session.async_payment_failed","data":{"object":{}}}`
	ts := fmt.Sprintf("%d", time.Now().Unix())
	header := fmt.Sprintf("t=%s,v1=%s", ts, sign("whsec_test", ts, body))

	evt, err := p.VerifyWebhookSignature(header, []byte(body))
	assert.NoError(t, err)
	assert.Nil(t, evt)
}

func TestVerifyWebhookSignature_MissingAttributionRejected(t *testing.T) {
	p := New("https://checkout.example/session", "https://app.example/success", "whsec_test")
	body := `{"id":"evt_3","type":"checkout.session.completed","data":{"object":{"client_reference_id":"","metadata":{"credits":""}}}}`
	ts := fmt.Sprintf("%d", time.Now().Unix())
	header := fmt.Sprintf("t=%s,v1=%s", ts, sign("whsec_test", ts, body))

	_, err := p.VerifyWebhookSignature(header, []byte(body))
	assert.Error(t, err)
}

func TestNewCheckoutSession_EncodesAttribution(t *testing.T) {
	p := New("https://checkout.example/session", "https://app.example/success", "whsec_test")
	session, err := p.NewCheckoutSession(context.Background(), "user_42", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, session.SessionID)
	assert.Contains(t, session.URL, "client_reference_id=user_42")
	assert.Contains(t, session.URL, "credits=10")
}
