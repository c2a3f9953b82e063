package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	SignatureHeader    = "x-paystack-signature"
	EventChargeSuccess = "charge.success"
)

var ErrBadSignature = errors.New("invalid webhook signature")

// WebhookEvent is the envelope Paystack posts to the webhook endpoint.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// VerifySignature checks the hex HMAC-SHA512 of body under the secret key.
func (p *Paystack) VerifySignature(body []byte, signature string) error {
	return verifySignature(p.secretKey, body, signature)
}

func verifySignature(secret string, body []byte, signature string) error {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return ErrBadSignature
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrBadSignature
	}
	return nil
}

// ParseWebhook authenticates and decodes a webhook delivery.
func (p *Paystack) ParseWebhook(body []byte, signature string) (*WebhookEvent, error) {
	if err := p.VerifySignature(body, signature); err != nil {
		return nil, err
	}
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ChargeRecord turns a signed charge.success event into a Record, applying the
// same status and currency checks as Verify.
func (p *Paystack) ChargeRecord(ev *WebhookEvent) (*Record, error) {
	if ev == nil || ev.Event != EventChargeSuccess {
		return nil, fmt.Errorf("%w: not a charge.success event", ErrVerificationFailed)
	}
	var data verifyData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decode event: %v", ErrVerificationFailed, err)
	}
	rec, err := p.record(data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rec.Reference) == "" {
		return nil, fmt.Errorf("%w: event carries no reference", ErrVerificationFailed)
	}
	if !rec.Succeeded() {
		return nil, fmt.Errorf("%w: transaction status %q", ErrVerificationFailed, rec.Status)
	}
	if !strings.EqualFold(rec.Currency, p.currency) {
		return nil, fmt.Errorf("%w: currency %s, expected %s", ErrVerificationFailed, rec.Currency, p.currency)
	}
	return rec, nil
}

// Reference extracts data.reference and the metadata user id from a charge event.
func (ev *WebhookEvent) Reference() (reference, userID string) {
	var data struct {
		Reference string          `json:"reference"`
		Metadata  json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return "", ""
	}
	if md := decodeMetadata(data.Metadata); md != nil {
		userID, _ = md["user_id"].(string)
	}
	return data.Reference, userID
}
