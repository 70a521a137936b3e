package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const SignatureHeader = "X-Payment-Signature"

// Provider statuses carried by webhook deliveries.
const (
	SignalSucceeded = "succeeded"
	SignalPaid      = "paid"
	SignalFailed    = "failed"
	SignalPending   = "pending"
	SignalRefunded  = "refunded"
)

// Webhook is the body the provider posts when a payment changes.
type Webhook struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	Status        string    `json:"status"`
	Reference     string    `json:"reference"`
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature accepts "<hex>" or "sha256=<hex>". An empty secret
// rejects every delivery.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
