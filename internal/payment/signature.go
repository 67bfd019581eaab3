package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/orrn/printdesk/internal/core"
)

// Sign returns the hex HMAC-SHA256 of "orderID|paymentID" keyed with secret.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares signature to the expected value in constant time.
func Verify(secret, orderID, paymentID, signature string) error {
	if secret == "" {
		return fmt.Errorf("%w: no signing secret configured", core.ErrSignatureInvalid)
	}
	expected := Sign(secret, orderID, paymentID)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return core.ErrSignatureInvalid
	}
	return nil
}
