package billing

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyPaystackSignature(t *testing.T) {
	payload := []byte(`{"event":"charge.success","data":{"reference":"ref_1"}}`)
	secret := "sk_test_secret"

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      bool
	}{
		{"valid signature", payload, signPayload(payload, secret), secret, true},
		{"tampered payload", []byte(`{"event":"charge.success","data":{"reference":"ref_2"}}`), signPayload(payload, secret), secret, false},
		{"wrong secret", payload, signPayload(payload, "sk_test_other"), secret, false},
		{"empty signature", payload, "", secret, false},
		{"empty secret", payload, signPayload(payload, secret), "", false},
		{"non-hex signature", payload, "not hex at all", secret, false},
		{"uppercase hex accepted", payload, signPayload(payload, secret), secret, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyPaystackSignature(tt.payload, tt.signature, tt.secret))
		})
	}
}
