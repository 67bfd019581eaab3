package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
)

func TestSignMatchesReferenceHMAC(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("S"))
	mac.Write([]byte("O1|P1"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign("S", "O1", "P1"))
	assert.Len(t, want, 64)
	assert.NoError(t, Verify("S", "O1", "P1", want))
}

func TestVerifyRejectsMutations(t *testing.T) {
	sig := Sign("S", "O1", "P1")

	raw, err := hex.DecodeString(sig)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	flipped := hex.EncodeToString(raw)

	tests := []struct {
		name                    string
		secret, order, pay, sig string
	}{
		{"one bit flipped", "S", "O1", "P1", flipped},
		{"other order", "S", "O2", "P1", sig},
		{"other payment", "S", "O1", "P2", sig},
		{"other secret", "T", "O1", "P1", sig},
		{"empty signature", "S", "O1", "P1", ""},
		{"uppercase hex", "S", "O1", "P1", hexUpper(sig)},
		{"no secret", "", "O1", "P1", Sign("", "O1", "P1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Verify(tt.secret, tt.order, tt.pay, tt.sig), core.ErrSignatureInvalid)
		})
	}
}

func hexUpper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

func TestClientCreateOrder(t *testing.T) {
	var got orderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key_id", user)
		assert.Equal(t, "key_secret", pass)

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(orderResponse{ID: "order_abc", Amount: got.Amount, Currency: got.Currency, Receipt: got.Receipt, Status: "created"})
	}))
	defer srv.Close()

	c := NewClient(config.PaymentConfig{BaseURL: srv.URL, KeyID: "key_id", KeySecret: "key_secret", Timeout: time.Second}, nil)
	order, err := c.CreateOrder(context.Background(), 2000, "INR", "job-1")
	require.NoError(t, err)
	assert.Equal(t, "order_abc", order.OrderID)
	assert.Equal(t, int64(2000), order.Amount)
	assert.Equal(t, orderRequest{Amount: 2000, Currency: "INR", Receipt: "job-1"}, got)

	assert.NoError(t, c.VerifySignature("order_abc", "pay_1", Sign("key_secret", "order_abc", "pay_1")))
	assert.ErrorIs(t, c.VerifySignature("order_abc", "pay_1", Sign("wrong", "order_abc", "pay_1")), core.ErrSignatureInvalid)
}

func TestClientCreateOrderErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`))
	}))
	defer srv.Close()

	c := NewClient(config.PaymentConfig{BaseURL: srv.URL, KeyID: "k", KeySecret: "s", Timeout: time.Second}, nil)
	_, err := c.CreateOrder(context.Background(), 100, "INR", "job-1")
	require.ErrorIs(t, err, ErrProcessor)
	assert.Contains(t, err.Error(), "amount too small")
	assert.EqualValues(t, 1, calls.Load(), "4xx responses are not retried")

	_, err = c.CreateOrder(context.Background(), 0, "INR", "job-1")
	assert.ErrorIs(t, err, ErrProcessor)
	assert.EqualValues(t, 1, calls.Load())
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":"order_retry","status":"created"}`))
	}))
	defer srv.Close()

	c := NewClient(config.PaymentConfig{BaseURL: srv.URL, KeyID: "k", KeySecret: "s", Timeout: time.Second}, nil)
	c.http.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)

	order, err := c.CreateOrder(context.Background(), 500, "INR", "job-2")
	require.NoError(t, err)
	assert.Equal(t, "order_retry", order.OrderID)
	assert.EqualValues(t, 2, calls.Load())
}
