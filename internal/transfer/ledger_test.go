package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"grant-workers/internal/common/config"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/grants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest() grants.TransferRequest {
	amount, _ := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	return grants.TransferRequest{
		Asset:     "USDC",
		Amount:    amount,
		From:      "custody-1",
		To:        "applicant-1",
		Reference: "grant-disbursal-3-1",
	}
}

func TestLedgerClient_Transfer_Success(t *testing.T) {
	var got transferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
		assert.Equal(t, "grant-disbursal-3-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(transferResponse{ID: "tx-1", Status: "settled"})
	}))
	defer srv.Close()

	c := NewLedgerClient(config.LedgerConfig{BaseURL: srv.URL + "/", APIKey: "api-key"}, logger.NewTestLogger(t))
	require.NoError(t, c.Transfer(context.Background(), newRequest()))

	assert.Equal(t, "USDC", got.Asset)
	assert.Equal(t, "340282366920938463463374607431768211456", got.Amount)
	assert.Equal(t, "custody-1", got.From)
	assert.Equal(t, "applicant-1", got.To)
	assert.Equal(t, "grant-disbursal-3-1", got.Reference)
}

func TestLedgerClient_Transfer_Failures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantReason string
		wantNil    bool
	}{
		{name: "duplicate reference", status: http.StatusConflict, wantNil: true},
		{
			name:       "rejected with message",
			status:     http.StatusUnprocessableEntity,
			body:       `{"code":"INSUFFICIENT_FUNDS","message":"payer balance too low"}`,
			wantReason: "ledger rejected transfer with status 422: payer balance too low (INSUFFICIENT_FUNDS)",
		},
		{
			name:       "rejected without body",
			status:     http.StatusBadRequest,
			wantReason: "ledger rejected transfer with status 400",
		},
		{
			name:       "server error",
			status:     http.StatusBadGateway,
			body:       `{"message":"upstream"}`,
			wantReason: "ledger unavailable with status 502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewLedgerClient(config.LedgerConfig{BaseURL: srv.URL}, logger.NewTestLogger(t))
			err := c.Transfer(context.Background(), newRequest())
			if tt.wantNil {
				assert.NoError(t, err)
				return
			}
			var te *grants.TransferError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.wantReason, te.Reason)
			assert.ErrorIs(t, err, grants.ErrTransferFailed)
		})
	}
}

func TestLedgerClient_Transfer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewLedgerClient(config.LedgerConfig{BaseURL: url}, logger.NewTestLogger(t))
	err := c.Transfer(context.Background(), newRequest())

	var te *grants.TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "ledger unreachable", te.Reason)
	assert.Error(t, te.Unwrap())
}

func TestLedgerClient_Transfer_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewLedgerClient(config.LedgerConfig{BaseURL: srv.URL, Timeout: 5000}, logger.NewTestLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Transfer(ctx, newRequest())
	var te *grants.TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "ledger timed out", te.Reason)
}

func TestLedgerClient_Transfer_RejectsNonPositiveAmount(t *testing.T) {
	c := NewLedgerClient(config.LedgerConfig{BaseURL: "http://unused"}, logger.NewTestLogger(t))
	req := newRequest()
	req.Amount = big.NewInt(0)

	err := c.Transfer(context.Background(), req)
	assert.ErrorIs(t, err, grants.ErrTransferFailed)
}
