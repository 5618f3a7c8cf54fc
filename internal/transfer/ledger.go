// Package transfer moves assets through the external ledger service.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"grant-workers/internal/common/config"
	commonhttp "grant-workers/internal/common/http"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/grants"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

const tracerName = "grant-workers/internal/transfer"

// LedgerClient implements grants.AssetTransfer over the ledger HTTP API.
// Every request carries the transfer reference as its Idempotency-Key, so a
// replayed job never moves funds twice.
type LedgerClient struct {
	baseURL    string
	apiKey     string
	httpClient *commonhttp.Client
	logger     logger.Logger
}

type transferRequest struct {
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reference string `json:"reference"`
}

type transferResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewLedgerClient(cfg config.LedgerConfig, log logger.Logger) *LedgerClient {
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LedgerClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: commonhttp.NewClient(timeout),
		logger:     log,
	}
}

// Transfer returns a *grants.TransferError for every failure to move funds,
// including an unreachable ledger.
func (c *LedgerClient) Transfer(ctx context.Context, req grants.TransferRequest) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ledger.transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("transfer.asset", req.Asset),
		attribute.String("transfer.reference", req.Reference),
	)

	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return &grants.TransferError{Reason: "amount must be positive"}
	}

	body, err := json.Marshal(transferRequest{
		Asset:     req.Asset,
		Amount:    req.Amount.String(),
		From:      req.From,
		To:        req.To,
		Reference: req.Reference,
	})
	if err != nil {
		return &grants.TransferError{Reason: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return &grants.TransferError{Reason: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.DoWithContext(ctx, httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger unreachable")
		reason := "ledger unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "ledger timed out"
		}
		return &grants.TransferError{Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var out transferResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err == nil {
			span.SetAttributes(attribute.String("transfer.id", out.ID))
		}
		c.logger.Info("ledger transfer accepted", map[string]interface{}{
			"reference":  req.Reference,
			"asset":      req.Asset,
			"amount":     req.Amount.String(),
			"transferId": out.ID,
		})
		return nil

	case resp.StatusCode == http.StatusConflict:
		// the ledger already executed a transfer with this reference
		c.logger.Info("ledger transfer already applied", map[string]interface{}{
			"reference": req.Reference,
		})
		return nil

	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		reason := fmt.Sprintf("ledger rejected transfer with status %d", resp.StatusCode)
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Message != "" {
			reason = fmt.Sprintf("%s: %s", reason, er.Message)
			if er.Code != "" {
				reason = fmt.Sprintf("%s (%s)", reason, er.Code)
			}
		}
		if resp.StatusCode >= 500 {
			reason = fmt.Sprintf("ledger unavailable with status %d", resp.StatusCode)
		}
		span.SetStatus(codes.Error, reason)
		c.logger.Warn("ledger transfer failed", map[string]interface{}{
			"reference": req.Reference,
			"status":    resp.StatusCode,
			"body":      string(raw),
		})
		return &grants.TransferError{Reason: reason}
	}
}

var _ grants.AssetTransfer = (*LedgerClient)(nil)
