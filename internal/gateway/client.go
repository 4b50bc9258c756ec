package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Oltking/hdticketdesk-sub002/internal/circuitbreaker"
	"github.com/Oltking/hdticketdesk-sub002/internal/traces"
)

// HTTPClient implements Client against the gateway's REST API.
type HTTPClient struct {
	baseURL string
	secret  string
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

// NewHTTPClient creates a gateway client. timeout bounds every call;
// the breaker trips per-operation after repeated transient failures.
func NewHTTPClient(baseURL, secret string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

type chargeEnvelope struct {
	Status bool `json:"status"`
	Data   struct {
		Reference      string `json:"reference"`
		Status         string `json:"status"`
		Amount         int64  `json:"amount"`
		TransactionRef string `json:"transaction_ref"`
		PaidAt         string `json:"paid_at"`
	} `json:"data"`
	Message string `json:"message"`
}

// VerifyTransaction implements Client.
func (c *HTTPClient) VerifyTransaction(ctx context.Context, reference string) (*Charge, error) {
	ctx, span := traces.StartSpan(ctx, "gateway.verify", traces.Reference(reference))
	defer span.End()

	var env chargeEnvelope
	err := c.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &env)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, env.Message)
	}

	charge := &Charge{
		Reference:      env.Data.Reference,
		Amount:         env.Data.Amount,
		TransactionRef: env.Data.TransactionRef,
	}
	switch env.Data.Status {
	case "success":
		charge.Status = ChargeSuccess
	case "failed", "abandoned", "reversed":
		charge.Status = ChargeFailed
	default:
		charge.Status = ChargePending
	}
	if env.Data.PaidAt != "" {
		if t, perr := time.Parse(time.RFC3339, env.Data.PaidAt); perr == nil {
			charge.PaidAt = t
		}
	}
	return charge, nil
}

// InitiatePayout implements Client.
func (c *HTTPClient) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	ctx, span := traces.StartSpan(ctx, "gateway.payout",
		traces.Reference(req.Reference), attribute.Int64("amount", req.Amount))
	defer span.End()

	var resp struct {
		Status bool `json:"status"`
		Data   struct {
			TransferRef string `json:"transfer_ref"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, "payout", http.MethodPost, "/transfer", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	return &PayoutResult{TransferRef: resp.Data.TransferRef}, nil
}

// VerifyTransfer implements Client.
func (c *HTTPClient) VerifyTransfer(ctx context.Context, reference string) (*Transfer, error) {
	ctx, span := traces.StartSpan(ctx, "gateway.verify_transfer", traces.Reference(reference))
	defer span.End()

	var resp struct {
		Status bool `json:"status"`
		Data   struct {
			Reference   string `json:"reference"`
			Status      string `json:"status"`
			TransferRef string `json:"transfer_ref"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, "verify_transfer", http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, resp.Message)
	}

	tr := &Transfer{
		Reference:   resp.Data.Reference,
		TransferRef: resp.Data.TransferRef,
	}
	switch resp.Data.Status {
	case "success":
		tr.Status = TransferSuccess
	case "failed", "reversed":
		tr.Status = TransferFailed
	default:
		tr.Status = TransferPending
	}
	return tr, nil
}

// ReverseCharge implements Client.
func (c *HTTPClient) ReverseCharge(ctx context.Context, transactionRef string, amount int64) (string, error) {
	ctx, span := traces.StartSpan(ctx, "gateway.reverse",
		attribute.String("transaction_ref", transactionRef), attribute.Int64("amount", amount))
	defer span.End()

	body := map[string]any{"transaction": transactionRef, "amount": amount}
	var resp struct {
		Status bool `json:"status"`
		Data   struct {
			RefundRef string `json:"refund_ref"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, "reverse", http.MethodPost, "/refund", body, &resp); err != nil {
		return "", err
	}
	if !resp.Status {
		return "", fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	return resp.Data.RefundRef, nil
}

// ResolveAccountName implements Client.
func (c *HTTPClient) ResolveAccountName(ctx context.Context, bankCode, accountNumber string) (string, error) {
	var resp struct {
		Status bool `json:"status"`
		Data   struct {
			AccountName string `json:"account_name"`
		} `json:"data"`
		Message string `json:"message"`
	}
	path := fmt.Sprintf("/bank/resolve?account_number=%s&bank_code=%s",
		url.QueryEscape(accountNumber), url.QueryEscape(bankCode))
	if err := c.do(ctx, "resolve", http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	if !resp.Status {
		return "", fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	return resp.Data.AccountName, nil
}

// do performs one HTTP round trip with breaker accounting. Non-2xx responses
// map onto the package error taxonomy: 5xx and transport errors are
// ErrUnavailable, 404 is ErrTransactionNotFound, other 4xx are ErrRejected.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out any) error {
	if !c.breaker.Allow(op) {
		return fmt.Errorf("%w: circuit open for %s", ErrUnavailable, op)
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure(op)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure(op)
		return fmt.Errorf("%w: gateway returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		c.breaker.RecordSuccess(op)
		return ErrTransactionNotFound
	case resp.StatusCode >= 400:
		c.breaker.RecordSuccess(op)
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}

	c.breaker.RecordSuccess(op)
	return json.NewDecoder(resp.Body).Decode(out)
}
