// Package gateway talks to the external payment gateway.
//
// The gateway is the authority on whether a charge actually settled. Every
// call here is blocking network I/O with a timeout; callers must never hold
// balance locks across these calls.
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable marks transient failures (timeouts, 5xx). Safe to retry.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrRejected marks a definitive refusal for this attempt. Not retryable
	// without operator action; any local debit must be compensated.
	ErrRejected = errors.New("gateway rejected request")
	// ErrTransactionNotFound means the gateway has no record of the reference.
	ErrTransactionNotFound = errors.New("transaction not found at gateway")
)

// ChargeStatus is the gateway's view of a charge.
type ChargeStatus string

const (
	ChargeSuccess ChargeStatus = "success"
	ChargeFailed  ChargeStatus = "failed"
	ChargePending ChargeStatus = "pending"
)

// Charge is the gateway's authoritative record of a transaction.
type Charge struct {
	Reference      string       `json:"reference"`
	Status         ChargeStatus `json:"status"`
	Amount         int64        `json:"amount"`
	TransactionRef string       `json:"transactionRef"`
	PaidAt         time.Time    `json:"paidAt"`
}

// PayoutRequest asks the gateway to move money to an organizer's bank account.
type PayoutRequest struct {
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount"`
	BankCode      string `json:"bankCode"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	Narration     string `json:"narration"`
}

// PayoutResult reports a dispatched payout.
type PayoutResult struct {
	TransferRef string `json:"transferRef"`
}

// TransferStatus is the gateway's view of a payout transfer.
type TransferStatus string

const (
	TransferSuccess TransferStatus = "success"
	TransferFailed  TransferStatus = "failed"
	TransferPending TransferStatus = "pending"
)

// Transfer is the gateway's authoritative record of a payout, keyed by the
// reference the payout was dispatched under.
type Transfer struct {
	Reference   string         `json:"reference"`
	Status      TransferStatus `json:"status"`
	TransferRef string         `json:"transferRef"`
}

// Client is the settlement engine's view of the payment gateway.
type Client interface {
	// VerifyTransaction fetches the authoritative status of a charge.
	VerifyTransaction(ctx context.Context, reference string) (*Charge, error)
	// InitiatePayout dispatches a bank transfer for a confirmed withdrawal.
	InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
	// VerifyTransfer fetches the authoritative status of a payout by the
	// reference it was dispatched under. ErrTransactionNotFound means the
	// gateway never saw the payout.
	VerifyTransfer(ctx context.Context, reference string) (*Transfer, error)
	// ReverseCharge refunds a settled charge back to the buyer.
	ReverseCharge(ctx context.Context, transactionRef string, amount int64) (refundRef string, err error)
	// ResolveAccountName looks up the holder name of a bank account.
	ResolveAccountName(ctx context.Context, bankCode, accountNumber string) (string, error)
}
