package withdrawals

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
)

// NewOTP generates a 6 digit one-time code using crypto/rand.
func NewOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		panic(fmt.Sprintf("generate otp: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// otpMatches compares codes in constant time.
func otpMatches(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// Sender delivers a one-time code to the organizer. Email and SMS
// providers implement this outside the engine.
type Sender interface {
	Send(ctx context.Context, organizerID, withdrawalID, code string) error
}

// LogSender writes the code to the application log. Development only.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log-backed OTP sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, organizerID, withdrawalID, code string) error {
	s.logger.Info("Withdrawal OTP issued",
		"organizer_id", organizerID,
		"withdrawal_id", withdrawalID,
		"otp", code)
	return nil
}
