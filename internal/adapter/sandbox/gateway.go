// Package sandbox provides a payment gateway and notifier that need no
// external service. They back local runs and demos.
package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// Payment method prefixes with a fixed outcome.
const (
	// DeclinePrefix payment methods are always declined.
	DeclinePrefix = "pm_fail"
	// ErrorPrefix payment methods fail with a transport error.
	ErrorPrefix = "pm_error"
)

// ErrUnavailable is the transport error returned for ErrorPrefix methods.
var ErrUnavailable = errors.New("sandbox gateway unavailable")

// Compile-time check: Gateway implements domain.PaymentGateway.
var _ domain.PaymentGateway = (*Gateway)(nil)

// Gateway approves every charge except for the reserved payment method
// prefixes. Repeating an idempotency key returns the first result.
type Gateway struct {
	logger *zap.Logger

	mu      sync.Mutex
	results map[string]domain.ChargeResult
}

// NewGateway creates a sandbox gateway.
func NewGateway(logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{logger: logger.Named("sandbox_gateway"), results: make(map[string]domain.ChargeResult)}
}

func (g *Gateway) AttemptCharge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChargeResult{}, err
	}
	if strings.HasPrefix(req.PaymentMethodID, ErrorPrefix) {
		return domain.ChargeResult{}, ErrUnavailable
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if req.IdempotencyKey != "" {
		if prev, ok := g.results[req.IdempotencyKey]; ok {
			return prev, nil
		}
	}

	result := domain.ChargeResult{Succeeded: true}
	if strings.HasPrefix(req.PaymentMethodID, DeclinePrefix) {
		result = domain.ChargeResult{Succeeded: false, Reason: "card_declined"}
	}
	if req.IdempotencyKey != "" {
		g.results[req.IdempotencyKey] = result
	}

	g.logger.Info("charge attempted",
		zap.String("payment_method_id", req.PaymentMethodID),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", req.Currency),
		zap.Bool("succeeded", result.Succeeded),
	)
	return result, nil
}
