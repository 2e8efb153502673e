package ports

import (
	"context"

	"cryptoLedgerBot/internal/domain"
)

// SignalSource emits BUY/SELL/HOLD decisions for a symbol. Variants are
// selected at construction time (configured strategy or legacy adapter);
// the engine never inspects the concrete type.
type SignalSource interface {
	// Owner identifies the strategy for slot accounting and position ownership.
	Owner() string

	// Evaluate decides the action for a symbol at the current price.
	Evaluate(ctx context.Context, symbol string, price domain.Price) (domain.SignalAction, error)
}
