package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cryptoLedgerBot/internal/domain"
)

// AccountBalance is one asset's balance as reported by the exchange.
type AccountBalance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// OpenOrder is one entry of the exchange's authoritative open-order set.
type OpenOrder struct {
	OrderID  int64
	Symbol   string
	Side     domain.OrderSide
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Status   string
}

// OrderResult represents the essential details returned after placing an order.
type OrderResult struct {
	OrderID     int64
	Symbol      string
	Side        domain.OrderSide
	AvgPrice    decimal.Decimal // Average filled price
	ExecutedQty decimal.Decimal // Quantity filled
	Status      string          // Venue order status (e.g., NEW, FILLED)
	Timestamp   time.Time
}

// SymbolFilters are the exchange's trading constraints for one symbol.
type SymbolFilters struct {
	MinQty      decimal.Decimal // Smallest allowed quantity
	MaxQty      decimal.Decimal // Largest allowed quantity
	StepSize    decimal.Decimal // Quantity granularity
	MinNotional decimal.Decimal // Smallest allowed quantity x price
}

// ExchangeClient defines the interface for interacting with a cryptocurrency
// exchange. This abstraction decouples the engine from a specific venue.
type ExchangeClient interface {
	// GetAccount retrieves the per-asset balances of the account.
	GetAccount(ctx context.Context) ([]AccountBalance, error)

	// GetOpenOrders retrieves the authoritative open-order set for a symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	// PlaceMarketOrder places a market order and returns the fill details.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity decimal.Decimal) (*OrderResult, error)

	// GetSymbolFilters retrieves the lot-size and notional constraints for a symbol.
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)

	// GetTickerPrice retrieves the last ticker price for a given symbol.
	GetTickerPrice(ctx context.Context, symbol string) (domain.Price, error)

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
}

// Pricer supplies current prices. May fail with ErrPriceUnavailable.
type Pricer interface {
	GetCurrentPrice(ctx context.Context, symbol string) (domain.Price, error)
}
