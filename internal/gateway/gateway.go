package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cryptoLedgerBot/internal/commission"
	"cryptoLedgerBot/internal/domain"
	"cryptoLedgerBot/internal/ports"
)

// Funds is the reservation contract the gateway uses to lock margin before
// submission and release it on provable failure. The engine implements it
// on top of the asset ledger, behind its single mutex.
type Funds interface {
	Reserve(ctx context.Context, asset string, amount decimal.Decimal) error
	Release(ctx context.Context, asset string, amount decimal.Decimal) error
}

// SubmitRequest describes an intended trade.
type SubmitRequest struct {
	Symbol   string
	Side     domain.OrderSide
	Notional domain.Money // Desired monetary size in the quote currency
	Leverage int
	Owner    string
}

// Reservation is margin locked for an order whose exchange outcome is
// unknown. It stays tracked until the reconciliation loop either adopts
// the venue order it backs or confirms no such order exists.
type Reservation struct {
	ID       string
	Owner    string
	Symbol   string
	Side     domain.OrderSide
	Quantity domain.Quantity
	Price    domain.Price // Snapshot price at submission time
	Margin   decimal.Decimal
	Leverage int
	Created  time.Time
}

// SubmitResult is the normalized outcome of a successful submission.
type SubmitResult struct {
	OrderID        int64
	Quantity       domain.Quantity
	Price          domain.Price // Average fill price
	Commission     domain.Money // Entry commission, taker rate
	ReservedMargin decimal.Decimal
}

// Gateway adapts an intended trade into an exchange-compliant order:
// it snapshots the price, rounds to the lot-size step, enforces the
// minimum notional, reserves ledger funds pessimistically, submits, and
// normalizes the outcome.
type Gateway struct {
	logger   ports.Logger
	exchange ports.ExchangeClient
	pricer   ports.Pricer
	funds    Funds
	fees     *commission.Engine
	quote    string

	mu      sync.Mutex
	pending map[string]Reservation // reservations with an unknown order outcome
}

// Config holds the gateway's dependencies.
type Config struct {
	Logger   ports.Logger
	Exchange ports.ExchangeClient
	Pricer   ports.Pricer
	Funds    Funds
	Fees     *commission.Engine
	Quote    string
}

// New creates an order gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Logger == nil || cfg.Exchange == nil || cfg.Pricer == nil || cfg.Funds == nil || cfg.Fees == nil {
		return nil, fmt.Errorf("missing required dependencies for order gateway")
	}
	if cfg.Quote == "" {
		return nil, fmt.Errorf("quote currency is required: %w", ports.ErrConfigurationError)
	}
	return &Gateway{
		logger:   cfg.Logger,
		exchange: cfg.Exchange,
		pricer:   cfg.Pricer,
		funds:    cfg.Funds,
		fees:     cfg.Fees,
		quote:    cfg.Quote,
		pending:  make(map[string]Reservation),
	}, nil
}

// NormalizeQuantity rounds a desired quantity down to the exchange's
// lot-size step, clamps it to [min,max], and bumps it to the smallest
// compliant step when the resulting notional falls below the exchange
// minimum.
func NormalizeQuantity(desired, price decimal.Decimal, filters *ports.SymbolFilters) (decimal.Decimal, error) {
	if price.IsZero() || price.IsNegative() {
		return decimal.Zero, fmt.Errorf("price %s: %w", price, ports.ErrInvalidRequest)
	}
	if desired.IsNegative() || desired.IsZero() {
		return decimal.Zero, fmt.Errorf("quantity %s: %w", desired, ports.ErrInvalidRequest)
	}

	qty := desired
	if filters.StepSize.IsPositive() {
		steps := qty.Div(filters.StepSize).Floor()
		qty = steps.Mul(filters.StepSize)
	}
	if filters.MinQty.IsPositive() && qty.LessThan(filters.MinQty) {
		qty = filters.MinQty
	}
	if filters.MaxQty.IsPositive() && qty.GreaterThan(filters.MaxQty) {
		qty = filters.MaxQty
	}

	if filters.MinNotional.IsPositive() && qty.Mul(price).LessThan(filters.MinNotional) {
		if !filters.StepSize.IsPositive() {
			return decimal.Zero, fmt.Errorf("notional %s below exchange minimum %s: %w",
				qty.Mul(price), filters.MinNotional, ports.ErrInvalidQuantity)
		}
		steps := filters.MinNotional.Div(price).Div(filters.StepSize).Ceil()
		qty = steps.Mul(filters.StepSize)
		if filters.MaxQty.IsPositive() && qty.GreaterThan(filters.MaxQty) {
			return decimal.Zero, fmt.Errorf("minimum notional requires quantity %s above max %s: %w",
				qty, filters.MaxQty, ports.ErrInvalidQuantity)
		}
	}

	if qty.IsZero() {
		return decimal.Zero, fmt.Errorf("quantity rounds to zero at step %s: %w", filters.StepSize, ports.ErrInvalidQuantity)
	}
	return qty, nil
}

// Submit executes the full submission sequence. Funds are locked before the
// exchange call to prevent overspend across concurrently-running
// strategies. On a definite venue rejection the reservation is released; on
// a timeout or ambiguous network failure it is recorded as pending and left
// for the reconciliation loop to adopt or release.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	op := "Submit"

	price, err := g.pricer.GetCurrentPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: price snapshot for %s: %w", op, req.Symbol, err)
	}

	filters, err := g.exchange.GetSymbolFilters(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: symbol filters for %s: %w", op, req.Symbol, err)
	}

	desired := req.Notional.Amount.Div(price.Value)
	qty, err := NormalizeQuantity(desired, price.Value, filters)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	leverage := req.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	margin := qty.Mul(price.Value).Div(decimal.NewFromInt(int64(leverage)))

	if err := g.funds.Reserve(ctx, g.quote, margin); err != nil {
		return nil, fmt.Errorf("%s: reserving %s %s: %w", op, margin, g.quote, err)
	}

	result, err := g.exchange.PlaceMarketOrder(ctx, req.Symbol, req.Side, qty)
	if err != nil {
		if g.releasable(err) {
			if relErr := g.funds.Release(ctx, g.quote, margin); relErr != nil {
				g.logger.Error(ctx, relErr, op+": failed to release reservation after rejected order", map[string]interface{}{
					"symbol": req.Symbol, "margin": margin.String(),
				})
			}
		} else {
			res := Reservation{
				ID:       uuid.NewString(),
				Owner:    req.Owner,
				Symbol:   req.Symbol,
				Side:     req.Side,
				Quantity: domain.NewQuantity(qty, req.Symbol),
				Price:    price,
				Margin:   margin,
				Leverage: leverage,
				Created:  time.Now().UTC(),
			}
			g.mu.Lock()
			g.pending[res.ID] = res
			g.mu.Unlock()
			g.logger.Warn(ctx, op+": order outcome unknown, keeping reservation for reconciliation", map[string]interface{}{
				"symbol": req.Symbol, "margin": margin.String(), "reservationID": res.ID,
			})
		}
		return nil, fmt.Errorf("%s: placing order for %s: %w", op, req.Symbol, err)
	}

	fillPrice := domain.NewPrice(result.AvgPrice, req.Symbol)
	if fillPrice.IsZero() {
		// Some venues omit AvgPrice on immediate fills; fall back to the snapshot.
		g.logger.Warn(ctx, op+": fill price missing, using snapshot price", map[string]interface{}{
			"symbol": req.Symbol, "orderID": result.OrderID, "fallbackPrice": price.Value.String(),
		})
		fillPrice = price
	}
	filledQty := domain.NewQuantity(result.ExecutedQty, req.Symbol)
	if filledQty.IsZero() {
		filledQty = domain.NewQuantity(qty, req.Symbol)
	}

	fee, err := g.fees.TradeCommission(filledQty, fillPrice, false)
	if err != nil {
		return nil, fmt.Errorf("%s: computing entry commission: %w", op, err)
	}

	g.logger.Info(ctx, op+": order filled", map[string]interface{}{
		"symbol":   req.Symbol,
		"side":     req.Side,
		"orderID":  result.OrderID,
		"quantity": filledQty.String(),
		"avgPrice": fillPrice.String(),
		"fee":      fee.String(),
	})

	return &SubmitResult{
		OrderID:        result.OrderID,
		Quantity:       filledQty,
		Price:          fillPrice,
		Commission:     fee,
		ReservedMargin: margin,
	}, nil
}

// Close places the opposite-side market order that flattens a position and
// returns the fill. It touches no ledger state; settlement is the caller's
// responsibility.
func (g *Gateway) Close(ctx context.Context, pos *domain.Position) (domain.Price, domain.Money, error) {
	op := "Close"

	result, err := g.exchange.PlaceMarketOrder(ctx, pos.Symbol, pos.Side.Opposite(), pos.Quantity.Value)
	if err != nil {
		return domain.Price{}, domain.Money{}, fmt.Errorf("%s: closing order for position %s: %w", op, pos.ID, err)
	}

	exitPrice := domain.NewPrice(result.AvgPrice, pos.Symbol)
	if exitPrice.IsZero() {
		snapshot, perr := g.pricer.GetCurrentPrice(ctx, pos.Symbol)
		if perr != nil {
			return domain.Price{}, domain.Money{}, fmt.Errorf("%s: no fill price and no snapshot for %s: %w", op, pos.Symbol, perr)
		}
		exitPrice = snapshot
	}

	fee, err := g.fees.TradeCommission(pos.Quantity, exitPrice, false)
	if err != nil {
		return domain.Price{}, domain.Money{}, fmt.Errorf("%s: computing exit commission: %w", op, err)
	}

	g.logger.Info(ctx, op+": position flattened", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"exitPrice":  exitPrice.String(),
		"fee":        fee.String(),
	})
	return exitPrice, fee, nil
}

// releasable reports whether the reservation can be safely released: the
// venue definitively refused the order. Every sentinel here is carried by
// an API-level response, so the venue saw the request and did not book it.
// Timeouts, connection failures and unknown errors can occur after the
// request was transmitted; those keep the reservation until the next
// reconciliation pass.
func (g *Gateway) releasable(err error) bool {
	switch {
	case errors.Is(err, ports.ErrExchangeRejected),
		errors.Is(err, ports.ErrInsufficientExchangeFunds),
		errors.Is(err, ports.ErrInvalidQuantity),
		errors.Is(err, ports.ErrInvalidRequest),
		errors.Is(err, ports.ErrRateLimited),
		errors.Is(err, ports.ErrAuthenticationFailed):
		return true
	}
	return false
}

// PendingReservations returns copies of the reservations awaiting
// reconciliation, oldest first.
func (g *Gateway) PendingReservations() []Reservation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Reservation, 0, len(g.pending))
	for _, r := range g.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Adopt removes a pending reservation without releasing its margin. The
// caller takes over the lock as the margin of a newly tracked position.
func (g *Gateway) Adopt(id string) (Reservation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	return r, ok
}

// Resolve drops a pending reservation and returns its margin to the free
// balance, once the venue has confirmed no order came of it.
func (g *Gateway) Resolve(ctx context.Context, id string) error {
	g.mu.Lock()
	r, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, ports.ErrNotFound)
	}
	return g.funds.Release(ctx, g.quote, r.Margin)
}
