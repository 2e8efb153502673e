package reconcile

import (
	"context"
	"fmt"
	"time"

	"cryptoLedgerBot/internal/commission"
	"cryptoLedgerBot/internal/domain"
	"cryptoLedgerBot/internal/gateway"
	"cryptoLedgerBot/internal/ports"
)

// DefaultInterval is how often the loop compares local state against the
// exchange when no interval is configured.
const DefaultInterval = 10 * time.Second

// Syncer is the engine surface the loop heals through.
type Syncer interface {
	// OpenPositions returns copies of all non-terminal positions.
	OpenPositions() []*domain.Position
	// ForceClose closes a position whose backing exchange order no longer
	// exists, using the given exit price and estimated fee.
	ForceClose(ctx context.Context, positionID string, exitPrice domain.Price, exitFee domain.Money, reason domain.CloseReason) error
	// RefreshPrice updates the current price and unrealized PnL of an open
	// position.
	RefreshPrice(ctx context.Context, positionID string, price domain.Price) error
	// PendingReservations returns margin reservations whose submitted
	// orders have an unknown exchange outcome.
	PendingReservations() []gateway.Reservation
	// AdoptReservation turns an orphaned reservation into a tracked
	// position backed by the given venue order.
	AdoptReservation(ctx context.Context, reservationID string, orderID int64, entryPrice domain.Price) error
	// ReleaseReservation frees an orphaned reservation the venue reports
	// no order for.
	ReleaseReservation(ctx context.Context, reservationID string) error
}

// Loop periodically reconciles local open positions against the exchange's
// authoritative open-order set and self-heals discrepancies.
type Loop struct {
	logger   ports.Logger
	exchange ports.ExchangeClient
	pricer   ports.Pricer
	fees     *commission.Engine
	syncer   Syncer
	interval time.Duration
}

// Config holds the loop's dependencies.
type Config struct {
	Logger   ports.Logger
	Exchange ports.ExchangeClient
	Pricer   ports.Pricer
	Fees     *commission.Engine
	Syncer   Syncer
	Interval time.Duration
}

// New creates a reconciliation loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Logger == nil || cfg.Exchange == nil || cfg.Pricer == nil || cfg.Fees == nil || cfg.Syncer == nil {
		return nil, fmt.Errorf("missing required dependencies for reconciliation loop")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		logger:   cfg.Logger,
		exchange: cfg.Exchange,
		pricer:   cfg.Pricer,
		fees:     cfg.Fees,
		syncer:   cfg.Syncer,
		interval: interval,
	}, nil
}

// Run executes reconciliation passes on a fixed interval until the context
// is cancelled. Pass failures are logged and retried on the next natural
// cycle, never in a tight loop.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info(ctx, "Reconciliation loop started", map[string]interface{}{"interval": l.interval.String()})
	for {
		select {
		case <-ctx.Done():
			l.logger.Info(ctx, "Reconciliation loop stopped")
			return
		case <-ticker.C:
			if err := l.RunOnce(ctx); err != nil {
				l.logger.Warn(ctx, "Reconciliation pass failed, will retry next cycle", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// RunOnce performs a single reconciliation pass. Positions whose backing
// order id is absent from the exchange's open-order set are treated as
// externally closed; the rest get a price/PnL refresh. Reservations with no
// backing position are matched to unclaimed venue orders and adopted, or
// released once the venue confirms no order came of them.
func (l *Loop) RunOnce(ctx context.Context) error {
	positions := l.syncer.OpenPositions()
	orphans := l.syncer.PendingReservations()
	if len(positions) == 0 && len(orphans) == 0 {
		return nil
	}

	bySymbol := make(map[string][]*domain.Position)
	claimed := make(map[int64]struct{}, len(positions))
	for _, p := range positions {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
		claimed[p.OrderID] = struct{}{}
	}

	// One open-order fetch per symbol, shared by both passes.
	orders := make(map[string][]ports.OpenOrder)
	fetch := func(symbol string) ([]ports.OpenOrder, error) {
		if open, ok := orders[symbol]; ok {
			return open, nil
		}
		open, err := l.exchange.GetOpenOrders(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("fetching open orders for %s: %w", symbol, err)
		}
		orders[symbol] = open
		return open, nil
	}

	var firstErr error
	for symbol, local := range bySymbol {
		open, err := fetch(symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := l.reconcileSymbol(ctx, symbol, local, open); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, res := range orphans {
		if err := l.reconcileReservation(ctx, res, claimed, fetch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Loop) reconcileSymbol(ctx context.Context, symbol string, local []*domain.Position, open []ports.OpenOrder) error {
	remote := make(map[int64]struct{}, len(open))
	for _, o := range open {
		remote[o.OrderID] = struct{}{}
	}

	price, priceErr := l.pricer.GetCurrentPrice(ctx, symbol)

	for _, pos := range local {
		if _, exists := remote[pos.OrderID]; !exists {
			if priceErr != nil {
				// Cannot close without an exit price; retry next pass.
				l.logger.Warn(ctx, "Position externally closed but price unavailable", map[string]interface{}{
					"positionID": pos.ID, "symbol": symbol, "error": priceErr.Error(),
				})
				continue
			}
			exitFee, feeErr := l.fees.EstimateExitFee(pos.Quantity, price)
			if feeErr != nil {
				l.logger.Error(ctx, feeErr, "Failed to estimate exit fee for externally closed position", map[string]interface{}{"positionID": pos.ID})
				continue
			}
			l.logger.Info(ctx, "Backing order vanished from exchange, closing position locally", map[string]interface{}{
				"positionID": pos.ID,
				"orderID":    pos.OrderID,
				"exitPrice":  price.String(),
				"exitFee":    exitFee.String(),
			})
			if err := l.syncer.ForceClose(ctx, pos.ID, price, exitFee, domain.CloseReasonReconciled); err != nil {
				l.logger.Error(ctx, err, "Failed to close externally closed position", map[string]interface{}{"positionID": pos.ID})
			}
			continue
		}

		if priceErr == nil {
			if err := l.syncer.RefreshPrice(ctx, pos.ID, price); err != nil {
				l.logger.Warn(ctx, "Failed to refresh position price", map[string]interface{}{
					"positionID": pos.ID, "error": err.Error(),
				})
			}
		}
	}
	return nil
}

// reconcileReservation resolves margin locked for an order with an unknown
// outcome. A venue order matching the reservation's side and quantity that
// no local position claims is adopted; with no match, the margin is
// released once the reservation is old enough for the order to have become
// visible.
func (l *Loop) reconcileReservation(ctx context.Context, res gateway.Reservation, claimed map[int64]struct{}, fetch func(string) ([]ports.OpenOrder, error)) error {
	open, err := fetch(res.Symbol)
	if err != nil {
		return err
	}

	for _, o := range open {
		if _, taken := claimed[o.OrderID]; taken {
			continue
		}
		if o.Side != res.Side || !o.Quantity.Equal(res.Quantity.Value) {
			continue
		}
		entryPrice := domain.NewPrice(o.Price, res.Symbol)
		if entryPrice.IsZero() {
			// Market orders carry no price on the venue side.
			entryPrice = res.Price
		}
		claimed[o.OrderID] = struct{}{}
		l.logger.Info(ctx, "Venue order matches orphaned reservation, adopting", map[string]interface{}{
			"reservationID": res.ID,
			"symbol":        res.Symbol,
			"orderID":       o.OrderID,
			"entryPrice":    entryPrice.String(),
		})
		if err := l.syncer.AdoptReservation(ctx, res.ID, o.OrderID, entryPrice); err != nil {
			l.logger.Error(ctx, err, "Failed to adopt orphaned reservation", map[string]interface{}{"reservationID": res.ID})
		}
		return nil
	}

	if time.Since(res.Created) < l.interval {
		// Too fresh; the order may simply not be visible yet.
		return nil
	}
	l.logger.Info(ctx, "No venue order for reservation, releasing margin", map[string]interface{}{
		"reservationID": res.ID,
		"symbol":        res.Symbol,
		"margin":        res.Margin.String(),
	})
	if err := l.syncer.ReleaseReservation(ctx, res.ID); err != nil {
		l.logger.Error(ctx, err, "Failed to release orphaned reservation", map[string]interface{}{"reservationID": res.ID})
	}
	return nil
}
