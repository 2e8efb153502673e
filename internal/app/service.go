package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cryptoLedgerBot/config"
	"cryptoLedgerBot/internal/commission"
	"cryptoLedgerBot/internal/domain"
	"cryptoLedgerBot/internal/gateway"
	"cryptoLedgerBot/internal/ledger"
	"cryptoLedgerBot/internal/ports"
	"cryptoLedgerBot/internal/position"
	"cryptoLedgerBot/internal/reconcile"
	"cryptoLedgerBot/internal/risk"
	"cryptoLedgerBot/internal/trigger"
)

// CloseResult reports the monetary outcome of closing a position.
type CloseResult struct {
	RealizedPnL domain.Money
	Fees        domain.Money
}

// LedgerSnapshot is the exposed view of the account ledger.
type LedgerSnapshot struct {
	Balances  []domain.AssetBalance
	Valuation domain.Money
}

// Engine orchestrates the balance ledger and position lifecycle: it turns
// signals into exchange orders, tracks the resulting positions, computes
// PnL net of fees, enforces risk limits, and reconciles local state against
// the exchange.
//
// The ledger, position store, risk state and order records form one shared
// mutable account used by every strategy; a single mutex serializes all
// mutations to them. Exchange network calls never run under that mutex.
type Engine struct {
	cfg      *config.Config
	logger   ports.Logger
	exchange ports.ExchangeClient
	pricer   ports.Pricer
	repo     ports.Repository
	sources  []ports.SignalSource

	fees    *commission.Engine
	gateway *gateway.Gateway
	trigger *trigger.Evaluator
	recon   *reconcile.Loop

	mu      sync.Mutex // guards ledger, store, risk, records, closing
	ledger  *ledger.AssetLedger
	store   *position.Store
	risk    *risk.Controller
	records map[string]*domain.OrderRecord // keyed by position id
	closing map[string]bool                // position ids with a close in flight
}

// New creates the engine and wires its internal components. Signal sources
// are optional; the PlaceSignal/ClosePosition surface works without them.
func New(
	cfg *config.Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	pricer ports.Pricer,
	repo ports.Repository,
	sources []ports.SignalSource,
) (*Engine, error) {
	if cfg == nil || logger == nil || exchange == nil || pricer == nil || repo == nil {
		return nil, fmt.Errorf("missing required dependencies for engine")
	}
	if cfg.QuoteAsset == "" {
		return nil, fmt.Errorf("quote asset must be configured: %w", ports.ErrConfigurationError)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol must be configured: %w", ports.ErrConfigurationError)
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		exchange: exchange,
		pricer:   pricer,
		repo:     repo,
		sources:  sources,
		records:  make(map[string]*domain.OrderRecord),
		closing:  make(map[string]bool),
	}

	var err error
	e.ledger, err = ledger.New(logger, nil)
	if err != nil {
		return nil, err
	}
	e.store, err = position.NewStore(logger)
	if err != nil {
		return nil, err
	}

	e.fees = commission.New(commission.Rates{
		Maker:           cfg.MakerFee,
		Taker:           cfg.TakerFee,
		Funding:         cfg.FundingRate,
		BorrowDaily:     cfg.BorrowDailyRate,
		Liquidation:     cfg.LiquidationFee,
		FundingInterval: cfg.FundingInterval,
	}, cfg.QuoteAsset)

	e.risk, err = risk.NewController(logger, domain.RiskLimits{
		MaxPositionSize: cfg.MaxPositionSize,
		MaxDailyLoss:    cfg.MaxDailyLoss,
		TotalSlots:      cfg.TotalSlots,
		Leverage:        cfg.Leverage,
		SizeTolerance:   cfg.SizeTolerance,
		MarginSafety:    cfg.MarginSafety,
	}, e.store)
	if err != nil {
		return nil, err
	}
	e.risk.SetEnabled(cfg.TradingEnabled)

	e.gateway, err = gateway.New(gateway.Config{
		Logger:   logger,
		Exchange: exchange,
		Pricer:   pricer,
		Funds:    e,
		Fees:     e.fees,
		Quote:    cfg.QuoteAsset,
	})
	if err != nil {
		return nil, err
	}

	e.trigger = trigger.NewEvaluator(logger)

	e.recon, err = reconcile.New(reconcile.Config{
		Logger:   logger,
		Exchange: exchange,
		Pricer:   pricer,
		Fees:     e.fees,
		Syncer:   e,
		Interval: cfg.ReconcileInterval,
	})
	if err != nil {
		return nil, err
	}

	for _, src := range sources {
		e.risk.SetActive(src.Owner(), true)
	}

	return e, nil
}

// Start loads persisted state, launches the background loops, and blocks
// until the context is cancelled. State is flushed on the way out.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info(ctx, "Starting ledger engine...")

	if err := e.exchange.Ping(ctx); err != nil {
		return fmt.Errorf("exchange connectivity check failed: %w", err)
	}

	if err := e.loadState(ctx); err != nil {
		return fmt.Errorf("failed to load persisted state: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.recon.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		e.runTriggerLoop(ctx)
	}()

	<-ctx.Done()
	e.logger.Info(ctx, "Context cancelled, shutting down engine...")
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.mu.Lock()
	err := e.persistLocked(flushCtx)
	e.mu.Unlock()
	if err != nil {
		e.logger.Error(flushCtx, err, "Failed to flush state on shutdown")
		return err
	}
	e.logger.Info(flushCtx, "Ledger engine stopped.")
	return nil
}

// loadState restores positions, ledger, and daily risk state from the
// repository. A ledger that was never persisted is seeded from the
// exchange's account balances.
func (e *Engine) loadState(ctx context.Context) error {
	positions, err := e.repo.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("loading positions: %w", err)
	}

	balances, err := e.repo.GetLedger(ctx)
	if err != nil {
		return fmt.Errorf("loading ledger: %w", err)
	}
	if len(balances) == 0 {
		account, err := e.exchange.GetAccount(ctx)
		if err != nil {
			return fmt.Errorf("seeding ledger from exchange account: %w", err)
		}
		for _, a := range account {
			if a.Free.IsZero() && a.Locked.IsZero() {
				continue
			}
			balances = append(balances, domain.AssetBalance{Asset: a.Asset, Free: a.Free, Locked: a.Locked})
		}
		e.logger.Info(ctx, "Ledger seeded from exchange account", map[string]interface{}{"assets": len(balances)})
	}

	daily, err := e.repo.GetDailyRisk(ctx)
	if err != nil {
		return fmt.Errorf("loading daily risk state: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger, err = ledger.New(e.logger, balances)
	if err != nil {
		return err
	}
	e.store.Load(positions)
	if daily != nil {
		e.risk.LoadDailyState(*daily)
	}

	// Rebuild in-memory order records for surviving open positions. The
	// entry commission is re-estimated at the taker rate; exact fees for
	// fills before a restart are not recoverable from the position doc.
	for _, p := range e.store.Open() {
		fee, ferr := e.fees.TradeCommission(p.Quantity, p.EntryPrice, false)
		if ferr != nil {
			return ferr
		}
		notional, nerr := domain.Notional(p.Quantity, p.EntryPrice, e.cfg.QuoteAsset)
		if nerr != nil {
			return nerr
		}
		leverage := p.Leverage
		if leverage <= 0 {
			leverage = 1
		}
		e.records[p.ID] = &domain.OrderRecord{
			ID:         uuid.NewString(),
			PositionID: p.ID,
			OrderID:    p.OrderID,
			Symbol:     p.Symbol,
			Side:       p.Side,
			Quantity:   p.Quantity,
			Price:      p.EntryPrice,
			Status:     domain.OrderOpen,
			Owner:      p.Owner,
			Leverage:   p.Leverage,
			Margin:     domain.NewMoney(notional.Amount.Div(decimal.NewFromInt(int64(leverage))), e.cfg.QuoteAsset),
			FeesPaid:   fee,
			CreatedAt:  p.CreatedAt,
			UpdatedAt:  time.Now().UTC(),
		}
	}

	e.logger.Info(ctx, "Persisted state restored", map[string]interface{}{
		"openPositions": len(e.store.Open()),
		"assets":        len(balances),
	})
	return nil
}

// PlaceSignal converts a strategy signal into an exchange order and a
// tracked position. It returns the new position id on success; blocked or
// invalid requests fail synchronously with structured reasons.
func (e *Engine) PlaceSignal(ctx context.Context, owner, symbol string, side domain.OrderSide, notional domain.Money) (string, error) {
	op := "PlaceSignal"

	if owner == "" || symbol == "" {
		return "", fmt.Errorf("%s: owner and symbol are required: %w", op, ports.ErrInvalidRequest)
	}
	if side != domain.Buy && side != domain.Sell {
		return "", fmt.Errorf("%s: side %q: %w", op, side, ports.ErrInvalidRequest)
	}
	if notional.Currency != e.cfg.QuoteAsset {
		return "", fmt.Errorf("%s: notional currency %s, engine settles in %s: %w", op, notional.Currency, e.cfg.QuoteAsset, ports.ErrInvalidRequest)
	}
	if !notional.Amount.IsPositive() {
		return "", fmt.Errorf("%s: notional must be positive: %w", op, ports.ErrInvalidRequest)
	}

	// Pre-trade checks against the shared single-writer state. A passing
	// check holds a concurrency slot until the position is created or the
	// attempt fails, so a second placement racing through the unlocked
	// exchange call cannot take the same last slot.
	e.mu.Lock()
	result := e.risk.ReserveSlot(ctx, notional, owner)
	var marginErr error
	if result.Allowed && e.cfg.Leverage > 1 {
		quote := e.ledger.Balance(e.cfg.QuoteAsset)
		marginErr = e.risk.CheckMarginSafety(quote.Total(), quote.Locked)
		if marginErr != nil {
			e.risk.ReleaseSlot(owner)
		}
	}
	e.mu.Unlock()
	if err := result.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if marginErr != nil {
		return "", fmt.Errorf("%s: %w", op, marginErr)
	}

	// The gateway reserves margin through the Funds contract before the
	// exchange sees the order; the reservation is the overspend guard
	// across concurrently-running strategies.
	submitted, err := e.gateway.Submit(ctx, gateway.SubmitRequest{
		Symbol:   symbol,
		Side:     side,
		Notional: notional,
		Leverage: e.cfg.Leverage,
		Owner:    owner,
	})
	if err != nil {
		e.mu.Lock()
		e.risk.ReleaseSlot(owner)
		e.mu.Unlock()
		return "", fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	stopLoss, takeProfit := domain.StopLevels(submitted.Price, side, e.cfg.StopLoss, e.cfg.TakeProfit)
	pos := &domain.Position{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Side:         side,
		Quantity:     submitted.Quantity,
		EntryPrice:   submitted.Price,
		CurrentPrice: submitted.Price,
		Leverage:     e.cfg.Leverage,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		Status:       domain.StatusOpen,
		Owner:        owner,
		OrderID:      submitted.OrderID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	record := &domain.OrderRecord{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		OrderID:    submitted.OrderID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   submitted.Quantity,
		Price:      submitted.Price,
		Status:     domain.OrderOpen,
		Owner:      owner,
		Leverage:   e.cfg.Leverage,
		Margin:     domain.NewMoney(submitted.ReservedMargin, e.cfg.QuoteAsset),
		FeesPaid:   submitted.Commission,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// The stored position takes over the slot held since the risk check.
	e.risk.ReleaseSlot(owner)
	if err := e.store.Create(pos); err != nil {
		// An id collision on a fresh UUID should not happen; release the
		// reservation rather than leak it.
		if relErr := e.ledger.Unlock(ctx, e.cfg.QuoteAsset, submitted.ReservedMargin); relErr != nil {
			e.logger.Error(ctx, relErr, op+": failed to release reservation after store failure")
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	e.records[pos.ID] = record
	if err := e.persistLocked(ctx); err != nil {
		e.logger.Error(ctx, err, op+": failed to persist state after open", map[string]interface{}{"positionID": pos.ID})
	}

	e.logger.Info(ctx, op+": position opened", map[string]interface{}{
		"positionID": pos.ID,
		"owner":      owner,
		"symbol":     symbol,
		"side":       side,
		"quantity":   submitted.Quantity.String(),
		"entryPrice": submitted.Price.String(),
	})
	return pos.ID, nil
}

// ClosePosition flattens a position on the exchange and settles the ledger.
// Closing an already-terminal position is an idempotent no-op returning the
// recorded outcome.
func (e *Engine) ClosePosition(ctx context.Context, positionID string, reason domain.CloseReason) (*CloseResult, error) {
	op := "ClosePosition"

	e.mu.Lock()
	pos, err := e.store.Get(positionID)
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if pos.Status.IsTerminal() {
		result := e.recordedResultLocked(pos)
		e.mu.Unlock()
		return result, nil
	}
	if e.closing[positionID] {
		e.mu.Unlock()
		return nil, fmt.Errorf("%s: position %s: %w", op, positionID, ports.ErrCloseInProgress)
	}
	e.closing[positionID] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.closing, positionID)
		e.mu.Unlock()
	}()

	exitPrice, exitFee, err := e.gateway.Close(ctx, pos)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalizeCloseLocked(ctx, positionID, exitPrice, exitFee, reason)
}

// GetPositions returns copies of positions matching the filter.
func (e *Engine) GetPositions(filter position.Filter) []*domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Query(filter)
}

// GetLedgerSnapshot returns the per-asset balances and their valuation in
// the quote currency. Valuation prices a snapshot copy so that network
// lookups run outside the engine lock.
func (e *Engine) GetLedgerSnapshot(ctx context.Context) (*LedgerSnapshot, error) {
	e.mu.Lock()
	balances := e.ledger.Snapshot()
	e.mu.Unlock()

	valuation, err := ledger.Valuate(ctx, balances, e.cfg.QuoteAsset, func(ctx context.Context, asset string) (decimal.Decimal, error) {
		price, err := e.pricer.GetCurrentPrice(ctx, asset+e.cfg.QuoteAsset)
		if err != nil {
			return decimal.Zero, err
		}
		return price.Value, nil
	})
	if err != nil {
		return nil, fmt.Errorf("valuing ledger snapshot: %w", err)
	}
	return &LedgerSnapshot{Balances: balances, Valuation: valuation}, nil
}

// History returns the most recent closed order records.
func (e *Engine) History(ctx context.Context, limit int) ([]*domain.OrderRecord, error) {
	return e.repo.GetHistory(ctx, limit)
}

// SetSourceActive flips a strategy's share of the concurrency slot pool.
func (e *Engine) SetSourceActive(owner string, active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.risk.SetActive(owner, active)
}

// --- gateway.Funds implementation ---

// Reserve locks margin in the ledger under the engine mutex.
func (e *Engine) Reserve(ctx context.Context, asset string, amount decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Lock(ctx, asset, amount)
}

// Release returns a reservation to the free balance under the engine mutex.
func (e *Engine) Release(ctx context.Context, asset string, amount decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Unlock(ctx, asset, amount)
}

// --- reconcile.Syncer implementation ---

// OpenPositions returns copies of the non-terminal positions.
func (e *Engine) OpenPositions() []*domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Open()
}

// ForceClose settles a position whose backing exchange order no longer
// exists. No closing order is placed; the exchange already flattened it.
func (e *Engine) ForceClose(ctx context.Context, positionID string, exitPrice domain.Price, exitFee domain.Money, reason domain.CloseReason) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.store.Get(positionID)
	if err != nil {
		return err
	}
	if pos.Status.IsTerminal() {
		return nil // first writer won, nothing to heal
	}
	_, err = e.finalizeCloseLocked(ctx, positionID, exitPrice, exitFee, reason)
	return err
}

// PendingReservations returns the margin reservations whose submitted
// orders have an unknown exchange outcome.
func (e *Engine) PendingReservations() []gateway.Reservation {
	return e.gateway.PendingReservations()
}

// AdoptReservation converts an orphaned reservation into a tracked position
// once the reconciliation loop has matched it to a live venue order. The
// reserved margin carries over as the position's margin; a reservation that
// was already resolved is a no-op.
func (e *Engine) AdoptReservation(ctx context.Context, reservationID string, orderID int64, entryPrice domain.Price) error {
	res, ok := e.gateway.Adopt(reservationID)
	if !ok {
		return nil
	}

	fee, err := e.fees.TradeCommission(res.Quantity, entryPrice, false)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	stopLoss, takeProfit := domain.StopLevels(entryPrice, res.Side, e.cfg.StopLoss, e.cfg.TakeProfit)
	pos := &domain.Position{
		ID:           uuid.NewString(),
		Symbol:       res.Symbol,
		Side:         res.Side,
		Quantity:     res.Quantity,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		Leverage:     res.Leverage,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		Status:       domain.StatusOpen,
		Owner:        res.Owner,
		OrderID:      orderID,
		CreatedAt:    res.Created,
		UpdatedAt:    now,
	}
	record := &domain.OrderRecord{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		OrderID:    orderID,
		Symbol:     res.Symbol,
		Side:       res.Side,
		Quantity:   res.Quantity,
		Price:      entryPrice,
		Status:     domain.OrderOpen,
		Owner:      res.Owner,
		Leverage:   res.Leverage,
		Margin:     domain.NewMoney(res.Margin, e.cfg.QuoteAsset),
		FeesPaid:   fee,
		CreatedAt:  res.Created,
		UpdatedAt:  now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Create(pos); err != nil {
		if relErr := e.ledger.Unlock(ctx, e.cfg.QuoteAsset, res.Margin); relErr != nil {
			e.logger.Error(ctx, relErr, "Failed to release reservation after adoption failure", map[string]interface{}{
				"reservationID": reservationID,
			})
		}
		return err
	}
	e.records[pos.ID] = record
	if err := e.persistLocked(ctx); err != nil {
		e.logger.Error(ctx, err, "Failed to persist state after adoption", map[string]interface{}{"positionID": pos.ID})
	}

	e.logger.Info(ctx, "Orphaned order adopted as position", map[string]interface{}{
		"positionID": pos.ID,
		"owner":      res.Owner,
		"symbol":     res.Symbol,
		"orderID":    orderID,
		"entryPrice": entryPrice.String(),
	})
	return nil
}

// ReleaseReservation frees an orphaned reservation after the venue has
// confirmed no order exists for it.
func (e *Engine) ReleaseReservation(ctx context.Context, reservationID string) error {
	return e.gateway.Resolve(ctx, reservationID)
}

// RefreshPrice updates a position's observed price. Terminal positions are
// left untouched.
func (e *Engine) RefreshPrice(ctx context.Context, positionID string, price domain.Price) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.store.Get(positionID)
	if err != nil {
		return err
	}
	if pos.Status.IsTerminal() {
		return nil
	}
	_, err = e.store.Transition(positionID, domain.StatusUpdated, func(p *domain.Position) {
		p.CurrentPrice = price
	})
	if err != nil {
		return err
	}
	if record, ok := e.records[positionID]; ok && record.Status == domain.OrderOpen {
		record.Status = domain.OrderUpdated
		record.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// --- internals ---

// finalizeCloseLocked applies the monetary effects of a close: terminal
// status transition, margin release, PnL settlement, history append, and
// persistence. Callers must hold e.mu.
func (e *Engine) finalizeCloseLocked(ctx context.Context, positionID string, exitPrice domain.Price, exitFee domain.Money, reason domain.CloseReason) (*CloseResult, error) {
	pos, err := e.store.Get(positionID)
	if err != nil {
		return nil, err
	}
	if pos.Status.IsTerminal() {
		return e.recordedResultLocked(pos), nil
	}

	record, ok := e.records[positionID]
	if !ok {
		return nil, fmt.Errorf("no order record for position %s: %w", positionID, ports.ErrNotFound)
	}

	gross, err := pos.UnrealizedPnL(exitPrice, e.cfg.QuoteAsset)
	if err != nil {
		return nil, err
	}
	totalFees, err := record.FeesPaid.Add(exitFee)
	if err != nil {
		return nil, err
	}
	net, err := gross.Sub(totalFees)
	if err != nil {
		return nil, err
	}

	terminal := domain.StatusForReason(reason)
	if _, err := e.store.Transition(positionID, terminal, func(p *domain.Position) {
		p.ExitPrice = exitPrice
		p.CurrentPrice = exitPrice
		p.CloseReason = reason
		p.RealizedPnL = net
	}); err != nil {
		return nil, err
	}

	// Release the margin backing the position, then settle the realized
	// outcome against the free balance. Lock/unlock preserve the ledger
	// total; only the settle moves it.
	if err := e.ledger.Unlock(ctx, e.cfg.QuoteAsset, record.Margin.Amount); err != nil {
		e.logger.Error(ctx, err, "Failed to release margin on close", map[string]interface{}{
			"positionID": positionID, "margin": record.Margin.String(),
		})
	}
	e.ledger.Settle(ctx, e.cfg.QuoteAsset, net.Amount)

	now := time.Now().UTC()
	record.Status = domain.OrderClosed
	record.ClosePrice = exitPrice
	record.CloseTime = now
	record.FeesPaid = totalFees
	record.NetPnL = net
	record.Reason = reason
	record.UpdatedAt = now

	e.risk.RecordTrade(net.Amount)

	if err := e.repo.AppendHistory(ctx, record); err != nil {
		e.logger.Error(ctx, err, "Failed to append close to history", map[string]interface{}{"positionID": positionID})
	}
	if err := e.persistLocked(ctx); err != nil {
		e.logger.Error(ctx, err, "Failed to persist state after close", map[string]interface{}{"positionID": positionID})
	}

	e.logger.Info(ctx, "Position closed", map[string]interface{}{
		"positionID": positionID,
		"reason":     reason,
		"exitPrice":  exitPrice.String(),
		"realized":   net.String(),
		"fees":       totalFees.String(),
	})
	return &CloseResult{RealizedPnL: net, Fees: totalFees}, nil
}

// recordedResultLocked answers a repeated close request from the terminal
// record. Callers must hold e.mu.
func (e *Engine) recordedResultLocked(pos *domain.Position) *CloseResult {
	result := &CloseResult{RealizedPnL: pos.RealizedPnL, Fees: domain.ZeroMoney(e.cfg.QuoteAsset)}
	if record, ok := e.records[pos.ID]; ok {
		result.Fees = record.FeesPaid
	}
	return result
}

// persistLocked writes the active position set, the ledger, and the daily
// risk state through the repository. Callers must hold e.mu.
func (e *Engine) persistLocked(ctx context.Context) error {
	if err := e.repo.SetPositions(ctx, e.store.Open()); err != nil {
		return fmt.Errorf("persisting positions: %w", err)
	}
	if err := e.repo.SetLedger(ctx, e.ledger.Snapshot()); err != nil {
		return fmt.Errorf("persisting ledger: %w", err)
	}
	daily := e.risk.DailyState()
	if err := e.repo.SetDailyRisk(ctx, &daily); err != nil {
		return fmt.Errorf("persisting daily risk state: %w", err)
	}
	return nil
}

// runTriggerLoop polls prices on a fixed cadence, closes positions whose
// stop-loss/take-profit thresholds are breached, and evaluates attached
// signal sources for new entries.
func (e *Engine) runTriggerLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TriggerInterval)
	defer ticker.Stop()

	e.logger.Info(ctx, "Trigger loop started", map[string]interface{}{"interval": e.cfg.TriggerInterval.String()})
	for {
		select {
		case <-ctx.Done():
			e.logger.Info(ctx, "Trigger loop stopped")
			return
		case <-ticker.C:
			e.runTriggerPass(ctx)
		}
	}
}

func (e *Engine) runTriggerPass(ctx context.Context) {
	open := e.OpenPositions()

	symbols := make(map[string]struct{}, len(e.cfg.Symbols))
	for _, s := range e.cfg.Symbols {
		symbols[s] = struct{}{}
	}
	for _, p := range open {
		symbols[p.Symbol] = struct{}{}
	}

	prices := make(map[string]domain.Price, len(symbols))
	for s := range symbols {
		price, err := e.pricer.GetCurrentPrice(ctx, s)
		if err != nil {
			e.logger.Warn(ctx, "Price unavailable, skipping symbol this cycle", map[string]interface{}{
				"symbol": s, "error": err.Error(),
			})
			continue
		}
		prices[s] = price
	}

	for _, breach := range e.trigger.EvaluateAll(ctx, open, prices) {
		if _, err := e.ClosePosition(ctx, breach.PositionID, breach.Reason); err != nil {
			if errors.Is(err, ports.ErrCloseInProgress) {
				continue // already being closed elsewhere
			}
			e.logger.Error(ctx, err, "Failed to close breached position", map[string]interface{}{
				"positionID": breach.PositionID, "reason": breach.Reason,
			})
		}
	}

	e.evaluateSources(ctx, prices)
}

// evaluateSources asks each attached signal source for a decision per
// configured symbol and places the resulting orders.
func (e *Engine) evaluateSources(ctx context.Context, prices map[string]domain.Price) {
	for _, src := range e.sources {
		owner := src.Owner()
		for _, symbol := range e.cfg.Symbols {
			price, ok := prices[symbol]
			if !ok {
				continue
			}
			// One open position per owner/symbol pair at a time.
			if e.hasOpen(owner, symbol) {
				continue
			}

			action, err := src.Evaluate(ctx, symbol, price)
			if err != nil {
				e.logger.Warn(ctx, "Signal source evaluation failed", map[string]interface{}{
					"owner": owner, "symbol": symbol, "error": err.Error(),
				})
				continue
			}
			if action == domain.ActionHold {
				continue
			}

			side := domain.Buy
			if action == domain.ActionSell {
				side = domain.Sell
			}
			notional := domain.NewMoney(e.cfg.Notional, e.cfg.QuoteAsset)
			if _, err := e.PlaceSignal(ctx, owner, symbol, side, notional); err != nil {
				if errors.Is(err, ports.ErrRiskBlocked) || errors.Is(err, ports.ErrInsufficientFunds) {
					e.logger.Debug(ctx, "Signal held back", map[string]interface{}{
						"owner": owner, "symbol": symbol, "error": err.Error(),
					})
					continue
				}
				e.logger.Error(ctx, err, "Failed to place signal", map[string]interface{}{
					"owner": owner, "symbol": symbol,
				})
			}
		}
	}
}

func (e *Engine) hasOpen(owner, symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.store.Open() {
		if p.Owner == owner && p.Symbol == symbol {
			return true
		}
	}
	return false
}
