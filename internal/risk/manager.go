package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptoLedgerBot/internal/domain"
	"cryptoLedgerBot/internal/ports"
)

// PositionCounter is the view of open positions the controller needs for
// slot accounting. Satisfied by the position store.
type PositionCounter interface {
	OpenCountByOwner(owner string) int
}

// CheckResult is the outcome of a pre-trade check.
type CheckResult struct {
	Allowed bool
	Reasons []string
}

// Err converts a blocked result into a structured RiskBlockedError.
func (r CheckResult) Err() error {
	if r.Allowed {
		return nil
	}
	return &ports.RiskBlockedError{Reasons: r.Reasons}
}

// Controller implements the pre-trade risk checks: global trading flag,
// daily loss cap, leveraged position-size cap, and dynamic per-strategy
// concurrency slots redistributed across currently-active strategies.
//
// The controller shares the engine's single-writer discipline: the daily
// state and owner registry are mutated only under the engine's mutex.
type Controller struct {
	logger  ports.Logger
	limits  domain.RiskLimits
	counter PositionCounter
	daily   domain.DailyRiskState
	active  map[string]bool
	pending map[string]int // slot holds for placements still in flight
	enabled bool
	nowFn   func() time.Time
}

// NewController creates a risk controller with trading enabled.
func NewController(logger ports.Logger, limits domain.RiskLimits, counter PositionCounter) (*Controller, error) {
	if logger == nil || counter == nil {
		return nil, fmt.Errorf("missing required dependencies for risk controller")
	}
	if limits.TotalSlots <= 0 {
		return nil, fmt.Errorf("risk limits TotalSlots must be positive: %w", ports.ErrConfigurationError)
	}
	if limits.Leverage <= 0 {
		limits.Leverage = 1
	}
	c := &Controller{
		logger:  logger,
		limits:  limits,
		counter: counter,
		active:  make(map[string]bool),
		pending: make(map[string]int),
		enabled: true,
		nowFn:   time.Now,
	}
	c.daily.Reset(c.nowFn())
	return c, nil
}

// SetEnabled flips the global trading-enabled flag.
func (c *Controller) SetEnabled(enabled bool) {
	c.enabled = enabled
}

// SetActive marks a strategy as active (holding a share of the slot pool) or
// inactive. Deactivating a strategy immediately frees its slots to the rest.
func (c *Controller) SetActive(owner string, active bool) {
	if active {
		c.active[owner] = true
	} else {
		delete(c.active, owner)
	}
}

// DynamicLimit is the per-strategy concurrency cap: a fixed slot pool
// redistributed evenly across currently-active strategies.
func (c *Controller) DynamicLimit() int {
	owners := len(c.active)
	if owners <= 0 {
		owners = 1
	}
	return c.limits.TotalSlots / owners
}

// Check runs the pre-trade checks in order and collects every failing
// reason. A blocked result is non-retryable for the identical input.
func (c *Controller) Check(ctx context.Context, intendedNotional domain.Money, owner string) CheckResult {
	c.rollDay()

	var reasons []string

	if !c.enabled {
		reasons = append(reasons, "trading is disabled")
	}

	if c.daily.PnL.LessThanOrEqual(c.limits.MaxDailyLoss.Neg()) {
		reasons = append(reasons, fmt.Sprintf("daily loss %s reached the cap %s", c.daily.PnL, c.limits.MaxDailyLoss))
	}

	sizeCap := c.limits.MaxPositionSize.Mul(decimal.NewFromInt(int64(c.limits.Leverage)))
	tolerance := decimal.NewFromInt(1).Add(c.limits.SizeTolerance)
	if intendedNotional.Amount.GreaterThan(sizeCap.Mul(tolerance)) {
		reasons = append(reasons, fmt.Sprintf("notional %s exceeds max position size %s at leverage %d",
			intendedNotional.Amount, c.limits.MaxPositionSize, c.limits.Leverage))
	}

	limit := c.DynamicLimit()
	if held := c.counter.OpenCountByOwner(owner) + c.pending[owner]; held >= limit {
		reasons = append(reasons, fmt.Sprintf("strategy %s holds %d of %d available slots", owner, held, limit))
	}

	if len(reasons) > 0 {
		c.logger.Debug(ctx, "Trade blocked by risk checks", map[string]interface{}{
			"owner":    owner,
			"notional": intendedNotional.String(),
			"reasons":  reasons,
		})
		return CheckResult{Allowed: false, Reasons: reasons}
	}
	return CheckResult{Allowed: true}
}

// ReserveSlot runs the pre-trade checks and, when they pass, holds a slot
// for the owner until ReleaseSlot. The hold counts against the dynamic
// limit, so two concurrent placements cannot both take the last slot.
func (c *Controller) ReserveSlot(ctx context.Context, intendedNotional domain.Money, owner string) CheckResult {
	result := c.Check(ctx, intendedNotional, owner)
	if result.Allowed {
		c.pending[owner]++
	}
	return result
}

// ReleaseSlot drops a hold taken by ReserveSlot, either because the attempt
// failed or because the created position now occupies the slot itself.
func (c *Controller) ReleaseSlot(owner string) {
	if c.pending[owner] <= 1 {
		delete(c.pending, owner)
		return
	}
	c.pending[owner]--
}

// CheckMarginSafety refuses new leveraged trades when the margin ratio
// (equity over used margin) falls below the configured safety threshold.
// A zero used margin is always safe.
func (c *Controller) CheckMarginSafety(equity, usedMargin decimal.Decimal) error {
	if usedMargin.IsZero() || c.limits.MarginSafety.IsZero() {
		return nil
	}
	ratio := equity.Div(usedMargin)
	if ratio.LessThan(c.limits.MarginSafety) {
		return &ports.RiskBlockedError{Reasons: []string{
			fmt.Sprintf("margin ratio %s below safety threshold %s", ratio.StringFixed(4), c.limits.MarginSafety),
		}}
	}
	return nil
}

// RecordTrade folds a realized PnL into the daily state.
func (c *Controller) RecordTrade(pnl decimal.Decimal) {
	c.rollDay()
	c.daily.PnL = c.daily.PnL.Add(pnl)
	c.daily.Trades++
}

// DailyState returns a copy of the daily risk state for persistence.
func (c *Controller) DailyState() domain.DailyRiskState {
	c.rollDay()
	return c.daily
}

// LoadDailyState seeds the daily state from persistence. Stale state from a
// previous day is discarded.
func (c *Controller) LoadDailyState(state domain.DailyRiskState) {
	c.daily = state
	c.rollDay()
}

// rollDay resets the accumulators when the fixed daily boundary has passed.
func (c *Controller) rollDay() {
	now := c.nowFn()
	if !c.daily.SameDay(now) {
		c.daily.Reset(now)
	}
}
