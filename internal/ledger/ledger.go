package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"cryptoLedgerBot/internal/domain"
	"cryptoLedgerBot/internal/ports"
)

// PriceLookup resolves an asset to its price in the valuation quote currency.
type PriceLookup func(ctx context.Context, asset string) (decimal.Decimal, error)

// AssetLedger tracks per-asset free/locked balances for the shared account.
//
// It is not internally synchronized: the engine serializes all mutations
// behind a single mutex together with the position store, because the
// free+locked invariant cannot be eventually consistent within one process.
type AssetLedger struct {
	logger   ports.Logger
	balances map[string]*domain.AssetBalance
}

// New creates a ledger seeded with the given balances.
func New(logger ports.Logger, initial []domain.AssetBalance) (*AssetLedger, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for asset ledger")
	}
	l := &AssetLedger{
		logger:   logger,
		balances: make(map[string]*domain.AssetBalance, len(initial)),
	}
	for _, b := range initial {
		if !b.IsValid() {
			return nil, fmt.Errorf("initial balance for %s has negative amounts: %w", b.Asset, ports.ErrInvariantViolation)
		}
		cp := b
		l.balances[b.Asset] = &cp
	}
	return l, nil
}

// Deposit credits the free balance of an asset, creating it if absent.
func (l *AssetLedger) Deposit(ctx context.Context, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("deposit of %s %s: %w", amount, asset, ports.ErrInvalidRequest)
	}
	b := l.balance(asset)
	b.Free = b.Free.Add(amount)
	l.checkInvariant(ctx, b)
	return nil
}

// Lock moves amount from free to locked, failing with ErrInsufficientFunds
// when the free balance cannot cover it.
func (l *AssetLedger) Lock(ctx context.Context, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() || amount.IsZero() {
		return fmt.Errorf("lock of %s %s: %w", amount, asset, ports.ErrInvalidRequest)
	}
	b := l.balance(asset)
	if b.Free.LessThan(amount) {
		return fmt.Errorf("lock %s %s with free %s: %w", amount, asset, b.Free, ports.ErrInsufficientFunds)
	}
	b.Free = b.Free.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	l.checkInvariant(ctx, b)
	return nil
}

// Unlock reverses a lock, failing when the locked balance cannot cover it.
func (l *AssetLedger) Unlock(ctx context.Context, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() || amount.IsZero() {
		return fmt.Errorf("unlock of %s %s: %w", amount, asset, ports.ErrInvalidRequest)
	}
	b := l.balance(asset)
	if b.Locked.LessThan(amount) {
		return fmt.Errorf("unlock %s %s with locked %s: %w", amount, asset, b.Locked, ports.ErrInsufficientFunds)
	}
	b.Locked = b.Locked.Sub(amount)
	b.Free = b.Free.Add(amount)
	l.checkInvariant(ctx, b)
	return nil
}

// Settle applies a signed adjustment to the free balance (realized PnL, fee
// debit, proceeds credit). A debit exceeding the free balance is clamped at
// zero with a logged warning rather than driving the ledger negative.
func (l *AssetLedger) Settle(ctx context.Context, asset string, delta decimal.Decimal) {
	b := l.balance(asset)
	next := b.Free.Add(delta)
	if next.IsNegative() {
		l.logger.Warn(ctx, "Settle would drive free balance negative, clamping to zero", map[string]interface{}{
			"asset": asset,
			"free":  b.Free.String(),
			"delta": delta.String(),
		})
		next = decimal.Zero
	}
	b.Free = next
	l.checkInvariant(ctx, b)
}

// Balance returns a copy of one asset's balance.
func (l *AssetLedger) Balance(asset string) domain.AssetBalance {
	return *l.balance(asset)
}

// Snapshot returns a copy of all balances, sorted by asset for stable output.
func (l *AssetLedger) Snapshot() []domain.AssetBalance {
	out := make([]domain.AssetBalance, 0, len(l.balances))
	for _, b := range l.balances {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Valuation sums all balances (free+locked) converted into the quote
// currency using the injected price lookup. The quote asset itself is
// valued at 1.
func (l *AssetLedger) Valuation(ctx context.Context, quote string, lookup PriceLookup) (domain.Money, error) {
	return Valuate(ctx, l.Snapshot(), quote, lookup)
}

// Valuate values a balance snapshot in the quote currency. It operates on a
// copy so callers can price the snapshot without holding the engine's lock
// across network calls.
func Valuate(ctx context.Context, balances []domain.AssetBalance, quote string, lookup PriceLookup) (domain.Money, error) {
	total := decimal.Zero
	for _, b := range balances {
		amount := b.Total()
		if amount.IsZero() {
			continue
		}
		if b.Asset == quote {
			total = total.Add(amount)
			continue
		}
		price, err := lookup(ctx, b.Asset)
		if err != nil {
			return domain.Money{}, fmt.Errorf("valuing %s in %s: %w", b.Asset, quote, err)
		}
		total = total.Add(amount.Mul(price))
	}
	return domain.NewMoney(total, quote), nil
}

func (l *AssetLedger) balance(asset string) *domain.AssetBalance {
	b, ok := l.balances[asset]
	if !ok {
		b = &domain.AssetBalance{Asset: asset, Free: decimal.Zero, Locked: decimal.Zero}
		l.balances[asset] = b
	}
	return b
}

// checkInvariant verifies free>=0 and locked>=0 after every mutation. A violation
// indicates a bug; the value is clamped to a safe zero and logged at error
// severity rather than corrupting persisted state further.
func (l *AssetLedger) checkInvariant(ctx context.Context, b *domain.AssetBalance) {
	if b.IsValid() {
		return
	}
	l.logger.Error(ctx, ports.ErrInvariantViolation, "Ledger invariant violated, clamping balance", map[string]interface{}{
		"asset":  b.Asset,
		"free":   b.Free.String(),
		"locked": b.Locked.String(),
	})
	if b.Free.IsNegative() {
		b.Free = decimal.Zero
	}
	if b.Locked.IsNegative() {
		b.Locked = decimal.Zero
	}
}
