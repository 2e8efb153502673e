package commission

import (
	"time"

	"github.com/shopspring/decimal"

	"cryptoLedgerBot/internal/domain"
)

// DefaultFundingInterval is the venue's funding settlement period.
const DefaultFundingInterval = 8 * time.Hour

// Rates holds the configurable fee rate table. All rates are fractions
// (0.0004 means 4 bps).
type Rates struct {
	Maker           decimal.Decimal
	Taker           decimal.Decimal
	Funding         decimal.Decimal // Per funding interval
	BorrowDaily     decimal.Decimal // Per day on borrowed notional
	Liquidation     decimal.Decimal
	FundingInterval time.Duration
}

// Engine is a pure fee calculator. All amounts are returned in the quote
// currency it was constructed with.
type Engine struct {
	rates Rates
	quote string
}

// New creates a commission engine. A zero FundingInterval defaults to 8h.
func New(rates Rates, quoteCurrency string) *Engine {
	if rates.FundingInterval <= 0 {
		rates.FundingInterval = DefaultFundingInterval
	}
	return &Engine{rates: rates, quote: quoteCurrency}
}

// TradeCommission computes the fee for filling quantity at price, using the
// maker or taker rate.
func (e *Engine) TradeCommission(quantity domain.Quantity, price domain.Price, isMaker bool) (domain.Money, error) {
	notional, err := domain.Notional(quantity, price, e.quote)
	if err != nil {
		return domain.Money{}, err
	}
	rate := e.rates.Taker
	if isMaker {
		rate = e.rates.Maker
	}
	return notional.MulScalar(rate), nil
}

// EstimateExitFee is the flat taker-rate estimate used when the exact exit
// fee of an externally-closed order cannot be obtained. Best effort, not
// authoritative.
func (e *Engine) EstimateExitFee(quantity domain.Quantity, price domain.Price) (domain.Money, error) {
	return e.TradeCommission(quantity, price, false)
}

// FundingFee computes the funding cost on a notional held for the given
// duration, charged once per elapsed funding interval.
func (e *Engine) FundingFee(notional domain.Money, held time.Duration) domain.Money {
	intervals := int64(held / e.rates.FundingInterval)
	if intervals <= 0 {
		return domain.ZeroMoney(e.quote)
	}
	return notional.MulScalar(e.rates.Funding.Mul(decimal.NewFromInt(intervals)))
}

// BorrowFee computes the interest on a borrowed amount over whole days.
func (e *Engine) BorrowFee(borrowed domain.Money, days int) domain.Money {
	if days <= 0 {
		return domain.ZeroMoney(e.quote)
	}
	return borrowed.MulScalar(e.rates.BorrowDaily.Mul(decimal.NewFromInt(int64(days))))
}

// LiquidationFee computes the penalty charged on a liquidated notional.
func (e *Engine) LiquidationFee(notional domain.Money) domain.Money {
	return notional.MulScalar(e.rates.Liquidation)
}
