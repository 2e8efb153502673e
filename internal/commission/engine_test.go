package commission

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoLedgerBot/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testRates() Rates {
	return Rates{
		Maker:       d("0.0002"),
		Taker:       d("0.0004"),
		Funding:     d("0.0001"),
		BorrowDaily: d("0.0003"),
		Liquidation: d("0.0125"),
	}
}

func TestTradeCommission(t *testing.T) {
	e := New(testRates(), "USDT")
	qty := domain.NewQuantity(d("2"), "ETHUSDT")
	price := domain.NewPrice(d("1000"), "ETHUSDT")

	tests := []struct {
		name    string
		isMaker bool
		want    string
	}{
		{name: "taker fee on 2000 notional", isMaker: false, want: "0.8"},
		{name: "maker fee on 2000 notional", isMaker: true, want: "0.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, err := e.TradeCommission(qty, price, tt.isMaker)
			require.NoError(t, err)
			assert.True(t, fee.Amount.Equal(d(tt.want)), "want %s, got %s", tt.want, fee.Amount)
			assert.Equal(t, "USDT", fee.Currency)
		})
	}
}

func TestTradeCommissionSymbolMismatch(t *testing.T) {
	e := New(testRates(), "USDT")
	_, err := e.TradeCommission(domain.NewQuantity(d("1"), "ETHUSDT"), domain.NewPrice(d("1"), "BTCUSDT"), false)
	assert.ErrorIs(t, err, domain.ErrUnitMismatch)
}

func TestEstimateExitFeeUsesTakerRate(t *testing.T) {
	e := New(testRates(), "USDT")
	qty := domain.NewQuantity(d("10"), "DOGEUSDT")
	price := domain.NewPrice(d("0.1"), "DOGEUSDT")

	estimate, err := e.EstimateExitFee(qty, price)
	require.NoError(t, err)
	taker, err := e.TradeCommission(qty, price, false)
	require.NoError(t, err)
	assert.True(t, estimate.Amount.Equal(taker.Amount))
}

func TestFundingFee(t *testing.T) {
	e := New(testRates(), "USDT")
	notional := domain.NewMoney(d("10000"), "USDT")

	tests := []struct {
		name string
		held time.Duration
		want string
	}{
		{name: "under one interval", held: 7 * time.Hour, want: "0"},
		{name: "exactly one interval", held: 8 * time.Hour, want: "1"},
		{name: "partial intervals truncate", held: 23 * time.Hour, want: "2"},
		{name: "three full intervals", held: 24 * time.Hour, want: "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee := e.FundingFee(notional, tt.held)
			assert.True(t, fee.Amount.Equal(d(tt.want)), "want %s, got %s", tt.want, fee.Amount)
		})
	}
}

func TestBorrowFee(t *testing.T) {
	e := New(testRates(), "USDT")
	borrowed := domain.NewMoney(d("1000"), "USDT")

	assert.True(t, e.BorrowFee(borrowed, 0).IsZero())
	assert.True(t, e.BorrowFee(borrowed, 1).Amount.Equal(d("0.3")))
	assert.True(t, e.BorrowFee(borrowed, 10).Amount.Equal(d("3")))
}

func TestLiquidationFee(t *testing.T) {
	e := New(testRates(), "USDT")
	fee := e.LiquidationFee(domain.NewMoney(d("2000"), "USDT"))
	assert.True(t, fee.Amount.Equal(d("25")))
}

func TestZeroFundingIntervalDefaults(t *testing.T) {
	e := New(Rates{Funding: d("0.0001")}, "USDT")
	fee := e.FundingFee(domain.NewMoney(d("10000"), "USDT"), DefaultFundingInterval)
	assert.True(t, fee.Amount.Equal(d("1")))
}
