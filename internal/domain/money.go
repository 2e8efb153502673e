package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnitMismatch is returned when arithmetic mixes values tagged with
// different currencies or symbols.
var ErrUnitMismatch = errors.New("mismatched currency or symbol in arithmetic")

// Money is a fixed-point monetary amount tagged with its currency (e.g., "USDT").
// Arithmetic between Money values of different currencies is rejected.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney creates a Money value in the given currency.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// NewMoneyFromString parses a decimal string into a Money value.
func NewMoneyFromString(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

// ZeroMoney returns a zero amount in the given currency.
func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Add returns m+other, failing if the currencies differ.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("add %s to %s: %w", other.Currency, m.Currency, ErrUnitMismatch)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m-other, failing if the currencies differ.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("subtract %s from %s: %w", other.Currency, m.Currency, ErrUnitMismatch)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// MulScalar scales the amount by an untagged decimal factor.
func (m Money) MulScalar(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// Neg returns the amount with its sign flipped.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

func (m Money) String() string {
	return m.Amount.String() + " " + m.Currency
}

// Price is a fixed-point price tagged with its trading symbol (e.g., "ETHUSDT").
type Price struct {
	Value  decimal.Decimal
	Symbol string
}

// NewPrice creates a Price for the given symbol.
func NewPrice(value decimal.Decimal, symbol string) Price {
	return Price{Value: value, Symbol: symbol}
}

// IsZero reports whether the price is unset or zero.
func (p Price) IsZero() bool {
	return p.Value.IsZero()
}

func (p Price) String() string {
	return p.Value.String() + " " + p.Symbol
}

// Quantity is a fixed-point asset quantity tagged with its trading symbol.
type Quantity struct {
	Value  decimal.Decimal
	Symbol string
}

// NewQuantity creates a Quantity for the given symbol.
func NewQuantity(value decimal.Decimal, symbol string) Quantity {
	return Quantity{Value: value, Symbol: symbol}
}

// IsZero reports whether the quantity is zero.
func (q Quantity) IsZero() bool {
	return q.Value.IsZero()
}

func (q Quantity) String() string {
	return q.Value.String() + " " + q.Symbol
}

// Notional computes quantity x price in the given quote currency.
// The quantity and price must be tagged with the same symbol.
func Notional(q Quantity, p Price, quoteCurrency string) (Money, error) {
	if q.Symbol != p.Symbol {
		return Money{}, fmt.Errorf("notional of %s quantity at %s price: %w", q.Symbol, p.Symbol, ErrUnitMismatch)
	}
	return Money{Amount: q.Value.Mul(p.Value), Currency: quoteCurrency}, nil
}
