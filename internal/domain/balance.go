package domain

import "github.com/shopspring/decimal"

// AssetBalance holds the free and locked amounts for a single asset.
// Invariant: Free >= 0 and Locked >= 0 at all times; Total = Free + Locked.
type AssetBalance struct {
	Asset    string
	Free     decimal.Decimal
	Locked   decimal.Decimal
	Borrowed decimal.Decimal // Outstanding borrow, zero unless margin borrowing is used
	Interest decimal.Decimal // Accrued borrow interest
}

// Total returns the combined free and locked amount.
func (b AssetBalance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// IsValid reports whether the balance satisfies the non-negativity invariant.
func (b AssetBalance) IsValid() bool {
	return !b.Free.IsNegative() && !b.Locked.IsNegative()
}
