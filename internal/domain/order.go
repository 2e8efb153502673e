package domain

import "time"

// OrderRecord tracks exactly one position's open->close cycle for the
// history ledger.
type OrderRecord struct {
	ID         string      // Unique identifier (UUID)
	PositionID string      // Position this record belongs to
	OrderID    int64       // Exchange order id backing the open
	Symbol     string      // Trading symbol
	Side       OrderSide   // Side used to open
	Quantity   Quantity    // Filled quantity
	Price      Price       // Entry fill price
	Status     OrderStatus // OPEN / UPDATED / CLOSED
	Owner      string      // Strategy that opened the position
	Leverage   int

	Margin     Money       // Ledger amount locked to back the position
	FeesPaid   Money       // Accumulated entry + exit commissions
	ClosePrice Price       // Exit price (zero while open)
	CloseTime  time.Time   // Zero value while open
	NetPnL     Money       // Realized profit net of fees, set on close
	Reason     CloseReason // Why the cycle ended

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsClosed reports whether the record has completed its cycle.
func (r *OrderRecord) IsClosed() bool {
	return r.Status == OrderClosed
}
