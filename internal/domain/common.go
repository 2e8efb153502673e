package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for a position opened on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// SignalAction is the decision emitted by a signal source for one symbol.
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// PositionStatus represents the status of a trading position.
type PositionStatus string

const (
	StatusOpen     PositionStatus = "open"
	StatusUpdated  PositionStatus = "updated"
	StatusClosed   PositionStatus = "closed"
	StatusStopped  PositionStatus = "stopped"
	StatusProfited PositionStatus = "profited"
)

// IsTerminal reports whether the status is final. Terminal statuses are
// absorbing: no transition may leave them.
func (s PositionStatus) IsTerminal() bool {
	switch s {
	case StatusClosed, StatusStopped, StatusProfited:
		return true
	}
	return false
}

// CanTransition validates the position status state machine:
// open <-> updated on refresh, {open,updated} -> {closed,stopped,profited} once.
func CanTransition(from, to PositionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case StatusOpen, StatusUpdated:
		return from == StatusOpen || from == StatusUpdated
	case StatusClosed, StatusStopped, StatusProfited:
		return from == StatusOpen || from == StatusUpdated
	}
	return false
}

// OrderStatus represents the status of an order record.
type OrderStatus string

const (
	OrderOpen    OrderStatus = "OPEN"
	OrderUpdated OrderStatus = "UPDATED"
	OrderClosed  OrderStatus = "CLOSED"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonManual     CloseReason = "MANUAL"
	CloseReasonReconciled CloseReason = "RECONCILED" // backing exchange order vanished
	CloseReasonUnknown    CloseReason = "UNKNOWN"
)

// StatusForReason maps a close reason to the terminal status it produces.
func StatusForReason(reason CloseReason) PositionStatus {
	switch reason {
	case CloseReasonStopLoss:
		return StatusStopped
	case CloseReasonTakeProfit:
		return StatusProfited
	default:
		return StatusClosed
	}
}
