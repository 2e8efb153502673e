package ports

import (
	"context"

	"cryptoLedgerBot/internal/domain"
)

// Repository defines the whole-document load/save contract for persisted
// engine state. The engine owns consistency; the store only persists.
type Repository interface {
	// GetPositions loads the full active position set.
	GetPositions(ctx context.Context) ([]*domain.Position, error)
	// SetPositions replaces the persisted active position set.
	SetPositions(ctx context.Context, positions []*domain.Position) error

	// GetLedger loads the per-asset free/locked balances.
	GetLedger(ctx context.Context) ([]domain.AssetBalance, error)
	// SetLedger replaces the persisted ledger.
	SetLedger(ctx context.Context, balances []domain.AssetBalance) error

	// GetHistory retrieves the most recent closed order records, newest first.
	GetHistory(ctx context.Context, limit int) ([]*domain.OrderRecord, error)
	// AppendHistory appends one closed order record to the history.
	AppendHistory(ctx context.Context, record *domain.OrderRecord) error

	// GetDailyRisk loads the persisted daily risk state.
	// Returns nil, nil when no state has been saved yet.
	GetDailyRisk(ctx context.Context) (*domain.DailyRiskState, error)
	// SetDailyRisk replaces the persisted daily risk state.
	SetDailyRisk(ctx context.Context, state *domain.DailyRiskState) error
}
