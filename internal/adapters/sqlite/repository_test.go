package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoLedgerBot/internal/domain"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testPosition(id string) *domain.Position {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Position{
		ID:           id,
		Symbol:       "DOGEUSDT",
		Side:         domain.Buy,
		Quantity:     domain.NewQuantity(d("100"), "DOGEUSDT"),
		EntryPrice:   domain.NewPrice(d("0.25"), "DOGEUSDT"),
		CurrentPrice: domain.NewPrice(d("0.26"), "DOGEUSDT"),
		Leverage:     3,
		StopLoss:     domain.NewPrice(d("0.24"), "DOGEUSDT"),
		TakeProfit:   domain.NewPrice(d("0.265"), "DOGEUSDT"),
		Status:       domain.StatusOpen,
		Owner:        "alpha",
		OrderID:      42,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testRecord(id string, closeTime time.Time) *domain.OrderRecord {
	return &domain.OrderRecord{
		ID:         id,
		PositionID: "pos-" + id,
		OrderID:    7,
		Symbol:     "DOGEUSDT",
		Side:       domain.Buy,
		Quantity:   domain.NewQuantity(d("100"), "DOGEUSDT"),
		Price:      domain.NewPrice(d("0.25"), "DOGEUSDT"),
		Status:     domain.OrderClosed,
		Owner:      "alpha",
		Leverage:   1,
		Margin:     domain.NewMoney(d("25"), "USDT"),
		FeesPaid:   domain.NewMoney(d("0.02"), "USDT"),
		ClosePrice: domain.NewPrice(d("0.26"), "DOGEUSDT"),
		CloseTime:  closeTime,
		NetPnL:     domain.NewMoney(d("0.98"), "USDT"),
		Reason:     domain.CloseReasonTakeProfit,
		CreatedAt:  closeTime.Add(-time.Hour),
	}
}

func TestPositionsRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	loaded, err := repo.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	p1 := testPosition("p1")
	p2 := testPosition("p2")
	p2.Side = domain.Sell
	p2.Status = domain.StatusUpdated
	require.NoError(t, repo.SetPositions(ctx, []*domain.Position{p1, p2}))

	loaded, err = repo.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byID := map[string]*domain.Position{loaded[0].ID: loaded[0], loaded[1].ID: loaded[1]}
	got := byID["p1"]
	require.NotNil(t, got)
	assert.Equal(t, domain.Buy, got.Side)
	assert.Equal(t, domain.StatusOpen, got.Status)
	assert.Equal(t, "alpha", got.Owner)
	assert.Equal(t, int64(42), got.OrderID)
	assert.Equal(t, 3, got.Leverage)
	assert.True(t, got.Quantity.Value.Equal(d("100")))
	assert.True(t, got.EntryPrice.Value.Equal(d("0.25")))
	assert.True(t, got.CurrentPrice.Value.Equal(d("0.26")))
	assert.True(t, got.StopLoss.Value.Equal(d("0.24")))
	assert.True(t, got.TakeProfit.Value.Equal(d("0.265")))
	assert.Equal(t, "DOGEUSDT", got.Quantity.Symbol)
	assert.True(t, got.CreatedAt.Equal(p1.CreatedAt))

	assert.Equal(t, domain.Sell, byID["p2"].Side)
	assert.Equal(t, domain.StatusUpdated, byID["p2"].Status)
}

func TestSetPositionsReplacesDocument(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SetPositions(ctx, []*domain.Position{testPosition("p1"), testPosition("p2")}))
	require.NoError(t, repo.SetPositions(ctx, []*domain.Position{testPosition("p3")}))

	loaded, err := repo.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "p3", loaded[0].ID)

	// An empty set clears the table.
	require.NoError(t, repo.SetPositions(ctx, nil))
	loaded, err = repo.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLedgerRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	balances := []domain.AssetBalance{
		{Asset: "USDT", Free: d("995.5"), Locked: d("4.5")},
		{Asset: "ETH", Free: d("0.001"), Locked: decimal.Zero},
	}
	require.NoError(t, repo.SetLedger(ctx, balances))

	loaded, err := repo.GetLedger(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byAsset := map[string]domain.AssetBalance{loaded[0].Asset: loaded[0], loaded[1].Asset: loaded[1]}
	assert.True(t, byAsset["USDT"].Free.Equal(d("995.5")))
	assert.True(t, byAsset["USDT"].Locked.Equal(d("4.5")))
	assert.True(t, byAsset["ETH"].Free.Equal(d("0.001")))

	// Replacing drops assets no longer present.
	require.NoError(t, repo.SetLedger(ctx, balances[:1]))
	loaded, err = repo.GetLedger(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "USDT", loaded[0].Asset)
}

func TestHistoryAppendAndOrdering(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.AppendHistory(ctx, testRecord("oldest", base.Add(-2*time.Hour))))
	require.NoError(t, repo.AppendHistory(ctx, testRecord("newest", base)))
	require.NoError(t, repo.AppendHistory(ctx, testRecord("middle", base.Add(-time.Hour))))

	records, err := repo.GetHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "newest", records[0].ID)
	assert.Equal(t, "middle", records[1].ID)
	assert.Equal(t, "oldest", records[2].ID)

	// Monetary fields survive the trip with their currency.
	rec := records[0]
	assert.Equal(t, "USDT", rec.NetPnL.Currency)
	assert.True(t, rec.NetPnL.Amount.Equal(d("0.98")))
	assert.True(t, rec.Margin.Amount.Equal(d("25")))
	assert.True(t, rec.FeesPaid.Amount.Equal(d("0.02")))
	assert.True(t, rec.ClosePrice.Value.Equal(d("0.26")))
	assert.Equal(t, domain.CloseReasonTakeProfit, rec.Reason)

	limited, err := repo.GetHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "newest", limited[0].ID)
}

func TestAppendHistoryNilRecord(t *testing.T) {
	repo := setupTestRepo(t)
	assert.Error(t, repo.AppendHistory(context.Background(), nil))
}

func TestDailyRiskRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	// Nothing persisted yet.
	state, err := repo.GetDailyRisk(ctx)
	require.NoError(t, err)
	assert.Nil(t, state)

	day := time.Now().UTC().Truncate(24 * time.Hour)
	require.NoError(t, repo.SetDailyRisk(ctx, &domain.DailyRiskState{Day: day, PnL: d("-12.5"), Trades: 3}))

	state, err = repo.GetDailyRisk(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Day.Equal(day))
	assert.True(t, state.PnL.Equal(d("-12.5")))
	assert.Equal(t, 3, state.Trades)

	// The single row is upserted, never duplicated.
	require.NoError(t, repo.SetDailyRisk(ctx, &domain.DailyRiskState{Day: day, PnL: d("4"), Trades: 5}))
	state, err = repo.GetDailyRisk(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.PnL.Equal(d("4")))
	assert.Equal(t, 5, state.Trades)
}
