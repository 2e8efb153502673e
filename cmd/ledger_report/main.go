package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"cryptoLedgerBot/internal/adapters/logger"
	"cryptoLedgerBot/internal/adapters/sqlite"
	"cryptoLedgerBot/internal/domain"
)

func main() {
	dbPath := flag.String("db", "./data/ledger_engine.db", "Path to the engine's SQLite database")
	limit := flag.Int("limit", 0, "Number of most recent records to report (0 for all)")
	flag.Parse()

	appLogger := logger.NewStdLogger(logger.LevelWarn)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	records, err := repo.GetHistory(ctx, *limit)
	if err != nil {
		log.Fatalf("Error reading history: %v", err)
	}
	if len(records) == 0 {
		log.Println("No closed trades recorded yet.")
		return
	}

	// Create a tabwriter for formatted output
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Closed\tSymbol\tOwner\tSide\tQty\tEntry\tExit\tFees\tNetPnL\tReason\t")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			r.CloseTime.Format("2006-01-02 15:04:05"),
			r.Symbol,
			r.Owner,
			r.Side,
			r.Quantity.Value.String(),
			r.Price.Value.String(),
			r.ClosePrice.Value.String(),
			r.FeesPaid.Amount.StringFixed(4),
			r.NetPnL.Amount.StringFixed(4),
			r.Reason,
		)
	}
	w.Flush()

	printSummary(records)
}

// printSummary aggregates realized results per owner and overall.
func printSummary(records []*domain.OrderRecord) {
	type ownerTotals struct {
		trades int
		wins   int
		pnl    decimal.Decimal
		fees   decimal.Decimal
	}
	byOwner := make(map[string]*ownerTotals)
	total := &ownerTotals{}

	for _, r := range records {
		t, ok := byOwner[r.Owner]
		if !ok {
			t = &ownerTotals{}
			byOwner[r.Owner] = t
		}
		for _, agg := range []*ownerTotals{t, total} {
			agg.trades++
			if r.NetPnL.Amount.IsPositive() {
				agg.wins++
			}
			agg.pnl = agg.pnl.Add(r.NetPnL.Amount)
			agg.fees = agg.fees.Add(r.FeesPaid.Amount)
		}
	}

	fmt.Println("\n## Per-Owner Summary")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Owner\tTrades\tWinRate\tFees\tNetPnL\t")
	for owner, t := range byOwner {
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%s\t%s\t\n",
			owner, t.trades, winRate(t.wins, t.trades), t.fees.StringFixed(4), t.pnl.StringFixed(4))
	}
	fmt.Fprintf(w, "TOTAL\t%d\t%.1f%%\t%s\t%s\t\n",
		total.trades, winRate(total.wins, total.trades), total.fees.StringFixed(4), total.pnl.StringFixed(4))
	w.Flush()
}

func winRate(wins, trades int) float64 {
	if trades == 0 {
		return 0
	}
	return float64(wins) / float64(trades) * 100
}
