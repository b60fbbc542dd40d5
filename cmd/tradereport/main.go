package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/storage"
	"github.com/proptrade/engine/types"
)

// Prints a closed-trade P&L report straight from the store. Filter with
// ACCOUNT_ID, cap with LIMIT (default 200).
func main() {
	godotenv.Load()

	store, err := storage.New(os.Getenv("DATABASE_URL"))
	if err != nil {
		fmt.Println("Error opening store:", err)
		return
	}
	defer store.Close()

	limit := 200
	if v := os.Getenv("LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	trades, err := store.ListTrades(os.Getenv("ACCOUNT_ID"), limit)
	if err != nil {
		fmt.Println("Error fetching trades:", err)
		return
	}

	fmt.Printf("📊 TRADE ANALYSIS - Total Trades: %d\n\n", len(trades))

	var totalNet, totalFees, totalVolume decimal.Decimal
	wins := 0
	losses := 0
	byReason := make(map[types.CloseReason]int)

	fmt.Println("═══════════════════════════════════════════════════════════════════════════════")
	fmt.Println("│ SYMBOL    │ SIDE  │ QTY        │ ENTRY      │ EXIT       │ NET P&L    │ REASON")
	fmt.Println("═══════════════════════════════════════════════════════════════════════════════")

	for _, t := range trades {
		totalNet = totalNet.Add(t.NetPnL)
		totalFees = totalFees.Add(t.TotalFees).Add(t.EntryFee)
		totalVolume = totalVolume.Add(t.EntryValue)
		byReason[t.CloseReason]++

		if t.NetPnL.GreaterThan(decimal.Zero) {
			wins++
		} else {
			losses++
		}

		marker := "❌"
		if t.NetPnL.GreaterThan(decimal.Zero) {
			marker = "✅"
		}

		fmt.Printf("│ %-9s │ %-5s │ %10s │ %10s │ %10s │ %+10.2f │ %s %s\n",
			t.Symbol,
			t.Side,
			t.Quantity.StringFixed(4),
			t.EntryPrice.StringFixed(2),
			t.ExitPrice.StringFixed(2),
			t.NetPnL.InexactFloat64(),
			marker,
			t.CloseReason,
		)
	}

	fmt.Println("═══════════════════════════════════════════════════════════════════════════════")
	fmt.Printf("\n📈 SUMMARY:\n")
	if wins+losses > 0 {
		fmt.Printf("   Wins: %d | Losses: %d | Win Rate: %.1f%%\n",
			wins, losses, float64(wins)/float64(wins+losses)*100)
	}
	fmt.Printf("   Net P&L: %s | Fees Paid: %s | Volume: %s\n",
		totalNet.StringFixed(2), totalFees.StringFixed(2), totalVolume.StringFixed(2))

	if len(byReason) > 0 {
		fmt.Printf("   Close reasons:")
		for reason, n := range byReason {
			fmt.Printf(" %s=%d", reason, n)
		}
		fmt.Println()
	}

	if len(trades) > 0 {
		first := trades[len(trades)-1]
		last := trades[0]
		fmt.Printf("\n   Date Range: %s to %s\n",
			first.ClosedAt.Format("Jan 2 15:04"),
			last.ClosedAt.Format("Jan 2 15:04"),
		)
	}
}
