package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/storage"
	"github.com/proptrade/engine/types"
)

// Seeds a local database with a demo evaluation plan and account so the
// engine has something to trade against. Idempotent inserts are not
// attempted; run against a fresh database.
func main() {
	godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		fmt.Println("❌ DATABASE_URL not set")
		os.Exit(1)
	}

	fmt.Println("🔌 Connecting to database...")
	store, err := storage.New(dbURL)
	if err != nil {
		fmt.Printf("❌ Connection error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	fmt.Println("✅ Database connected, schema migrated")

	plan := types.Plan{
		ID:                "plan-two-step-10k",
		Name:              "Two Step 10K",
		DailyLossPct:      decimal.NewFromInt(4),
		MaxDrawdownPct:    decimal.NewFromInt(8),
		ProfitTargetPct:   decimal.NewFromInt(10),
		MaintenanceMargin: decimal.NewFromFloat(0.004),
		LeverageCaps: map[string]decimal.Decimal{
			"crypto": decimal.NewFromInt(100),
			"forex":  decimal.NewFromInt(30),
			"metals": decimal.NewFromInt(50),
		},
	}
	if err := store.InsertPlan(plan); err != nil {
		fmt.Printf("❌ Plan insert failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Plan seeded: %s\n", plan.Name)

	starting := decimal.NewFromInt(10000)
	account := types.Account{
		ID:                   uuid.New().String(),
		UserID:               envOr("SEED_USER_ID", "demo-user"),
		PlanID:               plan.ID,
		AccountNumber:        fmt.Sprintf("EVAL-%d", time.Now().Unix()),
		Type:                 types.Evaluation,
		Step:                 1,
		Status:               types.Active,
		StartingBalance:      starting,
		CurrentBalance:       starting,
		PeakBalance:          starting,
		AvailableMargin:      starting,
		DailyStartingBalance: starting,
		DailyLossLimit:       starting.Mul(plan.DailyLossPct).Div(decimal.NewFromInt(100)),
		MaxDrawdownLimit:     starting.Mul(plan.MaxDrawdownPct).Div(decimal.NewFromInt(100)),
		ProfitTarget:         starting.Mul(plan.ProfitTargetPct).Div(decimal.NewFromInt(100)),
	}
	if err := store.InsertAccount(account); err != nil {
		fmt.Printf("❌ Account insert failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Account seeded\n")
	fmt.Printf("   ID:      %s\n", account.ID)
	fmt.Printf("   User:    %s\n", account.UserID)
	fmt.Printf("   Balance: %s\n", account.CurrentBalance.StringFixed(2))
	fmt.Printf("   Limits:  daily %s / drawdown %s / target %s\n",
		account.DailyLossLimit.StringFixed(2),
		account.MaxDrawdownLimit.StringFixed(2),
		account.ProfitTarget.StringFixed(2))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
