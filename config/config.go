package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"cryptoLedgerBot/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading Parameters
	Symbols    []string // Symbols the engine trades (e.g., ETHUSDT,BTCUSDT)
	QuoteAsset string   // Currency the ledger settles in (e.g., USDT)
	Leverage   int
	Notional   decimal.Decimal // Desired notional per signal, in quote currency
	StopLoss   decimal.Decimal // Stop loss percentage (e.g., 0.04 for 4%)
	TakeProfit decimal.Decimal // Take profit percentage (e.g., 0.06 for 6%)

	// Built-in Threshold Strategy (optional; disabled when owner is empty)
	StrategyOwner string
	BuyBelow      decimal.Decimal // Buy when price falls to or below this level
	SellAbove     decimal.Decimal // Sell when price rises to or above this level

	// Built-in MA Crossover Strategy (optional; disabled when owner is empty)
	CrossoverOwner string
	CrossoverFast  int // Fast SMA period
	CrossoverSlow  int // Slow SMA period

	// Risk Limits
	TradingEnabled  bool
	MaxPositionSize decimal.Decimal // Cap on notional per position
	MaxDailyLoss    decimal.Decimal
	TotalSlots      int             // Shared concurrent-position slot pool
	SizeTolerance   decimal.Decimal // Fractional tolerance on the size cap
	MarginSafety    decimal.Decimal // Minimum margin ratio for leveraged trades

	// Fee Rates
	MakerFee        decimal.Decimal
	TakerFee        decimal.Decimal
	FundingRate     decimal.Decimal
	BorrowDailyRate decimal.Decimal
	LiquidationFee  decimal.Decimal
	FundingInterval time.Duration

	// Engine Intervals
	TriggerInterval   time.Duration // Price polling / trigger evaluation cadence
	ReconcileInterval time.Duration // Exchange reconciliation cadence

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Trading Parameters
	for _, s := range strings.Split(getEnv("SYMBOLS", "ETHUSDT"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}

	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")
	if cfg.QuoteAsset == "" {
		errs = append(errs, "QUOTE_ASSET must be set")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.Notional, err = getEnvAsDecimal("NOTIONAL", "50.0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid NOTIONAL: %v", err))
	} else if !cfg.Notional.IsPositive() {
		errs = append(errs, "NOTIONAL must be positive")
	}

	cfg.StopLoss, err = getEnvAsDecimal("STOP_LOSS", "0.04")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS: %v", err))
	} else if !cfg.StopLoss.IsPositive() || cfg.StopLoss.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "STOP_LOSS must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.TakeProfit, err = getEnvAsDecimal("TAKE_PROFIT", "0.06")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT: %v", err))
	} else if !cfg.TakeProfit.IsPositive() {
		errs = append(errs, "TAKE_PROFIT must be positive")
	}

	// Built-in Threshold Strategy
	cfg.StrategyOwner = getEnv("STRATEGY_OWNER", "")
	cfg.BuyBelow, err = getEnvAsDecimal("BUY_BELOW", "0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BUY_BELOW: %v", err))
	}
	cfg.SellAbove, err = getEnvAsDecimal("SELL_ABOVE", "0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SELL_ABOVE: %v", err))
	}
	if cfg.StrategyOwner != "" && !cfg.BuyBelow.IsPositive() && !cfg.SellAbove.IsPositive() {
		errs = append(errs, "STRATEGY_OWNER requires BUY_BELOW or SELL_ABOVE to be set")
	}

	// Built-in MA Crossover Strategy
	cfg.CrossoverOwner = getEnv("CROSSOVER_OWNER", "")
	cfg.CrossoverFast = getEnvAsInt("CROSSOVER_FAST", 8)
	cfg.CrossoverSlow = getEnvAsInt("CROSSOVER_SLOW", 21)
	if cfg.CrossoverOwner != "" && (cfg.CrossoverFast <= 0 || cfg.CrossoverSlow <= cfg.CrossoverFast) {
		errs = append(errs, "CROSSOVER_FAST and CROSSOVER_SLOW must satisfy 0 < fast < slow")
	}

	// Risk Limits
	cfg.TradingEnabled = getEnvAsBool("TRADING_ENABLED", true)

	cfg.MaxPositionSize, err = getEnvAsDecimal("MAX_POSITION_SIZE", "100.0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_SIZE: %v", err))
	} else if !cfg.MaxPositionSize.IsPositive() {
		errs = append(errs, "MAX_POSITION_SIZE must be positive")
	}

	cfg.MaxDailyLoss, err = getEnvAsDecimal("MAX_DAILY_LOSS", "50.0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_LOSS: %v", err))
	} else if !cfg.MaxDailyLoss.IsPositive() {
		errs = append(errs, "MAX_DAILY_LOSS must be positive")
	}

	cfg.TotalSlots, err = getEnvAsIntRequired("TOTAL_SLOTS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TOTAL_SLOTS: %v", err))
	} else if cfg.TotalSlots <= 0 {
		errs = append(errs, "TOTAL_SLOTS must be positive")
	}

	cfg.SizeTolerance, err = getEnvAsDecimal("SIZE_TOLERANCE", "0.01")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SIZE_TOLERANCE: %v", err))
	} else if cfg.SizeTolerance.IsNegative() {
		errs = append(errs, "SIZE_TOLERANCE cannot be negative")
	}

	cfg.MarginSafety, err = getEnvAsDecimal("MARGIN_SAFETY", "2.0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARGIN_SAFETY: %v", err))
	} else if cfg.MarginSafety.IsNegative() {
		errs = append(errs, "MARGIN_SAFETY cannot be negative")
	}

	// Fee Rates
	cfg.MakerFee, err = getEnvAsDecimal("MAKER_FEE", "0.0002")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAKER_FEE: %v", err))
	}
	cfg.TakerFee, err = getEnvAsDecimal("TAKER_FEE", "0.0004")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKER_FEE: %v", err))
	}
	cfg.FundingRate, err = getEnvAsDecimal("FUNDING_RATE", "0.0001")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FUNDING_RATE: %v", err))
	}
	cfg.BorrowDailyRate, err = getEnvAsDecimal("BORROW_DAILY_RATE", "0.0003")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BORROW_DAILY_RATE: %v", err))
	}
	cfg.LiquidationFee, err = getEnvAsDecimal("LIQUIDATION_FEE", "0.0125")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LIQUIDATION_FEE: %v", err))
	}

	fundingHours := getEnvAsInt("FUNDING_INTERVAL_HOURS", 8)
	if fundingHours <= 0 {
		errs = append(errs, "FUNDING_INTERVAL_HOURS must be positive")
	}
	cfg.FundingInterval = time.Duration(fundingHours) * time.Hour

	// Engine Intervals
	triggerSeconds := getEnvAsInt("TRIGGER_INTERVAL_SECONDS", 3)
	if triggerSeconds <= 0 {
		errs = append(errs, "TRIGGER_INTERVAL_SECONDS must be positive")
	}
	cfg.TriggerInterval = time.Duration(triggerSeconds) * time.Second

	reconcileSeconds := getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 10)
	if reconcileSeconds <= 0 {
		errs = append(errs, "RECONCILE_INTERVAL_SECONDS must be positive")
	}
	cfg.ReconcileInterval = time.Duration(reconcileSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/ledger_engine.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
