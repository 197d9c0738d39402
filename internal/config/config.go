// Package config loads venue configuration, grounded on teacher
// params/config.go's env-override-over-defaults shape, generalized from
// plain os.Getenv parsing to viper bound against the same env-var names.
// No config file is read: values come from the environment, a .env file,
// and defaults(). godotenv.Load remains the first step, exactly as the
// teacher does it, so a .env file still works untouched.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the venue process's full recognized option surface: spec.md
// §6.6 verbatim, plus the ambient additions (logging, durable mirror,
// stream transport, ledger RPC, operator key) every real deployment needs
// that the distilled spec is silent on.
type Config struct {
	RiskTickMs                int `mapstructure:"risk_tick_ms"`
	BatchSubmitIntervalMs     int `mapstructure:"batch_submit_interval_ms"`
	FundingCheckIntervalMs    int `mapstructure:"funding_check_interval_ms"`
	SpotSyncIntervalMs        int `mapstructure:"spot_sync_interval_ms"`
	RiskBroadcastMinIntervalMs int `mapstructure:"risk_broadcast_min_interval_ms"`

	TakerFeeBp int64 `mapstructure:"taker_fee_bp"`
	MakerFeeBp int64 `mapstructure:"maker_fee_bp"`

	BaseMMRBp                    int64 `mapstructure:"base_mmr_bp"`
	MaxFundingRateBpPerInterval  int64 `mapstructure:"max_funding_rate_bp_per_interval"`
	FundingBaseIntervalMs        int   `mapstructure:"funding_base_interval_ms"`
	FundingMinIntervalMs         int   `mapstructure:"funding_min_interval_ms"`

	LiquidationHighWater     int `mapstructure:"liquidation_high_water"`
	PendingMatchHighWater    int `mapstructure:"pending_match_high_water"`

	LiquidationFeeBp   int64  `mapstructure:"liquidation_fee_bp"`
	VenueFeeAddressHex string `mapstructure:"venue_fee_address"`

	InsuranceFundInitialBalancePerSymbol int64 `mapstructure:"insurance_fund_initial_balance_per_symbol"`

	// Ambient additions not named by spec.md §6.6.
	LogLevel           string `mapstructure:"log_level"`
	PebblePath         string `mapstructure:"pebble_path"`
	StreamAddr         string `mapstructure:"stream_addr"`
	BLSOperatorShareHex string `mapstructure:"bls_operator_share_hex"`
	LedgerRPCAddr      string `mapstructure:"ledger_rpc_addr"`
	LedgerRPCSecret    string `mapstructure:"ledger_rpc_secret"`
	LedgerRPCTimeoutMs int    `mapstructure:"ledger_rpc_timeout_ms"`
	LedgerEventPollIntervalMs int `mapstructure:"ledger_event_poll_interval_ms"`
}

func defaults() Config {
	return Config{
		RiskTickMs:                 100,
		BatchSubmitIntervalMs:      30_000,
		FundingCheckIntervalMs:     10_000,
		SpotSyncIntervalMs:         1_000,
		RiskBroadcastMinIntervalMs: 500,

		TakerFeeBp: 5,
		MakerFeeBp: 2,

		BaseMMRBp:                   200,
		MaxFundingRateBpPerInterval: 75,
		FundingBaseIntervalMs:       3_600_000,
		FundingMinIntervalMs:        300_000,

		LiquidationHighWater:  1000,
		PendingMatchHighWater: 5000,

		LiquidationFeeBp: 500,

		InsuranceFundInitialBalancePerSymbol: 0,

		LogLevel:           "info",
		PebblePath:          "./data/mirror",
		StreamAddr:          ":8080",
		LedgerRPCTimeoutMs:  5_000,
		LedgerEventPollIntervalMs: 2_000,
	}
}

// Load reads a .env file (if present), then binds every field above to an
// identically-named environment variable, applying defaults() where unset.
// Priority mirrors the teacher: ENV > .env file > defaults.
func Load(envPath string) Config {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.AutomaticEnv()

	cfg := defaults()
	bind := map[string]interface{}{
		"risk_tick_ms":                              cfg.RiskTickMs,
		"batch_submit_interval_ms":                  cfg.BatchSubmitIntervalMs,
		"funding_check_interval_ms":                 cfg.FundingCheckIntervalMs,
		"spot_sync_interval_ms":                      cfg.SpotSyncIntervalMs,
		"risk_broadcast_min_interval_ms":             cfg.RiskBroadcastMinIntervalMs,
		"taker_fee_bp":                                cfg.TakerFeeBp,
		"maker_fee_bp":                                cfg.MakerFeeBp,
		"base_mmr_bp":                                 cfg.BaseMMRBp,
		"max_funding_rate_bp_per_interval":            cfg.MaxFundingRateBpPerInterval,
		"funding_base_interval_ms":                     cfg.FundingBaseIntervalMs,
		"funding_min_interval_ms":                      cfg.FundingMinIntervalMs,
		"liquidation_high_water":                       cfg.LiquidationHighWater,
		"pending_match_high_water":                     cfg.PendingMatchHighWater,
		"liquidation_fee_bp":                           cfg.LiquidationFeeBp,
		"venue_fee_address":                            cfg.VenueFeeAddressHex,
		"insurance_fund_initial_balance_per_symbol":    cfg.InsuranceFundInitialBalancePerSymbol,
		"log_level":                                    cfg.LogLevel,
		"pebble_path":                                  cfg.PebblePath,
		"stream_addr":                                  cfg.StreamAddr,
		"bls_operator_share_hex":                       cfg.BLSOperatorShareHex,
		"ledger_rpc_addr":                              cfg.LedgerRPCAddr,
		"ledger_rpc_secret":                            cfg.LedgerRPCSecret,
		"ledger_rpc_timeout_ms":                        cfg.LedgerRPCTimeoutMs,
		"ledger_event_poll_interval_ms":                cfg.LedgerEventPollIntervalMs,
	}
	for k, d := range bind {
		v.SetDefault(k, d)
	}

	cfg.RiskTickMs = v.GetInt("risk_tick_ms")
	cfg.BatchSubmitIntervalMs = v.GetInt("batch_submit_interval_ms")
	cfg.FundingCheckIntervalMs = v.GetInt("funding_check_interval_ms")
	cfg.SpotSyncIntervalMs = v.GetInt("spot_sync_interval_ms")
	cfg.RiskBroadcastMinIntervalMs = v.GetInt("risk_broadcast_min_interval_ms")
	cfg.TakerFeeBp = v.GetInt64("taker_fee_bp")
	cfg.MakerFeeBp = v.GetInt64("maker_fee_bp")
	cfg.BaseMMRBp = v.GetInt64("base_mmr_bp")
	cfg.MaxFundingRateBpPerInterval = v.GetInt64("max_funding_rate_bp_per_interval")
	cfg.FundingBaseIntervalMs = v.GetInt("funding_base_interval_ms")
	cfg.FundingMinIntervalMs = v.GetInt("funding_min_interval_ms")
	cfg.LiquidationHighWater = v.GetInt("liquidation_high_water")
	cfg.PendingMatchHighWater = v.GetInt("pending_match_high_water")
	cfg.LiquidationFeeBp = v.GetInt64("liquidation_fee_bp")
	cfg.VenueFeeAddressHex = v.GetString("venue_fee_address")
	cfg.InsuranceFundInitialBalancePerSymbol = v.GetInt64("insurance_fund_initial_balance_per_symbol")
	cfg.LogLevel = v.GetString("log_level")
	cfg.PebblePath = v.GetString("pebble_path")
	cfg.StreamAddr = v.GetString("stream_addr")
	cfg.BLSOperatorShareHex = v.GetString("bls_operator_share_hex")
	cfg.LedgerRPCAddr = v.GetString("ledger_rpc_addr")
	cfg.LedgerRPCSecret = v.GetString("ledger_rpc_secret")
	cfg.LedgerRPCTimeoutMs = v.GetInt("ledger_rpc_timeout_ms")
	cfg.LedgerEventPollIntervalMs = v.GetInt("ledger_event_poll_interval_ms")

	return cfg
}

func (c Config) RiskTick() time.Duration       { return time.Duration(c.RiskTickMs) * time.Millisecond }
func (c Config) BatchSubmitInterval() time.Duration {
	return time.Duration(c.BatchSubmitIntervalMs) * time.Millisecond
}
func (c Config) FundingCheckInterval() time.Duration {
	return time.Duration(c.FundingCheckIntervalMs) * time.Millisecond
}
func (c Config) LedgerRPCTimeout() time.Duration {
	return time.Duration(c.LedgerRPCTimeoutMs) * time.Millisecond
}
func (c Config) LedgerEventPollInterval() time.Duration {
	return time.Duration(c.LedgerEventPollIntervalMs) * time.Millisecond
}
