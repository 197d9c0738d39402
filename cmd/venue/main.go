package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/memeperp/venue/internal/clock"
	"github.com/memeperp/venue/internal/config"
	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/ledger"
	"github.com/memeperp/venue/internal/logging"
	"github.com/memeperp/venue/internal/market"
	"github.com/memeperp/venue/internal/risk"
	"github.com/memeperp/venue/internal/stream"
	"github.com/memeperp/venue/internal/venue"
)

func main() {
	cfg := config.Load("")

	logFile := os.Getenv("LOG_FILE")
	var logger *zap.Logger
	var err error
	if logFile != "" {
		logger, err = logging.NewWithFile(logFile, cfg.LogLevel)
	} else {
		logger, err = logging.New(cfg.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	operatorSeed := []byte(os.Getenv("BLS_OPERATOR_SEED"))
	if len(operatorSeed) == 0 {
		operatorSeed = []byte("devnet-operator-seed")
		logger.Warn("BLS_OPERATOR_SEED not set, using devnet default — do not use in production")
	}

	v, err := venue.New(venue.Config{
		DurablePath:     cfg.PebblePath,
		LedgerBaseURL:   cfg.LedgerRPCAddr,
		LedgerSecret:    cfg.LedgerRPCSecret,
		LedgerTimeout:   cfg.LedgerRPCTimeout(),
		OperatorSeed:    operatorSeed,
		SubmitInterval:  cfg.BatchSubmitInterval(),
		SubmitHighWater: cfg.PendingMatchHighWater,
		RiskConfig: risk.Config{
			Interval:          cfg.RiskTick(),
			LowMax:            5000,
			MediumMax:         8000,
			HighMax:           10000,
			LiquidationFeeBps: fixedpoint.Bps(cfg.LiquidationFeeBp),
			VenueAddress:      common.HexToAddress(cfg.VenueFeeAddressHex),
		},
		KlineCapacity: 500,
		TradeCapacity: 1000,
	}, logger)
	if err != nil {
		logger.Fatal("venue init failed", zap.Error(err))
	}

	seedMarkets(v, logger, fixedpoint.Bps(cfg.MaxFundingRateBpPerInterval), cfg)
	rehydrate(v, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := v.SeedActivePairsFromLedger(ctx); err != nil {
		logger.Warn("ledger active-pair scan failed, continuing with durable-mirror state only", zap.Error(err))
	}

	eventSource := ledger.NewHTTPEventSource(cfg.LedgerRPCAddr, cfg.LedgerRPCSecret, cfg.LedgerRPCTimeout(), cfg.LedgerEventPollInterval(), clock.RealClock{}, logger)
	go eventSource.Run(ctx)
	go v.Run(ctx, eventSource)

	server := stream.NewServer(v, v.Hub, logger)
	go func() {
		logger.Info("stream server starting", zap.String("addr", cfg.StreamAddr))
		if err := server.Start(cfg.StreamAddr); err != nil {
			logger.Fatal("stream server failed", zap.Error(err))
		}
	}()

	logger.Info("venue started", zap.Int("markets", v.Registry.Count()))
	<-ctx.Done()
	logger.Info("venue shutting down")
	if err := v.Durable.Close(); err != nil {
		logger.Warn("durable close failed", zap.Error(err))
	}
}

// seedMarkets registers the devnet market set. Production deployments would
// load these from the ledger's market registry instead; spec.md leaves
// market provisioning out of scope (Non-goals), so this is a devnet seed.
func seedMarkets(v *venue.Venue, logger *zap.Logger, maxFundingRateBps fixedpoint.Bps, cfg config.Config) {
	symbols := []string{"BTC-USD", "ETH-USD"}
	for _, symbol := range symbols {
		base := symbol[:3]
		m, err := market.New(symbol, base, "USD", market.Params{
			MinSize:     fixedpoint.Size(1e14),
			MaxSize:     fixedpoint.Size(1e21),
			MaxPosition: fixedpoint.Size(1e22),
			MinNotional: fixedpoint.USD(10 * 1e6),

			MaxLeverageBps: 500_00,
			BaseMMRBps:     fixedpoint.Bps(cfg.BaseMMRBp),

			MakerFeeBps: fixedpoint.Bps(cfg.MakerFeeBp),
			TakerFeeBps: fixedpoint.Bps(cfg.TakerFeeBp),

			FundingBaseInterval: time.Duration(cfg.FundingBaseIntervalMs) * time.Millisecond,
			FundingMinInterval:  time.Duration(cfg.FundingMinIntervalMs) * time.Millisecond,
			MaxFundingRateBps:   maxFundingRateBps,
		})
		if err != nil {
			logger.Fatal("seed market failed", zap.String("symbol", symbol), zap.Error(err))
		}
		if err := v.Registry.Register(m); err != nil {
			logger.Fatal("register market failed", zap.String("symbol", symbol), zap.Error(err))
		}
		v.Insurance.Contribute(symbol, fixedpoint.USD(cfg.InsuranceFundInitialBalancePerSymbol))
	}
}

// rehydrate restores the durable mirror into memory on boot in the order
// market stats -> balances -> positions. Open orders are not restored, so
// every order book starts empty.
func rehydrate(v *venue.Venue, logger *zap.Logger) {
	stats, err := v.Durable.LoadAllStats()
	if err != nil {
		logger.Warn("rehydrate stats failed", zap.Error(err))
	}
	for _, st := range stats {
		v.Stats.RecordFunding(st.Symbol, st.FundingRateBps, st.FundingIndexLong, st.FundingIndexShort, st.LastFundingTime, st.NextFundingTime)
		v.Stats.SetOpenInterest(st.Symbol, st.LongOI, st.ShortOI)
	}

	balances, err := v.Durable.LoadAllBalances()
	if err != nil {
		logger.Warn("rehydrate balances failed", zap.Error(err))
	}
	for _, b := range balances {
		v.Balances.Restore(b)
	}

	pairs, err := v.Durable.LoadAllPairs()
	if err != nil {
		logger.Warn("rehydrate pairs failed", zap.Error(err))
	}
	for _, p := range pairs {
		v.Positions.Restore(p)
	}

	logger.Info("rehydrated", zap.Int("pairs", len(pairs)), zap.Int("balances", len(balances)))
}
