package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkrawiec/perpguard/config"
	"github.com/pkrawiec/perpguard/emergency"
	"github.com/pkrawiec/perpguard/engine"
	"github.com/pkrawiec/perpguard/exchange"
	"github.com/pkrawiec/perpguard/exchange/binance"
	"github.com/pkrawiec/perpguard/fees"
	"github.com/pkrawiec/perpguard/journal"
	"github.com/pkrawiec/perpguard/logging"
	"github.com/pkrawiec/perpguard/orders"
	"github.com/pkrawiec/perpguard/risk"
	"github.com/pkrawiec/perpguard/trailing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the execution engine against Binance futures",
	Long: `Run wires the full pipeline: order queue, trailing stops, emergency
exits, journaling, and Prometheus metrics, connected to Binance
USDT-margined futures.

Example:
  perpguard run --config perpguard.yaml --metrics :9090`,
	RunE: runEngine,
}

var (
	runConfigPath  string
	runMetricsAddr string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "perpguard.yaml", "path to config file")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics", ":9090", "Prometheus metrics listen address")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Console)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthTimeout, _ := time.ParseDuration(cfg.Exchange.HealthTimeout)
	health := exchange.NewHealthTracker(healthTimeout)

	venue := binance.New(binance.Config{
		APIKey:         cfg.Exchange.APIKey,
		SecretKey:      cfg.Exchange.SecretKey,
		Testnet:        cfg.Exchange.Testnet,
		QtyPrecision:   cfg.Exchange.QtyPrecision,
		PricePrecision: cfg.Exchange.PricePrecision,
	}, health, log)

	jrnl, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer jrnl.Close()

	staleAfter, _ := time.ParseDuration(cfg.Orders.StaleAfter)
	baseDelay, _ := time.ParseDuration(cfg.Orders.BaseDelay)
	maxDelay, _ := time.ParseDuration(cfg.Orders.MaxDelay)
	queue := orders.NewQueue(orders.QueueConfig{
		Capacity:    cfg.Orders.Capacity,
		StaleAfter:  staleAfter,
		MaxAttempts: cfg.Orders.MaxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
	}, log)

	trail := trailing.NewEngine(trailing.Config{
		InitialStopPercent: cfg.Trailing.InitialStopPercent,
		ATRMultiplier:      cfg.Trailing.ATRMultiplier,
	}, log)

	maxDuration, _ := cfg.Emergency.ParseMaxDuration()
	emerg := emergency.NewSystem(emergency.Config{
		MaxDrawdownFraction:        cfg.Emergency.MaxDrawdownFraction,
		MaxPositionDuration:        maxDuration,
		ExtremeVolatilityThreshold: cfg.Emergency.ExtremeVolatility,
		LiquidationProximity:       cfg.Emergency.LiquidationProximity,
	}, log)

	calc := fees.Calculator{
		MakerFee:    cfg.Fees.MakerFee,
		TakerFee:    cfg.Fees.TakerFee,
		MaxSlippage: cfg.Fees.MaxSlippage,
	}

	account := risk.Account{
		Balance:      cfg.Account.Balance,
		PeakBalance:  cfg.Account.Balance,
		Leverage:     cfg.Account.Leverage,
		SafetyBuffer: cfg.Account.SafetyBuffer,
	}

	eng := engine.New(engine.Config{
		RiskPerTrade:      cfg.Risk.RiskPerTrade,
		MaxMarginFraction: cfg.Risk.MaxMarginFraction,
		Leverage:          cfg.Account.Leverage,
		SafetyBuffer:      cfg.Account.SafetyBuffer,
		MaxDrawdown:       cfg.Risk.MaxDrawdown,
		MaxVolatility:     cfg.Risk.MaxVolatility,
		DrainInterval:     time.Second,
		EquityInterval:    time.Minute,
	}, account, venue, queue, trail, emerg, calc, jrnl, health, log)

	go serveMetrics(ctx, log)
	go pollHealth(ctx, venue, log)

	log.Info("engine started",
		zap.Bool("testnet", cfg.Exchange.Testnet),
		zap.Float64("balance", cfg.Account.Balance),
		zap.Int("leverage", cfg.Account.Leverage))

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("engine stopped")
	return nil
}

func openJournal(cfg config.JournalConfig) (journal.Journal, error) {
	switch cfg.Type {
	case "sqlite":
		return journal.NewSQLite(cfg.DBPath)
	default:
		return journal.NewCSV(cfg.TradesFile, cfg.EquityFile)
	}
}

func serveMetrics(ctx context.Context, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: runMetricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server", zap.Error(err))
	}
}

// pollHealth keeps the health tracker fresh by probing venue positions.
func pollHealth(ctx context.Context, venue *binance.Client, log *zap.Logger) {
	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if _, err := venue.FetchPositions(ctx, ""); err != nil {
				log.Warn("health probe failed", zap.Error(err))
			}
		}
	}
}
