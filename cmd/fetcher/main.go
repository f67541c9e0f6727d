package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/0xmhha/chainfetch/internal/config"
	"github.com/0xmhha/chainfetch/internal/constants"
	"github.com/0xmhha/chainfetch/internal/logger"
	"github.com/0xmhha/chainfetch/pkg/api"
	"github.com/0xmhha/chainfetch/pkg/events"
	"github.com/0xmhha/chainfetch/pkg/metrics"
	"github.com/0xmhha/chainfetch/pkg/multichain"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// options are the command-line flags
type options struct {
	configFile string
	chain      string
	contract   string
	fromBlock  uint64
	toBlock    uint64
	strategy   string
	tier       string
	logLevel   string
	logFormat  string
	metrics    bool
	serve      bool
	progress   bool
}

func main() {
	var (
		opts        options
		showVersion bool
	)
	flag.StringVar(&opts.configFile, "config", "", "Path to configuration file (YAML)")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.StringVar(&opts.chain, "chain", "", "Chain to query (e.g. ethereum, lisk, starknet)")
	flag.StringVar(&opts.contract, "contract", "", "Contract address")
	flag.Uint64Var(&opts.fromBlock, "from", 0, "First block of the range")
	flag.Uint64Var(&opts.toBlock, "to", 0, "Last block of the range (0 = latest)")
	flag.StringVar(&opts.strategy, "strategy", "", "Search recent activity instead of a fixed range (quick, standard, comprehensive, bridge)")
	flag.StringVar(&opts.tier, "tier", "", "Subscription tier (free, pro, enterprise)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.logFormat, "log-format", "", "Log format (json, console)")
	flag.BoolVar(&opts.metrics, "metrics", false, "Serve /metrics and /health")
	flag.BoolVar(&opts.serve, "serve", false, "Keep running after the fetch until interrupted")
	flag.BoolVar(&opts.progress, "progress", false, "Log progress updates")
	flag.Parse()

	if showVersion {
		fmt.Printf("chainfetch version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, opts); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.contract == "" && !opts.serve {
		return fmt.Errorf("contract address is required (use -contract, or -serve to only run the status server)")
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting chainfetch",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("tier", cfg.RPC.Tier),
		zap.Int("chains", len(cfg.Chains)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry, cfg.Metrics.Namespace)

	fetcher, err := multichain.NewFetcher(ctx, cfg.MultiChain(), log, multichain.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create fetcher: %w", err)
	}
	fetcher.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
		defer cancel()
		if err := fetcher.Stop(stopCtx); err != nil {
			log.Warn("Fetcher did not stop cleanly", zap.Error(err))
		}
	}()

	if cfg.Metrics.Enabled {
		server, err := startStatusServer(cfg, fetcher, registry, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := server.Stop(context.Background()); err != nil {
				log.Error("Failed to stop status server gracefully", zap.Error(err))
			}
		}()
	}

	if opts.progress {
		go logProgress(fetcher.Subscribe(0), logger.WithComponent(log, "progress"))
	}

	if opts.contract != "" {
		if err := fetchAndPrint(ctx, fetcher, opts); err != nil {
			return err
		}
	}

	if opts.serve {
		log.Info("Serving until interrupted")
		<-ctx.Done()
		log.Info("Shutting down gracefully...")
	}
	return nil
}

// fetchAndPrint runs the requested fetch and writes the JSON result to stdout
func fetchAndPrint(ctx context.Context, fetcher *multichain.Fetcher, opts options) error {
	var (
		out interface{}
		err error
	)
	if opts.strategy != "" {
		out, err = fetcher.FindActivity(ctx, opts.chain, opts.contract, opts.strategy)
	} else {
		out, err = fetcher.FetchContractInteractions(ctx, multichain.Request{
			Chain:     opts.chain,
			Contract:  opts.contract,
			FromBlock: opts.fromBlock,
			ToBlock:   opts.toBlock,
		})
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func startStatusServer(cfg *config.Config, fetcher *multichain.Fetcher, registry *prometheus.Registry, log *zap.Logger) (*api.Server, error) {
	serverCfg := api.DefaultConfig()
	serverCfg.Host = cfg.Metrics.Host
	serverCfg.Port = cfg.Metrics.Port
	serverCfg.ReadTimeout = constants.DefaultReadTimeout
	serverCfg.WriteTimeout = constants.DefaultWriteTimeout
	serverCfg.IdleTimeout = constants.DefaultIdleTimeout
	serverCfg.ShutdownTimeout = constants.DefaultShutdownTimeout

	server, err := api.NewServer(serverCfg, fetcher, registry, logger.WithComponent(log, "api"))
	if err != nil {
		return nil, fmt.Errorf("failed to create status server: %w", err)
	}
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Status server failed", zap.Error(err))
		}
	}()
	return server, nil
}

func logProgress(sub *events.Subscription, log *zap.Logger) {
	if sub == nil {
		return
	}
	for p := range sub.Channel {
		logger.WithChain(log, p.Chain).Info(p.Message,
			zap.String("request_id", p.RequestID),
			zap.String("step", p.Step),
			zap.Float64("percent", p.Percent),
		)
	}
}

// loadConfig loads configuration from file and environment variables
func loadConfig(configFile string) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration. A fetch only
// builds the chain it targets.
func applyFlags(cfg *config.Config, opts options) error {
	if opts.tier != "" {
		cfg.RPC.Tier = opts.tier
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if opts.metrics {
		cfg.Metrics.Enabled = true
	}

	if opts.contract == "" {
		return nil
	}
	if opts.chain == "" {
		return fmt.Errorf("chain is required (use -chain)")
	}
	found := false
	for i := range cfg.Chains {
		enabled := cfg.Chains[i].ID == opts.chain
		cfg.Chains[i].Enabled = &enabled
		found = found || enabled
	}
	if !found {
		return fmt.Errorf("chain %q is not configured (set FETCHER_%s_RPC_URLS or add it to the config file)",
			opts.chain, envName(opts.chain))
	}
	return nil
}

func envName(chain string) string {
	return strings.ToUpper(strings.ReplaceAll(chain, "-", "_"))
}
