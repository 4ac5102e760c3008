// Command tip-router-keeper is the CLI entry point for one NCN's keeper
// process: it builds one in-memory keeper from the flags, optionally serves
// its Prometheus metrics, and runs until SIGINT or SIGTERM. It does not
// drive epochs itself. The actual business logic lives in internal/*; this
// package only parses flags, wires the keeper together, and serves its
// metrics, the way cmd/eth2030 wires node.Config into a node.Node and gets
// out of the way.
//
// Usage:
//
//	tip-router-keeper [flags]
//
// Flags:
//
//	--ncn                   Hex-encoded NCN identifier (default: zero hash)
//	--fee-admin             Hex-encoded fee admin address
//	--tie-breaker-admin     Hex-encoded tie breaker admin address
//	--starting-valid-epoch  First epoch this NCN may create a weight table for
//	--epochs-before-stall   Epochs without consensus before voting stalls
//	--epochs-after-consensus-before-close
//	                        Epochs after consensus before accounts may close
//	--valid-slots-after-consensus
//	                        Post-consensus voting window, in slots
//	--verbosity             Log level 0-5 (default: 3)
//	--metrics                Enable the Prometheus /metrics endpoint
//	--metrics.addr           Metrics HTTP server listening address
//	--metrics.port           Metrics HTTP server port
//	--version                Print version and exit
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ncn-labs/tip-router/internal/feemodel"
	"github.com/ncn-labs/tip-router/internal/keeper"
	"github.com/ncn-labs/tip-router/internal/ncnconfig"
	"github.com/ncn-labs/tip-router/internal/vaultregistry"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// config is the resolved set of CLI flags, kept separate from
// ncnconfig.Config since some flags (metrics, verbosity) never reach the
// domain model.
type config struct {
	ncn             common.Hash
	feeAdmin        common.Address
	tieBreakerAdmin common.Address

	startingValidEpoch              uint64
	epochsBeforeStall               uint64
	epochsAfterConsensusBeforeClose uint64
	validSlotsAfterConsensus        uint64

	verbosity int

	metricsEnabled bool
	metricsAddr    string
	metricsPort    int
}

func defaultConfig() config {
	return config{
		startingValidEpoch:              0,
		epochsBeforeStall:                3,
		epochsAfterConsensusBeforeClose: 1,
		validSlotsAfterConsensus:        432_000,
		verbosity:                       3,
		metricsAddr:                     "127.0.0.1",
		metricsPort:                     9102,
	}
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}

	setupLogging(cfg.verbosity)

	log.Info("tip-router-keeper starting",
		"version", version,
		"ncn", cfg.ncn,
		"starting_valid_epoch", cfg.startingValidEpoch,
		"epochs_before_stall", cfg.epochsBeforeStall,
		"epochs_after_consensus_before_close", cfg.epochsAfterConsensusBeforeClose,
		"valid_slots_after_consensus", cfg.validSlotsAfterConsensus,
	)

	ncnCfg, err := ncnconfig.New(
		cfg.ncn, cfg.feeAdmin, cfg.tieBreakerAdmin,
		feemodel.NewFeeSchedule(feemodel.Fee{}),
		cfg.startingValidEpoch, cfg.epochsBeforeStall,
		cfg.epochsAfterConsensusBeforeClose, cfg.validSlotsAfterConsensus,
	)
	if err != nil {
		log.Error("invalid configuration", "err", err)
		return 1
	}

	registry := prometheus.NewRegistry()
	metrics := keeper.NewMetrics(registry)
	k := keeper.New(cfg.ncn, ncnCfg, vaultregistry.New(), metrics)
	log.Info("keeper ready", "ncn", k.NCN)

	var srv *http.Server
	if cfg.metricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf("%s:%d", cfg.metricsAddr, cfg.metricsPort)
		srv = &http.Server{Addr: addr, Handler: mux}
		go func() {
			log.Info("metrics server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", "err", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal, shutting down", "signal", sig.String())

	if srv != nil {
		if err := srv.Close(); err != nil {
			log.Error("error during metrics server shutdown", "err", err)
			return 1
		}
	}

	log.Info("shutdown complete")
	return 0
}

// parseFlags parses CLI arguments into a config. Returns the config,
// whether the caller should exit immediately, and the exit code.
func parseFlags(args []string) (config, bool, int) {
	cfg := defaultConfig()

	var ncnHex, feeAdminHex, tieBreakerAdminHex string
	fs := newCustomFlagSet("tip-router-keeper")
	fs.StringVar(&ncnHex, "ncn", "", "hex-encoded NCN identifier")
	fs.StringVar(&feeAdminHex, "fee-admin", "", "hex-encoded fee admin address")
	fs.StringVar(&tieBreakerAdminHex, "tie-breaker-admin", "", "hex-encoded tie breaker admin address")
	fs.Uint64Var(&cfg.startingValidEpoch, "starting-valid-epoch", cfg.startingValidEpoch, "first epoch this NCN may create a weight table for")
	fs.Uint64Var(&cfg.epochsBeforeStall, "epochs-before-stall", cfg.epochsBeforeStall, "epochs without consensus before voting stalls")
	fs.Uint64Var(&cfg.epochsAfterConsensusBeforeClose, "epochs-after-consensus-before-close", cfg.epochsAfterConsensusBeforeClose, "epochs after consensus before accounts may close")
	fs.Uint64Var(&cfg.validSlotsAfterConsensus, "valid-slots-after-consensus", cfg.validSlotsAfterConsensus, "post-consensus voting window, in slots")
	fs.IntVar(&cfg.verbosity, "verbosity", cfg.verbosity, "log level 0-5 (0-1=errors only, 5=trace)")
	fs.BoolVar(&cfg.metricsEnabled, "metrics", cfg.metricsEnabled, "enable the Prometheus /metrics endpoint")
	fs.StringVar(&cfg.metricsAddr, "metrics.addr", cfg.metricsAddr, "metrics HTTP server listening address")
	fs.IntVar(&cfg.metricsPort, "metrics.port", cfg.metricsPort, "metrics HTTP server port")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cfg, true, 2
	}

	if *showVersion {
		fmt.Printf("tip-router-keeper %s (commit %s)\n", version, commit)
		return cfg, true, 0
	}

	cfg.ncn = common.HexToHash(ncnHex)
	cfg.feeAdmin = common.HexToAddress(feeAdminHex)
	cfg.tieBreakerAdmin = common.HexToAddress(tieBreakerAdminHex)

	return cfg, false, 0
}

func setupLogging(verbosity int) {
	var lvl slog.Level
	switch {
	case verbosity <= 1:
		lvl = slog.LevelError
	case verbosity == 2:
		lvl = slog.LevelWarn
	case verbosity == 3:
		lvl = slog.LevelInfo
	case verbosity == 4:
		lvl = slog.LevelDebug
	default:
		lvl = log.LevelTrace
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
}
