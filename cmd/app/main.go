// Command rpcguard is the CLI entrypoint: cobra+viper configuration
// loading, component wiring, and graceful shutdown, carried over from the
// teacher's cmd/app/main.go and generalized from a single upstream/database
// pair to the full network registry, cache store, pipeline and dispatcher.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rpcguard/rpcguard/internal/blockcache"
	"github.com/rpcguard/rpcguard/internal/blockwarm"
	"github.com/rpcguard/rpcguard/internal/breaker"
	"github.com/rpcguard/rpcguard/internal/cachestore"
	"github.com/rpcguard/rpcguard/internal/cleanup"
	"github.com/rpcguard/rpcguard/internal/config"
	"github.com/rpcguard/rpcguard/internal/dispatcher"
	"github.com/rpcguard/rpcguard/internal/exporter"
	"github.com/rpcguard/rpcguard/internal/jsonrpc"
	"github.com/rpcguard/rpcguard/internal/netconf"
	"github.com/rpcguard/rpcguard/internal/pipeline"
	"github.com/rpcguard/rpcguard/internal/queue"
	"github.com/rpcguard/rpcguard/internal/server"
	"github.com/rpcguard/rpcguard/internal/upstream"
)

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "rpcguard",
		Short: "Multi-network Ethereum RPC caching proxy",
		RunE:  run,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.rpcguard.yaml)")

	cobra.OnInitialize(func() {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".rpcguard")
		}

		viper.AutomaticEnv()

		if err := viper.ReadInConfig(); err == nil {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unable to decode into struct: %w", err)
	}
	if len(cfg.RPC.Networks) == 0 {
		return fmt.Errorf("at least one rpc.networks entry is required")
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := netconf.Build(cfg.RPC)
	if err != nil {
		return fmt.Errorf("failed to build network registry: %w", err)
	}

	store, err := buildStore(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to build cache store: %w", err)
	}
	defer store.Close()

	client := upstream.NewClient(upstream.DefaultConfig())
	blockCache := blockcache.New(clockwork.NewRealClock())

	var cleanupManager *cleanup.Manager
	var cleanupNotifier pipeline.CleanupNotifier
	if maxSize, _ := cfg.Cache.GetMaxCacheSizeBytes(); maxSize > 0 {
		cleanupManager = cleanup.NewManager(logger, store, maxSize, cfg.Cache.CleanupSlackRatio)
		cleanupNotifier = cleanupManager
	}

	pl := pipeline.New(logger, registry, store, client, blockCache, cleanupNotifier, clockwork.NewRealClock(), pipeline.Config{
		MaxAge:        cfg.Cache.MaxAge,
		BreakerConfig: breaker.DefaultConfig(),
		QueueConfig:   queue.Config{Concurrency: 10, PerIntervalCap: int(cfg.Server.RateLimit)},
	})
	dispatch := dispatcher.New(pl, cfg.Server.BatchConcurrencyLimit)

	exp := exporter.New(logger, store, 15*time.Second)
	go exp.Start(ctx)

	for _, key := range registry.Keys() {
		network, _ := registry.Lookup(key)
		warmer := blockwarm.New(logger, blockCache, key, blockNumberFetcher(client, network.Primary), blockcache.FreshFor/3)
		go warmer.Run(ctx)
	}

	srv := server.New(logger, server.Config{
		Addr:           ":" + cfg.Server.Port,
		AuthToken:      cfg.Server.AuthToken,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		HelmetEnabled:  cfg.Helmet.Enabled,
	}, registry, dispatch, store, cleanupManager, pl)

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

func buildStore(ctx context.Context, cfg config.CacheConfig) (cachestore.Store, error) {
	if cfg.EnableDB && cfg.DatabaseDSN != "" {
		return cachestore.NewPostgres(ctx, cfg.DatabaseDSN)
	}
	return cachestore.NewMemory(clockwork.NewRealClock()), nil
}

// blockNumberFetcher adapts the upstream client into the blockwarm.FetchFunc
// shape, calling eth_blockNumber against desc and parsing the hex result.
func blockNumberFetcher(client *upstream.Client, desc upstream.Descriptor) blockwarm.FetchFunc {
	return func(ctx context.Context, network string) (uint64, error) {
		result, err := client.Call(ctx, desc, jsonrpc.Request{
			JSONRPC: jsonrpc.Version,
			Method:  "eth_blockNumber",
			ID:      json.RawMessage(`1`),
		})
		if err != nil {
			return 0, err
		}
		if result.Body.Error != nil {
			return 0, fmt.Errorf("eth_blockNumber: %s", result.Body.Error.Message)
		}
		var hex string
		if err := json.Unmarshal(result.Body.Result, &hex); err != nil {
			return 0, fmt.Errorf("eth_blockNumber: unexpected result shape: %w", err)
		}
		return strconv.ParseUint(strings.TrimPrefix(hex, "0x"), 16, 64)
	}
}
