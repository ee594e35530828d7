// Package main runs the settlement daemon: the custodial tip settlement
// pipeline, the karma accumulator, the outbox reconciliation sweep, and a
// metrics endpoint.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voix-network/settlement_layer/internal/chain"
	"github.com/voix-network/settlement_layer/internal/config"
	"github.com/voix-network/settlement_layer/internal/database"
	"github.com/voix-network/settlement_layer/pkg/logger"
	"github.com/voix-network/settlement_layer/services/karma"
	"github.com/voix-network/settlement_layer/services/settlement"
	"github.com/voix-network/settlement_layer/services/signer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("settlementd").Error("load configuration", "err", err)
		os.Exit(1)
	}

	log := logger.New("settlementd", logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	log.Info("starting settlement daemon",
		"rpc_url", cfg.Chain.RPCURL,
		"program_id", cfg.Chain.ProgramID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	dbCtx, dbCancel := context.WithTimeout(ctx, 15*time.Second)
	db, err := database.Connect(dbCtx, cfg.Database)
	dbCancel()
	if err != nil {
		log.Error("connect database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		log.Error("run migrations", "err", err)
		os.Exit(1)
	}

	// Chain access
	programID, err := solana.PublicKeyFromBase58(cfg.Chain.ProgramID)
	if err != nil {
		log.Error("parse program id", "err", err)
		os.Exit(1)
	}
	adminKey := solana.PublicKey{}
	if cfg.Chain.AdminPublicKey != "" {
		adminKey, err = solana.PublicKeyFromBase58(cfg.Chain.AdminPublicKey)
		if err != nil {
			log.Error("parse admin public key", "err", err)
			os.Exit(1)
		}
	}
	rpcClient, err := chain.NewClient(chain.ClientConfig{
		RPCURL:  cfg.Chain.RPCURL,
		Timeout: cfg.Chain.SubmitTimeout,
	})
	if err != nil {
		log.Error("create rpc client", "err", err)
		os.Exit(1)
	}
	builder := chain.NewBuilder(programID, rpcClient)

	// Custodial signer
	signerClient := signer.New(signer.Config{
		BaseURL: cfg.Signer.BaseURL,
		AppID:   cfg.Signer.AppID,
		Timeout: cfg.Signer.Timeout,
	})
	if err := signerClient.Health(ctx); err != nil {
		log.Warn("custodial signer unreachable at startup", "err", err)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	metrics := settlement.NewMetrics(registry)

	gateway := settlement.NewGateway(signerClient, rpcClient, settlement.GatewayConfig{
		ConfirmRetries:   cfg.Chain.ConfirmRetries,
		ConfirmBackoff:   cfg.Chain.ConfirmBackoff,
		SubmitRatePerSec: cfg.Chain.SubmitRatePerSec,
	}, log.With("component", "gateway"))

	// Karma with Redis-backed leaderboard cache
	var cache *karma.Cache
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, leaderboard cache disabled", "err", err)
		} else {
			cache = karma.NewCache(redisClient, 30*time.Second)
			defer redisClient.Close()
		}
	}
	karmaSvc := karma.NewService(karma.NewPostgresStore(db), cache, logger.NewDefault("karma"))
	defer karmaSvc.Close()

	svc := settlement.NewService(
		settlement.ServiceConfig{
			AdminWalletID:  cfg.Chain.AdminWalletID,
			AdminPublicKey: adminKey,
		},
		builder,
		gateway,
		settlement.NewPostgresStore(db),
		settlement.NewPostgresDirectory(db),
		karmaSvc,
		rpcClient,
		metrics,
		logger.NewDefault("settlement"),
	)
	karmaSvc.SetChain(svc)

	// Reconciliation sweep
	sweeper := settlement.NewSweeper(svc, rpcClient, settlement.SweeperConfig{
		Schedule:   cfg.Sweeper.Schedule,
		StaleAfter: cfg.Sweeper.StaleAfter,
		BatchSize:  cfg.Sweeper.BatchSize,
	}, logger.NewDefault("sweeper"))
	if err := sweeper.Start(); err != nil {
		log.Error("start sweeper", "err", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	// Periodic content-root anchoring
	if cfg.Roots.Enabled {
		roots := settlement.NewRootSubmitter(svc, settlement.NewPostgresRootSource(db),
			settlement.RootSubmitterConfig{Schedule: cfg.Roots.Schedule}, logger.NewDefault("roots"))
		if err := roots.Start(); err != nil {
			log.Error("start root submitter", "err", err)
			os.Exit(1)
		}
		defer roots.Stop()
	}

	// Metrics endpoint
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		log.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics shutdown", "err", err)
	}
}
