// Package main is a one-shot operations tool: it creates the program's
// global config account, registers custodial wallets, and creates
// per-user on-chain accounts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jmoiron/sqlx"

	"github.com/voix-network/settlement_layer/internal/chain"
	"github.com/voix-network/settlement_layer/internal/config"
	"github.com/voix-network/settlement_layer/internal/database"
	"github.com/voix-network/settlement_layer/pkg/logger"
	"github.com/voix-network/settlement_layer/services/settlement"
	"github.com/voix-network/settlement_layer/services/signer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	initConfig := flag.Bool("init-config", false, "Create the program's global config account")
	initUser := flag.String("init-user", "", "Create the on-chain account for this user id")
	register := flag.String("register", "", "Register a wallet as user-id:public-key:wallet-id")
	flag.Parse()

	log := logger.NewDefault("chain-init")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Error("connect database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		log.Error("run migrations", "err", err)
		os.Exit(1)
	}
	directory := settlement.NewPostgresDirectory(db)

	if *register != "" {
		parts := strings.SplitN(*register, ":", 3)
		if len(parts) != 3 {
			log.Error("register wants user-id:public-key:wallet-id", "got", *register)
			os.Exit(1)
		}
		key, err := solana.PublicKeyFromBase58(parts[1])
		if err != nil {
			log.Error("parse public key", "err", err)
			os.Exit(1)
		}
		w := &settlement.UserWallet{UserID: parts[0], PublicKey: key, WalletID: parts[2]}
		if err := directory.RegisterWallet(ctx, w); err != nil {
			log.Error("register wallet", "err", err)
			os.Exit(1)
		}
		log.Info("wallet registered", "user_id", w.UserID, "public_key", key.String())
	}

	if !*initConfig && *initUser == "" {
		return
	}

	svc, err := buildService(cfg, db, log)
	if err != nil {
		log.Error("wire settlement service", "err", err)
		os.Exit(1)
	}

	if *initConfig {
		sig, err := svc.InitializeConfig(ctx)
		if err != nil {
			log.Error("initialize config account", "err", err)
			os.Exit(1)
		}
		log.Info("config account created", "signature", sig)
	}

	if *initUser != "" {
		sig, err := svc.InitializeUser(ctx, *initUser)
		if err != nil {
			log.Error("initialize user account", "user_id", *initUser, "err", err)
			os.Exit(1)
		}
		log.Info("user account created", "user_id", *initUser, "signature", sig)
	}
}

func buildService(cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*settlement.Service, error) {
	programID, err := solana.PublicKeyFromBase58(cfg.Chain.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("parse program id: %w", err)
	}
	adminKey, err := solana.PublicKeyFromBase58(cfg.Chain.AdminPublicKey)
	if err != nil {
		return nil, fmt.Errorf("parse admin public key: %w", err)
	}

	rpcClient, err := chain.NewClient(chain.ClientConfig{
		RPCURL:  cfg.Chain.RPCURL,
		Timeout: cfg.Chain.SubmitTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}

	signerClient := signer.New(signer.Config{
		BaseURL: cfg.Signer.BaseURL,
		AppID:   cfg.Signer.AppID,
		Timeout: cfg.Signer.Timeout,
	})
	gateway := settlement.NewGateway(signerClient, rpcClient, settlement.GatewayConfig{
		ConfirmRetries:   cfg.Chain.ConfirmRetries,
		ConfirmBackoff:   cfg.Chain.ConfirmBackoff,
		SubmitRatePerSec: cfg.Chain.SubmitRatePerSec,
	}, log)

	return settlement.NewService(
		settlement.ServiceConfig{
			AdminWalletID:  cfg.Chain.AdminWalletID,
			AdminPublicKey: adminKey,
		},
		chain.NewBuilder(programID, rpcClient),
		gateway,
		settlement.NewPostgresStore(db),
		settlement.NewPostgresDirectory(db),
		nil, rpcClient, nil, log,
	), nil
}
