package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/pixelana-backend/internal/address"
	"github.com/DoyleJ11/pixelana-backend/internal/config"
	"github.com/DoyleJ11/pixelana-backend/internal/funds"
	"github.com/DoyleJ11/pixelana-backend/internal/httpapi"
	"github.com/DoyleJ11/pixelana-backend/internal/hub"
	"github.com/DoyleJ11/pixelana-backend/internal/ledger"
	"github.com/DoyleJ11/pixelana-backend/internal/logging"
	"github.com/DoyleJ11/pixelana-backend/internal/mint"
	"github.com/DoyleJ11/pixelana-backend/internal/notify"
	"github.com/DoyleJ11/pixelana-backend/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, dotenv, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	if !dotenv {
		log.Info("no .env file found, reading environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	var minter mint.Minter
	if cfg.MintEndpoint != "" {
		minter = mint.NewHTTP(cfg.MintEndpoint, cfg.MintTimeout)
	} else {
		authority := solana.NewWallet().PrivateKey
		log.Warn("MINT_ENDPOINT not set, minting locally", zap.Stringer("authority", authority.PublicKey()))
		minter = mint.NewLocal(authority)
	}

	broker := notify.NewBroker(ctx, 32)
	wallets := funds.NewWallets()
	l, err := ledger.New(ctx,
		ledger.Config{Program: address.New(cfg.ProgramID), Rules: cfg.Rules},
		st, broker, wallets, minter, log)
	if err != nil {
		return err
	}
	h := hub.NewHub(ctx, l, cfg.SweepEvery, log)

	api := &httpapi.API{Ledger: l, Signatures: httpapi.NewVerifier(cfg.SignatureWindow), Log: log}
	if cfg.DevFaucet {
		api.Faucet = wallets
		api.FaucetLamports = cfg.FaucetLamports
		log.Warn("dev faucet enabled", zap.Uint64("lamports", cfg.FaucetLamports))
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.SetupRoutes(api, h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.ListenAddr), zap.Stringer("program", cfg.ProgramID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stop()
		<-h.Done()
		l.Close()
		<-l.Done()
		broker.Close()
		log.Info("stopped")
		return err
	})
	return g.Wait()
}

func openStore(cfg config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.DatabaseDriver == "memory" {
		log.Warn("using in-memory store, state is lost on exit")
		return store.NewMemory(), nil
	}
	return store.Open(cfg.DatabaseDriver, cfg.DatabaseURL, log)
}
