package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/config"
	"github.com/CamberLoid/TrustlessSwap/internal/logger"
	"github.com/CamberLoid/TrustlessSwap/internal/swap"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const DefaultVersion = "indev"

var ConfigVersion = DefaultVersion

func main() {
	app := &cli.App{
		Name:     "TrustlessSwap",
		HelpName: "trustlessswap-server",
		Version:  ConfigVersion,
		Usage:    "Confidential ETH/USDT swap ledger server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path of the YAML config file",
				EnvVars: []string{"TSWAP_CONFIG"},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if err = cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run 组装账本并运行 HTTP 服务，直到 ctx 被取消
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) (err error) {
	log.Info().
		Str("version", ConfigVersion).
		Str("mode", cfg.Server.Mode).
		Str("database", cfg.Database.Driver).
		Str("fhe", cfg.FHE.Backend).
		Msg("Starting TrustlessSwap server")

	var cs closers
	defer func() {
		if cerr := cs.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("closing resources")
		}
	}()

	store, shared, err := InitLedgerStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	cs.add(store.Close)

	backend, err := InitCoprocessor(ctx, cfg.FHE, shared, log, &cs)
	if err != nil {
		return err
	}
	sinks, err := InitSinks(ctx, cfg.Redis, log, &cs)
	if err != nil {
		return err
	}
	addr, err := ledgerAddress(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("ledger.address: %w", err)
	}

	ledger := swap.New(backend, store,
		swap.WithAddress(addr),
		swap.WithSinks(sinks...),
		swap.WithLogger(log.With().Str("component", "ledger").Logger()),
	)
	if err = SeedReserve(ctx, ledger, cfg.Ledger.Reserve, log); err != nil {
		return err
	}

	gin.SetMode(cfg.Server.Mode)
	srv := NewServer(ServerDeps{
		Ledger:    ledger,
		Decrypter: backend,
		Tokens:    NewTokenService(cfg.JWT),
		Faucet:    cfg.Ledger.Faucet,
		Version:   ConfigVersion,
		Logger:    log,
	})
	httpSrv := &http.Server{
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("ledger", addr.String()).
		Msg("Listening")
	return serve(ctx, httpSrv, ln, cfg.Server.ShutdownTimeout, log)
}

// serve 在 ln 上运行 srv，ctx 取消后在 timeout 内优雅关闭
func serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration, log zerolog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		log.Info().Msg("Server exited gracefully")
		return nil
	})

	return g.Wait()
}
