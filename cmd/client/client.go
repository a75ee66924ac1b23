package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/clientlib"
	"github.com/CamberLoid/TrustlessSwap/internal/db"
	"github.com/CamberLoid/TrustlessSwap/internal/logger"
	"github.com/CamberLoid/TrustlessSwap/internal/transaction"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

const ConfigVersion = "0.99.indev"

// CLI
func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	dir := clientlib.DefaultDir()
	return &cli.App{
		Name:     "TrustlessSwap",
		HelpName: "trustlessswap",
		Version:  ConfigVersion,
		Usage:    "Swap ETH for confidential USDT and back",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   clientlib.DefaultServerURL,
				Usage:   "ledger server URL",
				EnvVars: []string{"TSWAP_SERVER"},
			},
			&cli.StringFlag{
				Name:    "keystore",
				Aliases: []string{"k"},
				Value:   filepath.Join(dir, clientlib.DefaultKeystoreFileName),
				Usage:   "path of the key file",
				EnvVars: []string{"TSWAP_KEYSTORE"},
			},
			&cli.StringFlag{
				Name:    "history",
				Value:   filepath.Join(dir, clientlib.DefaultDatabaseFileName),
				Usage:   "path of the local receipt database",
				EnvVars: []string{"TSWAP_HISTORY"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "HTTP request timeout",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "debug, info, warn, error",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "print full receipts",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "Generate a new key file",
				Action: cmdKeygen,
			},
			{
				Name:   "address",
				Usage:  "Print the address of the key file",
				Action: cmdAddress,
			},
			{
				Name:  "quote",
				Usage: "Quote a swap without sending it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "eth", Usage: "ETH to swap for USDT"},
					&cli.StringFlag{Name: "usdt", Usage: "USDT to redeem for ETH"},
				},
				Action: cmdQuote,
			},
			{
				Name:  "swap-eth",
				Usage: "Swap ETH for encrypted USDT",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "eth", Usage: "amount of ETH, e.g. 0.5", Required: true},
				},
				Action: cmdSwapEth,
			},
			{
				Name:  "swap-usdt",
				Usage: "Redeem encrypted USDT for ETH",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "usdt", Usage: "amount of USDT, e.g. 100.5", Required: true},
				},
				Action: cmdSwapUsdt,
			},
			{
				Name:  "balance",
				Usage: "Decrypt the USDT balance and show the ETH balance",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "show the balance handle of another address"},
				},
				Action: cmdBalance,
			},
			{
				Name:  "events",
				Usage: "List swap events",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "events of every user"},
					&cli.StringFlag{Name: "kind", Usage: "EthSwapped or UsdtSwapped"},
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: cmdEvents,
			},
			{
				Name:      "tx",
				Usage:     "Show a receipt stored on the server",
				ArgsUsage: "<uuid>",
				Action:    cmdTransaction,
			},
			{
				Name:  "history",
				Usage: "Show receipts recorded by this client",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: cmdHistory,
			},
			{
				Name:  "faucet",
				Usage: "Request test ETH from a development server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "eth", Value: "10"},
				},
				Action: cmdFaucet,
			},
		},
	}
}

// --- 公共部分 ---

func newLogger(c *cli.Context) zerolog.Logger {
	return logger.New(c.String("log-level"), true)
}

func loadUser(c *cli.Context) (*users.User, users.Address, error) {
	u, err := clientlib.LoadUser(c.String("keystore"), "")
	if err != nil {
		return nil, users.ZeroAddress, fmt.Errorf("load key file (run keygen first?): %w", err)
	}
	addr, err := u.Address()
	return u, addr, err
}

func newClient(c *cli.Context, u *users.User) (*clientlib.Client, error) {
	return clientlib.New(c.String("server"), u,
		clientlib.WithHTTPClient(&http.Client{Timeout: c.Duration("timeout")}))
}

// record 把回执写入本地记录，失败只记日志
func record(ctx context.Context, c *cli.Context, rec *transaction.Transaction) {
	if rec == nil {
		return
	}
	log := newLogger(c)
	h, err := db.OpenHistory(ctx, c.String("history"))
	if err != nil {
		log.Warn().Err(err).Msg("open receipt history")
		return
	}
	defer h.Close()
	if err = h.Record(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("record receipt")
	}
}
