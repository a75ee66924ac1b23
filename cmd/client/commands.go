package main

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/clientlib"
	"github.com/CamberLoid/TrustlessSwap/internal/db"
	"github.com/CamberLoid/TrustlessSwap/internal/events"
	"github.com/CamberLoid/TrustlessSwap/internal/misc"
	"github.com/CamberLoid/TrustlessSwap/internal/transaction"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/google/uuid"
	"github.com/kr/pretty"
	"github.com/urfave/cli/v2"
)

func formatEth(wei *big.Int) string {
	return misc.FormatUnits(wei, misc.EthDecimals) + " ETH"
}

func formatUsdt(v uint64) string {
	return misc.FormatUnits(new(big.Int).SetUint64(v), misc.USDTDecimals) + " USDT"
}

// parseUsdt 解析 USDT 数额，超出 uint64 的数值在发送之前就被拒绝
func parseUsdt(s string) (uint64, error) {
	v, err := misc.ParseUnits(s, misc.USDTDecimals)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("usdt amount %s exceeds uint64", s)
	}
	return v.Uint64(), nil
}

func printReceipt(w io.Writer, c *cli.Context, rec *transaction.Transaction) {
	if rec == nil {
		return
	}
	if c.Bool("verbose") {
		pretty.Fprintf(w, "%# v\n", rec)
		return
	}
	fmt.Fprintf(w, "tx %s: %s %s\n", rec.UUID, rec.Method, rec.ConfirmingPhase)
}

// --- 密钥 ---

func cmdKeygen(c *cli.Context) error {
	u, err := clientlib.CreateUser(c.String("keystore"), "")
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists", c.String("keystore"))
	}
	if err != nil {
		return err
	}
	addr, err := u.Address()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "key file written to %s\naddress %s\n", c.String("keystore"), addr)
	return nil
}

func cmdAddress(c *cli.Context) error {
	_, addr, err := loadUser(c)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, addr)
	return nil
}

// --- 兑换 ---

func cmdQuote(c *cli.Context) error {
	cl, err := newClient(c, nil)
	if err != nil {
		return err
	}
	w := c.App.Writer

	switch {
	case c.IsSet("eth"):
		wei, err := misc.ParseUnits(c.String("eth"), misc.EthDecimals)
		if err != nil {
			return err
		}
		out, err := cl.QuoteUsdt(c.Context, wei)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s -> %s USDT\n", formatEth(wei), misc.FormatUnits(out, misc.USDTDecimals))
	case c.IsSet("usdt"):
		usdt, err := parseUsdt(c.String("usdt"))
		if err != nil {
			return err
		}
		out, err := cl.QuoteEth(c.Context, usdt)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s -> %s\n", formatUsdt(usdt), formatEth(out))
	default:
		return errors.New("one of --eth or --usdt is required")
	}
	return nil
}

func cmdSwapEth(c *cli.Context) error {
	wei, err := misc.ParseUnits(c.String("eth"), misc.EthDecimals)
	if err != nil {
		return err
	}
	u, _, err := loadUser(c)
	if err != nil {
		return err
	}
	cl, err := newClient(c, u)
	if err != nil {
		return err
	}

	resp, err := cl.SwapEth(c.Context, wei)
	if err != nil {
		var apiErr *clientlib.APIError
		if errors.As(err, &apiErr) {
			record(c.Context, c, apiErr.Transaction)
		}
		return err
	}
	record(c.Context, c, resp.Transaction)

	fmt.Fprintf(c.App.Writer, "swapped %s for %s\nnew balance handle %s\n",
		formatEth(wei), formatUsdt(resp.Transaction.Amount), resp.Handle)
	printReceipt(c.App.Writer, c, resp.Transaction)
	return nil
}

func cmdSwapUsdt(c *cli.Context) error {
	usdt, err := parseUsdt(c.String("usdt"))
	if err != nil {
		return err
	}
	u, _, err := loadUser(c)
	if err != nil {
		return err
	}
	cl, err := newClient(c, u)
	if err != nil {
		return err
	}

	resp, err := cl.SwapUsdt(c.Context, usdt)
	if err != nil {
		var apiErr *clientlib.APIError
		if errors.As(err, &apiErr) {
			record(c.Context, c, apiErr.Transaction)
		}
		return err
	}
	record(c.Context, c, resp.Transaction)

	wei, ok := new(big.Int).SetString(resp.Wei, 10)
	if !ok {
		return fmt.Errorf("invalid wei %q in response", resp.Wei)
	}
	fmt.Fprintf(c.App.Writer, "redeemed %s for %s\n", formatUsdt(usdt), formatEth(wei))
	printReceipt(c.App.Writer, c, resp.Transaction)
	return nil
}

// --- 查询 ---

func cmdBalance(c *cli.Context) error {
	w := c.App.Writer

	// 其他地址只能看到句柄
	if s := c.String("user"); s != "" {
		addr, err := users.ParseAddress(s)
		if err != nil {
			return err
		}
		cl, err := newClient(c, nil)
		if err != nil {
			return err
		}
		h, err := cl.Balance(c.Context, addr)
		if err != nil {
			return err
		}
		native, err := cl.NativeBalance(c.Context, addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "address %s\nUSDT handle %s\nETH %s\n", addr, h, formatEth(native))
		return nil
	}

	u, addr, err := loadUser(c)
	if err != nil {
		return err
	}
	cl, err := newClient(c, u)
	if err != nil {
		return err
	}
	usdt, h, err := cl.DecryptBalance(c.Context)
	if err != nil {
		return err
	}
	native, err := cl.NativeBalance(c.Context, addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "address %s\nUSDT %s (handle %s)\nETH %s\n", addr, misc.FormatUnits(new(big.Int).SetUint64(usdt), misc.USDTDecimals), h, formatEth(native))
	return nil
}

func cmdEvents(c *cli.Context) error {
	f := events.Filter{Kind: events.Kind(c.String("kind")), Limit: c.Int("limit")}
	var cl *clientlib.Client
	var err error
	if c.Bool("all") {
		cl, err = newClient(c, nil)
	} else {
		var u *users.User
		var addr users.Address
		if u, addr, err = loadUser(c); err != nil {
			return err
		}
		f.User = &addr
		cl, err = newClient(c, u)
	}
	if err != nil {
		return err
	}

	evs, err := cl.Events(c.Context, f)
	if err != nil {
		return err
	}
	w := c.App.Writer
	for _, e := range evs {
		switch e.Kind {
		case events.KindEthSwapped:
			fmt.Fprintf(w, "#%d %s %s %s -> %s USDT\n", e.Seq, e.Timestamp.Format(time.RFC3339), e.User,
				formatEth(e.AmountIn), misc.FormatUnits(e.AmountOut, misc.USDTDecimals))
		case events.KindUsdtSwapped:
			fmt.Fprintf(w, "#%d %s %s %s USDT -> %s\n", e.Seq, e.Timestamp.Format(time.RFC3339), e.User,
				misc.FormatUnits(e.AmountIn, misc.USDTDecimals), formatEth(e.AmountOut))
		}
	}
	if len(evs) == 0 {
		fmt.Fprintln(w, "no events")
	}
	return nil
}

func cmdTransaction(c *cli.Context) error {
	id, err := uuid.Parse(c.Args().First())
	if err != nil {
		return fmt.Errorf("uuid parse failed: %w", err)
	}
	cl, err := newClient(c, nil)
	if err != nil {
		return err
	}
	rec, err := cl.Transaction(c.Context, id)
	if err != nil {
		return err
	}
	pretty.Fprintf(c.App.Writer, "%# v\n", rec)
	return nil
}

func cmdHistory(c *cli.Context) error {
	h, err := db.OpenHistory(c.Context, c.String("history"))
	if err != nil {
		return err
	}
	defer h.Close()

	recs, err := h.List(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	for _, rec := range recs {
		printReceipt(c.App.Writer, c, rec)
	}
	if len(recs) == 0 {
		fmt.Fprintln(c.App.Writer, "no receipts")
	}
	return nil
}

func cmdFaucet(c *cli.Context) error {
	wei, err := misc.ParseUnits(c.String("eth"), misc.EthDecimals)
	if err != nil {
		return err
	}
	_, addr, err := loadUser(c)
	if err != nil {
		return err
	}
	cl, err := newClient(c, nil)
	if err != nil {
		return err
	}
	rec, err := cl.Faucet(c.Context, addr, wei)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "funded %s with %s\n", addr, formatEth(wei))
	printReceipt(c.App.Writer, c, rec)
	return nil
}
