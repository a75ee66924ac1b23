package main

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/config"
	"github.com/CamberLoid/TrustlessSwap/internal/db"
	"github.com/CamberLoid/TrustlessSwap/internal/events"
	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/key"
	"github.com/CamberLoid/TrustlessSwap/internal/swap"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var noKeepAlive = &http.Client{
	Transport: &http.Transport{DisableKeepAlives: true},
	Timeout:   5 * time.Second,
}

func waitForServer(t *testing.T, url string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := noKeepAlive.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	gin.SetMode(gin.TestMode)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/version", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	srv := &http.Server{Handler: r}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, ln, time.Second, zerolog.Nop()) }()

	waitForServer(t, "http://"+ln.Addr().String()+"/version")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	noKeepAlive.CloseIdleConnections()
}

func TestServeReportsListenerErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln.Close()

	err = serve(context.Background(), &http.Server{Handler: http.NotFoundHandler()}, ln, time.Second, zerolog.Nop())
	assert.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunSeedsReserveAndServes(t *testing.T) {
	dir := t.TempDir()
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())

	cfg := &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: freePort(t), Mode: gin.TestMode, ShutdownTimeout: time.Second},
		Database: config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "ledger.db")},
		Redis:    config.RedisConfig{Enabled: true, Host: mr.Host(), Port: port, Stream: events.DefaultStream, MaxLen: 100},
		JWT:      config.JWTConfig{Secret: "test-secret-0123456789", Expiry: time.Hour, Issuer: "t"},
		FHE:      config.FHEConfig{Backend: "mock", StorePath: filepath.Join(dir, "coprocessor.db")},
		Ledger:   config.LedgerConfig{Reserve: "1000", Faucet: true},
	}
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zerolog.Nop()) }()

	waitForServer(t, fmt.Sprintf("http://%s/version", cfg.Server.Addr()))
	cancel()
	require.NoError(t, <-done)

	store, err := db.OpenLedgerStore(context.Background(), cfg.Database.Path)
	require.NoError(t, err)
	defer store.Close()
	ledger := swap.New(fhe.NewMockBackend(), store)
	v, err := ledger.NativeBalance(context.Background(), swap.DefaultAddress)
	require.NoError(t, err)
	assert.Equal(t, reserve.String(), v.String())
}

func TestSeedReserve(t *testing.T) {
	ctx := context.Background()
	ledger := swap.New(fhe.NewMockBackend(), swap.NewMemoryStore(), swap.WithLogger(zerolog.Nop()))

	require.NoError(t, SeedReserve(ctx, ledger, "1000", zerolog.Nop()))
	require.NoError(t, SeedReserve(ctx, ledger, "1000", zerolog.Nop()))
	v, err := ledger.NativeBalance(ctx, ledger.Address())
	require.NoError(t, err)
	assert.Equal(t, reserve.String(), v.String())

	// 储备金只会补足，不会减少
	require.NoError(t, SeedReserve(ctx, ledger, "1", zerolog.Nop()))
	v, err = ledger.NativeBalance(ctx, ledger.Address())
	require.NoError(t, err)
	assert.Equal(t, reserve.String(), v.String())

	require.NoError(t, SeedReserve(ctx, ledger, "1000.5", zerolog.Nop()))
	v, err = ledger.NativeBalance(ctx, ledger.Address())
	require.NoError(t, err)
	assert.Equal(t, "1000500000000000000000", v.String())

	assert.Error(t, SeedReserve(ctx, ledger, "lots", zerolog.Nop()))
}

func TestInitSinks(t *testing.T) {
	ctx := context.Background()

	var cs closers
	sinks, err := InitSinks(ctx, config.RedisConfig{Enabled: false}, zerolog.Nop(), &cs)
	require.NoError(t, err)
	assert.Len(t, sinks, 1)
	assert.Empty(t, cs)

	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())
	sinks, err = InitSinks(ctx, config.RedisConfig{Enabled: true, Host: mr.Host(), Port: port, Stream: "s", MaxLen: 10}, zerolog.Nop(), &cs)
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	require.Len(t, cs, 1)

	ev := events.Event{Seq: 1, Kind: events.KindEthSwapped, AmountIn: big.NewInt(1), AmountOut: big.NewInt(0), Timestamp: time.Now()}
	require.NoError(t, sinks[1].Publish(ctx, ev))
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	n, err := rdb.XLen(ctx, "s").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.NoError(t, cs.Close())

	mr.Close()
	_, err = InitSinks(ctx, config.RedisConfig{Enabled: true, Host: mr.Host(), Port: port, Stream: "s"}, zerolog.Nop(), &cs)
	assert.Error(t, err)
}

func TestInitCoprocessor(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var cs closers
	b, err := InitCoprocessor(ctx, config.FHEConfig{Backend: "mock"}, nil, zerolog.Nop(), &cs)
	require.NoError(t, err)
	assert.Equal(t, fhe.ProtocolID, b.ProtocolID())
	assert.Empty(t, cs)

	// 共享的密文存储优先于 store_path
	shared := fhe.NewMemoryStore()
	b, err = InitCoprocessor(ctx, config.FHEConfig{Backend: "mock", StorePath: filepath.Join(dir, "unused.db")}, shared, zerolog.Nop(), &cs)
	require.NoError(t, err)
	assert.Empty(t, cs)
	h, err := b.Encrypt(ctx, 1)
	require.NoError(t, err)
	_, err = shared.GetCiphertext(ctx, h)
	assert.NoError(t, err)

	_, err = InitCoprocessor(ctx, config.FHEConfig{Backend: "tfhe"}, nil, zerolog.Nop(), &cs)
	assert.Error(t, err)

	if testing.Short() {
		t.Skip("ckks key generation")
	}
	keyFile := filepath.Join(dir, "keys", "coprocessor.key.json")
	b, err = InitCoprocessor(ctx, config.FHEConfig{
		Backend:   "ckks",
		KeyFile:   keyFile,
		StorePath: filepath.Join(dir, "coprocessor.db"),
	}, nil, zerolog.Nop(), &cs)
	require.NoError(t, err)
	assert.Len(t, cs, 1)
	defer cs.Close()

	h, err = b.Encrypt(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, fhe.TypeUint64, h.Type())

	// 第二次启动读取同一个密钥
	first, err := key.LoadKeyChain(keyFile)
	require.NoError(t, err)
	again, err := loadOrCreateKeyChain(keyFile, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, first.ECDSAKeyChain.Identifier, again.ECDSAKeyChain.Identifier)
}

func TestLedgerAddress(t *testing.T) {
	addr, err := ledgerAddress(config.LedgerConfig{})
	require.NoError(t, err)
	assert.Equal(t, swap.DefaultAddress, addr)

	want := users.CreateAddress(users.ZeroAddress, 42)
	addr, err = ledgerAddress(config.LedgerConfig{Address: want.String()})
	require.NoError(t, err)
	assert.Equal(t, want, addr)

	_, err = ledgerAddress(config.LedgerConfig{Address: "0xzz"})
	assert.Error(t, err)
}

func TestInitLedgerStore(t *testing.T) {
	_, _, err := InitLedgerStore(context.Background(), config.DatabaseConfig{Driver: "mysql"}, zerolog.Nop())
	assert.Error(t, err)

	s, shared, err := InitLedgerStore(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, shared)
	assert.NoError(t, s.Close())
}

// 默认的文件配置下，重启后旧账户还能继续入金和兑换
func TestRestartKeepsBalances(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.JWT.Secret = "test-secret-0123456789"
	cfg.Database.Path = filepath.Join(dir, cfg.Database.Path)
	cfg.FHE.StorePath = filepath.Join(dir, cfg.FHE.StorePath)
	require.NoError(t, cfg.Validate())

	alice := users.CreateAddress(users.ZeroAddress, 7)
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	start := func() (*swap.Ledger, func()) {
		var cs closers
		store, shared, err := InitLedgerStore(ctx, cfg.Database, zerolog.Nop())
		require.NoError(t, err)
		cs.add(store.Close)
		backend, err := InitCoprocessor(ctx, cfg.FHE, shared, zerolog.Nop(), &cs)
		require.NoError(t, err)
		return swap.New(backend, store), func() { assert.NoError(t, cs.Close()) }
	}

	ledger, stop := start()
	_, err = ledger.Fund(ctx, alice, new(big.Int).Mul(oneEth, big.NewInt(2)))
	require.NoError(t, err)
	_, _, err = ledger.SwapEthForUsdt(ctx, alice, oneEth)
	require.NoError(t, err)
	stop()

	ledger, stop = start()
	defer stop()
	_, _, err = ledger.SwapEthForUsdt(ctx, alice, oneEth)
	require.NoError(t, err)
	out, _, err := ledger.SwapUsdtForEth(ctx, alice, 6_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Mul(oneEth, big.NewInt(2)).String(), out.String())

	// 余额已经清空，再兑换会被拒绝
	_, _, err = ledger.SwapUsdtForEth(ctx, alice, 1)
	assert.ErrorIs(t, err, swap.ErrInsufficientBalance)
}
