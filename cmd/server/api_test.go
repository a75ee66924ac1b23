package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/clientlib"
	"github.com/CamberLoid/TrustlessSwap/internal/config"
	"github.com/CamberLoid/TrustlessSwap/internal/events"
	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/restfulpayload"
	"github.com/CamberLoid/TrustlessSwap/internal/swap"
	"github.com/CamberLoid/TrustlessSwap/internal/transaction"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	oneEth  = mustBig("1000000000000000000")
	reserve = mustBig("1000000000000000000000")
)

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

type testEnv struct {
	backend *fhe.MockBackend
	ledger  *swap.Ledger
	tokens  *TokenService
	router  *gin.Engine
}

func newTestEnv(t *testing.T, faucet bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := fhe.NewMockBackend()
	ledger := swap.New(backend, swap.NewMemoryStore(), swap.WithLogger(zerolog.Nop()))
	_, err := ledger.Fund(context.Background(), ledger.Address(), reserve)
	require.NoError(t, err)

	tokens := NewTokenService(config.JWTConfig{
		Secret: "test-secret-0123456789",
		Expiry: time.Hour,
		Issuer: "trustlessswap-test",
	})
	srv := NewServer(ServerDeps{
		Ledger:    ledger,
		Decrypter: backend,
		Tokens:    tokens,
		Faucet:    faucet,
		Version:   "test",
		Logger:    zerolog.Nop(),
	})
	return &testEnv{backend: backend, ledger: ledger, tokens: tokens, router: srv.Router()}
}

// newUser 生成用户并给它 10 ETH
func (e *testEnv) newUser(t *testing.T, name string) (*users.User, users.Address) {
	t.Helper()
	u, err := users.GenerateUser(name)
	require.NoError(t, err)
	addr, err := u.Address()
	require.NoError(t, err)
	_, err = e.ledger.Fund(context.Background(), addr, new(big.Int).Mul(oneEth, big.NewInt(10)))
	require.NoError(t, err)
	return u, addr
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) login(t *testing.T, u *users.User) string {
	t.Helper()
	signer, err := u.ECDSAPublicKeyBytes()
	require.NoError(t, err)
	ts := time.Now().Unix()
	sig, err := u.SignDigest(restfulpayload.LoginDigest(e.ledger.Address(), ts))
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, restfulpayload.TokenEndpoint, restfulpayload.TokenReq{
		SignerKey: signer, Timestamp: ts, Signature: sig,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[restfulpayload.TokenResp](t, w).Token
}

func TestVersionAndProtocol(t *testing.T) {
	e := newTestEnv(t, false)

	w := e.do(t, http.MethodGet, restfulpayload.VersionEndpoint, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test", decode[restfulpayload.VersionResp](t, w).Version)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = e.do(t, http.MethodGet, restfulpayload.ProtocolEndpoint, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[restfulpayload.ProtocolResp](t, w)
	assert.Equal(t, e.ledger.Address(), p.Ledger)
	assert.Equal(t, fhe.ProtocolID, p.ProtocolID)
	assert.EqualValues(t, 3000, p.Rate)
	assert.EqualValues(t, 1_000_000, p.USDTDecimals)

	w = e.do(t, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "REQ_404", decode[restfulpayload.Failure](t, w).Code)
}

func TestQuotes(t *testing.T) {
	e := newTestEnv(t, false)

	tests := []struct {
		name   string
		path   string
		status int
		out    string
		code   string
	}{
		{"one eth", restfulpayload.QuoteUsdtEndpoint + "?wei=1000000000000000000", http.StatusOK, "3000000000", ""},
		{"one wei", restfulpayload.QuoteUsdtEndpoint + "?wei=1", http.StatusOK, "0", ""},
		{"3000 usdt", restfulpayload.QuoteEthEndpoint + "?usdt=3000000000", http.StatusOK, "1000000000000000000", ""},
		{"1000 usdt", restfulpayload.QuoteEthEndpoint + "?usdt=1000000000", http.StatusOK, "333333333333333333", ""},
		{"usdt over uint64", restfulpayload.QuoteEthEndpoint + "?usdt=18446744073709551616", http.StatusBadRequest, "", "SWAP_002"},
		{"bad wei", restfulpayload.QuoteUsdtEndpoint + "?wei=abc", http.StatusBadRequest, "", "REQ_001"},
		{"negative wei", restfulpayload.QuoteUsdtEndpoint + "?wei=-1000000000000000000", http.StatusBadRequest, "", "SWAP_001"},
		{"max uint256", restfulpayload.QuoteUsdtEndpoint + "?wei=115792089237316195423570985008687907853269984665640564039457584007913129639935", http.StatusOK, "347376267711948586270712955026063723559809953996921692118372752023739", ""},
		{"wei over uint256", restfulpayload.QuoteUsdtEndpoint + "?wei=115792089237316195423570985008687907853269984665640564039457584007913129639936", http.StatusBadRequest, "", "SWAP_001"},
		{"missing usdt", restfulpayload.QuoteEthEndpoint, http.StatusBadRequest, "", "REQ_001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodGet, tt.path, nil, "")
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[restfulpayload.Failure](t, w).Code)
				return
			}
			assert.Equal(t, tt.out, decode[restfulpayload.QuoteResp](t, w).Out)
		})
	}
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t, false)
	alice, aliceAddr := e.newUser(t, "alice")

	token := e.login(t, alice)
	addr, err := e.tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, aliceAddr, addr)

	signer, err := alice.ECDSAPublicKeyBytes()
	require.NoError(t, err)

	t.Run("stale timestamp", func(t *testing.T) {
		ts := time.Now().Add(-time.Hour).Unix()
		sig, err := alice.SignDigest(restfulpayload.LoginDigest(e.ledger.Address(), ts))
		require.NoError(t, err)
		w := e.do(t, http.MethodPost, restfulpayload.TokenEndpoint, restfulpayload.TokenReq{SignerKey: signer, Timestamp: ts, Signature: sig}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("signature over another ledger", func(t *testing.T) {
		ts := time.Now().Unix()
		sig, err := alice.SignDigest(restfulpayload.LoginDigest(users.ZeroAddress, ts))
		require.NoError(t, err)
		w := e.do(t, http.MethodPost, restfulpayload.TokenEndpoint, restfulpayload.TokenReq{SignerKey: signer, Timestamp: ts, Signature: sig}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "AUTH_001", decode[restfulpayload.Failure](t, w).Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, restfulpayload.TokenEndpoint, bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSwapNeedsToken(t *testing.T) {
	e := newTestEnv(t, false)

	w := e.do(t, http.MethodPost, restfulpayload.SwapEthEndpoint, restfulpayload.SwapEthReq{Wei: "1"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, restfulpayload.SwapUsdtEndpoint, restfulpayload.SwapUsdtReq{Usdt: "1"}, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_001", decode[restfulpayload.Failure](t, w).Code)

	// 其他签发者的 token
	other := NewTokenService(config.JWTConfig{Secret: "another-secret-0123456789", Expiry: time.Hour, Issuer: "trustlessswap-test"})
	token, _, err := other.Generate(users.ZeroAddress)
	require.NoError(t, err)
	w = e.do(t, http.MethodPost, restfulpayload.SwapEthEndpoint, restfulpayload.SwapEthReq{Wei: "1"}, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExpiredToken(t *testing.T) {
	tokens := NewTokenService(config.JWTConfig{Secret: "test-secret-0123456789", Expiry: time.Minute, Issuer: "x"})
	tokens.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := tokens.Generate(users.ZeroAddress)
	require.NoError(t, err)

	tokens.now = time.Now
	_, err = tokens.Validate(token)
	assert.Error(t, err)
}

func TestSwapRoundTrip(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	alice, aliceAddr := e.newUser(t, "alice")
	token := e.login(t, alice)

	// 1 ETH -> 3000 USDT
	w := e.do(t, http.MethodPost, restfulpayload.SwapEthEndpoint, restfulpayload.SwapEthReq{Wei: oneEth.String()}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	swapped := decode[restfulpayload.SwapEthResp](t, w)
	assert.False(t, swapped.Handle.IsNull())
	assert.Equal(t, uint64(3_000_000_000), swapped.Transaction.Amount)
	v, err := e.backend.Cleartext(ctx, swapped.Handle)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000_000_000), v)

	w = e.do(t, http.MethodGet, restfulpayload.BalanceEndpoint+"/"+aliceAddr.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, swapped.Handle, decode[restfulpayload.BalanceResp](t, w).Handle)

	// 1000 USDT -> 333333333333333333 wei
	w = e.do(t, http.MethodPost, restfulpayload.SwapUsdtEndpoint, restfulpayload.SwapUsdtReq{Usdt: "1000000000"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	redeemed := decode[restfulpayload.SwapUsdtResp](t, w)
	assert.Equal(t, "333333333333333333", redeemed.Wei)

	w = e.do(t, http.MethodGet, restfulpayload.NativeEndpoint+"/"+aliceAddr.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "9333333333333333333", decode[restfulpayload.NativeResp](t, w).Wei)

	// 余额不足：回滚并带回执
	w = e.do(t, http.MethodPost, restfulpayload.SwapUsdtEndpoint, restfulpayload.SwapUsdtReq{Usdt: "2000000001"}, token)
	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
	failed := decode[restfulpayload.Failure](t, w)
	assert.Equal(t, "SWAP_003", failed.Code)
	require.NotNil(t, failed.Transaction)
	assert.Equal(t, transaction.PhaseReverted, failed.Transaction.ConfirmingPhase)

	h, err := e.ledger.GetEncryptedBalance(ctx, aliceAddr)
	require.NoError(t, err)
	v, err = e.backend.Cleartext(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000_000), v)

	// 回执
	w = e.do(t, http.MethodGet, restfulpayload.TransactionEndpoint+"/"+redeemed.Transaction.UUID.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[restfulpayload.TransactionResp](t, w).Transaction.IsConfirmed())

	w = e.do(t, http.MethodGet, restfulpayload.TransactionEndpoint+"/"+failed.Transaction.UUID.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, transaction.PhaseReverted, decode[restfulpayload.TransactionResp](t, w).Transaction.ConfirmingPhase)

	// 事件
	w = e.do(t, http.MethodGet, restfulpayload.EventsEndpoint+"?user="+aliceAddr.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	evs := decode[restfulpayload.EventsResp](t, w).Events
	require.Len(t, evs, 2)
	assert.Equal(t, events.KindEthSwapped, evs[0].Kind)
	assert.Equal(t, events.KindUsdtSwapped, evs[1].Kind)

	w = e.do(t, http.MethodGet, restfulpayload.EventsEndpoint+"?kind=UsdtSwapped&limit=5", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode[restfulpayload.EventsResp](t, w).Events, 1)
}

func TestSwapErrors(t *testing.T) {
	e := newTestEnv(t, false)
	alice, _ := e.newUser(t, "alice")
	token := e.login(t, alice)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"negative wei", restfulpayload.SwapEthEndpoint, restfulpayload.SwapEthReq{Wei: "-1"}, http.StatusBadRequest, "SWAP_001"},
		{"more eth than owned", restfulpayload.SwapEthEndpoint, restfulpayload.SwapEthReq{Wei: "11000000000000000000"}, http.StatusPaymentRequired, "SWAP_004"},
		{"usdt over uint64", restfulpayload.SwapUsdtEndpoint, restfulpayload.SwapUsdtReq{Usdt: "18446744073709551616"}, http.StatusBadRequest, "SWAP_002"},
		{"no balance", restfulpayload.SwapUsdtEndpoint, restfulpayload.SwapUsdtReq{Usdt: "1"}, http.StatusPaymentRequired, "SWAP_003"},
		{"not a number", restfulpayload.SwapUsdtEndpoint, restfulpayload.SwapUsdtReq{Usdt: "1.5"}, http.StatusBadRequest, "REQ_001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, tt.path, tt.body, token)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[restfulpayload.Failure](t, w).Code)
		})
	}
}

func TestBackendUnsupported(t *testing.T) {
	gin.SetMode(gin.TestMode)
	backend := fhe.NewMockBackend(fhe.WithProtocolID(99))
	ledger := swap.New(backend, swap.NewMemoryStore(), swap.WithLogger(zerolog.Nop()))
	tokens := NewTokenService(config.JWTConfig{Secret: "test-secret-0123456789", Expiry: time.Hour, Issuer: "t"})
	e := &testEnv{backend: backend, ledger: ledger, tokens: tokens, router: NewServer(ServerDeps{
		Ledger: ledger, Decrypter: backend, Tokens: tokens, Logger: zerolog.Nop(),
	}).Router()}

	_, addr := e.newUser(t, "alice")
	token, _, err := tokens.Generate(addr)
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, restfulpayload.SwapEthEndpoint, restfulpayload.SwapEthReq{Wei: oneEth.String()}, token)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SWAP_006", decode[restfulpayload.Failure](t, w).Code)

	native, err := ledger.NativeBalance(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, 0, native.Cmp(new(big.Int).Mul(oneEth, big.NewInt(10))))
}

func TestReadErrors(t *testing.T) {
	e := newTestEnv(t, false)

	w := e.do(t, http.MethodGet, restfulpayload.BalanceEndpoint+"/0x1234", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, restfulpayload.TransactionEndpoint+"/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, restfulpayload.TransactionEndpoint+"/00000000-0000-0000-0000-000000000001", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SWAP_007", decode[restfulpayload.Failure](t, w).Code)

	w = e.do(t, http.MethodGet, restfulpayload.EventsEndpoint+"?kind=Transfer", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, restfulpayload.EventsEndpoint+"?limit=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 没有事件时返回空数组
	w = e.do(t, http.MethodGet, restfulpayload.EventsEndpoint, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"events":[]`)
}

func TestDecrypt(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	alice, aliceAddr := e.newUser(t, "alice")
	bob, _ := e.newUser(t, "bob")

	h, _, err := e.ledger.SwapEthForUsdt(ctx, aliceAddr, oneEth)
	require.NoError(t, err)

	start := time.Now().Add(-time.Minute)
	req, err := clientlib.NewUserDecryptRequest(alice, h, e.ledger.Address(), start, 1)
	require.NoError(t, err)
	w := e.do(t, http.MethodPost, restfulpayload.DecryptEndpoint, req, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v, err := alice.OpenSealed(decode[restfulpayload.DecryptResp](t, w).Sealed)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000_000_000), v)

	// bob 不在 alice 余额的 ACL 中
	req, err = clientlib.NewUserDecryptRequest(bob, h, e.ledger.Address(), start, 1)
	require.NoError(t, err)
	w = e.do(t, http.MethodPost, restfulpayload.DecryptEndpoint, req, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FHE_001", decode[restfulpayload.Failure](t, w).Code)

	// 篡改签名
	req, err = clientlib.NewUserDecryptRequest(alice, h, e.ledger.Address(), start, 1)
	require.NoError(t, err)
	req.DurationDays = 2
	w = e.do(t, http.MethodPost, restfulpayload.DecryptEndpoint, req, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "FHE_002", decode[restfulpayload.Failure](t, w).Code)

	// 其他合约
	req, err = clientlib.NewUserDecryptRequest(alice, h, users.ZeroAddress, start, 1)
	require.NoError(t, err)
	w = e.do(t, http.MethodPost, restfulpayload.DecryptEndpoint, req, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFaucet(t *testing.T) {
	e := newTestEnv(t, false)
	addr := users.CreateAddress(users.ZeroAddress, 7)
	w := e.do(t, http.MethodPost, restfulpayload.FaucetEndpoint, restfulpayload.FaucetReq{Address: addr, Wei: "5"}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	e = newTestEnv(t, true)
	w = e.do(t, http.MethodPost, restfulpayload.FaucetEndpoint, restfulpayload.FaucetReq{Address: addr, Wei: "5"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, transaction.MethodFund, decode[restfulpayload.TransactionResp](t, w).Transaction.Method)

	native, err := e.ledger.NativeBalance(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, int64(5), native.Int64())
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(zerolog.Nop()))
	r.GET("/panic", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	f := decode[restfulpayload.Failure](t, w)
	assert.Equal(t, "SYS_001", f.Code)
	assert.NotEmpty(t, f.RequestID)
}

// 客户端库对真实路由的端到端测试
func TestClientAgainstRouter(t *testing.T) {
	e := newTestEnv(t, true)
	ts := httptest.NewServer(e.router)
	defer ts.Close()

	ctx := context.Background()
	alice, aliceAddr := e.newUser(t, "alice")
	c, err := clientlib.New(ts.URL, alice)
	require.NoError(t, err)

	v, _, err := c.DecryptBalance(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = c.SwapEth(ctx, oneEth)
	require.NoError(t, err)
	v, _, err = c.DecryptBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000_000_000), v)

	resp, err := c.SwapUsdt(ctx, 3_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, oneEth.String(), resp.Wei)

	_, err = c.SwapUsdt(ctx, 1)
	var apiErr *clientlib.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "SWAP_003", apiErr.Code)

	evs, err := c.Events(ctx, events.Filter{User: &aliceAddr})
	require.NoError(t, err)
	assert.Len(t, evs, 2)

	native, err := c.NativeBalance(ctx, aliceAddr)
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000000", native.String())
}
