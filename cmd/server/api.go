package main

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/restfulpayload"
	"github.com/CamberLoid/TrustlessSwap/internal/swap"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server 持有处理请求需要的全部依赖
type Server struct {
	ledger    *swap.Ledger
	decrypter fhe.UserDecrypter
	tokens    *TokenService
	faucet    bool
	version   string
	log       zerolog.Logger
	now       func() time.Time
}

type ServerDeps struct {
	Ledger    *swap.Ledger
	Decrypter fhe.UserDecrypter
	Tokens    *TokenService
	Faucet    bool
	Version   string
	Logger    zerolog.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		ledger:    deps.Ledger,
		decrypter: deps.Decrypter,
		tokens:    deps.Tokens,
		faucet:    deps.Faucet,
		version:   deps.Version,
		log:       deps.Logger,
		now:       time.Now,
	}
}

// Router 注册所有路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery(s.log))
	r.Use(RequestLogger(s.log))
	r.NoRoute(handleNotFound)

	r.GET(restfulpayload.VersionEndpoint, s.HandlerVersion)

	v1 := r.Group("/v1")
	{
		v1.GET("/protocol", s.HandlerProtocol)
		v1.GET("/quote/usdt", s.HandlerQuoteUsdt)
		v1.GET("/quote/eth", s.HandlerQuoteEth)
		v1.POST("/auth/token", s.HandlerToken)

		v1.GET("/balance/:address", s.HandlerBalance)
		v1.GET("/native/:address", s.HandlerNativeBalance)
		v1.GET("/events", s.HandlerEvents)
		v1.GET("/transaction/:uuid", s.HandlerTransactionGet)
		v1.POST("/decrypt", s.HandlerDecrypt)

		if s.faucet {
			v1.POST("/faucet", s.HandlerFaucet)
		}
	}

	swaps := v1.Group("/swap")
	swaps.Use(JWTAuth(s.tokens))
	{
		swaps.POST("/eth", s.HandlerSwapEth)
		swaps.POST("/usdt", s.HandlerSwapUsdt)
	}

	return r
}

// --- 账本信息 ---

// Handle GET /version
func (s *Server) HandlerVersion(c *gin.Context) {
	c.JSON(http.StatusOK, restfulpayload.VersionResp{
		Status:  restfulpayload.StatusOK,
		Version: s.version,
	})
}

// Handle GET /v1/protocol
func (s *Server) HandlerProtocol(c *gin.Context) {
	c.JSON(http.StatusOK, restfulpayload.ProtocolResp{
		Status:       restfulpayload.StatusOK,
		Ledger:       s.ledger.Address(),
		ProtocolID:   s.ledger.ConfidentialProtocolID(),
		Rate:         swap.Rate,
		USDTDecimals: swap.USDTDecimals,
	})
}

// Handle GET /v1/quote/usdt?wei=
func (s *Server) HandlerQuoteUsdt(c *gin.Context) {
	wei, err := parseWei(c.Query("wei"))
	if err != nil {
		returnFailure(c, s.log, err)
		return
	}
	if !swap.ValidWei(wei) {
		returnFailure(c, s.log, fmt.Errorf("%w: %s wei", swap.ErrInvalidAmount, wei))
		return
	}
	c.JSON(http.StatusOK, restfulpayload.QuoteResp{
		Status: restfulpayload.StatusOK,
		In:     wei.String(),
		Out:    swap.PreviewUsdtOut(wei).String(),
	})
}

// Handle GET /v1/quote/eth?usdt=
func (s *Server) HandlerQuoteEth(c *gin.Context) {
	usdt, err := parseUsdt(c.Query("usdt"))
	if err != nil {
		returnFailure(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, restfulpayload.QuoteResp{
		Status: restfulpayload.StatusOK,
		In:     strconv.FormatUint(usdt, 10),
		Out:    swap.PreviewEthOut(usdt).String(),
	})
}

// --- 兑换部分 ---

// Handle POST /v1/swap/eth
func (s *Server) HandlerSwapEth(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		returnFailure(c, s.log, unauthorized(errors.New("no caller in context")))
		return
	}

	var req restfulpayload.SwapEthReq
	if err := c.ShouldBindJSON(&req); err != nil {
		returnFailure(c, s.log, badRequest(err))
		return
	}
	wei, err := parseWei(req.Wei)
	if err != nil {
		returnFailure(c, s.log, err)
		return
	}

	h, rec, err := s.ledger.SwapEthForUsdt(c.Request.Context(), caller, wei)
	if err != nil {
		returnReverted(c, s.log, err, rec)
		return
	}

	c.JSON(http.StatusOK, restfulpayload.SwapEthResp{
		Status:      restfulpayload.StatusOK,
		Handle:      h,
		Transaction: rec,
	})
}

// Handle POST /v1/swap/usdt
func (s *Server) HandlerSwapUsdt(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		returnFailure(c, s.log, unauthorized(errors.New("no caller in context")))
		return
	}

	var req restfulpayload.SwapUsdtReq
	if err := c.ShouldBindJSON(&req); err != nil {
		returnFailure(c, s.log, badRequest(err))
		return
	}
	usdt, err := parseUsdt(req.Usdt)
	if err != nil {
		returnFailure(c, s.log, err)
		return
	}

	wei, rec, err := s.ledger.SwapUsdtForEth(c.Request.Context(), caller, usdt)
	if err != nil {
		returnReverted(c, s.log, err, rec)
		return
	}

	c.JSON(http.StatusOK, restfulpayload.SwapUsdtResp{
		Status:      restfulpayload.StatusOK,
		Wei:         wei.String(),
		Transaction: rec,
	})
}

// --- 查询部分 ---

// Handle GET /v1/balance/:address
// 任何人都可以读取句柄，能否解密由 ACL 决定
func (s *Server) HandlerBalance(c *gin.Context) {
	addr, err := users.ParseAddress(c.Param("address"))
	if err != nil {
		returnFailure(c, s.log, badRequest(err))
		return
	}

	h, err := s.ledger.GetEncryptedBalance(c.Request.Context(), addr)
	if err != nil {
		returnFailure(c, s.log, err)
		return
	}

	c.JSON(http.StatusOK, restfulpayload.BalanceResp{
		Status:  restfulpayload.StatusOK,
		Address: addr,
		Handle:  h,
	})
}

// Handle GET /v1/native/:address
func (s *Server) HandlerNativeBalance(c *gin.Context) {
	addr, err := users.ParseAddress(c.Param("address"))
	if err != nil {
		returnFailure(c, s.log, badRequest(err))
		return
	}

	v, err := s.ledger.NativeBalance(c.Request.Context(), addr)
	if err != nil {
		returnFailure(c, s.log, err)
		return
	}

	c.JSON(http.StatusOK, restfulpayload.NativeResp{
		Status:  restfulpayload.StatusOK,
		Address: addr,
		Wei:     v.String(),
	})
}

// --- 解密部分 ---

// Handle POST /v1/decrypt
// 返回用请求中的 CKKS 公钥封装的值，服务端看不到明文
func (s *Server) HandlerDecrypt(c *gin.Context) {
	var req restfulpayload.DecryptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		returnFailure(c, s.log, badRequest(err))
		return
	}
	if req.Contract != s.ledger.Address() {
		returnFailure(c, s.log, badRequest(fmt.Errorf("contract %s is not this ledger", req.Contract)))
		return
	}

	sealed, err := s.decrypter.UserDecrypt(c.Request.Context(), &req)
	if err != nil {
		returnFailure(c, s.log, err)
		return
	}

	c.JSON(http.StatusOK, restfulpayload.DecryptResp{
		Status: restfulpayload.StatusOK,
		Sealed: sealed,
	})
}

// --- 水龙头 ---

// Handle POST /v1/faucet
// 只在 ledger.faucet 打开时注册
func (s *Server) HandlerFaucet(c *gin.Context) {
	var req restfulpayload.FaucetReq
	if err := c.ShouldBindJSON(&req); err != nil {
		returnFailure(c, s.log, badRequest(err))
		return
	}
	wei, err := parseWei(req.Wei)
	if err != nil {
		returnFailure(c, s.log, err)
		return
	}

	rec, err := s.ledger.Fund(c.Request.Context(), req.Address, wei)
	if err != nil {
		returnReverted(c, s.log, err, rec)
		return
	}

	c.JSON(http.StatusOK, restfulpayload.TransactionResp{
		Status:      restfulpayload.StatusOK,
		Transaction: rec,
	})
}

// --- 参数解析 ---

// parseWei 解析十进制整数，范围检查留给账本
func parseWei(s string) (*big.Int, error) {
	if s == "" {
		return nil, badRequest(errors.New("missing wei amount"))
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, badRequest(fmt.Errorf("invalid wei amount %q", s))
	}
	return v, nil
}

// parseUsdt 解析 USDT 最小单位，超出 uint64 的数值返回 ErrAmountOverflow
func parseUsdt(s string) (uint64, error) {
	if s == "" {
		return 0, badRequest(errors.New("missing usdt amount"))
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %s", swap.ErrAmountOverflow, s)
		}
		return 0, badRequest(fmt.Errorf("invalid usdt amount %q", s))
	}
	return v, nil
}
