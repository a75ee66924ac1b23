package main

import (
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/restfulpayload"
	"github.com/CamberLoid/TrustlessSwap/internal/swap"
	"github.com/CamberLoid/TrustlessSwap/internal/transaction"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// --- 错误部分 ---

// apiError 携带稳定的错误码和 HTTP 状态
type apiError struct {
	Code   string
	Status int
	Err    error
}

func (e *apiError) Error() string {
	return e.Err.Error()
}

func (e *apiError) Unwrap() error {
	return e.Err
}

func badRequest(err error) *apiError {
	return &apiError{Code: "REQ_001", Status: http.StatusBadRequest, Err: err}
}

func unauthorized(err error) *apiError {
	return &apiError{Code: "AUTH_001", Status: http.StatusUnauthorized, Err: err}
}

// 账本与协处理器的错误到 HTTP 状态的映射，按顺序匹配
var errorTable = []struct {
	target error
	code   string
	status int
}{
	{swap.ErrInvalidAmount, "SWAP_001", http.StatusBadRequest},
	{swap.ErrAmountOverflow, "SWAP_002", http.StatusBadRequest},
	{swap.ErrInsufficientBalance, "SWAP_003", http.StatusPaymentRequired},
	{swap.ErrInsufficientFunds, "SWAP_004", http.StatusPaymentRequired},
	{swap.ErrTransferFailed, "SWAP_005", http.StatusServiceUnavailable},
	{swap.ErrBackendUnsupported, "SWAP_006", http.StatusServiceUnavailable},
	{swap.ErrNotFound, "SWAP_007", http.StatusNotFound},
	{fhe.ErrNotAllowed, "FHE_001", http.StatusForbidden},
	{fhe.ErrBadSignature, "FHE_002", http.StatusUnauthorized},
	{fhe.ErrRequestWindow, "FHE_003", http.StatusForbidden},
	{fhe.ErrUnknownHandle, "FHE_004", http.StatusNotFound},
	{fhe.ErrTypeMismatch, "FHE_005", http.StatusBadRequest},
	{fhe.ErrOverflow, "FHE_006", http.StatusBadRequest},
}

// classify 返回错误码、状态以及可以返回给客户端的信息
// 未知错误不向客户端暴露细节
func classify(err error) (code string, status int, msg string) {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Code, ae.Status, ae.Error()
	}
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.code, e.status, err.Error()
		}
	}
	return "SYS_001", http.StatusInternalServerError, "internal server error"
}

// --- 响应部分 ---

func returnFailure(c *gin.Context, log zerolog.Logger, err error) {
	returnReverted(c, log, err, nil)
}

// returnReverted 在失败响应中附带回滚的回执
func returnReverted(c *gin.Context, log zerolog.Logger, err error, rec *transaction.Transaction) {
	code, status, msg := classify(err)

	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).
		Str("code", code).
		Str("request_id", c.GetString(requestIDKey)).
		Msg("request failed")

	c.AbortWithStatusJSON(status, restfulpayload.Failure{
		Status:      restfulpayload.StatusFailed,
		Code:        code,
		Err:         msg,
		RequestID:   c.GetString(requestIDKey),
		Transaction: rec,
	})
}

// --- 中间件部分 ---

// RequestID 为每个请求分配 ID，客户端提供的 X-Request-ID 优先
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs every HTTP request with structured fields.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		if status >= http.StatusInternalServerError {
			ev = log.Error()
		} else if status >= http.StatusBadRequest {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(requestIDKey)).
			Msg("request")
	}
}

// Recovery recovers from panics and returns 500.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				log.Error().
					Interface("panic", p).
					Bytes("stack", debug.Stack()).
					Str("request_id", c.GetString(requestIDKey)).
					Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, restfulpayload.Failure{
					Status:    restfulpayload.StatusFailed,
					Code:      "SYS_001",
					Err:       "internal server error",
					RequestID: c.GetString(requestIDKey),
				})
			}
		}()
		c.Next()
	}
}

func handleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, restfulpayload.Failure{
		Status:    restfulpayload.StatusFailed,
		Code:      "REQ_404",
		Err:       "no such endpoint: " + c.Request.URL.Path,
		RequestID: c.GetString(requestIDKey),
	})
}
