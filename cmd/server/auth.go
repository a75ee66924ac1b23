package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/config"
	"github.com/CamberLoid/TrustlessSwap/internal/restfulpayload"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	callerKey = "caller"

	// 登录签名的时间戳与服务端时间允许的偏差
	maxLoginDrift = 5 * time.Minute
)

// TokenService 签发和验证 HS256 JWT，subject 为调用者地址
type TokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{
		secret: []byte(cfg.Secret),
		expiry: cfg.Expiry,
		issuer: cfg.Issuer,
		now:    time.Now,
	}
}

func (s *TokenService) Generate(addr users.Address) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.expiry)
	claims := jwt.MapClaims{
		"sub": addr.String(),
		"iat": now.Unix(),
		"exp": exp.Unix(),
		"iss": s.issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, exp, nil
}

// Validate 验证 token 并返回其中的地址
func (s *TokenService) Validate(tokenStr string) (users.Address, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return users.ZeroAddress, fmt.Errorf("parsing token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return users.ZeroAddress, fmt.Errorf("reading subject: %w", err)
	}
	return users.ParseAddress(sub)
}

// JWTAuth 要求 Authorization: Bearer <token>，并把调用者地址放入上下文
func JWTAuth(tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, restfulpayload.Failure{
				Status:    restfulpayload.StatusFailed,
				Code:      "AUTH_001",
				Err:       "missing or invalid authorization header",
				RequestID: c.GetString(requestIDKey),
			})
			return
		}

		addr, err := tokens.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, restfulpayload.Failure{
				Status:    restfulpayload.StatusFailed,
				Code:      "AUTH_001",
				Err:       "invalid or expired token",
				RequestID: c.GetString(requestIDKey),
			})
			return
		}

		c.Set(callerKey, addr)
		c.Next()
	}
}

func callerFrom(c *gin.Context) (users.Address, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return users.ZeroAddress, false
	}
	addr, ok := v.(users.Address)
	return addr, ok
}

// Handle POST /v1/auth/token
// 客户端用签名私钥对 LoginDigest 签名，服务端由签名公钥派生地址后签发 token
func (s *Server) HandlerToken(c *gin.Context) {
	var req restfulpayload.TokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		returnFailure(c, s.log, badRequest(err))
		return
	}

	drift := s.now().Sub(time.Unix(req.Timestamp, 0))
	if drift > maxLoginDrift || drift < -maxLoginDrift {
		returnFailure(c, s.log, unauthorized(errors.New("login timestamp is too far from server time")))
		return
	}

	digest := restfulpayload.LoginDigest(s.ledger.Address(), req.Timestamp)
	addr, err := users.VerifyDigestSignature(req.SignerKey, digest, req.Signature)
	if err != nil {
		returnFailure(c, s.log, unauthorized(fmt.Errorf("login signature: %w", err)))
		return
	}

	token, exp, err := s.tokens.Generate(addr)
	if err != nil {
		returnFailure(c, s.log, err)
		return
	}

	s.log.Info().Str("address", addr.String()).Msg("token issued")
	c.JSON(http.StatusOK, restfulpayload.TokenResp{
		Status:    restfulpayload.StatusOK,
		Token:     token,
		Address:   addr,
		ExpiresAt: exp.Unix(),
	})
}
