// 包 clientlib 是账本服务的客户端：登录、兑换、查询以及用户解密
package clientlib

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/events"
	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/restfulpayload"
	"github.com/CamberLoid/TrustlessSwap/internal/transaction"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const DefaultServerURL = "http://127.0.0.1:16001"

// token 在过期前这么久就重新登录
const tokenRefreshMargin = 30 * time.Second

// APIError 是服务端返回的失败响应
type APIError struct {
	StatusCode  int
	Code        string
	Message     string
	Transaction *transaction.Transaction
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client 以 user 的身份访问账本服务。只读接口不需要 user
type Client struct {
	baseURL string
	http    *http.Client
	user    *users.User
	now     func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
	ledger   *restfulpayload.ProtocolResp
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(baseURL string, user *users.User, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, errors.Wrap(err, "invalid server url")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		user:    user,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// --- 账本信息 ---

func (c *Client) Version(ctx context.Context) (string, error) {
	var resp restfulpayload.VersionResp
	if err := c.do(ctx, http.MethodGet, restfulpayload.VersionEndpoint, nil, false, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// Protocol 返回账本信息，结果会被缓存
func (c *Client) Protocol(ctx context.Context) (*restfulpayload.ProtocolResp, error) {
	c.mu.Lock()
	cached := c.ledger
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	resp := new(restfulpayload.ProtocolResp)
	if err := c.do(ctx, http.MethodGet, restfulpayload.ProtocolEndpoint, nil, false, resp); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.ledger = resp
	c.mu.Unlock()
	return resp, nil
}

// QuoteUsdt 查询 wei 能换到的 USDT（最小单位）
func (c *Client) QuoteUsdt(ctx context.Context, wei *big.Int) (*big.Int, error) {
	var resp restfulpayload.QuoteResp
	path := restfulpayload.QuoteUsdtEndpoint + "?wei=" + url.QueryEscape(wei.String())
	if err := c.do(ctx, http.MethodGet, path, nil, false, &resp); err != nil {
		return nil, err
	}
	return parseBig(resp.Out)
}

// QuoteEth 查询 usdt 能赎回的 wei
func (c *Client) QuoteEth(ctx context.Context, usdt uint64) (*big.Int, error) {
	var resp restfulpayload.QuoteResp
	path := restfulpayload.QuoteEthEndpoint + "?usdt=" + strconv.FormatUint(usdt, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, false, &resp); err != nil {
		return nil, err
	}
	return parseBig(resp.Out)
}

// --- 登录 ---

// Login 对登录摘要签名并换取 token
func (c *Client) Login(ctx context.Context) error {
	if c.user == nil {
		return errors.New("login needs a user")
	}
	p, err := c.Protocol(ctx)
	if err != nil {
		return err
	}
	signer, err := c.user.ECDSAPublicKeyBytes()
	if err != nil {
		return err
	}
	ts := c.now().Unix()
	sig, err := c.user.SignDigest(restfulpayload.LoginDigest(p.Ledger, ts))
	if err != nil {
		return errors.Wrap(err, "sign login digest")
	}

	var resp restfulpayload.TokenResp
	req := restfulpayload.TokenReq{SignerKey: signer, Timestamp: ts, Signature: sig}
	if err = c.do(ctx, http.MethodPost, restfulpayload.TokenEndpoint, req, false, &resp); err != nil {
		return err
	}

	c.mu.Lock()
	c.token = resp.Token
	c.tokenExp = time.Unix(resp.ExpiresAt, 0)
	c.mu.Unlock()
	return nil
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, exp := c.token, c.tokenExp
	c.mu.Unlock()
	if token != "" && c.now().Add(tokenRefreshMargin).Before(exp) {
		return token, nil
	}

	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

// --- 兑换 ---

// SwapEth 用 wei 兑换加密 USDT，返回新的余额句柄和回执
func (c *Client) SwapEth(ctx context.Context, wei *big.Int) (*restfulpayload.SwapEthResp, error) {
	resp := new(restfulpayload.SwapEthResp)
	req := restfulpayload.SwapEthReq{Wei: wei.String()}
	if err := c.do(ctx, http.MethodPost, restfulpayload.SwapEthEndpoint, req, true, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SwapUsdt 赎回 usdt（最小单位），返回收到的 wei 和回执
func (c *Client) SwapUsdt(ctx context.Context, usdt uint64) (*restfulpayload.SwapUsdtResp, error) {
	resp := new(restfulpayload.SwapUsdtResp)
	req := restfulpayload.SwapUsdtReq{Usdt: strconv.FormatUint(usdt, 10)}
	if err := c.do(ctx, http.MethodPost, restfulpayload.SwapUsdtEndpoint, req, true, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// --- 查询 ---

func (c *Client) Balance(ctx context.Context, addr users.Address) (fhe.Handle, error) {
	var resp restfulpayload.BalanceResp
	if err := c.do(ctx, http.MethodGet, restfulpayload.BalanceEndpoint+"/"+addr.String(), nil, false, &resp); err != nil {
		return fhe.NullHandle, err
	}
	return resp.Handle, nil
}

func (c *Client) NativeBalance(ctx context.Context, addr users.Address) (*big.Int, error) {
	var resp restfulpayload.NativeResp
	if err := c.do(ctx, http.MethodGet, restfulpayload.NativeEndpoint+"/"+addr.String(), nil, false, &resp); err != nil {
		return nil, err
	}
	return parseBig(resp.Wei)
}

func (c *Client) Events(ctx context.Context, f events.Filter) ([]events.Event, error) {
	q := url.Values{}
	if f.User != nil {
		q.Set("user", f.User.String())
	}
	if f.Kind != "" {
		q.Set("kind", string(f.Kind))
	}
	if f.SinceSeq > 0 {
		q.Set("since", strconv.FormatUint(f.SinceSeq, 10))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := restfulpayload.EventsEndpoint
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp restfulpayload.EventsResp
	if err := c.do(ctx, http.MethodGet, path, nil, false, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *Client) Transaction(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	var resp restfulpayload.TransactionResp
	if err := c.do(ctx, http.MethodGet, restfulpayload.TransactionEndpoint+"/"+id.String(), nil, false, &resp); err != nil {
		return nil, err
	}
	return resp.Transaction, nil
}

// Faucet 只在开发环境的服务端可用
func (c *Client) Faucet(ctx context.Context, addr users.Address, wei *big.Int) (*transaction.Transaction, error) {
	var resp restfulpayload.TransactionResp
	req := restfulpayload.FaucetReq{Address: addr, Wei: wei.String()}
	if err := c.do(ctx, http.MethodPost, restfulpayload.FaucetEndpoint, req, false, &resp); err != nil {
		return nil, err
	}
	return resp.Transaction, nil
}

// --- HTTP ---

// do 发送请求并把成功响应解码到 out，失败响应转换为 *APIError
func (c *Client) do(ctx context.Context, method, path string, body interface{}, auth bool, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token, err := c.bearer(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		var f restfulpayload.Failure
		if jsonErr := json.Unmarshal(data, &f); jsonErr != nil || f.Code == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		}
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        f.Code,
			Message:     f.Err,
			Transaction: f.Transaction,
		}
	}

	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "decode response")
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q in response", s)
	}
	return v, nil
}
