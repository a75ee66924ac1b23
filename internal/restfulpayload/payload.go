// 包 restfulpayload 定义客户端与服务端通信使用的 JSON 结构体
// []byte 字段由 encoding/json 进行 base64 编码，金额使用十进制字符串
package restfulpayload

import (
	"encoding/binary"

	"github.com/CamberLoid/TrustlessSwap/internal/events"
	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/misc"
	"github.com/CamberLoid/TrustlessSwap/internal/transaction"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
)

const (
	VersionEndpoint     = "/version"
	ProtocolEndpoint    = "/v1/protocol"
	QuoteUsdtEndpoint   = "/v1/quote/usdt"
	QuoteEthEndpoint    = "/v1/quote/eth"
	TokenEndpoint       = "/v1/auth/token"
	SwapEthEndpoint     = "/v1/swap/eth"
	SwapUsdtEndpoint    = "/v1/swap/usdt"
	BalanceEndpoint     = "/v1/balance"
	NativeEndpoint      = "/v1/native"
	EventsEndpoint      = "/v1/events"
	TransactionEndpoint = "/v1/transaction"
	DecryptEndpoint     = "/v1/decrypt"
	FaucetEndpoint      = "/v1/faucet"
)

const (
	StatusOK     = "OK"
	StatusFailed = "failed"
)

const loginDomain = "TrustlessSwapLogin"

// LoginDigest 是登录时需要签名的摘要，绑定账本地址和签名时间
func LoginDigest(ledger users.Address, timestamp int64) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	return misc.Keccak256([]byte(loginDomain), ledger[:], ts[:])
}

// Failure 是所有失败响应的格式，回滚的调用会附带 reverted 回执
type Failure struct {
	Status      string                   `json:"status"`
	Code        string                   `json:"code"`
	Err         string                   `json:"err"`
	RequestID   string                   `json:"requestId,omitempty"`
	Transaction *transaction.Transaction `json:"transaction,omitempty"`
}

// --- 账本信息 ---

type VersionResp struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type ProtocolResp struct {
	Status       string        `json:"status"`
	Ledger       users.Address `json:"ledger"`
	ProtocolID   uint64        `json:"protocolId"`
	Rate         uint64        `json:"rate"`
	USDTDecimals uint64        `json:"usdtDecimals"`
}

// QuoteResp 的 In/Out 为最小单位的十进制字符串
type QuoteResp struct {
	Status string `json:"status"`
	In     string `json:"in"`
	Out    string `json:"out"`
}

// --- 登录 ---

// TokenReq 中 Signature 是 SignerKey 对 LoginDigest(ledger, Timestamp) 的签名
type TokenReq struct {
	SignerKey []byte `json:"signerKey"`
	Timestamp int64  `json:"timestamp"`
	Signature []byte `json:"signature"`
}

type TokenResp struct {
	Status    string        `json:"status"`
	Token     string        `json:"token"`
	Address   users.Address `json:"address"`
	ExpiresAt int64         `json:"expiresAt"`
}

// --- 兑换 ---

type SwapEthReq struct {
	Wei string `json:"wei"`
}

type SwapEthResp struct {
	Status      string                   `json:"status"`
	Handle      fhe.Handle               `json:"handle"`
	Transaction *transaction.Transaction `json:"transaction"`
}

type SwapUsdtReq struct {
	Usdt string `json:"usdt"`
}

type SwapUsdtResp struct {
	Status      string                   `json:"status"`
	Wei         string                   `json:"wei"`
	Transaction *transaction.Transaction `json:"transaction"`
}

// --- 查询 ---

type BalanceResp struct {
	Status  string        `json:"status"`
	Address users.Address `json:"address"`
	Handle  fhe.Handle    `json:"handle"`
}

type NativeResp struct {
	Status  string        `json:"status"`
	Address users.Address `json:"address"`
	Wei     string        `json:"wei"`
}

type EventsResp struct {
	Status string         `json:"status"`
	Events []events.Event `json:"events"`
}

type TransactionResp struct {
	Status      string                   `json:"status"`
	Transaction *transaction.Transaction `json:"transaction"`
}

// --- 解密 ---

// DecryptReq 与协处理器的用户解密请求格式相同
type DecryptReq = fhe.UserDecryptRequest

type DecryptResp struct {
	Status string `json:"status"`
	Sealed []byte `json:"sealed"`
}

// --- 水龙头 ---

type FaucetReq struct {
	Address users.Address `json:"address"`
	Wei     string        `json:"wei"`
}
