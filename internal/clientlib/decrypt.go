package clientlib

import (
	"context"
	"net/http"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/restfulpayload"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/pkg/errors"
)

// DefaultDecryptDays 是解密授权的默认有效天数
const DefaultDecryptDays = 10

// NewUserDecryptRequest 生成由 u 签名的解密请求，值会被封装到 u 的 CKKS 公钥下
func NewUserDecryptRequest(u *users.User, h fhe.Handle, contract users.Address, start time.Time, days int) (*fhe.UserDecryptRequest, error) {
	addr, err := u.Address()
	if err != nil {
		return nil, err
	}
	pk, err := u.CKKSPublicKeyBytes()
	if err != nil {
		return nil, err
	}
	signer, err := u.ECDSAPublicKeyBytes()
	if err != nil {
		return nil, err
	}

	req := &fhe.UserDecryptRequest{
		Handle:         h,
		Contract:       contract,
		User:           addr,
		PublicKey:      pk,
		SignerKey:      signer,
		StartTimestamp: start.Unix(),
		DurationDays:   days,
	}
	if req.Signature, err = u.SignDigest(req.Digest()); err != nil {
		return nil, errors.Wrap(err, "sign decrypt request")
	}
	return req, nil
}

// Decrypt 请求服务端把 h 重加密给当前用户并在本地打开
func (c *Client) Decrypt(ctx context.Context, h fhe.Handle) (uint64, error) {
	if c.user == nil {
		return 0, errors.New("decrypt needs a user")
	}
	p, err := c.Protocol(ctx)
	if err != nil {
		return 0, err
	}
	// 有效期从一分钟前开始，容忍客户端与服务端的时钟偏差
	req, err := NewUserDecryptRequest(c.user, h, p.Ledger, c.now().Add(-time.Minute), DefaultDecryptDays)
	if err != nil {
		return 0, err
	}

	var resp restfulpayload.DecryptResp
	if err = c.do(ctx, http.MethodPost, restfulpayload.DecryptEndpoint, req, false, &resp); err != nil {
		return 0, err
	}
	return c.user.OpenSealed(resp.Sealed)
}

// DecryptBalance 返回当前用户的 USDT 余额（最小单位）。
// 从未入金的账户是空句柄，直接返回 0，不发送解密请求
func (c *Client) DecryptBalance(ctx context.Context) (uint64, fhe.Handle, error) {
	if c.user == nil {
		return 0, fhe.NullHandle, errors.New("decrypt needs a user")
	}
	addr, err := c.user.Address()
	if err != nil {
		return 0, fhe.NullHandle, err
	}
	h, err := c.Balance(ctx, addr)
	if err != nil {
		return 0, fhe.NullHandle, err
	}
	if h.IsNull() {
		return 0, h, nil
	}
	v, err := c.Decrypt(ctx, h)
	return v, h, err
}
