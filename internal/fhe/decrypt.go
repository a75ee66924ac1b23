package fhe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/key"
	"github.com/CamberLoid/TrustlessSwap/internal/misc"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
)

const (
	MaxDurationDays = 365
	secondsPerDay   = 24 * 60 * 60

	userDecryptDomain = "UserDecryptRequestVerification"
)

var (
	ErrBadSignature  = errors.New("fhe: user decrypt signature is invalid")
	ErrRequestWindow = errors.New("fhe: user decrypt request is outside its validity window")
)

// UserDecryptRequest authorises the coprocessor to re-encrypt Handle under
// PublicKey. The signature covers the public key, the contract and the
// validity window, so one signature serves every handle of that contract.
type UserDecryptRequest struct {
	Handle         Handle        `json:"handle"`
	Contract       users.Address `json:"contract"`
	User           users.Address `json:"user"`
	PublicKey      []byte        `json:"publicKey"`
	SignerKey      []byte        `json:"signerKey"`
	StartTimestamp int64         `json:"startTimestamp"`
	DurationDays   int           `json:"durationDays"`
	Signature      []byte        `json:"signature"`
}

// Digest 返回需要被用户签名的摘要
func (r *UserDecryptRequest) Digest() []byte {
	var window [16]byte
	binary.BigEndian.PutUint64(window[:8], uint64(r.StartTimestamp))
	binary.BigEndian.PutUint64(window[8:], uint64(r.DurationDays))

	return misc.Keccak256(
		[]byte(userDecryptDomain),
		misc.Keccak256(r.PublicKey),
		r.Contract[:],
		window[:],
	)
}

// authorize 检查签名、有效期以及 user 和 contract 是否都在句柄的 ACL 中
func authorize(ctx context.Context, store CiphertextStore, req *UserDecryptRequest, now time.Time) error {
	if req.Handle.IsNull() {
		return ErrUnknownHandle
	}
	if req.DurationDays < 1 || req.DurationDays > MaxDurationDays {
		return fmt.Errorf("%w: duration %d days", ErrRequestWindow, req.DurationDays)
	}
	end := req.StartTimestamp + int64(req.DurationDays)*secondsPerDay
	if ts := now.Unix(); ts < req.StartTimestamp || ts >= end {
		return ErrRequestWindow
	}

	signer, err := users.VerifyDigestSignature(req.SignerKey, req.Digest(), req.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != req.User {
		return fmt.Errorf("%w: signer %s is not %s", ErrBadSignature, signer, req.User)
	}

	for _, principal := range []users.Address{req.User, req.Contract} {
		ok, err := store.Allowed(ctx, req.Handle, principal)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s on %s", ErrNotAllowed, principal, req.Handle)
		}
	}
	return nil
}

// seal 用用户的 CKKS 公钥加密 v，只有对应私钥的持有者能够打开
func seal(v uint64, publicKey []byte) ([]byte, error) {
	pk, err := key.UnmarshalCKKSPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid user public key: %w", err)
	}
	ct, err := misc.EncryptUint64(v, pk)
	if err != nil {
		return nil, err
	}
	return ct.MarshalBinary()
}
