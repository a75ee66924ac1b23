// Package fhe is the confidential-computation capability the swap ledger runs
// on: encrypted uint64 / bool values referenced by opaque handles, homomorphic
// arithmetic, an access-control list per handle, and the user-decryption
// protocol that re-encrypts a value for its owner.
package fhe

import (
	"context"
	"errors"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/users"
)

// ProtocolID identifies the backend variant implemented in this package
// (CKKS, 16-bit limb encoding of uint64, handle version 1).
const ProtocolID uint64 = 1

const handleVersion byte = 1

var (
	ErrUnknownHandle = errors.New("fhe: unknown handle")
	ErrTypeMismatch  = errors.New("fhe: handle type mismatch")
	ErrOverflow      = errors.New("fhe: uint64 overflow")
	ErrNotAllowed    = errors.New("fhe: principal is not allowed on handle")
)

//go:generate mockgen -destination=mocks/backend_mock.go -package=mocks . Backend

// Backend is the set of encrypted operations the ledger needs. A null handle
// passed as an operand is treated as an encrypted zero.
type Backend interface {
	// ProtocolID reports which backend variant this is.
	ProtocolID() uint64
	// Encrypt trivially encrypts a plaintext.
	Encrypt(ctx context.Context, value uint64) (Handle, error)
	// Add returns a + b, failing with ErrOverflow instead of wrapping.
	Add(ctx context.Context, a, b Handle) (Handle, error)
	// SubIfSufficient returns balance - amount when balance >= amount and a
	// fresh encryption of balance otherwise, plus an encrypted bool telling
	// which branch was taken.
	SubIfSufficient(ctx context.Context, balance Handle, amount uint64) (newBalance Handle, success Handle, err error)
	// Allow adds principal to the access-control list of h.
	Allow(ctx context.Context, h Handle, principal users.Address) error
	IsAllowed(ctx context.Context, h Handle, principal users.Address) (bool, error)
	// RevealBool decrypts an encrypted bool for a requester on its ACL.
	RevealBool(ctx context.Context, flag Handle, requester users.Address) (bool, error)
}

// UserDecrypter re-encrypts a value for its owner.
type UserDecrypter interface {
	UserDecrypt(ctx context.Context, req *UserDecryptRequest) ([]byte, error)
}

// CiphertextStore 保存句柄对应的密文以及访问控制列表
type CiphertextStore interface {
	PutCiphertext(ctx context.Context, h Handle, ct []byte) error
	GetCiphertext(ctx context.Context, h Handle) ([]byte, error)
	Grant(ctx context.Context, h Handle, principal users.Address) error
	Allowed(ctx context.Context, h Handle, principal users.Address) (bool, error)
}

type options struct {
	protocolID uint64
	store      CiphertextStore
	now        func() time.Time
}

type Option func(*options)

// WithProtocolID overrides the reported protocol id. Used to emulate an
// incompatible backend.
func WithProtocolID(id uint64) Option {
	return func(o *options) { o.protocolID = id }
}

// WithStore sets where ciphertexts and ACL entries are kept. Defaults to an
// in-memory store.
func WithStore(store CiphertextStore) Option {
	return func(o *options) { o.store = store }
}

// WithClock sets the time source used to check user-decrypt validity windows.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		protocolID: ProtocolID,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = NewMemoryStore()
	}
	return o
}

func expectType(h Handle, t Type) error {
	if h.IsNull() || h.Type() == t {
		return nil
	}
	return ErrTypeMismatch
}
