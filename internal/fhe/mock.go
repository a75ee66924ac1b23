package fhe

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/CamberLoid/TrustlessSwap/internal/users"
)

// MockBackend keeps cleartext values behind handles. It has the same handle,
// type and ACL semantics as the CKKS coprocessor and is what local tests and
// the dev server run against.
type MockBackend struct {
	opts   options
	minter *minter
}

func NewMockBackend(opts ...Option) *MockBackend {
	return &MockBackend{
		opts:   buildOptions(opts),
		minter: newMinter(handleVersion),
	}
}

func (m *MockBackend) ProtocolID() uint64 {
	return m.opts.protocolID
}

func (m *MockBackend) put(ctx context.Context, op string, t Type, v uint64, inputs ...[]byte) (Handle, error) {
	h := m.minter.mint(op, t, inputs...)
	if err := m.opts.store.PutCiphertext(ctx, h, uint64Bytes(v)); err != nil {
		return NullHandle, err
	}
	return h, nil
}

func (m *MockBackend) load(ctx context.Context, h Handle, t Type) (uint64, error) {
	if err := expectType(h, t); err != nil {
		return 0, err
	}
	if h.IsNull() {
		return 0, nil
	}
	b, err := m.opts.store.GetCiphertext(ctx, h)
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: malformed mock value for %s", ErrUnknownHandle, h)
	}
	return binary.BigEndian.Uint64(b), nil
}

func (m *MockBackend) Encrypt(ctx context.Context, value uint64) (Handle, error) {
	return m.put(ctx, "encrypt", TypeUint64, value, uint64Bytes(value))
}

func (m *MockBackend) Add(ctx context.Context, a, b Handle) (Handle, error) {
	va, err := m.load(ctx, a, TypeUint64)
	if err != nil {
		return NullHandle, err
	}
	vb, err := m.load(ctx, b, TypeUint64)
	if err != nil {
		return NullHandle, err
	}
	if va > math.MaxUint64-vb {
		return NullHandle, ErrOverflow
	}
	return m.put(ctx, "add", TypeUint64, va+vb, a[:], b[:])
}

func (m *MockBackend) SubIfSufficient(ctx context.Context, balance Handle, amount uint64) (Handle, Handle, error) {
	v, err := m.load(ctx, balance, TypeUint64)
	if err != nil {
		return NullHandle, NullHandle, err
	}

	next, ok := v, uint64(0)
	if v >= amount {
		next, ok = v-amount, 1
	}

	newBalance, err := m.put(ctx, "sub", TypeUint64, next, balance[:], uint64Bytes(amount))
	if err != nil {
		return NullHandle, NullHandle, err
	}
	success, err := m.put(ctx, "ge", TypeBool, ok, balance[:], uint64Bytes(amount))
	if err != nil {
		return NullHandle, NullHandle, err
	}
	return newBalance, success, nil
}

func (m *MockBackend) Allow(ctx context.Context, h Handle, principal users.Address) error {
	return m.opts.store.Grant(ctx, h, principal)
}

func (m *MockBackend) IsAllowed(ctx context.Context, h Handle, principal users.Address) (bool, error) {
	return m.opts.store.Allowed(ctx, h, principal)
}

func (m *MockBackend) RevealBool(ctx context.Context, flag Handle, requester users.Address) (bool, error) {
	if flag.IsNull() || flag.Type() != TypeBool {
		return false, ErrTypeMismatch
	}
	ok, err := m.opts.store.Allowed(ctx, flag, requester)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNotAllowed
	}
	v, err := m.load(ctx, flag, TypeBool)
	return v == 1, err
}

func (m *MockBackend) UserDecrypt(ctx context.Context, req *UserDecryptRequest) ([]byte, error) {
	if err := authorize(ctx, m.opts.store, req, m.opts.now()); err != nil {
		return nil, err
	}
	v, err := m.load(ctx, req.Handle, req.Handle.Type())
	if err != nil {
		return nil, err
	}
	return seal(v, req.PublicKey)
}

// Cleartext 直接读取句柄的明文，只有 mock 提供，测试用
func (m *MockBackend) Cleartext(ctx context.Context, h Handle) (uint64, error) {
	return m.load(ctx, h, h.Type())
}
