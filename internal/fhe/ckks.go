package fhe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/CamberLoid/TrustlessSwap/internal/key"
	"github.com/CamberLoid/TrustlessSwap/internal/misc"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"
)

// CKKSBackend is a coprocessor built on lattigo's CKKS scheme. Values are
// encoded as 16-bit limbs (see misc.EncodeLimbs) so that additions and
// subtractions can be evaluated slot-wise. After every evaluation the result
// is refreshed with the coprocessor key: decrypted, rounded, carried and
// re-encrypted, which is also where overflow and the comparison of
// SubIfSufficient are decided. Nothing outside the coprocessor sees a
// cleartext.
type CKKSBackend struct {
	mu sync.Mutex

	opts      options
	minter    *minter
	params    ckks.Parameters
	sk        *rlwe.SecretKey
	pk        *rlwe.PublicKey
	evaluator ckks.Evaluator
}

func NewCKKSBackend(kc key.CKKSKeyChain, opts ...Option) (*CKKSBackend, error) {
	if kc.CKKSPrivateKey == nil || kc.CKKSPublicKey == nil {
		return nil, errors.New("fhe: coprocessor needs a complete CKKS keychain")
	}
	params := misc.GetCKKSParams()
	return &CKKSBackend{
		opts:      buildOptions(opts),
		minter:    newMinter(handleVersion),
		params:    params,
		sk:        kc.CKKSPrivateKey,
		pk:        kc.CKKSPublicKey,
		evaluator: ckks.NewEvaluator(params, rlwe.EvaluationKey{}),
	}, nil
}

func (b *CKKSBackend) ProtocolID() uint64 {
	return b.opts.protocolID
}

// --- 密文存取部分 ---

func (b *CKKSBackend) store(ctx context.Context, op string, t Type, v uint64, inputs ...[]byte) (Handle, error) {
	ct, err := misc.EncryptUint64(v, b.pk)
	if err != nil {
		return NullHandle, err
	}
	data, err := ct.MarshalBinary()
	if err != nil {
		return NullHandle, err
	}

	h := b.minter.mint(op, t, inputs...)
	if err = b.opts.store.PutCiphertext(ctx, h, data); err != nil {
		return NullHandle, err
	}
	return h, nil
}

func (b *CKKSBackend) load(ctx context.Context, h Handle, t Type) (*rlwe.Ciphertext, error) {
	if err := expectType(h, t); err != nil {
		return nil, err
	}
	if h.IsNull() {
		return misc.EncryptUint64(0, b.pk)
	}
	data, err := b.opts.store.GetCiphertext(ctx, h)
	if err != nil {
		return nil, err
	}
	ct, err := misc.UnmarshalCiphertext(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal ct failed: %w", err)
	}
	return ct, nil
}

func (b *CKKSBackend) decrypt(ct *rlwe.Ciphertext) (uint64, bool, error) {
	return misc.DecryptUint64(ct, b.sk)
}

// --- 密文运算部分 ---

// evaluate 处理 evaluator 可能出现的 panic
func evaluate(f func() *rlwe.Ciphertext) (ct *rlwe.Ciphertext, err error) {
	defer func() {
		if p := recover(); p != nil {
			ct = nil
			err = fmt.Errorf("calculating ciphertext failed: %v", p)
		}
	}()
	ct = f()
	return
}

func (b *CKKSBackend) Encrypt(ctx context.Context, value uint64) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store(ctx, "encrypt", TypeUint64, value)
}

func (b *CKKSBackend) Add(ctx context.Context, x, y Handle) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cx, err := b.load(ctx, x, TypeUint64)
	if err != nil {
		return NullHandle, err
	}
	cy, err := b.load(ctx, y, TypeUint64)
	if err != nil {
		return NullHandle, err
	}

	sum, err := evaluate(func() *rlwe.Ciphertext { return b.evaluator.AddNew(cx, cy) })
	if err != nil {
		return NullHandle, err
	}

	v, ok, err := b.decrypt(sum)
	if err != nil {
		return NullHandle, err
	}
	if !ok {
		return NullHandle, ErrOverflow
	}
	return b.store(ctx, "add", TypeUint64, v, x[:], y[:])
}

func (b *CKKSBackend) SubIfSufficient(ctx context.Context, balance Handle, amount uint64) (Handle, Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, err := b.load(ctx, balance, TypeUint64)
	if err != nil {
		return NullHandle, NullHandle, err
	}
	ca, err := misc.EncryptUint64(amount, b.pk)
	if err != nil {
		return NullHandle, NullHandle, err
	}

	diff, err := evaluate(func() *rlwe.Ciphertext {
		return b.evaluator.AddNew(cb, b.evaluator.MultByConstNew(ca, -1))
	})
	if err != nil {
		return NullHandle, NullHandle, err
	}

	// 差值为负时 DecryptUint64 返回 ok = false，此时余额保持不变
	next, sufficient, err := b.decrypt(diff)
	if err != nil {
		return NullHandle, NullHandle, err
	}
	flag := uint64(1)
	if !sufficient {
		flag = 0
		if next, _, err = b.decrypt(cb); err != nil {
			return NullHandle, NullHandle, err
		}
	}

	newBalance, err := b.store(ctx, "sub", TypeUint64, next, balance[:], uint64Bytes(amount))
	if err != nil {
		return NullHandle, NullHandle, err
	}
	success, err := b.store(ctx, "ge", TypeBool, flag, balance[:], uint64Bytes(amount))
	if err != nil {
		return NullHandle, NullHandle, err
	}
	return newBalance, success, nil
}

// --- ACL 与解密部分 ---

func (b *CKKSBackend) Allow(ctx context.Context, h Handle, principal users.Address) error {
	return b.opts.store.Grant(ctx, h, principal)
}

func (b *CKKSBackend) IsAllowed(ctx context.Context, h Handle, principal users.Address) (bool, error) {
	return b.opts.store.Allowed(ctx, h, principal)
}

func (b *CKKSBackend) RevealBool(ctx context.Context, flag Handle, requester users.Address) (bool, error) {
	if flag.IsNull() || flag.Type() != TypeBool {
		return false, ErrTypeMismatch
	}
	allowed, err := b.opts.store.Allowed(ctx, flag, requester)
	if err != nil {
		return false, err
	}
	if !allowed {
		return false, ErrNotAllowed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ct, err := b.load(ctx, flag, TypeBool)
	if err != nil {
		return false, err
	}
	v, _, err := b.decrypt(ct)
	return v == 1, err
}

func (b *CKKSBackend) UserDecrypt(ctx context.Context, req *UserDecryptRequest) ([]byte, error) {
	if err := authorize(ctx, b.opts.store, req, b.opts.now()); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ct, err := b.load(ctx, req.Handle, req.Handle.Type())
	if err != nil {
		return nil, err
	}
	v, ok, err := b.decrypt(ct)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fhe: corrupted ciphertext for %s", req.Handle)
	}
	return seal(v, req.PublicKey)
}
