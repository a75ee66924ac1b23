// Package swap is the confidential swap ledger: native currency (wei) in,
// encrypted USDT balance out, and back, at a fixed rate. The ledger never
// sees a USDT balance in the clear; every balance change is delegated to an
// fhe.Backend and only the resulting handle is stored.
package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/events"
	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/transaction"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExpectedProtocolID is the backend variant the ledger is built against.
const ExpectedProtocolID = fhe.ProtocolID

// DefaultAddress 是账本默认的地址，相当于零地址以 nonce 0 部署的合约
var DefaultAddress = users.CreateAddress(users.ZeroAddress, 0)

type Ledger struct {
	// 同一时间只执行一个操作
	mu sync.Mutex

	address users.Address
	backend fhe.Backend
	store   Store
	sinks   []events.Sink
	log     zerolog.Logger
	now     func() time.Time
}

type Option func(*Ledger)

// WithAddress sets the ledger's own address. It is the principal the ledger
// is granted on every balance handle and the account holding the reserve.
func WithAddress(addr users.Address) Option {
	return func(l *Ledger) { l.address = addr }
}

func WithSinks(sinks ...events.Sink) Option {
	return func(l *Ledger) { l.sinks = append(l.sinks, sinks...) }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(backend fhe.Backend, store Store, opts ...Option) *Ledger {
	l := &Ledger{
		address: DefaultAddress,
		backend: backend,
		store:   store,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With().Str("component", "ledger").Str("ledger", l.address.String()).Logger()
	return l
}

func (l *Ledger) Address() users.Address {
	return l.address
}

// ConfidentialProtocolID 返回账本期望的后端协议号
func (l *Ledger) ConfidentialProtocolID() uint64 {
	return ExpectedProtocolID
}

func (l *Ledger) checkBackend() error {
	if id := l.backend.ProtocolID(); id != ExpectedProtocolID {
		return fmt.Errorf("%w: got protocol %d, want %d", ErrBackendUnsupported, id, ExpectedProtocolID)
	}
	return nil
}

// --- 只读部分 ---

// GetEncryptedBalance 返回 user 当前的余额句柄，从未入金的账户返回空句柄。
// 这里不做权限检查，能否解密由后端的 ACL 决定
func (l *Ledger) GetEncryptedBalance(ctx context.Context, user users.Address) (h fhe.Handle, err error) {
	err = l.store.View(ctx, func(tx Tx) error {
		h, err = tx.Balance(ctx, user)
		return err
	})
	return
}

func (l *Ledger) NativeBalance(ctx context.Context, addr users.Address) (v *big.Int, err error) {
	err = l.store.View(ctx, func(tx Tx) error {
		v, err = tx.NativeBalance(ctx, addr)
		return err
	})
	return
}

func (l *Ledger) Events(ctx context.Context, f events.Filter) (evs []events.Event, err error) {
	err = l.store.View(ctx, func(tx Tx) error {
		evs, err = tx.Events(ctx, f)
		return err
	})
	return
}

func (l *Ledger) Transaction(ctx context.Context, id uuid.UUID) (t *transaction.Transaction, err error) {
	err = l.store.View(ctx, func(tx Tx) error {
		t, err = tx.GetTransaction(ctx, id)
		return err
	})
	return
}

// --- 写入部分 ---

// SwapEthForUsdt 把 value wei 从 caller 转入账本，并给 caller 的加密余额加上
// PreviewUsdtOut(value)。value 为 0 是允许的，此时计入 0
func (l *Ledger) SwapEthForUsdt(ctx context.Context, caller users.Address, value *big.Int) (fhe.Handle, *transaction.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if value == nil {
		value = new(big.Int)
	}
	rec := transaction.New(transaction.MethodSwapEthForUsdt, caller, value, l.now())

	var evs []events.Event
	err := l.store.Update(ctx, func(tx Tx) error {
		if err := l.checkBackend(); err != nil {
			return err
		}
		if !ValidWei(value) {
			return fmt.Errorf("%w: %s wei", ErrInvalidAmount, value)
		}
		credit := PreviewUsdtOut(value)
		if !credit.IsUint64() {
			return fmt.Errorf("%w: %s", ErrAmountOverflow, credit)
		}
		usdt := credit.Uint64()

		// 收款
		if err := l.move(ctx, tx, caller, l.address, value, ErrInsufficientFunds); err != nil {
			return err
		}

		balance, err := tx.Balance(ctx, caller)
		if err != nil {
			return err
		}
		amount, err := l.backend.Encrypt(ctx, usdt)
		if err != nil {
			return fmt.Errorf("encrypt credit: %w", err)
		}
		updated, err := l.backend.Add(ctx, balance, amount)
		if errors.Is(err, fhe.ErrOverflow) {
			return fmt.Errorf("%w: %w", ErrAmountOverflow, err)
		}
		if err != nil {
			return fmt.Errorf("add credit: %w", err)
		}
		if err = l.backend.Allow(ctx, updated, l.address); err != nil {
			return fmt.Errorf("grant ledger: %w", err)
		}
		if err = tx.SetBalance(ctx, caller, updated); err != nil {
			return err
		}

		e := events.Event{
			TxID:      rec.UUID,
			Kind:      events.KindEthSwapped,
			User:      caller,
			AmountIn:  new(big.Int).Set(value),
			AmountOut: credit,
			Timestamp: l.now(),
		}
		if err = tx.AppendEvent(ctx, &e); err != nil {
			return err
		}
		evs = append(evs, e)

		rec.Amount = usdt
		rec.Handle = updated
		rec.Confirm()
		return tx.PutTransaction(ctx, rec)
	})
	if err != nil {
		l.revert(ctx, rec, err)
		return fhe.NullHandle, rec, err
	}

	l.grant(ctx, rec, caller)
	l.log.Info().
		Str("tx", rec.UUID.String()).
		Str("caller", caller.String()).
		Str("wei_in", value.String()).
		Uint64("usdt_out", rec.Amount).
		Msg("swapEthForUsdt confirmed")
	l.publish(ctx, evs)
	return rec.Handle, rec, nil
}

// SwapUsdtForEth 赎回 usdt，成功时返回转给 caller 的 wei。
// 余额是否足够由后端的加密比较决定，账本只看到比较结果；余额不足时整个调用回滚
func (l *Ledger) SwapUsdtForEth(ctx context.Context, caller users.Address, usdt uint64) (*big.Int, *transaction.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	weiOut := PreviewEthOut(usdt)
	rec := transaction.New(transaction.MethodSwapUsdtForEth, caller, weiOut, l.now())
	rec.Amount = usdt

	var evs []events.Event
	err := l.store.Update(ctx, func(tx Tx) error {
		if err := l.checkBackend(); err != nil {
			return err
		}

		balance, err := tx.Balance(ctx, caller)
		if err != nil {
			return err
		}
		updated, success, err := l.backend.SubIfSufficient(ctx, balance, usdt)
		if err != nil {
			return fmt.Errorf("conditional debit: %w", err)
		}
		if err = l.backend.Allow(ctx, success, l.address); err != nil {
			return fmt.Errorf("grant success flag: %w", err)
		}
		ok, err := l.backend.RevealBool(ctx, success, l.address)
		if err != nil {
			return fmt.Errorf("reveal success flag: %w", err)
		}
		if !ok {
			return ErrInsufficientBalance
		}

		// 先记账，再转账
		if err = l.backend.Allow(ctx, updated, l.address); err != nil {
			return fmt.Errorf("grant ledger: %w", err)
		}
		if err = tx.SetBalance(ctx, caller, updated); err != nil {
			return err
		}
		if err = l.move(ctx, tx, l.address, caller, weiOut, ErrTransferFailed); err != nil {
			return err
		}

		e := events.Event{
			TxID:      rec.UUID,
			Kind:      events.KindUsdtSwapped,
			User:      caller,
			AmountIn:  new(big.Int).SetUint64(usdt),
			AmountOut: new(big.Int).Set(weiOut),
			Timestamp: l.now(),
		}
		if err = tx.AppendEvent(ctx, &e); err != nil {
			return err
		}
		evs = append(evs, e)

		rec.Handle = updated
		rec.Confirm()
		return tx.PutTransaction(ctx, rec)
	})
	if err != nil {
		l.revert(ctx, rec, err)
		return nil, rec, err
	}

	l.grant(ctx, rec, caller)
	l.log.Info().
		Str("tx", rec.UUID.String()).
		Str("caller", caller.String()).
		Uint64("usdt_in", usdt).
		Str("wei_out", weiOut.String()).
		Msg("swapUsdtForEth confirmed")
	l.publish(ctx, evs)
	return weiOut, rec, nil
}

// Fund 给 addr 增加 wei 的原生余额。开发环境的水龙头以及部署时给账本注入储备金使用
func (l *Ledger) Fund(ctx context.Context, addr users.Address, wei *big.Int) (*transaction.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !ValidWei(wei) {
		return nil, fmt.Errorf("%w: %v wei", ErrInvalidAmount, wei)
	}
	rec := transaction.New(transaction.MethodFund, addr, wei, l.now())
	err := l.store.Update(ctx, func(tx Tx) error {
		cur, err := tx.NativeBalance(ctx, addr)
		if err != nil {
			return err
		}
		next := cur.Add(cur, wei)
		if !ValidWei(next) {
			return fmt.Errorf("%w: balance overflows uint256", ErrInvalidAmount)
		}
		if err = tx.SetNativeBalance(ctx, addr, next); err != nil {
			return err
		}
		rec.Confirm()
		return tx.PutTransaction(ctx, rec)
	})
	if err != nil {
		l.revert(ctx, rec, err)
		return rec, err
	}
	l.log.Debug().Str("addr", addr.String()).Str("wei", wei.String()).Msg("funded")
	return rec, nil
}

// --- 内部工具 ---

// grant 在提交之后把新余额授权给 caller。事务内只授权给账本自己，
// 回滚的调用不会给 caller 留下可解密的句柄
func (l *Ledger) grant(ctx context.Context, rec *transaction.Transaction, caller users.Address) {
	if err := l.backend.Allow(ctx, rec.Handle, caller); err != nil {
		l.log.Error().
			Err(err).
			Str("tx", rec.UUID.String()).
			Str("caller", caller.String()).
			Msg("failed to grant the new balance to the caller")
	}
}

// move 在同一个事务中把 wei 从 from 转给 to，余额不足时返回 short
func (l *Ledger) move(ctx context.Context, tx Tx, from, to users.Address, wei *big.Int, short error) error {
	if wei.Sign() == 0 || from == to {
		return nil
	}
	src, err := tx.NativeBalance(ctx, from)
	if err != nil {
		return err
	}
	if src.Cmp(wei) < 0 {
		return fmt.Errorf("%w: %s has %s wei, needs %s", short, from, src, wei)
	}
	dst, err := tx.NativeBalance(ctx, to)
	if err != nil {
		return err
	}
	if err = tx.SetNativeBalance(ctx, from, src.Sub(src, wei)); err != nil {
		return err
	}
	return tx.SetNativeBalance(ctx, to, dst.Add(dst, wei))
}

// revert 记录失败调用的回执。写入失败只记日志，不影响返回给调用者的错误
func (l *Ledger) revert(ctx context.Context, rec *transaction.Transaction, cause error) {
	rec.Revert(cause)
	l.log.Warn().
		Err(cause).
		Str("tx", rec.UUID.String()).
		Str("method", rec.Method).
		Str("caller", rec.Caller.String()).
		Msg("call reverted")

	err := l.store.Update(ctx, func(tx Tx) error {
		return tx.PutTransaction(ctx, rec)
	})
	if err != nil {
		l.log.Error().Err(err).Str("tx", rec.UUID.String()).Msg("failed to record reverted call")
	}
}

func (l *Ledger) publish(ctx context.Context, evs []events.Event) {
	for _, s := range l.sinks {
		if err := s.Publish(ctx, evs...); err != nil {
			l.log.Error().Err(err).Msg("failed to publish events")
		}
	}
}
