package swap

import (
	"context"
	"math/big"
	"sync"

	"github.com/CamberLoid/TrustlessSwap/internal/events"
	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/transaction"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/google/uuid"
)

// Store 是账本的持久化状态。Update 中的回调返回错误时，本次回调中的所有写入都会被丢弃
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the keyed state of the ledger as seen from one transaction.
type Tx interface {
	// Balance returns the stored handle, or the null handle for a fresh account.
	Balance(ctx context.Context, user users.Address) (fhe.Handle, error)
	SetBalance(ctx context.Context, user users.Address, h fhe.Handle) error

	// NativeBalance returns zero for an unknown account.
	NativeBalance(ctx context.Context, addr users.Address) (*big.Int, error)
	SetNativeBalance(ctx context.Context, addr users.Address, v *big.Int) error

	// AppendEvent assigns e.Seq.
	AppendEvent(ctx context.Context, e *events.Event) error
	Events(ctx context.Context, f events.Filter) ([]events.Event, error)

	PutTransaction(ctx context.Context, t *transaction.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error)
}

// --- 内存实现 ---

type memState struct {
	balances map[users.Address]fhe.Handle
	native   map[users.Address]*big.Int
	events   []events.Event
	txs      map[uuid.UUID]transaction.Transaction
}

func (s *memState) clone() *memState {
	next := &memState{
		balances: make(map[users.Address]fhe.Handle, len(s.balances)),
		native:   make(map[users.Address]*big.Int, len(s.native)),
		events:   append([]events.Event(nil), s.events...),
		txs:      make(map[uuid.UUID]transaction.Transaction, len(s.txs)),
	}
	for k, v := range s.balances {
		next.balances[k] = v
	}
	// big.Int 在写入时总是复制，这里可以共享
	for k, v := range s.native {
		next.native[k] = v
	}
	for k, v := range s.txs {
		next.txs[k] = v
	}
	return next
}

// MemoryStore keeps the ledger state in memory. Every Update works on a copy
// that replaces the current state only when the callback succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: new(memState).clone()}
}

func (s *MemoryStore) Update(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(&memTx{state: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *MemoryStore) View(_ context.Context, fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{state: s.state, readOnly: true})
}

func (s *MemoryStore) Close() error {
	return nil
}

type memTx struct {
	state    *memState
	readOnly bool
}

func (t *memTx) Balance(_ context.Context, user users.Address) (fhe.Handle, error) {
	return t.state.balances[user], nil
}

func (t *memTx) SetBalance(_ context.Context, user users.Address, h fhe.Handle) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.state.balances[user] = h
	return nil
}

func (t *memTx) NativeBalance(_ context.Context, addr users.Address) (*big.Int, error) {
	if v, ok := t.state.native[addr]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (t *memTx) SetNativeBalance(_ context.Context, addr users.Address, v *big.Int) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.state.native[addr] = new(big.Int).Set(v)
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, e *events.Event) error {
	if t.readOnly {
		return ErrReadOnly
	}
	e.Seq = uint64(len(t.state.events)) + 1
	t.state.events = append(t.state.events, *e)
	return nil
}

func (t *memTx) Events(_ context.Context, f events.Filter) ([]events.Event, error) {
	var res []events.Event
	for _, e := range t.state.events {
		if !f.Match(e) {
			continue
		}
		res = append(res, e)
		if f.Limit > 0 && len(res) >= f.Limit {
			break
		}
	}
	return res, nil
}

func (t *memTx) PutTransaction(_ context.Context, tx *transaction.Transaction) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.state.txs[tx.UUID] = *tx
	return nil
}

func (t *memTx) GetTransaction(_ context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	tx, ok := t.state.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tx, nil
}
