// Package events 是账本的事件日志：每一次成功的兑换产生一条事件，
// 事件在调用提交后被发送到各个 Sink
package events

import (
	"context"
	"math/big"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/google/uuid"
)

type Kind string

const (
	// EthSwapped(user, ethIn, usdtOut)
	KindEthSwapped Kind = "EthSwapped"
	// UsdtSwapped(user, usdtIn, ethOut)
	KindUsdtSwapped Kind = "UsdtSwapped"
)

func (k Kind) Valid() bool {
	return k == KindEthSwapped || k == KindUsdtSwapped
}

// Event 的金额单位随 Kind 变化：EthSwapped 为 wei -> USDT，UsdtSwapped 为 USDT -> wei
type Event struct {
	Seq       uint64        `json:"seq"`
	TxID      uuid.UUID     `json:"txId"`
	Kind      Kind          `json:"kind"`
	User      users.Address `json:"user"`
	AmountIn  *big.Int      `json:"amountIn"`
	AmountOut *big.Int      `json:"amountOut"`
	Timestamp time.Time     `json:"timestamp"`
}

// Filter 选出事件日志中的一部分。零值表示全部事件
type Filter struct {
	User     *users.Address
	Kind     Kind
	SinceSeq uint64
	Limit    int
}

func (f Filter) Match(e Event) bool {
	if f.User != nil && *f.User != e.User {
		return false
	}
	if f.Kind != "" && f.Kind != e.Kind {
		return false
	}
	return e.Seq > f.SinceSeq
}

// Sink receives events after the call that produced them has been committed.
type Sink interface {
	Publish(ctx context.Context, evs ...Event) error
}
