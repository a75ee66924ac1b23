package transaction

import (
	"math/big"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/google/uuid"
)

// ConfirmingPhase 只有两种：调用成功提交为 confirmed，失败回滚为 reverted
const (
	PhaseConfirmed = "confirmed"
	PhaseReverted  = "reverted"
)

// 账本上会产生回执的调用
const (
	MethodSwapEthForUsdt = "swapEthForUsdt"
	MethodSwapUsdtForEth = "swapUsdtForEth"
	MethodFund           = "fund"
)

// Transaction 是一次账本调用的回执
// Value: 调用附带的 wei（swapEthForUsdt、fund），或者赎回得到的 wei（swapUsdtForEth）
// Amount: 计入或扣除的 USDT 数量（6 位小数），不上链，只有调用者能看到
// Handle: 调用成功后调用者新的余额句柄
type Transaction struct {
	ConfirmingPhase string        `json:"confirmingPhase"`
	UUID            uuid.UUID     `json:"uuid"`
	Method          string        `json:"method"`
	Caller          users.Address `json:"caller"`
	Value           *big.Int      `json:"value"`
	Amount          uint64        `json:"amount"`
	Handle          fhe.Handle    `json:"handle"`
	Err             string        `json:"error,omitempty"`
	TimeStamp       int64         `json:"timestamp"` //unix时间戳
}

// New 创建一个尚未确定状态的回执
func New(method string, caller users.Address, value *big.Int, now time.Time) *Transaction {
	if value == nil {
		value = new(big.Int)
	}
	return &Transaction{
		UUID:      uuid.New(),
		Method:    method,
		Caller:    caller,
		Value:     new(big.Int).Set(value),
		TimeStamp: now.Unix(),
	}
}

func (t *Transaction) Confirm() {
	t.ConfirmingPhase = PhaseConfirmed
	t.Err = ""
}

// Revert 标记调用失败。失败的调用不改变任何余额，句柄也不再有效
func (t *Transaction) Revert(err error) {
	t.ConfirmingPhase = PhaseReverted
	t.Handle = fhe.NullHandle
	if err != nil {
		t.Err = err.Error()
	}
}

func (t *Transaction) IsConfirmed() bool {
	return t.ConfirmingPhase == PhaseConfirmed
}
