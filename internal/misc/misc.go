package misc

import (
	"math"
	"math/big"
	"sync"

	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"
)

// 一个 uint64 被拆成 4 个 16 bit 的 limb，小端序存放在 CKKS 的前 4 个 slot 中。
// 16 bit 的 limb 在一次加减之后也远小于 CKKS 的精度上限，解密后四舍五入即可得到精确整数。
const (
	LimbBits  = 16
	LimbCount = 64 / LimbBits
	limbMask  = 1<<LimbBits - 1
)

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

var ckksParams = sync.OnceValue(func() ckks.Parameters {
	params, err := ckks.NewParametersFromLiteral(ckks.PN12QP109)
	if err != nil {
		panic(err)
	}
	return params
})

// GetCKKSParams 返回方案中使用的 CKKS 安全参数，整个进程只构建一次
func GetCKKSParams() ckks.Parameters {
	return ckksParams()
}

// NewCiphertext 创建新的密文
func NewCiphertext() *rlwe.Ciphertext {
	params := GetCKKSParams()
	ct := ckks.NewCiphertext(params, 1, params.MaxLevel())
	return ct
}

// UnmarshalCiphertext 将 MarshalBinary 得到的字节还原为密文
func UnmarshalCiphertext(data []byte) (ct *rlwe.Ciphertext, err error) {
	ct = NewCiphertext()
	err = ct.UnmarshalBinary(data)
	return
}

// EncodeLimbs splits v into little-endian 16-bit limbs.
func EncodeLimbs(v uint64) []float64 {
	limbs := make([]float64, LimbCount)
	for i := range limbs {
		limbs[i] = float64((v >> (i * LimbBits)) & limbMask)
	}
	return limbs
}

// DecodeLimbs rounds every slot to the nearest integer and folds the limbs back
// into a single value, propagating carries and borrows. ok is false when the
// folded value is negative or does not fit in 64 bits.
func DecodeLimbs(slots []float64) (v uint64, ok bool) {
	total := new(big.Int)
	limb := new(big.Int)
	for i := 0; i < LimbCount && i < len(slots); i++ {
		limb.SetInt64(RoundSlot(slots[i]))
		limb.Lsh(limb, uint(i*LimbBits))
		total.Add(total, limb)
	}
	if total.Sign() < 0 || total.Cmp(maxUint64) > 0 {
		return 0, false
	}
	return total.Uint64(), true
}

// RoundSlot 将 CKKS 解码得到的近似值四舍五入为整数
func RoundSlot(v float64) int64 {
	return int64(math.Round(v))
}
