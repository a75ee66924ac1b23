package misc

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"
)

// EncryptUint64 对一个 64 位无符号整数进行基于 CKKS 的加密
// 输入：明文，公钥或私钥
// 输出：密文
func EncryptUint64(v uint64, key interface{}) (ct *rlwe.Ciphertext, err error) {
	defer func() {
		if p := recover(); p != nil {
			ct = nil
			err = fmt.Errorf("encrypt failed, got panic: %v", p)
		}
	}()

	params := GetCKKSParams()
	encoder := ckks.NewEncoder(params)
	pt := encoder.EncodeNew(
		EncodeLimbs(v),
		params.MaxLevel(),
		params.DefaultScale(),
		params.LogSlots())

	ct = ckks.NewEncryptor(params, key).EncryptNew(pt)
	return
}

// DecryptUint64 从密文中提取加密的整数
// ok 为 false 表示密文中的值不在 uint64 范围内（溢出或不足）
func DecryptUint64(ct *rlwe.Ciphertext, sk *rlwe.SecretKey) (v uint64, ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			v, ok = 0, false
			err = fmt.Errorf("decrypt failed, got panic: %v", p)
		}
	}()

	params := GetCKKSParams()
	encoder := ckks.NewEncoder(params)
	pt := ckks.NewDecryptor(params, sk).DecryptNew(ct)
	values := encoder.Decode(pt, params.LogSlots())

	slots := make([]float64, LimbCount)
	for i := range slots {
		slots[i] = real(values[i])
	}
	v, ok = DecodeLimbs(slots)
	return
}
