package misc

import "golang.org/x/crypto/sha3"

// Keccak256 返回 data 依次拼接后的 Keccak-256 摘要（以太坊使用的版本，非 NIST SHA3）
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}
