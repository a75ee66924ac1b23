package users

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/CamberLoid/TrustlessSwap/internal/misc"
)

const AddressLength = 20

// Address 标识一个账户（用户或者合约），取公钥 Keccak-256 摘要的后 20 字节
type Address [AddressLength]byte

var ZeroAddress Address

// AddressFromPublicKey derives the address of an ECDSA public key from its
// uncompressed X||Y coordinates.
func AddressFromPublicKey(pk *ecdsa.PublicKey) Address {
	size := (pk.Curve.Params().BitSize + 7) / 8
	buf := make([]byte, 2*size)
	pk.X.FillBytes(buf[:size])
	pk.Y.FillBytes(buf[size:])

	var a Address
	copy(a[:], misc.Keccak256(buf)[32-AddressLength:])
	return a
}

// CreateAddress 计算 deployer 以 nonce 部署的合约地址
func CreateAddress(deployer Address, nonce uint64) Address {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)

	var a Address
	copy(a[:], misc.Keccak256(deployer[:], n[:])[32-AddressLength:])
	return a
}

func ParseAddress(s string) (a Address, err error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*AddressLength {
		return a, fmt.Errorf("invalid address length %d", len(s))
	}
	if _, err = hex.Decode(a[:], []byte(s)); err != nil {
		return a, fmt.Errorf("invalid address: %w", err)
	}
	return a, nil
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) (err error) {
	*a, err = ParseAddress(string(text))
	return
}
