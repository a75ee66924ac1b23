package fhe

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/CamberLoid/TrustlessSwap/internal/misc"
)

const HandleLength = 32

// Type 是句柄所指向密文的明文类型，编码在句柄的第 30 字节
type Type byte

const (
	TypeBool   Type = 0
	TypeUint64 Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "ebool"
	case TypeUint64:
		return "euint64"
	default:
		return fmt.Sprintf("type(%d)", byte(t))
	}
}

// Handle 是一个密文的不透明引用。全 0 的句柄表示未初始化，按加密的 0 处理
type Handle [HandleLength]byte

var NullHandle Handle

func (h Handle) IsNull() bool {
	return h == NullHandle
}

func (h Handle) Type() Type {
	return Type(h[HandleLength-2])
}

func (h Handle) Version() byte {
	return h[HandleLength-1]
}

func (h Handle) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func ParseHandle(s string) (h Handle, err error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*HandleLength {
		return h, fmt.Errorf("invalid handle length %d", len(s))
	}
	if _, err = hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("invalid handle: %w", err)
	}
	return h, nil
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(text []byte) (err error) {
	*h, err = ParseHandle(string(text))
	return
}

// minter 为每次运算生成新的句柄：Keccak-256(salt || nonce || op || inputs...)
// 前 30 字节，再附上类型和版本。salt 在进程启动时随机生成，重启后不会与已持久化的句柄冲突
type minter struct {
	salt    [16]byte
	nonce   atomic.Uint64
	version byte
}

func newMinter(version byte) *minter {
	m := &minter{version: version}
	_, _ = rand.Read(m.salt[:])
	return m
}

func (m *minter) mint(op string, t Type, inputs ...[]byte) Handle {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], m.nonce.Add(1))

	data := [][]byte{m.salt[:], n[:], []byte(op)}
	data = append(data, inputs...)
	digest := misc.Keccak256(data...)

	var h Handle
	copy(h[:HandleLength-2], digest)
	h[HandleLength-2] = byte(t)
	h[HandleLength-1] = m.version
	return h
}

func uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
