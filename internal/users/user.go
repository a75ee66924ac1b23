// 包 users 包含了用户的相关接口、结构体和方法
package users

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/CamberLoid/TrustlessSwap/internal/key"
	"github.com/CamberLoid/TrustlessSwap/internal/misc"
	"github.com/google/uuid"
)

var (
	ErrNoECDSAKey = errors.New("no ECDSA private key found")
	ErrNoCKKSKey  = errors.New("no CKKS private key found")
)

// 方案中的用户，包含了用户的标识符、CKKS 密钥链和 ECDSA 密钥链
// 约定一个用户只使用第一对 CKKS 和 ECDSA 密钥，地址由 ECDSA 公钥派生
type User struct {
	UserIdentifier    uuid.UUID
	UserName          string
	UserCKKSKeyChain  []key.CKKSKeyChain
	UserECDSAKeyChain []key.ECDSAKeyChain
}

// 生成一个新的空值用户
func NewUser() *User {
	user := new(User)
	user.UserIdentifier = uuid.New()
	return user
}

// 生成一个新的用户，包含用户名
func NewUserWithUserName(userName string) *User {
	user := NewUser()
	user.UserName = userName
	return user
}

// NewUserFromKeyChain 用已有的密钥创建用户
func NewUserFromKeyChain(userName string, kc *key.KeyChain) *User {
	user := NewUserWithUserName(userName)
	user.UserCKKSKeyChain = append(user.UserCKKSKeyChain, kc.CKKSKeyChain)
	user.UserECDSAKeyChain = append(user.UserECDSAKeyChain, kc.ECDSAKeyChain)
	return user
}

// GenerateUser 生成一个带有全新密钥的用户，测试和 keygen 命令使用
func GenerateUser(userName string) (*User, error) {
	kc, err := key.GenerateKeyChain()
	if err != nil {
		return nil, err
	}
	return NewUserFromKeyChain(userName, kc), nil
}

// Address 返回用户的地址
func (user *User) Address() (Address, error) {
	if len(user.UserECDSAKeyChain) == 0 || user.UserECDSAKeyChain[0].ECDSAPublicKey == nil {
		return ZeroAddress, errors.New("no ECDSA KeyChain found")
	}
	return AddressFromPublicKey(user.UserECDSAKeyChain[0].ECDSAPublicKey), nil
}

// ECDSAPublicKeyBytes 返回 PKIX 编码的签名公钥
func (user *User) ECDSAPublicKeyBytes() ([]byte, error) {
	if len(user.UserECDSAKeyChain) == 0 || user.UserECDSAKeyChain[0].ECDSAPublicKey == nil {
		return nil, errors.New("no ECDSA KeyChain found")
	}
	return key.MarshalECDSAPublicKey(user.UserECDSAKeyChain[0].ECDSAPublicKey), nil
}

// CKKSPublicKeyBytes 返回 MarshalBinary 编码的 CKKS 公钥
func (user *User) CKKSPublicKeyBytes() ([]byte, error) {
	if len(user.UserCKKSKeyChain) == 0 || user.UserCKKSKeyChain[0].CKKSPublicKey == nil {
		return nil, errors.New("no CKKS KeyChain found")
	}
	return key.MarshalCKKSPayload(user.UserCKKSKeyChain[0].CKKSPublicKey), nil
}

// --- 签名部分 ---

// SignDigest 对 32 字节摘要进行 ASN.1 格式的 ECDSA 签名
func (user *User) SignDigest(digest []byte) ([]byte, error) {
	if len(user.UserECDSAKeyChain) == 0 || user.UserECDSAKeyChain[0].ECDSAPrivateKey == nil {
		return nil, ErrNoECDSAKey
	}
	return ecdsa.SignASN1(rand.Reader, user.UserECDSAKeyChain[0].ECDSAPrivateKey, digest)
}

// VerifyDigestSignature 验证签名，并返回签名公钥对应的地址
// pkix 为 PKIX 编码的 ECDSA 公钥
func VerifyDigestSignature(pkix, digest, sig []byte) (Address, error) {
	pk, err := key.UnmarshalECDSAPublicKey(pkix)
	if err != nil {
		return ZeroAddress, err
	}
	if !ecdsa.VerifyASN1(pk, digest, sig) {
		return ZeroAddress, errors.New("signature verify failed")
	}
	return AddressFromPublicKey(pk), nil
}

// --- 解密部分 ---

// OpenSealed 解密被封装（重加密）给本用户的 uint64
func (user *User) OpenSealed(sealed []byte) (uint64, error) {
	if len(user.UserCKKSKeyChain) == 0 || user.UserCKKSKeyChain[0].CKKSPrivateKey == nil {
		return 0, ErrNoCKKSKey
	}

	ct, err := misc.UnmarshalCiphertext(sealed)
	if err != nil {
		return 0, fmt.Errorf("unmarshal sealed value: %w", err)
	}
	v, ok, err := misc.DecryptUint64(ct, user.UserCKKSKeyChain[0].CKKSPrivateKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New("sealed value is not sealed to this key")
	}
	return v, nil
}
