// 包 key 包含了方案中用到的各种密码学密钥的生成、编码与存储
package key

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/CamberLoid/TrustlessSwap/internal/misc"
	"github.com/google/uuid"
	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"
)

// 方案中使用 P-256 作为签名曲线
var ECDSACurve elliptic.Curve = elliptic.P256()

type CKKSKeyChain struct {
	Identifier     uuid.UUID
	CKKSPrivateKey *rlwe.SecretKey
	CKKSPublicKey  *rlwe.PublicKey
}

type ECDSAKeyChain struct {
	Identifier      uuid.UUID
	ECDSAPrivateKey *ecdsa.PrivateKey
	ECDSAPublicKey  *ecdsa.PublicKey
}

// KeyChain 是一个账户持有的全部密钥：
// ECDSA 用于签名（并派生地址），CKKS 用于接收封装给自己的密文
type KeyChain struct {
	CKKSKeyChain  CKKSKeyChain
	ECDSAKeyChain ECDSAKeyChain
}

// GenerateKeyChain 生成一套新的 ECDSA 与 CKKS 密钥
func GenerateKeyChain() (*KeyChain, error) {
	ecdsaKeyChain, err := GenerateECDSAKeyChain()
	if err != nil {
		return nil, err
	}
	return &KeyChain{
		CKKSKeyChain:  GenerateCKKSKeyChain(),
		ECDSAKeyChain: ecdsaKeyChain,
	}, nil
}

// GenerateECDSAKeyChain generates a key pair for request signing
func GenerateECDSAKeyChain() (ECDSAKeyChain, error) {
	sk, err := ecdsa.GenerateKey(ECDSACurve, rand.Reader)
	if err != nil {
		return ECDSAKeyChain{}, err
	}
	return ECDSAKeyChain{
		Identifier:      uuid.New(),
		ECDSAPrivateKey: sk,
		ECDSAPublicKey:  &sk.PublicKey,
	}, nil
}

func GenerateCKKSKeyChain() CKKSKeyChain {
	keyGenerator := ckks.NewKeyGenerator(misc.GetCKKSParams())
	sk, pk := keyGenerator.GenKeyPair()

	return CKKSKeyChain{
		Identifier:     uuid.New(),
		CKKSPrivateKey: sk,
		CKKSPublicKey:  pk,
	}
}
