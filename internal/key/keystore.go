package key

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/CamberLoid/TrustlessSwap/internal/misc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v4/ckks"
)

// KeystoreJSON 是客户端本地密钥文件的格式
// CKKS 私钥部分使用 MarshalBinary 之后由 encoding/json 进行 base64 编码
type KeystoreJSON struct {
	ECDSAKeyID  uuid.UUID           `json:"ecdsaKeyId"`
	ECDSA       ECDSAPrivateKeyJSON `json:"ecdsa"`
	CKKSKeyID   uuid.UUID           `json:"ckksKeyId"`
	CKKSPrivkey []byte              `json:"ckksPrivkey"`
}

// SaveKeyChain 将密钥写入 path，文件权限为 0600
func SaveKeyChain(path string, kc *KeyChain) error {
	if kc.ECDSAKeyChain.ECDSAPrivateKey == nil || kc.CKKSKeyChain.CKKSPrivateKey == nil {
		return errors.New("keychain has no private keys")
	}

	sk, err := kc.CKKSKeyChain.CKKSPrivateKey.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "marshal ckks secret key")
	}

	data, err := json.Marshal(KeystoreJSON{
		ECDSAKeyID:  kc.ECDSAKeyChain.Identifier,
		ECDSA:       NewECDSAPrivateKeyJSON(kc.ECDSAKeyChain.ECDSAPrivateKey),
		CKKSKeyID:   kc.CKKSKeyChain.Identifier,
		CKKSPrivkey: sk,
	})
	if err != nil {
		return errors.Wrap(err, "marshal keystore")
	}

	if err = os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrap(err, "create keystore dir")
	}
	return errors.Wrap(os.WriteFile(path, data, 0600), "write keystore")
}

// LoadKeyChain 读取 SaveKeyChain 写入的密钥文件，CKKS 公钥由私钥重新生成
func LoadKeyChain(path string) (*KeyChain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read keystore")
	}

	var ks KeystoreJSON
	if err = json.Unmarshal(data, &ks); err != nil {
		return nil, errors.Wrap(err, "unmarshal keystore")
	}

	ecdsaSK, err := ks.ECDSA.PrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "decode ecdsa key")
	}
	ckksSK, err := UnmarshalCKKSSecretKey(ks.CKKSPrivkey)
	if err != nil {
		return nil, errors.Wrap(err, "decode ckks key")
	}

	return &KeyChain{
		CKKSKeyChain: CKKSKeyChain{
			Identifier:     ks.CKKSKeyID,
			CKKSPrivateKey: ckksSK,
			CKKSPublicKey:  ckks.NewKeyGenerator(misc.GetCKKSParams()).GenPublicKey(ckksSK),
		},
		ECDSAKeyChain: ECDSAKeyChain{
			Identifier:      ks.ECDSAKeyID,
			ECDSAPrivateKey: ecdsaSK,
			ECDSAPublicKey:  &ecdsaSK.PublicKey,
		},
	}, nil
}
