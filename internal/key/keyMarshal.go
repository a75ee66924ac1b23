package key

import (
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"

	"github.com/CamberLoid/TrustlessSwap/internal/misc"
	"github.com/tuneinsight/lattigo/v4/rlwe"
)

type CKKSPayload interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

func MarshalECDSAPublicKey(pk *ecdsa.PublicKey) []byte {
	data, _ := x509.MarshalPKIXPublicKey(pk)
	return data
}

func UnmarshalECDSAPublicKey(data []byte) (pk *ecdsa.PublicKey, err error) {
	_pubkey, err := x509.ParsePKIXPublicKey(data)
	if err != nil {
		return
	}
	switch v := _pubkey.(type) {
	case *ecdsa.PublicKey:
		return v, nil
	default:
		return nil, fmt.Errorf("not a ecdsa public key, got %T", v)
	}
}

func MarshalCKKSPayload(pk CKKSPayload) []byte {
	data, _ := pk.MarshalBinary()
	return data
}

func UnmarshalCKKSPublicKey(data []byte) (pk *rlwe.PublicKey, err error) {
	pk = rlwe.NewPublicKey(misc.GetCKKSParams().Parameters)
	if err = pk.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return
}

func UnmarshalCKKSSecretKey(data []byte) (sk *rlwe.SecretKey, err error) {
	sk = rlwe.NewSecretKey(misc.GetCKKSParams().Parameters)
	if err = sk.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return
}
