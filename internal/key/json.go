package key

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// --- ECDSA 公钥和私钥的 JSON 格式部分 --- //
// Pubkey : {'x': (string), 'y': (string), 'curve': (string)}
// Privkey: {'x': (string), 'y': (string), 'curve': (string), 'd': (string)}

type ECDSAPubkeyJSON struct {
	X     string `json:"x"`
	Y     string `json:"y"`
	Curve string `json:"curve"`
}

type ECDSAPrivateKeyJSON struct {
	ECDSAPubkeyJSON
	D string `json:"d"`
}

// getCurve 根据 curveName 获取并返回 elliptic.Curve
func getCurve(curveName string) (elliptic.Curve, error) {
	switch curveName {
	case "P-224":
		return elliptic.P224(), nil
	case "P-256":
		return elliptic.P256(), nil
	case "P-384":
		return elliptic.P384(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, errors.New("unrecognized elliptic curve")
	}
}

func parseBigInt(name, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("failed to convert %s value to big.Int", name)
	}
	return v, nil
}

func NewECDSAPubkeyJSON(pubkey *ecdsa.PublicKey) ECDSAPubkeyJSON {
	return ECDSAPubkeyJSON{
		X:     pubkey.X.String(),
		Y:     pubkey.Y.String(),
		Curve: pubkey.Params().Name,
	}
}

// PublicKey 将 JSON 格式的公钥转换为 ecdsa.PublicKey
func (j ECDSAPubkeyJSON) PublicKey() (*ecdsa.PublicKey, error) {
	curve, err := getCurve(j.Curve)
	if err != nil {
		return nil, err
	}
	x, err := parseBigInt("X", j.X)
	if err != nil {
		return nil, err
	}
	y, err := parseBigInt("Y", j.Y)
	if err != nil {
		return nil, err
	}
	if !curve.IsOnCurve(x, y) {
		return nil, errors.New("point is not on curve " + j.Curve)
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func NewECDSAPrivateKeyJSON(privkey *ecdsa.PrivateKey) ECDSAPrivateKeyJSON {
	return ECDSAPrivateKeyJSON{
		ECDSAPubkeyJSON: NewECDSAPubkeyJSON(&privkey.PublicKey),
		D:               privkey.D.String(),
	}
}

func (j ECDSAPrivateKeyJSON) PrivateKey() (*ecdsa.PrivateKey, error) {
	pk, err := j.ECDSAPubkeyJSON.PublicKey()
	if err != nil {
		return nil, err
	}
	d, err := parseBigInt("D", j.D)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PrivateKey{PublicKey: *pk, D: d}, nil
}

func EncodeECDSAPubkeyToJson(pubkey *ecdsa.PublicKey) []byte {
	jsonData, _ := json.Marshal(NewECDSAPubkeyJSON(pubkey))
	return jsonData
}

// DecodeJSONToECDSAPubkey 将 JSON 格式的公钥转换为 ecdsa.PublicKey
func DecodeJSONToECDSAPubkey(jsonData []byte) (pubkey *ecdsa.PublicKey, err error) {
	var pubkeyJSON ECDSAPubkeyJSON
	if err = json.Unmarshal(jsonData, &pubkeyJSON); err != nil {
		return nil, err
	}
	return pubkeyJSON.PublicKey()
}

func EncodeECDSAPrivateKeyToJson(privkey *ecdsa.PrivateKey) []byte {
	jsonData, _ := json.Marshal(NewECDSAPrivateKeyJSON(privkey))
	return jsonData
}

func DecodeJSONToECDSAPrivateKey(jsonData []byte) (privkey *ecdsa.PrivateKey, err error) {
	var privkeyJSON ECDSAPrivateKeyJSON
	if err = json.Unmarshal(jsonData, &privkeyJSON); err != nil {
		return nil, err
	}
	return privkeyJSON.PrivateKey()
}
