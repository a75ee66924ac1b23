package misc

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	EthDecimals  = 18
	USDTDecimals = 6
)

// ParseUnits 将十进制字符串（如 "1.5"）按 decimals 位小数转换为最小单位的整数
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount: %s", s)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > decimals {
		return nil, fmt.Errorf("too many decimal places in %s, max %d", s, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	frac = frac + strings.Repeat("0", decimals-len(frac))

	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	return v, nil
}

// FormatUnits 是 ParseUnits 的逆操作，去掉小数部分末尾的 0
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, base, new(big.Int))

	res := whole.String()
	fs := frac.String()
	if len(fs) < decimals {
		fs = strings.Repeat("0", decimals-len(fs)) + fs
	}
	if fs = strings.TrimRight(fs, "0"); fs != "" {
		res += "." + fs
	}
	if neg {
		res = "-" + res
	}
	return res
}
