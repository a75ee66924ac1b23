package swap

import "math/big"

// 固定汇率：1 ETH = 3000 USDT。USDT 有 6 位小数，ETH 以 wei 计（18 位小数）
const (
	Rate         = 3000
	USDTDecimals = 1_000_000
)

var (
	WeiPerEth = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	usdtPerEth = big.NewInt(Rate * USDTDecimals)
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// PreviewUsdtOut 计算 wei 能换到的 USDT：wei * 3000 * 1e6 / 1e18，向零截断
// 结果可能超过 uint64，由调用方检查
func PreviewUsdtOut(wei *big.Int) *big.Int {
	if wei == nil || wei.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(wei, usdtPerEth)
	return out.Quo(out, WeiPerEth)
}

// PreviewEthOut 计算 USDT 能赎回的 wei：usdt * 1e18 / (3000 * 1e6)，向零截断
// PreviewUsdtOut(PreviewEthOut(x)) 可能小于 x，两个方向都会截断
func PreviewEthOut(usdt uint64) *big.Int {
	out := new(big.Int).SetUint64(usdt)
	out.Mul(out, WeiPerEth)
	return out.Quo(out, usdtPerEth)
}

// ValidWei 检查一个 wei 数额是否是合法的 uint256
func ValidWei(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(maxUint256) <= 0
}
