package web3

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseUnits 将十进制金额字符串转换为 decimals 位精度的最小单位整数。
// 例如 ParseUnits("1.5", 18) 返回 1500000000000000000。
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("金额不能为空")
	}
	if decimals < 0 {
		return nil, fmt.Errorf("精度不能为负数: %d", decimals)
	}

	negative := false
	if strings.HasPrefix(amount, "-") {
		negative = true
		amount = amount[1:]
	}

	whole := amount
	frac := ""
	if idx := strings.IndexByte(amount, '.'); idx >= 0 {
		whole = amount[:idx]
		frac = amount[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("金额 %s 的小数位超过精度 %d", amount, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	combined := whole + frac
	value, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("非法的金额字符串: %s", amount)
	}
	if negative {
		value.Neg(value)
	}
	return value, nil
}

// FormatUnitsFixed 将最小单位整数格式化为固定 places 位小数的字符串，
// 第 places+1 位按四舍五入处理，与链下钱包展示习惯保持一致。
func FormatUnitsFixed(value *big.Int, decimals, places int) string {
	if value == nil {
		value = new(big.Int)
	}
	if decimals < 0 {
		decimals = 0
	}
	if places < 0 {
		places = 0
	}

	scaled := new(big.Int).Set(value)
	negative := scaled.Sign() < 0
	if negative {
		scaled.Neg(scaled)
	}

	// 折算到 places 位精度，多余的位数四舍五入。
	if decimals > places {
		divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-places)), nil)
		quotient, remainder := new(big.Int).QuoRem(scaled, divisor, new(big.Int))
		if remainder.Mul(remainder, big.NewInt(2)).Cmp(divisor) >= 0 {
			quotient.Add(quotient, big.NewInt(1))
		}
		scaled = quotient
	} else if decimals < places {
		scaled.Mul(scaled, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places-decimals)), nil))
	}

	digits := scaled.String()
	if places == 0 {
		if negative {
			return "-" + digits
		}
		return digits
	}
	if len(digits) <= places {
		digits = strings.Repeat("0", places-len(digits)+1) + digits
	}
	result := digits[:len(digits)-places] + "." + digits[len(digits)-places:]
	if negative {
		result = "-" + result
	}
	return result
}
