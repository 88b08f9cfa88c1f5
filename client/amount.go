package client

import (
	"fmt"
	"math/big"
	"strings"
)

// AmountDecimals is the fixed-point precision of ledger units: one whole
// token equals 10^6 base units.
const AmountDecimals = 6

var unitScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(AmountDecimals), nil)

// ParseAmount converts a decimal token amount such as "12.5" into ledger base
// units. Digits beyond the sixth decimal place are truncated toward zero, so
// "0.0000019" becomes 1 base unit. Zero and negative amounts are rejected.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	if strings.HasPrefix(trimmed, "-") {
		return nil, fmt.Errorf("amount must be positive")
	}
	whole := trimmed
	frac := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole = trimmed[:idx]
		frac = trimmed[idx+1:]
		if strings.IndexByte(frac, '.') >= 0 {
			return nil, fmt.Errorf("invalid amount %q", value)
		}
	}
	if whole == "" {
		whole = "0"
	}
	wholeUnits, ok := new(big.Int).SetString(whole, 10)
	if !ok || wholeUnits.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if len(frac) > AmountDecimals {
		frac = frac[:AmountDecimals]
	}
	fracUnits := big.NewInt(0)
	if frac != "" {
		padded := frac + strings.Repeat("0", AmountDecimals-len(frac))
		fracUnits, ok = new(big.Int).SetString(padded, 10)
		if !ok || fracUnits.Sign() < 0 {
			return nil, fmt.Errorf("invalid amount %q", value)
		}
	}
	units := new(big.Int).Mul(wholeUnits, unitScale)
	units.Add(units, fracUnits)
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return units, nil
}

// FormatAmount renders ledger base units as a decimal token amount with
// trailing zeros trimmed.
func FormatAmount(units *big.Int) string {
	if units == nil || units.Sign() == 0 {
		return "0"
	}
	negative := units.Sign() < 0
	abs := new(big.Int).Abs(units)
	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(abs, unitScale, frac)
	out := whole.String()
	if frac.Sign() != 0 {
		digits := fmt.Sprintf("%0*d", AmountDecimals, frac)
		digits = strings.TrimRight(digits, "0")
		out += "." + digits
	}
	if negative {
		out = "-" + out
	}
	return out
}
