// Package shares converts between deposited amounts and proportional vault
// shares. All arithmetic is integer with floor rounding, so rounding always
// stays with the vault.
//
// Share price is stable-denominated: one unit of target counts as one unit of
// stable when pricing deposits and withdrawals. Market value is realized only
// when a cycle converts.
package shares

import (
	"fmt"
	"math/bits"

	"DCAVault/internal/model"
)

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10000

// MulDiv returns floor(a*b/c) using a 128-bit intermediate product.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, fmt.Errorf("%w: division by zero", model.ErrInvalidAmount)
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, model.ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, c)
	return q, nil
}

// ForDeposit returns the shares minted for depositing amount stable units,
// priced on the balances before the deposit is added.
func ForDeposit(v *model.Vault, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, fmt.Errorf("%w: deposit must be positive", model.ErrInvalidAmount)
	}
	if v.TotalShares == 0 {
		return amount, nil
	}

	pool, carry := bits.Add64(v.StableBalance, v.TargetBalance, 0)
	if carry != 0 {
		return 0, model.ErrOverflow
	}
	if pool == 0 {
		return 0, fmt.Errorf("%w: vault has %d shares but no assets", model.ErrInvalidAmount, v.TotalShares)
	}

	minted, err := MulDiv(amount, v.TotalShares, pool)
	if err != nil {
		return 0, err
	}
	if minted == 0 {
		return 0, fmt.Errorf("%w: deposit of %d mints no shares", model.ErrInvalidAmount, amount)
	}
	return minted, nil
}

// ForWithdrawal returns the stable and target amounts released by burning
// shares, computed on the balances before the burn.
func ForWithdrawal(v *model.Vault, shares uint64) (stableOut, targetOut uint64, err error) {
	if shares == 0 {
		return 0, 0, fmt.Errorf("%w: withdrawal must burn at least one share", model.ErrInvalidAmount)
	}
	if shares > v.TotalShares {
		return 0, 0, fmt.Errorf("%w: burn %d of %d outstanding", model.ErrInsufficientShares, shares, v.TotalShares)
	}
	// shares <= TotalShares, so neither quotient can overflow.
	stableOut, err = MulDiv(shares, v.StableBalance, v.TotalShares)
	if err != nil {
		return 0, 0, err
	}
	targetOut, err = MulDiv(shares, v.TargetBalance, v.TotalShares)
	if err != nil {
		return 0, 0, err
	}
	return stableOut, targetOut, nil
}

// Fee returns floor(gross * feeBps / 10000).
func Fee(gross uint64, feeBps uint16) uint64 {
	if feeBps >= BpsDenominator {
		return gross
	}
	fee, _ := MulDiv(gross, uint64(feeBps), BpsDenominator)
	return fee
}

// MinimumOutput returns the lowest acceptable output for a quoted amount under
// the given slippage tolerance.
func MinimumOutput(quotedOut uint64, slippageBps uint16) uint64 {
	if slippageBps >= BpsDenominator {
		return 0
	}
	minOut, _ := MulDiv(quotedOut, uint64(BpsDenominator-slippageBps), BpsDenominator)
	return minOut
}
