package core

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// CommissionPercent is the share of every deposit routed to the owner.
const CommissionPercent = 10

var commissionRate = decimal.New(CommissionPercent, -2)

// Commission returns CommissionPercent of amount, truncated to whole atomic units.
// Uses decimal arithmetic so the result never depends on float rounding.
func Commission(amount Amount) Amount {
	amountDecimal := decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(amount)), 0)
	commissionDecimal := amountDecimal.Mul(commissionRate).Truncate(0)
	return Amount(commissionDecimal.BigInt().Uint64())
}

// NetAmount returns amount with its commission deducted.
func NetAmount(amount Amount) Amount {
	return amount - Commission(amount)
}
