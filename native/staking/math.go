package staking

import "math/big"

// Precision is the fixed scaling factor for reward-per-token arithmetic.
// Divisions always floor, so rounding dust is lost, never gained.
var Precision = big.NewInt(1_000_000_000_000_000_000)

// maxValueBits bounds every stored or intermediate amount. Results that do
// not fit are rejected with ErrArithmetic rather than wrapped.
const maxValueBits = 256

func checkRange(values ...*big.Int) error {
	for _, v := range values {
		if v != nil && v.BitLen() > maxValueBits {
			return errOverflow
		}
	}
	return nil
}

// mulDiv computes floor(a * b / den) with an overflow check on the result.
func mulDiv(a, b, den *big.Int) (*big.Int, error) {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0), nil
	}
	out := new(big.Int).Mul(a, b)
	out.Quo(out, den)
	if err := checkRange(out); err != nil {
		return nil, err
	}
	return out, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
