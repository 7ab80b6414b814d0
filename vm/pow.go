package vm

import "math"

// PowResult is the outcome of an integer exponentiation: either an
// exact mathematical result, or an overflow marker matching spec.md
// §4.5/§8's pow-overflow semantics.
type PowResult struct {
	Value    uint64
	Overflow bool
}

// powI32 computes base^exp for signed 32-bit operands. 0^0 always
// overflows; a negative exponent yields 0 except when base is ±1,
// where the result alternates ±1 without ever overflowing.
func powI32(base, exp int32) PowResult {
	if base == 0 && exp == 0 {
		return PowResult{Overflow: true}
	}
	if exp < 0 {
		if base == 1 {
			return PowResult{Value: uint64(uint32(1))}
		}
		if base == -1 {
			if exp%2 == 0 {
				return PowResult{Value: uint64(uint32(1))}
			}
			negOne := int32(-1)
			return PowResult{Value: uint64(uint32(negOne))}
		}
		return PowResult{Value: 0}
	}
	var result int64 = 1
	var b int64 = int64(base)
	for i := int32(0); i < exp; i++ {
		result *= b
		if result > math.MaxInt32 || result < math.MinInt32 {
			return PowResult{Overflow: true}
		}
	}
	return PowResult{Value: uint64(uint32(int32(result)))}
}

// powU32 computes base^exp for unsigned 32-bit operands.
func powU32(base, exp uint32) PowResult {
	if base == 0 && exp == 0 {
		return PowResult{Overflow: true}
	}
	var result uint64 = 1
	for i := uint32(0); i < exp; i++ {
		result *= uint64(base)
		if result > math.MaxUint32 {
			return PowResult{Overflow: true}
		}
	}
	return PowResult{Value: uint64(uint32(result))}
}

// powI64 computes base^exp for signed 64-bit operands, detecting
// overflow via a bounds check around each multiplication step.
func powI64(base, exp int64) PowResult {
	if base == 0 && exp == 0 {
		return PowResult{Overflow: true}
	}
	if exp < 0 {
		if base == 1 {
			return PowResult{Value: uint64(1)}
		}
		if base == -1 {
			if exp%2 == 0 {
				return PowResult{Value: uint64(1)}
			}
			negOne := int64(-1)
			return PowResult{Value: uint64(negOne)}
		}
		return PowResult{Value: 0}
	}
	var result int64 = 1
	overflowed := false
	for i := int64(0); i < exp; i++ {
		next := result * base
		if base != 0 && next/base != result {
			overflowed = true
			break
		}
		result = next
	}
	if overflowed {
		return PowResult{Overflow: true}
	}
	return PowResult{Value: uint64(result)}
}

// powU64 computes base^exp for unsigned 64-bit operands.
func powU64(base, exp uint64) PowResult {
	if base == 0 && exp == 0 {
		return PowResult{Overflow: true}
	}
	var result uint64 = 1
	for i := uint64(0); i < exp; i++ {
		next := result * base
		if base != 0 && next/base != result {
			return PowResult{Overflow: true}
		}
		result = next
	}
	return PowResult{Value: result}
}

// powF32/powF64 raise a floating-point base to a floating-point
// exponent via math.Pow, treating an infinite result as overflow.
func powF32(base, exp float32) (float32, bool) {
	r := float32(math.Pow(float64(base), float64(exp)))
	if math.IsInf(float64(r), 0) {
		return 0, true
	}
	return r, false
}

func powF64(base, exp float64) (float64, bool) {
	r := math.Pow(base, exp)
	if math.IsInf(r, 0) {
		return 0, true
	}
	return r, false
}
