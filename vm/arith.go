package vm

import "math"

// execArith, execBitwise, execCompare and execConvert implement the
// tagged scalar instruction family (spec.md §4.5). All four share one
// convention: the left operand is the current value register, the
// right operand (when there is one) is popped off the data stack at
// the width its NumType/Width implies, and the result replaces the
// value register. This keeps one addressing rule across the whole
// family instead of a per-opcode stack layout.

func (c *Context) execArith(nt NumType, op AluOp) bool {
	vr := c.registers.ValueRegister
	switch nt {
	case TypeI32:
		l := int32(uint32(vr))
		if op == AluNeg {
			c.registers.ValueRegister = uint64(uint32(-l))
			return true
		}
		r := int32(c.popDWord())
		res, ok := aluI32(l, r, op)
		if !ok {
			c.raiseVMException(ExcDivisionByZero, "integer division by zero")
			return false
		}
		c.registers.ValueRegister = uint64(uint32(res))
	case TypeU32:
		l := uint32(vr)
		if op == AluNeg {
			c.registers.ValueRegister = uint64(-l)
			return true
		}
		r := c.popDWord()
		res, ok := aluU32(l, r, op)
		if !ok {
			c.raiseVMException(ExcDivisionByZero, "integer division by zero")
			return false
		}
		c.registers.ValueRegister = uint64(res)
	case TypeI64:
		l := int64(vr)
		if op == AluNeg {
			c.registers.ValueRegister = uint64(-l)
			return true
		}
		r := int64(c.popQWord())
		res, ok := aluI64(l, r, op)
		if !ok {
			c.raiseVMException(ExcDivisionByZero, "integer division by zero")
			return false
		}
		c.registers.ValueRegister = uint64(res)
	case TypeU64:
		l := vr
		if op == AluNeg {
			c.registers.ValueRegister = -l
			return true
		}
		r := c.popQWord()
		res, ok := aluU64(l, r, op)
		if !ok {
			c.raiseVMException(ExcDivisionByZero, "integer division by zero")
			return false
		}
		c.registers.ValueRegister = res
	case TypeF32:
		l := math.Float32frombits(uint32(vr))
		if op == AluNeg {
			c.registers.ValueRegister = uint64(math.Float32bits(-l))
			return true
		}
		r := math.Float32frombits(c.popDWord())
		c.registers.ValueRegister = uint64(math.Float32bits(aluF32(l, r, op)))
	case TypeF64:
		l := math.Float64frombits(vr)
		if op == AluNeg {
			c.registers.ValueRegister = math.Float64bits(-l)
			return true
		}
		r := math.Float64frombits(c.popQWord())
		c.registers.ValueRegister = math.Float64bits(aluF64(l, r, op))
	default:
		c.raiseVMException(ExcUnrecognizedBytecode, "bad arithmetic operand type")
		return false
	}
	return true
}

func aluI32(l, r int32, op AluOp) (int32, bool) {
	switch op {
	case AluAdd:
		return l + r, true
	case AluSub:
		return l - r, true
	case AluMul:
		return l * r, true
	case AluDiv:
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case AluMod:
		if r == 0 {
			return 0, false
		}
		return l % r, true
	}
	return 0, true
}

func aluU32(l, r uint32, op AluOp) (uint32, bool) {
	switch op {
	case AluAdd:
		return l + r, true
	case AluSub:
		return l - r, true
	case AluMul:
		return l * r, true
	case AluDiv:
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case AluMod:
		if r == 0 {
			return 0, false
		}
		return l % r, true
	}
	return 0, true
}

func aluI64(l, r int64, op AluOp) (int64, bool) {
	switch op {
	case AluAdd:
		return l + r, true
	case AluSub:
		return l - r, true
	case AluMul:
		return l * r, true
	case AluDiv:
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case AluMod:
		if r == 0 {
			return 0, false
		}
		return l % r, true
	}
	return 0, true
}

func aluU64(l, r uint64, op AluOp) (uint64, bool) {
	switch op {
	case AluAdd:
		return l + r, true
	case AluSub:
		return l - r, true
	case AluMul:
		return l * r, true
	case AluDiv:
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case AluMod:
		if r == 0 {
			return 0, false
		}
		return l % r, true
	}
	return 0, true
}

func aluF32(l, r float32, op AluOp) float32 {
	switch op {
	case AluAdd:
		return l + r
	case AluSub:
		return l - r
	case AluMul:
		return l * r
	case AluDiv:
		return l / r
	case AluMod:
		return float32(math.Mod(float64(l), float64(r)))
	}
	return 0
}

func aluF64(l, r float64, op AluOp) float64 {
	switch op {
	case AluAdd:
		return l + r
	case AluSub:
		return l - r
	case AluMul:
		return l * r
	case AluDiv:
		return l / r
	case AluMod:
		return math.Mod(l, r)
	}
	return 0
}

func (c *Context) execBitwise(w Width, op BitOp) {
	if w == Width64 {
		l := c.registers.ValueRegister
		if op == BitNot {
			c.registers.ValueRegister = ^l
			return
		}
		r := c.popQWord()
		c.registers.ValueRegister = bitOp64(l, r, op)
		return
	}
	l := uint32(c.registers.ValueRegister)
	if op == BitNot {
		c.registers.ValueRegister = uint64(^l)
		return
	}
	r := c.popDWord()
	c.registers.ValueRegister = uint64(bitOp32(l, r, op))
}

func bitOp32(l, r uint32, op BitOp) uint32 {
	switch op {
	case BitAnd:
		return l & r
	case BitOr:
		return l | r
	case BitXor:
		return l ^ r
	case BitShl:
		return l << (r & 31)
	case BitShr:
		return l >> (r & 31)
	case BitSar:
		return uint32(int32(l) >> (r & 31))
	}
	return 0
}

func bitOp64(l, r uint64, op BitOp) uint64 {
	switch op {
	case BitAnd:
		return l & r
	case BitOr:
		return l | r
	case BitXor:
		return l ^ r
	case BitShl:
		return l << (r & 63)
	case BitShr:
		return l >> (r & 63)
	case BitSar:
		return uint64(int64(l) >> (r & 63))
	}
	return 0
}

// execCompare writes -1/0/1 into the value register, per spec.md §4.5.
// Float comparison treats bit-identical operands (including NaN,
// which is bit-identical only to itself) as equal; otherwise it falls
// back to the ordinary less-than test, so an unordered pair with
// distinct bit patterns deterministically reports 1 rather than
// leaving a three-way ambiguity.
func (c *Context) execCompare(nt NumType) {
	vr := c.registers.ValueRegister
	var result int64
	switch nt {
	case TypeI32:
		result = int64(cmp(int64(int32(uint32(vr))), int64(int32(c.popDWord()))))
	case TypeU32:
		result = int64(cmp(uint64(uint32(vr)), uint64(c.popDWord())))
	case TypeI64:
		result = int64(cmp(int64(vr), int64(c.popQWord())))
	case TypeU64:
		result = int64(cmp(vr, c.popQWord()))
	case TypeF32:
		result = int64(cmpFloat32(math.Float32frombits(uint32(vr)), math.Float32frombits(c.popDWord())))
	case TypeF64:
		result = int64(cmpFloat64(math.Float64frombits(vr), math.Float64frombits(c.popQWord())))
	}
	c.registers.ValueRegister = uint64(result)
}

func cmp[T int64 | uint64](l, r T) int32 {
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	default:
		return 0
	}
}

func cmpFloat32(l, r float32) int32 {
	if math.Float32bits(l) == math.Float32bits(r) {
		return 0
	}
	if l < r {
		return -1
	}
	return 1
}

func cmpFloat64(l, r float64) int32 {
	if math.Float64bits(l) == math.Float64bits(r) {
		return 0
	}
	if l < r {
		return -1
	}
	return 1
}

// execConvert decodes the value register under the source type into
// canonical float64/int64/uint64 forms and re-encodes under the
// destination type. Float-to-unsigned goes through int64 first ("cast
// via int") rather than a direct float64->uint64 conversion, matching
// the narrower, sign-sensitive truncation the original numeric tower
// uses.
func (c *Context) execConvert(src, dst NumType) {
	vr := c.registers.ValueRegister

	var asFloat float64
	var asInt int64
	var asUint uint64

	switch src {
	case TypeI32:
		asInt = int64(int32(uint32(vr)))
		asUint = uint64(asInt)
		asFloat = float64(asInt)
	case TypeU32:
		asUint = uint64(uint32(vr))
		asInt = int64(asUint)
		asFloat = float64(asUint)
	case TypeI64:
		asInt = int64(vr)
		asUint = uint64(asInt)
		asFloat = float64(asInt)
	case TypeU64:
		asUint = vr
		asInt = int64(asUint)
		asFloat = float64(asUint)
	case TypeF32:
		f := float64(math.Float32frombits(uint32(vr)))
		asFloat = f
		asInt = int64(f)
		asUint = uint64(int64(f))
	case TypeF64:
		f := math.Float64frombits(vr)
		asFloat = f
		asInt = int64(f)
		asUint = uint64(int64(f))
	}

	switch dst {
	case TypeI32:
		c.registers.ValueRegister = uint64(uint32(int32(asInt)))
	case TypeU32:
		c.registers.ValueRegister = uint64(uint32(asUint))
	case TypeI64:
		c.registers.ValueRegister = uint64(asInt)
	case TypeU64:
		c.registers.ValueRegister = asUint
	case TypeF32:
		c.registers.ValueRegister = uint64(math.Float32bits(float32(asFloat)))
	case TypeF64:
		c.registers.ValueRegister = math.Float64bits(asFloat)
	}
}

// execPow dispatches to the overflow-checked integer/float power
// helpers in pow.go and folds the result into the value register,
// raising ExcPowOverflow on overflow per spec.md §4.5.
func (c *Context) execPow(nt NumType) bool {
	vr := c.registers.ValueRegister
	var overflow bool
	switch nt {
	case TypeI32:
		base := int32(uint32(vr))
		exp := int32(c.popDWord())
		res := powI32(base, exp)
		c.registers.ValueRegister = res.Value
		overflow = res.Overflow
	case TypeU32:
		base := uint32(vr)
		exp := uint32(c.popDWord())
		res := powU32(base, exp)
		c.registers.ValueRegister = res.Value
		overflow = res.Overflow
	case TypeI64:
		base := int64(vr)
		exp := int64(c.popQWord())
		res := powI64(base, exp)
		c.registers.ValueRegister = res.Value
		overflow = res.Overflow
	case TypeU64:
		base := vr
		exp := c.popQWord()
		res := powU64(base, exp)
		c.registers.ValueRegister = res.Value
		overflow = res.Overflow
	case TypeF32:
		base := math.Float32frombits(uint32(vr))
		exp := math.Float32frombits(c.popDWord())
		val, ov := powF32(base, exp)
		c.registers.ValueRegister = uint64(math.Float32bits(val))
		overflow = ov
	case TypeF64:
		base := math.Float64frombits(vr)
		exp := math.Float64frombits(c.popQWord())
		val, ov := powF64(base, exp)
		c.registers.ValueRegister = math.Float64bits(val)
		overflow = ov
	default:
		c.raiseVMException(ExcUnrecognizedBytecode, "bad pow operand type")
		return false
	}
	if overflow {
		c.raiseVMException(ExcPowOverflow, "exponentiation overflow")
		return false
	}
	return true
}
