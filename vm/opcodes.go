package vm

// Opcode is a single bytecode instruction. The dispatch loop advances
// the program pointer by an instruction-specific byte size drawn from
// instrSize, a static table keyed by opcode (spec.md §9: "Tagged
// instructions... sizes per kind are a static table").
type Opcode byte

// Stack operations.
const (
	OpNop             Opcode = 0x00 // no operation
	OpPushDWord       Opcode = 0x01 // push inline uint32
	OpPushQWord       Opcode = 0x02 // push inline uint64
	OpPushPointer     Opcode = 0x03 // push the object register onto the stack
	OpPushNull        Opcode = 0x04 // push a null object reference
	OpPushTypeID      Opcode = 0x05 // load literal[imm16] (a *engine.TypeInfo) into the object register; the data stack is untouched
	OpPushGlobalAddr  Opcode = 0x06 // load the address of literal[imm16] (a global cell) into the object register; the data stack is untouched
	OpPushVariableAddr Opcode = 0x07 // load the address of frame-relative variable imm16 into the object register; the data stack is untouched
	OpPopPointer      Opcode = 0x08 // discard the top pointer slot
	OpSwapPointer     Opcode = 0x09 // swap the top two pointer slots
	OpClearPointerVar Opcode = 0x0A // zero local pointer variable imm16
	OpPushVar32       Opcode = 0x0B // push var[imm16] (32-bit) onto the data stack
	OpPushVar64       Opcode = 0x0C // push var[imm16] (64-bit) onto the data stack
)

// Variable<->register moves. "32"/"64" suffixes name the operand width.
const (
	OpMovVarVar32    Opcode = 0x10 // var[imm16 src] -> var[imm16 dst]
	OpMovVarVar64    Opcode = 0x11
	OpMovVarReg32    Opcode = 0x12 // var[imm16] -> value register (low 32 bits)
	OpMovVarReg64    Opcode = 0x13 // var[imm16] -> value register
	OpMovRegVar32    Opcode = 0x14 // value register (low 32 bits) -> var[imm16]
	OpMovRegVar64    Opcode = 0x15
	OpMovGlobalVar32 Opcode = 0x16 // literal[imm16] -> var[imm16]
	OpMovVarGlobal32 Opcode = 0x17
	OpMovGlobalVar64 Opcode = 0x18
	OpMovVarGlobal64 Opcode = 0x19
)

// Indirect read/write through the object register.
const (
	OpLoadIndirect  Opcode = 0x20 // width byte (a Width: 8/16/32/64); reads *object-register into value register
	OpStoreIndirect Opcode = 0x21 // width byte; narrower writes zero-extend the containing 32-bit slot
)

// Typed arithmetic, bitwise, comparison and conversion, each a small
// tagged instruction: one opcode plus one or two operand-tag bytes,
// rather than one opcode per (type, operator) pair. The dispatch loop
// is free to specialize however it likes internally; spec.md §4.5
// only constrains the resulting semantics, not the opcode encoding.
const (
	OpArith   Opcode = 0x30 // operand: NumType, AluOp
	OpBitwise Opcode = 0x31 // operand: Width (32/64), BitOp
	OpCompare Opcode = 0x32 // operand: NumType
	OpConvert Opcode = 0x33 // operand: src NumType, dst NumType
)

// Conditional jumps test the value register and branch by a signed
// 16-bit relative displacement.
const (
	OpCondJump Opcode = 0x40 // operand: Cond, rel16 (tests the low 32 bits of the value register)
)

// Control flow.
const (
	OpJump      Opcode = 0x50 // operand: rel16
	OpJumpTable Opcode = 0x51 // lands on the Nth of a run of 3-byte OpJump instructions immediately following, N = int32(value register)
	OpSuspend   Opcode = 0x52 // cooperative suspension check
	OpReturn    Opcode = 0x53 // pop call state (or finish, if none / a marker is on top)
)

// Call family.
const (
	OpCallScript    Opcode = 0x60 // operand: literal[imm32] *engine.Function (Kind==Script)
	OpCallImported  Opcode = 0x61 // operand: literal[imm32] *engine.Function (Kind==Imported)
	OpCallInterface Opcode = 0x62 // operand: literal[imm16] *engine.TypeInfo (interface), imm16 method index
	OpCallVirtual   Opcode = 0x63 // operand: literal[imm16] *engine.TypeInfo (static declaring type), imm16 vtable index
	OpCallFuncPtr   Opcode = 0x64 // dispatches on the object register's bound *engine.Function at call time
	OpCallHost      Opcode = 0x65 // operand: literal[imm32] *engine.Function (Kind==Host)
	OpCallFast1Int  Opcode = 0x66 // operand: literal[imm32] *engine.Function; single int/uint argument fast path
)

// Allocation family.
const (
	OpAlloc           Opcode = 0x70 // operand: literal[imm16] *engine.TypeInfo
	OpFree            Opcode = 0x71 // operand: imm16 var offset
	OpRefCopy         Opcode = 0x72 // operand: imm16 var offset; release old, addref new (from top of stack)
	OpRefCopyToVar    Opcode = 0x73 // operand: imm16 var offset; variant taking the new reference from the object register
	OpCheckNullTop    Opcode = 0x74
	OpCheckNullOffset Opcode = 0x75 // operand: imm16 stack offset
	OpCheckNullVar    Opcode = 0x76 // operand: imm16 var offset
	OpCheckNullAfterDeref Opcode = 0x77
	OpCastDown        Opcode = 0x78 // operand: literal[imm16] *engine.TypeInfo target
	OpCastCross       Opcode = 0x79 // operand: literal[imm16] *engine.TypeInfo target interface
)

// Exponentiation.
const (
	OpPow Opcode = 0x80 // operand: NumType
)

// List-buffer operations, used by the compiler to materialize an
// initializer list.
const (
	OpListAlloc      Opcode = 0x90 // operand: literal[imm16] element *engine.TypeInfo, imm32 count
	OpListSetCount   Opcode = 0x91
	OpListPushElemAddr Opcode = 0x92
	OpListSetElemType  Opcode = 0x93 // operand: literal[imm16] *engine.TypeInfo
)

// JIT hand-off.
const (
	OpJitEntry Opcode = 0xA0 // operand: imm16 entry token
)

// NumType tags the six arithmetic/comparison/exponentiation types.
type NumType byte

const (
	TypeI32 NumType = iota
	TypeU32
	TypeI64
	TypeU64
	TypeF32
	TypeF64
)

// AluOp tags an arithmetic operation.
type AluOp byte

const (
	AluAdd AluOp = iota
	AluSub
	AluMul
	AluDiv
	AluMod
	AluNeg
)

// BitOp tags a bitwise operation.
type BitOp byte

const (
	BitNot BitOp = iota
	BitAnd
	BitOr
	BitXor
	BitShl
	BitShr // logical shift right
	BitSar // arithmetic shift right
)

// Width tags an operand width in bits.
type Width byte

const (
	WidthByte Width = 8
	Width16   Width = 16
	Width32   Width = 32
	Width64   Width = 64
)

// Cond tags a conditional-jump predicate over the value register.
type Cond byte

const (
	CondZero Cond = iota
	CondNonZero
	CondNegative
	CondNonNegative
	CondPositive
	CondNonPositive
)

// instrSize gives the total instruction length in bytes (opcode byte
// included) for every opcode this interpreter recognizes. An opcode
// absent from this table is unrecognized bytecode.
var instrSize = map[Opcode]int{
	OpNop:              1,
	OpPushDWord:        5,
	OpPushQWord:        9,
	OpPushPointer:      1,
	OpPushNull:         1,
	OpPushTypeID:       3,
	OpPushGlobalAddr:   3,
	OpPushVariableAddr: 3,
	OpPopPointer:       1,
	OpSwapPointer:      1,
	OpClearPointerVar:  3,
	OpPushVar32:        3,
	OpPushVar64:        3,

	OpMovVarVar32:    5,
	OpMovVarVar64:    5,
	OpMovVarReg32:    3,
	OpMovVarReg64:    3,
	OpMovRegVar32:    3,
	OpMovRegVar64:    3,
	OpMovGlobalVar32: 5,
	OpMovVarGlobal32: 5,
	OpMovGlobalVar64: 5,
	OpMovVarGlobal64: 5,

	OpLoadIndirect:  2,
	OpStoreIndirect: 2,

	OpArith:   3,
	OpBitwise: 3,
	OpCompare: 2,
	OpConvert: 3,

	OpCondJump: 4,

	OpJump:      3,
	OpJumpTable: 1,
	OpSuspend:   1,
	OpReturn:    1,

	OpCallScript:    5,
	OpCallImported:  5,
	OpCallInterface: 5,
	OpCallVirtual:   5,
	OpCallFuncPtr:   1,
	OpCallHost:      5,
	OpCallFast1Int:  5,

	OpAlloc:               3,
	OpFree:                3,
	OpRefCopy:             3,
	OpRefCopyToVar:        3,
	OpCheckNullTop:        1,
	OpCheckNullOffset:     3,
	OpCheckNullVar:        3,
	OpCheckNullAfterDeref: 1,
	OpCastDown:            3,
	OpCastCross:           3,

	OpPow: 2,

	OpListAlloc:        7,
	OpListSetCount:     1,
	OpListPushElemAddr: 1,
	OpListSetElemType:  3,

	OpJitEntry: 3,
}
