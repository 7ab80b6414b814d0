package vm

import "encoding/binary"

// Operand decoders read from a function's bytecode at offset pp+1,
// mirroring the teacher's encoding/binary-based helpers in
// vm/bytecode.go. All multi-byte operands are little-endian.

func readU16(bc []byte, at uint32) uint16 {
	return binary.LittleEndian.Uint16(bc[at : at+2])
}

func readI16(bc []byte, at uint32) int16 {
	return int16(readU16(bc, at))
}

func readU32(bc []byte, at uint32) uint32 {
	return binary.LittleEndian.Uint32(bc[at : at+4])
}

func readU64(bc []byte, at uint32) uint64 {
	return binary.LittleEndian.Uint64(bc[at : at+8])
}

func writeU16(bc []byte, at uint32, v uint16) {
	binary.LittleEndian.PutUint16(bc[at:at+2], v)
}

func writeU32(bc []byte, at uint32, v uint32) {
	binary.LittleEndian.PutUint32(bc[at:at+4], v)
}

func writeU64(bc []byte, at uint32, v uint64) {
	binary.LittleEndian.PutUint64(bc[at:at+8], v)
}
