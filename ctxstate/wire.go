// Package ctxstate serializes a suspended or exception-state vm.Context
// to and from CBOR bytes, driving the context through its
// StartDeserialization/PushFunction/SetStateRegisters/
// SetCallStateRegisters/FinishDeserialization protocol (spec.md §4.8,
// §6) rather than poking its fields directly.
package ctxstate

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ctxstate: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a SerializedContext to CBOR bytes.
func Marshal(sc *SerializedContext) ([]byte, error) {
	return cborEncMode.Marshal(sc)
}

// Unmarshal deserializes a SerializedContext from CBOR bytes.
func Unmarshal(data []byte) (*SerializedContext, error) {
	var sc SerializedContext
	if err := cbor.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("ctxstate: unmarshal context: %w", err)
	}
	return &sc, nil
}
