package deploy

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// encoder writes the Casper byte representation, little endian throughout
type encoder struct {
	b []byte
}

func (e *encoder) u8(v byte) {
	e.b = append(e.b, v)
}

func (e *encoder) u32(v uint32) {
	e.b = binary.LittleEndian.AppendUint32(e.b, v)
}

func (e *encoder) u64(v uint64) {
	e.b = binary.LittleEndian.AppendUint64(e.b, v)
}

// raw appends without a length prefix
func (e *encoder) raw(p []byte) {
	e.b = append(e.b, p...)
}

// bytes appends a u32 length prefixed byte slice
func (e *encoder) bytes(p []byte) {
	e.u32(uint32(len(p)))
	e.raw(p)
}

func (e *encoder) str(s string) {
	e.bytes([]byte(s))
}

// bigUint encodes U128/U256/U512 values: one length byte followed by the
// little endian magnitude with trailing zero bytes dropped.
func bigUint(v *big.Int, maxBytes int) ([]byte, error) {
	if v == nil || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: unsigned integer required", ErrInvalidValue)
	}
	be := v.Bytes()
	if len(be) > maxBytes {
		return nil, fmt.Errorf("%w: %s overflows %d bytes", ErrInvalidValue, v, maxBytes)
	}
	out := make([]byte, 1+len(be))
	out[0] = byte(len(be))
	for i, b := range be {
		out[len(be)-i] = b
	}
	return out, nil
}
