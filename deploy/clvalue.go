package deploy

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var ErrInvalidValue = errors.New("invalid cl value")

type CLType struct {
	tag  byte
	name string
	size uint32 // ByteArray only
}

var (
	CLTypeBool   = CLType{tag: 0, name: "Bool"}
	CLTypeU64    = CLType{tag: 5, name: "U64"}
	CLTypeU256   = CLType{tag: 7, name: "U256"}
	CLTypeU512   = CLType{tag: 8, name: "U512"}
	CLTypeString = CLType{tag: 10, name: "String"}
	CLTypeKey    = CLType{tag: 11, name: "Key"}
)

func CLTypeByteArray(size uint32) CLType {
	return CLType{tag: 15, name: "ByteArray", size: size}
}

func (t CLType) Name() string {
	return t.name
}

func (t CLType) Bytes() []byte {
	e := encoder{}
	e.u8(t.tag)
	if t.name == "ByteArray" {
		e.u32(t.size)
	}
	return e.b
}

func (t CLType) MarshalJSON() ([]byte, error) {
	if t.name == "ByteArray" {
		return json.Marshal(map[string]uint32{"ByteArray": t.size})
	}
	return json.Marshal(t.name)
}

// CLValue is a typed runtime argument value. Bytes holds the serialized
// value without its length prefix or type.
type CLValue struct {
	Type   CLType
	Bytes  []byte
	Parsed interface{}
}

// Serialize returns length-prefixed bytes followed by the type
func (v CLValue) Serialize() []byte {
	e := encoder{}
	e.bytes(v.Bytes)
	e.raw(v.Type.Bytes())
	return e.b
}

func (v CLValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CLType CLType      `json:"cl_type"`
		Bytes  string      `json:"bytes"`
		Parsed interface{} `json:"parsed"`
	}{v.Type, hex.EncodeToString(v.Bytes), v.Parsed})
}

func Bool(b bool) CLValue {
	var raw byte
	if b {
		raw = 1
	}
	return CLValue{Type: CLTypeBool, Bytes: []byte{raw}, Parsed: b}
}

func U64(n uint64) CLValue {
	e := encoder{}
	e.u64(n)
	return CLValue{Type: CLTypeU64, Bytes: e.b, Parsed: n}
}

func U256(n *big.Int) (CLValue, error) {
	b, err := bigUint(n, 32)
	if err != nil {
		return CLValue{}, err
	}
	return CLValue{Type: CLTypeU256, Bytes: b, Parsed: n.String()}, nil
}

func U512(n *big.Int) (CLValue, error) {
	b, err := bigUint(n, 64)
	if err != nil {
		return CLValue{}, err
	}
	return CLValue{Type: CLTypeU512, Bytes: b, Parsed: n.String()}, nil
}

func String(s string) CLValue {
	e := encoder{}
	e.str(s)
	return CLValue{Type: CLTypeString, Bytes: e.b, Parsed: s}
}

func ByteArray32(h [32]byte) CLValue {
	return CLValue{Type: CLTypeByteArray(32), Bytes: append([]byte(nil), h[:]...), Parsed: hex.EncodeToString(h[:])}
}

const (
	keyTagAccount byte = 0
	keyTagHash    byte = 1
)

func KeyAccount(accountHash [32]byte) CLValue {
	b := append([]byte{keyTagAccount}, accountHash[:]...)
	return CLValue{Type: CLTypeKey, Bytes: b, Parsed: map[string]string{"Account": "account-hash-" + hex.EncodeToString(accountHash[:])}}
}

func KeyHash(h [32]byte) CLValue {
	b := append([]byte{keyTagHash}, h[:]...)
	return CLValue{Type: CLTypeKey, Bytes: b, Parsed: map[string]string{"Hash": "hash-" + hex.EncodeToString(h[:])}}
}

// ParseKey accepts account-hash-<hex>, hash-<hex> or a public key, which is
// turned into its account hash. A public key without tag is an ed25519 key,
// contract hashes always need the hash- prefix.
func ParseKey(s string) (CLValue, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	switch {
	case strings.HasPrefix(s, "account-hash-"):
		h, err := parseHash32(strings.TrimPrefix(s, "account-hash-"))
		if err != nil {
			return CLValue{}, err
		}
		return KeyAccount(h), nil
	case len(s) == 64:
		s = hex.EncodeToString([]byte{TagEd25519}) + s
	case strings.HasPrefix(s, "hash-"):
		h, err := parseHash32(strings.TrimPrefix(s, "hash-"))
		if err != nil {
			return CLValue{}, err
		}
		return KeyHash(h), nil
	}
	pk, err := ParsePublicKey(s)
	if err != nil {
		return CLValue{}, fmt.Errorf("%w: %q is not a key", ErrInvalidValue, s)
	}
	return KeyAccount(pk.AccountHash()), nil
}

func parseHash32(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return h, fmt.Errorf("%w: %q is not a 32 byte hex hash", ErrInvalidValue, s)
	}
	copy(h[:], b)
	return h, nil
}
