package deploy

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	TagEd25519   byte = 0x01
	TagSecp256k1 byte = 0x02
)

var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey is a tagged Casper public key, hex form is tag followed by key bytes
type PublicKey struct {
	Tag byte
	Raw []byte
}

func ParsePublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x"))
	if err != nil || len(b) == 0 {
		return PublicKey{}, fmt.Errorf("%w: %q", ErrInvalidPublicKey, s)
	}
	pk := PublicKey{Tag: b[0], Raw: b[1:]}
	switch {
	case pk.Tag == TagEd25519 && len(pk.Raw) == 32:
	case pk.Tag == TagSecp256k1 && len(pk.Raw) == 33:
	default:
		return PublicKey{}, fmt.Errorf("%w: unknown tag or length in %q", ErrInvalidPublicKey, s)
	}
	return pk, nil
}

// Bytes is the serialized form used in deploy headers
func (k PublicKey) Bytes() []byte {
	return append([]byte{k.Tag}, k.Raw...)
}

func (k PublicKey) Hex() string {
	return hex.EncodeToString(k.Bytes())
}

// TagHex is the two character algorithm prefix carried by signatures
func (k PublicKey) TagHex() string {
	return hex.EncodeToString([]byte{k.Tag})
}

func (k PublicKey) algorithm() string {
	if k.Tag == TagSecp256k1 {
		return "secp256k1"
	}
	return "ed25519"
}

// AccountHash is blake2b256(algorithm name || 0x00 || key bytes)
func (k PublicKey) AccountHash() [32]byte {
	buf := append([]byte(k.algorithm()), 0)
	buf = append(buf, k.Raw...)
	return blake2b.Sum256(buf)
}

func (k PublicKey) AccountHashString() string {
	h := k.AccountHash()
	return "account-hash-" + hex.EncodeToString(h[:])
}
