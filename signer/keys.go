package signer

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"anchorebridge/deploy"

	"github.com/ethereum/go-ethereum/crypto"
)

// sec1Key is the "EC PRIVATE KEY" layout, x509 does not know secp256k1
type sec1Key struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey     asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

// ParseKey reads a secret key given as tagged hex (01 or 02 followed by
// 32 bytes) or as the PEM files produced by casper-client keygen.
func ParseKey(s string) (*KeySigner, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-----BEGIN") {
		return parsePEM([]byte(s))
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != 33 {
		return nil, fmt.Errorf("%w: expected tagged 32 byte hex key", ErrInvalidKey)
	}
	switch b[0] {
	case deploy.TagEd25519:
		return NewEd25519(ed25519.NewKeyFromSeed(b[1:]))
	case deploy.TagSecp256k1:
		key, err := crypto.ToECDSA(b[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return NewSecp256k1(key)
	}
	return nil, fmt.Errorf("%w: unknown key tag %02x", ErrInvalidKey, b[0])
}

func LoadKeyFile(path string) (*KeySigner, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKey(string(bytes.TrimSpace(b)))
}

func parsePEM(data []byte) (*KeySigner, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	switch block.Type {
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		ed, ok := k.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: PKCS8 key is %T, want ed25519", ErrInvalidKey, k)
		}
		return NewEd25519(ed)
	case "EC PRIVATE KEY":
		var k sec1Key
		if _, err := asn1.Unmarshal(block.Bytes, &k); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		key, err := crypto.ToECDSA(k.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return NewSecp256k1(key)
	}
	return nil, fmt.Errorf("%w: unsupported PEM block %q", ErrInvalidKey, block.Type)
}

func decodeTagged(sigHex string, tag byte) ([]byte, error) {
	b, err := hex.DecodeString(sigHex)
	if err != nil || len(b) != 65 || b[0] != tag {
		return nil, fmt.Errorf("%w: expected tag %02x and 64 byte signature", deploy.ErrInvalidSignature, tag)
	}
	return b[1:], nil
}
