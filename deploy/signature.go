package deploy

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrInvalidSignature = errors.New("invalid signature")

type signatureKind int

const (
	sigHex signatureKind = iota + 1
	sigBytes
	sigIndexMap
)

// SignatureBytes is what a signer hands back: a hex string, a byte slice
// or a map of byte index to byte value. Each form has its own conversion.
type SignatureBytes struct {
	kind    signatureKind
	hex     string
	raw     []byte
	indexed map[int]byte
}

func SignatureFromHex(s string) SignatureBytes {
	return SignatureBytes{kind: sigHex, hex: s}
}

func SignatureFromBytes(b []byte) SignatureBytes {
	return SignatureBytes{kind: sigBytes, raw: append([]byte(nil), b...)}
}

func SignatureFromIndexMap(m map[int]byte) SignatureBytes {
	cp := make(map[int]byte, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return SignatureBytes{kind: sigIndexMap, indexed: cp}
}

// ParseSignatureJSON maps a JSON signer payload onto one of the three forms
func ParseSignatureJSON(raw json.RawMessage) (SignatureBytes, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return SignatureFromHex(s), nil
	}
	var list []byte
	var ints []int
	if err := json.Unmarshal(raw, &ints); err == nil {
		for _, v := range ints {
			if v < 0 || v > 255 {
				return SignatureBytes{}, fmt.Errorf("%w: byte value %d out of range", ErrInvalidSignature, v)
			}
			list = append(list, byte(v))
		}
		return SignatureFromBytes(list), nil
	}
	var obj map[string]int
	if err := json.Unmarshal(raw, &obj); err == nil {
		m := make(map[int]byte, len(obj))
		for k, v := range obj {
			i, err := strconv.Atoi(k)
			if err != nil || v < 0 || v > 255 {
				return SignatureBytes{}, fmt.Errorf("%w: bad entry %q=%d", ErrInvalidSignature, k, v)
			}
			m[i] = byte(v)
		}
		return SignatureFromIndexMap(m), nil
	}
	return SignatureBytes{}, fmt.Errorf("%w: unsupported payload %s", ErrInvalidSignature, raw)
}

func (s SignatureBytes) IsZero() bool {
	return s.kind == 0
}

// Hex returns the lowercase tagged signature hex. algTag is the first two
// hex characters of the signer public key.
func (s SignatureBytes) Hex(algTag string) (string, error) {
	algTag = strings.ToLower(algTag)
	if algTag != "01" && algTag != "02" {
		return "", fmt.Errorf("%w: unknown algorithm tag %q", ErrInvalidSignature, algTag)
	}
	switch s.kind {
	case sigHex:
		return hexSignature(s.hex, algTag)
	case sigBytes:
		return bytesSignature(s.raw, algTag)
	case sigIndexMap:
		return indexMapSignature(s.indexed, algTag)
	}
	return "", fmt.Errorf("%w: empty signature", ErrInvalidSignature)
}

// a hex string already starting with 01 or 02 is assumed to be tagged
func hexSignature(s, algTag string) (string, error) {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if s == "" {
		return "", fmt.Errorf("%w: empty signature", ErrInvalidSignature)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if strings.HasPrefix(s, "01") || strings.HasPrefix(s, "02") {
		return s, nil
	}
	return algTag + s, nil
}

// raw signatures are 64 bytes, 65 with a leading 01 or 02 means already tagged
func bytesSignature(b []byte, algTag string) (string, error) {
	if len(b) == 0 {
		return "", fmt.Errorf("%w: empty signature", ErrInvalidSignature)
	}
	if len(b) == 65 && (b[0] == 0x01 || b[0] == 0x02) {
		return hex.EncodeToString(b), nil
	}
	return algTag + hex.EncodeToString(b), nil
}

func indexMapSignature(m map[int]byte, algTag string) (string, error) {
	if len(m) == 0 {
		return "", fmt.Errorf("%w: empty signature", ErrInvalidSignature)
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	b := make([]byte, 0, len(keys))
	for i, k := range keys {
		if k != i {
			return "", fmt.Errorf("%w: index %d missing", ErrInvalidSignature, i)
		}
		b = append(b, m[k])
	}
	return bytesSignature(b, algTag)
}

// Attach appends the signer approval to the deploy found in envelope,
// whichever shape the envelope has.
func Attach(envelope []byte, signerPublicKeyHex string, sig SignatureBytes) (*Deploy, error) {
	d, err := Unwrap(envelope)
	if err != nil {
		return nil, err
	}
	return AttachTo(d, signerPublicKeyHex, sig)
}

// AttachTo is Attach for an already decoded deploy. The deploy is modified.
func AttachTo(d *Deploy, signerPublicKeyHex string, sig SignatureBytes) (*Deploy, error) {
	pub := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(signerPublicKeyHex), "0x"))
	if len(pub) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPublicKey, signerPublicKeyHex)
	}
	sigHex, err := sig.Hex(pub[:2])
	if err != nil {
		return nil, err
	}
	d.Approvals = append(d.Approvals, Approval{Signer: pub, Signature: sigHex})
	return d, nil
}
