// Package signer holds the signing capability used by the transaction
// pipeline and the operator key implementation of it.
package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"

	"anchorebridge/deploy"

	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidKey   = errors.New("invalid signing key")
	ErrWrongAccount = errors.New("deploy signer does not match key")
)

type SignResult struct {
	Signature deploy.SignatureBytes
	Cancelled bool // signer declined, not an error
}

// Signer is a wallet or key holder. Implementations may block on user interaction.
type Signer interface {
	RequestConnection(ctx context.Context) (bool, error)
	IsConnected(ctx context.Context) (bool, error)
	ActivePublicKey(ctx context.Context) (string, error)
	Sign(ctx context.Context, deployJSON []byte, publicKeyHex string) (SignResult, error)
}

// KeySigner signs with a local ed25519 or secp256k1 key, it is always connected
type KeySigner struct {
	pub deploy.PublicKey
	ed  ed25519.PrivateKey
	ec  *ecdsa.PrivateKey
}

func NewEd25519(key ed25519.PrivateKey) (*KeySigner, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: ed25519 key has %d bytes", ErrInvalidKey, len(key))
	}
	pub := key.Public().(ed25519.PublicKey)
	return &KeySigner{
		pub: deploy.PublicKey{Tag: deploy.TagEd25519, Raw: []byte(pub)},
		ed:  key,
	}, nil
}

func NewSecp256k1(key *ecdsa.PrivateKey) (*KeySigner, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil secp256k1 key", ErrInvalidKey)
	}
	return &KeySigner{
		pub: deploy.PublicKey{Tag: deploy.TagSecp256k1, Raw: crypto.CompressPubkey(&key.PublicKey)},
		ec:  key,
	}, nil
}

func (s *KeySigner) PublicKey() deploy.PublicKey {
	return s.pub
}

func (s *KeySigner) RequestConnection(ctx context.Context) (bool, error) {
	return true, nil
}

func (s *KeySigner) IsConnected(ctx context.Context) (bool, error) {
	return true, nil
}

func (s *KeySigner) ActivePublicKey(ctx context.Context) (string, error) {
	return s.pub.Hex(), nil
}

func (s *KeySigner) Sign(ctx context.Context, deployJSON []byte, publicKeyHex string) (SignResult, error) {
	if err := ctx.Err(); err != nil {
		return SignResult{}, err
	}
	if !strings.EqualFold(strings.TrimPrefix(publicKeyHex, "0x"), s.pub.Hex()) {
		return SignResult{}, fmt.Errorf("%w: asked for %s, holding %s", ErrWrongAccount, publicKeyHex, s.pub.Hex())
	}
	d, err := deploy.Unwrap(deployJSON)
	if err != nil {
		return SignResult{}, err
	}
	hash, err := d.HashBytes()
	if err != nil {
		return SignResult{}, err
	}
	sig, err := s.SignHash(hash)
	if err != nil {
		return SignResult{}, err
	}
	return SignResult{Signature: deploy.SignatureFromBytes(sig)}, nil
}

// SignHash returns the untagged 64 byte signature over a deploy hash
func (s *KeySigner) SignHash(hash []byte) ([]byte, error) {
	if s.ed != nil {
		return ed25519.Sign(s.ed, hash), nil
	}
	digest := sha256.Sum256(hash)
	sig, err := crypto.Sign(digest[:], s.ec)
	if err != nil {
		return nil, err
	}
	return sig[:64], nil
}

// Verify checks every approval of d against the deploy hash
func Verify(d *deploy.Deploy) error {
	hash, err := d.HashBytes()
	if err != nil {
		return err
	}
	if len(d.Approvals) == 0 {
		return fmt.Errorf("%w: deploy %s has no approvals", deploy.ErrInvalidSignature, d.Hash)
	}
	for i, a := range d.Approvals {
		pub, err := deploy.ParsePublicKey(a.Signer)
		if err != nil {
			return err
		}
		sig, err := decodeTagged(a.Signature, pub.Tag)
		if err != nil {
			return fmt.Errorf("approval %d: %w", i, err)
		}
		var ok bool
		switch pub.Tag {
		case deploy.TagEd25519:
			ok = ed25519.Verify(ed25519.PublicKey(pub.Raw), hash, sig)
		case deploy.TagSecp256k1:
			digest := sha256.Sum256(hash)
			ok = crypto.VerifySignature(pub.Raw, digest[:], sig)
		}
		if !ok {
			return fmt.Errorf("%w: approval %d by %s does not verify", deploy.ErrInvalidSignature, i, a.Signer)
		}
	}
	return nil
}

// Exclusive lets one signature request through at a time
func Exclusive(s Signer) Signer {
	return &exclusive{Signer: s}
}

type exclusive struct {
	Signer
	mu sync.Mutex
}

func (e *exclusive) Sign(ctx context.Context, deployJSON []byte, publicKeyHex string) (SignResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Signer.Sign(ctx, deployJSON, publicKeyHex)
}
