package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"anchorebridge/deploy"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsigned(t *testing.T, pub deploy.PublicKey) *deploy.Deploy {
	t.Helper()
	payment, err := deploy.StandardPayment(big.NewInt(3_000_000_000))
	require.NoError(t, err)
	d, err := deploy.New(deploy.Params{Account: pub, ChainName: "casper-test"}, payment,
		deploy.ContractCall(deploy.ContractRef{}, "approve", nil))
	require.NoError(t, err)
	return d
}

func signAndVerify(t *testing.T, s *KeySigner) {
	t.Helper()
	ctx := context.Background()
	pubHex, err := s.ActivePublicKey(ctx)
	require.NoError(t, err)

	d := unsigned(t, s.PublicKey())
	env, err := d.Envelope()
	require.NoError(t, err)

	res, err := s.Sign(ctx, env, pubHex)
	require.NoError(t, err)
	require.False(t, res.Cancelled)

	signed, err := deploy.Attach(env, pubHex, res.Signature)
	require.NoError(t, err)
	require.NoError(t, Verify(signed))

	signed.Approvals[0].Signature = signed.Approvals[0].Signature[:4] + strings.Repeat("0", len(signed.Approvals[0].Signature)-4)
	assert.Error(t, Verify(signed))
}

func TestEd25519Signer(t *testing.T) {
	seed := strings.Repeat("11", 32)
	s, err := ParseKey("01" + seed)
	require.NoError(t, err)
	assert.Equal(t, deploy.TagEd25519, s.PublicKey().Tag)
	signAndVerify(t, s)
}

func TestSecp256k1Signer(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := ParseKey("02" + hex.EncodeToString(crypto.FromECDSA(key)))
	require.NoError(t, err)
	assert.Equal(t, deploy.TagSecp256k1, s.PublicKey().Tag)
	assert.Len(t, s.PublicKey().Raw, 33)
	signAndVerify(t, s)
}

func TestSignRejectsOtherAccount(t *testing.T) {
	s, err := ParseKey("01" + strings.Repeat("22", 32))
	require.NoError(t, err)
	other, err := ParseKey("01" + strings.Repeat("33", 32))
	require.NoError(t, err)

	env, err := unsigned(t, s.PublicKey()).Envelope()
	require.NoError(t, err)
	_, err = s.Sign(context.Background(), env, other.PublicKey().Hex())
	assert.True(t, errors.Is(err, ErrWrongAccount))
}

func TestParseKeyPEM(t *testing.T) {
	_, edKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(edKey)
	require.NoError(t, err)

	dir := t.TempDir()
	edPath := filepath.Join(dir, "secret_key.pem")
	require.NoError(t, os.WriteFile(edPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))

	s, err := LoadKeyFile(edPath)
	require.NoError(t, err)
	assert.Equal(t, []byte(edKey.Public().(ed25519.PublicKey)), s.PublicKey().Raw)

	ecKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	der, err = asn1.Marshal(sec1Key{
		Version:       1,
		PrivateKey:    crypto.FromECDSA(ecKey),
		NamedCurveOID: asn1.ObjectIdentifier{1, 3, 132, 0, 10},
	})
	require.NoError(t, err)
	s, err = ParseKey(string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})))
	require.NoError(t, err)
	assert.Equal(t, crypto.CompressPubkey(&ecKey.PublicKey), s.PublicKey().Raw)

	_, err = ParseKey("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----")
	assert.True(t, errors.Is(err, ErrInvalidKey))
	_, err = ParseKey("03" + strings.Repeat("11", 32))
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

type slowSigner struct {
	*KeySigner
	active, peak int32
}

func (s *slowSigner) Sign(ctx context.Context, deployJSON []byte, publicKeyHex string) (SignResult, error) {
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return s.KeySigner.Sign(ctx, deployJSON, publicKeyHex)
}

func TestExclusiveSerializesSigning(t *testing.T) {
	ks, err := ParseKey("01" + strings.Repeat("44", 32))
	require.NoError(t, err)
	slow := &slowSigner{KeySigner: ks}
	s := Exclusive(slow)

	env, err := unsigned(t, ks.PublicKey()).Envelope()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Sign(context.Background(), env, ks.PublicKey().Hex())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&slow.peak))
}
