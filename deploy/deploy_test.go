package deploy

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

const testAccount = "0155cd64f5f3c9b0d53d1b9ab6ee0ba1a3abc6ab8a4b0de5eee39c42c5ab5b8e83"

func testDeploy(t *testing.T) *Deploy {
	t.Helper()
	pk, err := ParsePublicKey(testAccount)
	require.NoError(t, err)
	payment, err := StandardPayment(big.NewInt(2_500_000_000))
	require.NoError(t, err)
	amount, err := U256(big.NewInt(1_000_000))
	require.NoError(t, err)
	ref, err := ParseContractHash("hash-" + strings.Repeat("ab", 32))
	require.NoError(t, err)

	d, err := New(Params{
		Account:   pk,
		ChainName: "casper-test",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 678_000_000, time.UTC),
	}, payment, ContractCall(ref, "approve", Args{{Name: "amount", Value: amount}}))
	require.NoError(t, err)
	return d
}

func TestBigUintEncoding(t *testing.T) {
	v, err := U512(big.NewInt(2_500_000_000))
	require.NoError(t, err)
	assert.Equal(t, "0400f90295", hex.EncodeToString(v.Bytes))

	zero, err := U256(big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, "00", hex.EncodeToString(zero.Bytes))

	_, err = U256(new(big.Int).Lsh(big.NewInt(1), 256))
	assert.True(t, errors.Is(err, ErrInvalidValue))
	_, err = U512(big.NewInt(-1))
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestArgsBytes(t *testing.T) {
	v, err := U512(big.NewInt(2_500_000_000))
	require.NoError(t, err)
	args := Args{{Name: "amount", Value: v}}
	assert.Equal(t, "01000000"+"06000000"+hex.EncodeToString([]byte("amount"))+"05000000"+"0400f90295"+"08",
		hex.EncodeToString(args.Bytes()))

	js, err := json.Marshal(args)
	require.NoError(t, err)
	assert.JSONEq(t, `[["amount",{"cl_type":"U512","bytes":"0400f90295","parsed":"2500000000"}]]`, string(js))
}

func TestCLValueTypes(t *testing.T) {
	var h [32]byte
	h[0] = 0xff
	js, err := json.Marshal(ByteArray32(h))
	require.NoError(t, err)
	assert.Contains(t, string(js), `"cl_type":{"ByteArray":32}`)

	assert.Equal(t, "0f20000000", hex.EncodeToString(CLTypeByteArray(32).Bytes()))
	assert.Equal(t, byte(keyTagHash), KeyHash(h).Bytes[0])
	assert.Equal(t, []byte{1}, Bool(true).Bytes)
	assert.Equal(t, "03000000616263", hex.EncodeToString(String("abc").Bytes))
	assert.Equal(t, "0700000003000000616263"+"0a", hex.EncodeToString(String("abc").Serialize()))
}

func TestParseKey(t *testing.T) {
	pk, err := ParsePublicKey(testAccount)
	require.NoError(t, err)

	k, err := ParseKey(testAccount)
	require.NoError(t, err)
	acc := pk.AccountHash()
	assert.Equal(t, append([]byte{keyTagAccount}, acc[:]...), k.Bytes)

	buf := append([]byte("ed25519\x00"), pk.Raw...)
	assert.Equal(t, blake2b.Sum256(buf), acc)

	k, err = ParseKey("hash-" + strings.Repeat("01", 32))
	require.NoError(t, err)
	assert.Equal(t, keyTagHash, k.Bytes[0])

	// untagged keys are ed25519 accounts, never contract hashes
	k, err = ParseKey(hex.EncodeToString(pk.Raw))
	require.NoError(t, err)
	assert.Equal(t, append([]byte{keyTagAccount}, acc[:]...), k.Bytes)

	k, err = ParseKey(pk.AccountHashString())
	require.NoError(t, err)
	assert.Equal(t, keyTagAccount, k.Bytes[0])

	_, err = ParseKey("nonsense")
	assert.Error(t, err)
}

func TestContractRef(t *testing.T) {
	hash := strings.Repeat("cd", 32)
	for _, s := range []string{hash, "hash-" + hash, "contract-" + hash, "HASH-" + strings.ToUpper(hash)} {
		ref, err := ParseContractHash(s)
		require.NoError(t, err, s)
		assert.Equal(t, hash, ref.Hex())
		assert.False(t, ref.Package)
	}

	ref, err := ParsePackageHash("contract-package-" + hash)
	require.NoError(t, err)
	assert.True(t, ref.Package)
	assert.Equal(t, KindStoredVersionedContractByHash, ContractCall(ref, "mint", nil).Kind)

	_, err = ParseContractHash("hash-abc")
	assert.Error(t, err)
}

func TestVersionedCallEncoding(t *testing.T) {
	ref, err := ParsePackageHash(strings.Repeat("00", 32))
	require.NoError(t, err)
	item := ContractCall(ref, "mint", nil)

	b := item.Bytes()
	assert.Equal(t, byte(3), b[0])
	assert.Equal(t, byte(0), b[33], "latest version is encoded as None")

	js, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Contains(t, string(js), `"version":null`)
	assert.Contains(t, string(js), `"args":[]`)
}

func TestNewDeploy(t *testing.T) {
	d := testDeploy(t)

	assert.Len(t, d.Hash, 64)
	assert.Equal(t, "2024-01-02T03:04:05.678Z", d.Header.Timestamp)
	assert.Equal(t, "30m", d.Header.TTL)
	assert.Equal(t, uint64(1), d.Header.GasPrice)
	assert.Equal(t, testAccount, d.Header.Account)
	assert.Empty(t, d.Approvals)
	assert.NotNil(t, d.Approvals)

	pk, _ := ParsePublicKey(testAccount)
	payment, _ := StandardPayment(big.NewInt(2_500_000_000))
	other, err := New(Params{Account: pk, ChainName: "casper", Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 678_000_000, time.UTC)},
		payment, ContractCall(ContractRef{}, "approve", nil))
	require.NoError(t, err)
	assert.NotEqual(t, d.Hash, other.Hash)

	_, err = New(Params{Account: pk}, payment, payment)
	assert.True(t, errors.Is(err, ErrInvalidParams))
}

func TestFormatTTL(t *testing.T) {
	assert.Equal(t, "30m", FormatTTL(30*time.Minute))
	assert.Equal(t, "1h 30m", FormatTTL(90*time.Minute))
	assert.Equal(t, "1day", FormatTTL(24*time.Hour))
	assert.Equal(t, "2days 1s", FormatTTL(48*time.Hour+time.Second))
}

func TestUnwrapShapes(t *testing.T) {
	d := testDeploy(t)
	flat, err := json.Marshal(d)
	require.NoError(t, err)
	nested, err := d.Envelope()
	require.NoError(t, err)
	tx, err := json.Marshal(map[string]interface{}{"transaction": d})
	require.NoError(t, err)
	versioned, err := json.Marshal(map[string]interface{}{"transaction": map[string]interface{}{"Deploy": d}})
	require.NoError(t, err)

	for name, env := range map[string][]byte{"flat": flat, "deploy": nested, "transaction": tx, "versioned": versioned} {
		got, err := Unwrap(env)
		require.NoError(t, err, name)
		assert.Equal(t, d.Hash, got.Hash, name)
		assert.JSONEq(t, string(d.Session), string(got.Session), name)
	}

	for _, bad := range []string{`[]`, `{"deploy":{"hash":"zz"}}`, `{"hash":"` + d.Hash + `"}`} {
		_, err := Unwrap([]byte(bad))
		assert.True(t, errors.Is(err, ErrMalformedEnvelope), bad)
	}
}

func TestSignatureNormalization(t *testing.T) {
	cases := []struct {
		name string
		sig  SignatureBytes
		tag  string
		want string
	}{
		{"index map", SignatureFromIndexMap(map[int]byte{1: 0xCD, 0: 0xAB}), "01", "01abcd"},
		{"tagged hex passes through", SignatureFromHex("01ab"), "02", "01ab"},
		{"untagged hex", SignatureFromHex("0xABCD"), "02", "02abcd"},
		{"raw bytes", SignatureFromBytes([]byte{0xab, 0xcd}), "01", "01abcd"},
		{"tagged bytes", SignatureFromBytes(append([]byte{0x02}, make([]byte, 64)...)), "01", "02" + strings.Repeat("00", 64)},
	}
	for _, c := range cases {
		got, err := c.sig.Hex(c.tag)
		require.NoError(t, err, c.name)
		assert.Equal(t, c.want, got, c.name)
	}

	for name, sig := range map[string]SignatureBytes{
		"empty hex":   SignatureFromHex(""),
		"bad hex":     SignatureFromHex("xyz"),
		"odd hex":     SignatureFromHex("abc"),
		"empty bytes": SignatureFromBytes(nil),
		"gap in map":  SignatureFromIndexMap(map[int]byte{0: 1, 2: 3}),
		"zero":        {},
	} {
		_, err := sig.Hex("01")
		assert.True(t, errors.Is(err, ErrInvalidSignature), name)
	}
}

func TestParseSignatureJSON(t *testing.T) {
	s, err := ParseSignatureJSON(json.RawMessage(`{"0":171,"1":205}`))
	require.NoError(t, err)
	got, err := s.Hex("01")
	require.NoError(t, err)
	assert.Equal(t, "01abcd", got)

	s, err = ParseSignatureJSON(json.RawMessage(`[171,205]`))
	require.NoError(t, err)
	got, err = s.Hex("02")
	require.NoError(t, err)
	assert.Equal(t, "02abcd", got)

	s, err = ParseSignatureJSON(json.RawMessage(`"01abcd"`))
	require.NoError(t, err)
	got, err = s.Hex("02")
	require.NoError(t, err)
	assert.Equal(t, "01abcd", got)

	_, err = ParseSignatureJSON(json.RawMessage(`[300]`))
	assert.Error(t, err)
	_, err = ParseSignatureJSON(json.RawMessage(`true`))
	assert.Error(t, err)
}

func TestAttachBothShapes(t *testing.T) {
	d := testDeploy(t)
	flat, err := json.Marshal(d)
	require.NoError(t, err)
	nested, err := json.Marshal(map[string]interface{}{"transaction": d})
	require.NoError(t, err)

	sig := SignatureFromIndexMap(map[int]byte{0: 0xAB, 1: 0xCD})
	for _, env := range [][]byte{flat, nested} {
		signed, err := Attach(env, strings.ToUpper(testAccount), sig)
		require.NoError(t, err)
		require.Len(t, signed.Approvals, 1)
		assert.Equal(t, Approval{Signer: testAccount, Signature: "01abcd"}, signed.Approvals[0])
		assert.Equal(t, d.Hash, signed.Hash)

		again, err := AttachTo(signed, testAccount, SignatureFromHex("01ef"))
		require.NoError(t, err)
		assert.Len(t, again.Approvals, 2)
		assert.Equal(t, "01abcd", again.Approvals[0].Signature)
	}

	_, err = Attach(flat, "", sig)
	assert.Error(t, err)
	_, err = Attach(flat, "03ab", sig)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}
