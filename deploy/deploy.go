// Package deploy builds, hashes and signs Casper deploys.
package deploy

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	DefaultTTL      = 30 * time.Minute
	DefaultGasPrice = 1

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

var ErrInvalidParams = errors.New("invalid deploy params")

type Params struct {
	Account      PublicKey
	ChainName    string
	TTL          time.Duration
	GasPrice     uint64
	Timestamp    time.Time
	Dependencies [][32]byte
}

type Header struct {
	Account      string   `json:"account"`
	Timestamp    string   `json:"timestamp"`
	TTL          string   `json:"ttl"`
	GasPrice     uint64   `json:"gas_price"`
	BodyHash     string   `json:"body_hash"`
	Dependencies []string `json:"dependencies"`
	ChainName    string   `json:"chain_name"`
}

type Approval struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// Deploy is the canonical transaction form. Payment and session stay raw
// so deploys built elsewhere survive a decode and re-encode unchanged.
type Deploy struct {
	Hash      string          `json:"hash"`
	Header    Header          `json:"header"`
	Payment   json.RawMessage `json:"payment"`
	Session   json.RawMessage `json:"session"`
	Approvals []Approval      `json:"approvals"`
}

// New builds an unsigned deploy and computes its body and deploy hashes
func New(p Params, payment, session ExecutableDeployItem) (*Deploy, error) {
	if strings.TrimSpace(p.ChainName) == "" {
		return nil, fmt.Errorf("%w: chain name is empty", ErrInvalidParams)
	}
	if len(p.Account.Raw) == 0 {
		return nil, fmt.Errorf("%w: account is empty", ErrInvalidParams)
	}
	if p.TTL <= 0 {
		p.TTL = DefaultTTL
	}
	if p.GasPrice == 0 {
		p.GasPrice = DefaultGasPrice
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	ts := p.Timestamp.UTC().Truncate(time.Millisecond)

	paymentBytes := payment.Bytes()
	sessionBytes := session.Bytes()
	bodyHash := blake2b.Sum256(append(append([]byte{}, paymentBytes...), sessionBytes...))

	e := encoder{}
	e.raw(p.Account.Bytes())
	e.u64(uint64(ts.UnixMilli()))
	e.u64(uint64(p.TTL.Milliseconds()))
	e.u64(p.GasPrice)
	e.raw(bodyHash[:])
	e.u32(uint32(len(p.Dependencies)))
	deps := make([]string, 0, len(p.Dependencies))
	for _, d := range p.Dependencies {
		e.raw(d[:])
		deps = append(deps, hex.EncodeToString(d[:]))
	}
	e.str(p.ChainName)
	hash := blake2b.Sum256(e.b)

	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return nil, err
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}

	return &Deploy{
		Hash: hex.EncodeToString(hash[:]),
		Header: Header{
			Account:      p.Account.Hex(),
			Timestamp:    ts.Format(timestampLayout),
			TTL:          FormatTTL(p.TTL),
			GasPrice:     p.GasPrice,
			BodyHash:     hex.EncodeToString(bodyHash[:]),
			Dependencies: deps,
			ChainName:    p.ChainName,
		},
		Payment:   paymentJSON,
		Session:   sessionJSON,
		Approvals: []Approval{},
	}, nil
}

// HashBytes is the 32 byte digest signers sign over
func (d *Deploy) HashBytes() ([]byte, error) {
	b, err := hex.DecodeString(d.Hash)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("%w: deploy hash %q", ErrMalformedEnvelope, d.Hash)
	}
	return b, nil
}

// Envelope wraps the deploy the way wallets and account_put_deploy expect it
func (d *Deploy) Envelope() ([]byte, error) {
	return json.Marshal(map[string]*Deploy{"deploy": d})
}

func (d *Deploy) Signed() bool {
	return len(d.Approvals) > 0
}

// FormatTTL renders durations like the node does, 30m or 1day 2h
func FormatTTL(ttl time.Duration) string {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		return "0s"
	}
	units := []struct {
		name string
		size int64
	}{
		{"day", 24 * 60 * 60 * 1000},
		{"h", 60 * 60 * 1000},
		{"m", 60 * 1000},
		{"s", 1000},
		{"ms", 1},
	}
	parts := make([]string, 0, len(units))
	for _, u := range units {
		n := ms / u.size
		if n == 0 {
			continue
		}
		ms -= n * u.size
		name := u.name
		if name == "day" && n > 1 {
			name = "days"
		}
		parts = append(parts, strconv.FormatInt(n, 10)+name)
	}
	return strings.Join(parts, " ")
}
