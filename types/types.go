package types

import (
	"fmt"
	"math/big"
	"strings"

	"anchorebridge/deploy"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
)

// source chain is an EVM chain identified by its chain id,
// destination is a Casper network identified by its chain name

type ReleaseStatus string

const (
	StatusPending    ReleaseStatus = "pending"    // intent recorded, no destination deploy accepted yet
	StatusDispatched ReleaseStatus = "dispatched" // release deploy accepted by the Casper node
	StatusConfirmed  ReleaseStatus = "confirmed"  // release deploy executed successfully
	StatusFailed     ReleaseStatus = "failed"     // unrecoverable, needs operator attention
)

var AllStatuses = []ReleaseStatus{StatusPending, StatusDispatched, StatusConfirmed, StatusFailed}

func (s ReleaseStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// BridgeRequest is one BridgeRequested log decoded from the source vault
type BridgeRequest struct {
	SourceSender         string
	Amount               *big.Int // smallest unit of the source token
	DestinationRecipient string   // Casper public key hex, tagged or bare ed25519, or account-hash-<hex>
	Nonce                *big.Int // unique per source chain, the only dedup key
	SourceTokenRef       string   // vault address, keys the token mapping table
	SourceChainID        uint64
	SourceBlockHeight    uint64
	SourceTxHash         string
}

// NonceKey is the canonical decimal form used as ledger key
func (r BridgeRequest) NonceKey() string {
	if r.Nonce == nil {
		return ""
	}
	return r.Nonce.String()
}

func (r BridgeRequest) Validate() error {
	if r.Nonce == nil || r.Nonce.Sign() < 0 {
		return fmt.Errorf("%w: missing or negative nonce", ErrInvalidRequest)
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.DestinationRecipient) == "" {
		return fmt.Errorf("%w: empty destination recipient", ErrInvalidRequest)
	}
	if _, err := deploy.ParseKey(r.DestinationRecipient); err != nil {
		return fmt.Errorf("%w: destination recipient: %v", ErrInvalidRequest, err)
	}
	if err := ethav.Validate(common.HexToAddress(r.SourceSender).Hex()); err != nil || !common.IsHexAddress(r.SourceSender) {
		return fmt.Errorf("%w: invalid source sender %q", ErrInvalidRequest, r.SourceSender)
	}
	return nil
}

// ReleaseRecord is the durable state of a single release, keyed by source nonce.
// Request fields are copied in so a failed release can be re-run by an operator.
type ReleaseRecord struct {
	ID              string
	Nonce           string
	Status          ReleaseStatus
	DestinationTxID string // Casper deploy hash, filled on dispatch
	AttemptCount    int
	Reason          string // why the release failed, for operators

	SourceSender      string
	SourceChainID     uint64
	SourceTokenRef    string
	SourceBlockHeight uint64
	SourceTxHash      string
	Recipient         string
	Amount            string // smallest unit, decimal
	TokenRef          string // destination token, filled after mapping

	TsCreated int64
	TsUpdated int64
}

// Request rebuilds the bridge request the record was created from
func (r ReleaseRecord) Request() (BridgeRequest, error) {
	nonce, ok := new(big.Int).SetString(r.Nonce, 10)
	if !ok {
		return BridgeRequest{}, fmt.Errorf("%w: record nonce %q", ErrInvalidRequest, r.Nonce)
	}
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return BridgeRequest{}, fmt.Errorf("%w: record amount %q", ErrInvalidRequest, r.Amount)
	}
	return BridgeRequest{
		SourceSender:         r.SourceSender,
		Amount:               amount,
		DestinationRecipient: r.Recipient,
		Nonce:                nonce,
		SourceTokenRef:       r.SourceTokenRef,
		SourceChainID:        r.SourceChainID,
		SourceBlockHeight:    r.SourceBlockHeight,
		SourceTxHash:         r.SourceTxHash,
	}, nil
}

// TokenDescriptor is immutable once returned by the token mapper
type TokenDescriptor struct {
	ChainID  string // Casper chain name
	TokenRef string // contract package hash, hex without prefix
	Decimals uint8
}
