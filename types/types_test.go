package types

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() BridgeRequest {
	return BridgeRequest{
		SourceSender:         "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa",
		Amount:               big.NewInt(1_000_000),
		DestinationRecipient: "0155cd64f5f3c9b0d53d1b9ab6ee0ba1a3abc6ab8a4b0de5eee39c42c5ab5b8e83",
		Nonce:                big.NewInt(7),
		SourceTokenRef:       "0x00000000000000000000000000000000000000a1",
		SourceChainID:        11155111,
		SourceBlockHeight:    100,
		SourceTxHash:         "0x01",
	}
}

func TestBridgeRequestValidate(t *testing.T) {
	require.NoError(t, validRequest().Validate())

	cases := map[string]func(r *BridgeRequest){
		"nil nonce":      func(r *BridgeRequest) { r.Nonce = nil },
		"negative nonce": func(r *BridgeRequest) { r.Nonce = big.NewInt(-1) },
		"zero amount":    func(r *BridgeRequest) { r.Amount = big.NewInt(0) },
		"no recipient":   func(r *BridgeRequest) { r.DestinationRecipient = "  " },
		"bad recipient":  func(r *BridgeRequest) { r.DestinationRecipient = "0155cd64" },
		"bad hash":       func(r *BridgeRequest) { r.DestinationRecipient = "hash-55cd" },
		"bad sender":     func(r *BridgeRequest) { r.SourceSender = "not-an-address" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := validRequest()
			mutate(&r)
			err := r.Validate()
			assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestBridgeRequestAcceptsRecipientForms(t *testing.T) {
	pub := "55cd64f5f3c9b0d53d1b9ab6ee0ba1a3abc6ab8a4b0de5eee39c42c5ab5b8e83"
	for _, recipient := range []string{"01" + pub, pub, "account-hash-" + pub} {
		r := validRequest()
		r.DestinationRecipient = recipient
		assert.NoError(t, r.Validate(), recipient)
	}
}

func TestReleaseRecordRequestRoundTrip(t *testing.T) {
	req := validRequest()
	rec := ReleaseRecord{
		Nonce:             req.NonceKey(),
		SourceSender:      req.SourceSender,
		SourceChainID:     req.SourceChainID,
		SourceTokenRef:    req.SourceTokenRef,
		SourceBlockHeight: req.SourceBlockHeight,
		SourceTxHash:      req.SourceTxHash,
		Recipient:         req.DestinationRecipient,
		Amount:            req.Amount.String(),
	}

	got, err := rec.Request()
	require.NoError(t, err)
	assert.Equal(t, req, got)

	rec.Amount = "x"
	_, err = rec.Request()
	assert.Error(t, err)
}

func TestReleaseStatusValid(t *testing.T) {
	assert.True(t, StatusDispatched.Valid())
	assert.False(t, ReleaseStatus("executing").Valid())
}
