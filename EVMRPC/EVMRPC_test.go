package EVMRPC

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"anchorebridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vault  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	sender = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
)

func TestDecodeBridgeRequested(t *testing.T) {
	l, err := EncodeBridgeRequested(vault, sender, big.NewInt(1_000_000), "  0155cd64  ", big.NewInt(7))
	require.NoError(t, err)
	l.BlockNumber = 42
	l.TxHash = common.HexToHash("0x01")

	req, err := DecodeBridgeRequested(l, 11155111)
	require.NoError(t, err)
	assert.Equal(t, sender.Hex(), req.SourceSender)
	assert.Equal(t, "1000000", req.Amount.String())
	assert.Equal(t, "0155cd64", req.DestinationRecipient)
	assert.Equal(t, "7", req.NonceKey())
	assert.Equal(t, vault.Hex(), req.SourceTokenRef)
	assert.Equal(t, uint64(11155111), req.SourceChainID)
	assert.Equal(t, uint64(42), req.SourceBlockHeight)
	assert.Equal(t, l.TxHash.Hex(), req.SourceTxHash)
}

func TestDecodeRejectsForeignLogs(t *testing.T) {
	l, err := EncodeBridgeRequested(vault, sender, big.NewInt(1), "x", big.NewInt(1))
	require.NoError(t, err)

	other := l
	other.Topics = []common.Hash{VaultABI.Events["BridgeReleased"].ID, l.Topics[1]}
	_, err = DecodeBridgeRequested(other, 1)
	assert.True(t, errors.Is(err, ErrNotBridgeLog))

	truncated := l
	truncated.Data = l.Data[:40]
	_, err = DecodeBridgeRequested(truncated, 1)
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))
}

func TestBridgeRequestedQuery(t *testing.T) {
	q := BridgeRequestedQuery(vault, big.NewInt(10), big.NewInt(20))
	assert.Equal(t, []common.Address{vault}, q.Addresses)
	assert.Equal(t, BridgeRequestedTopic, q.Topics[0][0])
	assert.Equal(t, int64(10), q.FromBlock.Int64())
}

func TestWithClientNoEndpoints(t *testing.T) {
	_, err := WithClient(context.Background(), nil, func(client *ethclient.Client) (uint64, error) {
		return 0, nil
	})
	assert.True(t, errors.Is(err, ErrNoEndpoints))
}
