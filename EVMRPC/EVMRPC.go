package EVMRPC

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"anchorebridge/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoEndpoints  = errors.New("evm: no rpc endpoints configured")
	ErrNotBridgeLog = errors.New("evm: log is not a BridgeRequested event")
)

// vault events, only BridgeRequested is consumed by the relay
const vaultABIJSON = `[
	{"anonymous":false,"name":"BridgeRequested","type":"event","inputs":[
		{"indexed":true,"name":"sender","type":"address"},
		{"indexed":false,"name":"amount","type":"uint256"},
		{"indexed":false,"name":"targetAddress","type":"string"},
		{"indexed":false,"name":"nonce","type":"uint256"}]},
	{"anonymous":false,"name":"BridgeReleased","type":"event","inputs":[
		{"indexed":true,"name":"recipient","type":"address"},
		{"indexed":false,"name":"amount","type":"uint256"},
		{"indexed":false,"name":"nonce","type":"uint256"}]}
]`

var VaultABI = mustParseABI(vaultABIJSON)

// BridgeRequestedTopic is topic0 of every deposit log
var BridgeRequestedTopic = VaultABI.Events["BridgeRequested"].ID

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Dial connects to the first reachable endpoint
func Dial(ctx context.Context, urls []string) (*ethclient.Client, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}
	var err error
	for _, url := range urls {
		var client *ethclient.Client
		client, err = ethclient.DialContext(ctx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("error connecting to EVM RPC")
			continue
		}
		return client, nil
	}
	return nil, err
}

// WithClient runs f against each endpoint in turn until one succeeds
func WithClient[T any](ctx context.Context, urls []string, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	if len(urls) == 0 {
		return res, ErrNoEndpoints
	}
	var client *ethclient.Client
	for _, url := range urls {
		client, err = ethclient.DialContext(ctx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("error connecting to EVM RPC")
			continue
		}

		res, err = f(client)
		client.Close()
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}
	return
}

// BridgeRequestedQuery selects deposit logs of vault between from and to,
// both inclusive. Nil bounds are open.
func BridgeRequestedQuery(vault common.Address, from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{vault},
		Topics:    [][]common.Hash{{BridgeRequestedTopic}},
	}
}

type bridgeRequested struct {
	Amount        *big.Int
	TargetAddress string
	Nonce         *big.Int
}

// DecodeBridgeRequested turns a vault log into a bridge request. The vault
// address doubles as the source token reference.
func DecodeBridgeRequested(l ethtypes.Log, chainID uint64) (types.BridgeRequest, error) {
	if len(l.Topics) != 2 || l.Topics[0] != BridgeRequestedTopic {
		return types.BridgeRequest{}, ErrNotBridgeLog
	}
	var ev bridgeRequested
	if err := VaultABI.UnpackIntoInterface(&ev, "BridgeRequested", l.Data); err != nil {
		return types.BridgeRequest{}, fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
	}
	return types.BridgeRequest{
		SourceSender:         common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
		Amount:               ev.Amount,
		DestinationRecipient: strings.TrimSpace(ev.TargetAddress),
		Nonce:                ev.Nonce,
		SourceTokenRef:       l.Address.Hex(),
		SourceChainID:        chainID,
		SourceBlockHeight:    l.BlockNumber,
		SourceTxHash:         l.TxHash.Hex(),
	}, nil
}

// EncodeBridgeRequested builds the log the vault emits for a deposit
func EncodeBridgeRequested(vault, sender common.Address, amount *big.Int, target string, nonce *big.Int) (ethtypes.Log, error) {
	ev := VaultABI.Events["BridgeRequested"]
	data, err := ev.Inputs.NonIndexed().Pack(amount, target, nonce)
	if err != nil {
		return ethtypes.Log{}, err
	}
	return ethtypes.Log{
		Address: vault,
		Topics:  []common.Hash{ev.ID, common.BytesToHash(sender.Bytes())},
		Data:    data,
	}, nil
}
