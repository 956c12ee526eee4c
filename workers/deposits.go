package workers

import (
	"context"
	"errors"
	"fmt"

	"anchorebridge/EVMRPC"
	"anchorebridge/types"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

// ReceiptDeposits reads bridge requests from a transaction receipt, for
// deposits submitted by hand through the operator API
type ReceiptDeposits struct {
	RPCList          []string
	ChainID          uint64
	Vault            common.Address
	MinConfirmations uint64 // same finality rule as the watcher
}

type receiptAtHead struct {
	receipt *ethtypes.Receipt
	head    uint64
}

func (rd ReceiptDeposits) DepositsInTx(ctx context.Context, txHash common.Hash) ([]types.BridgeRequest, error) {
	res, err := EVMRPC.WithClient(ctx, rd.RPCList, func(client *ethclient.Client) (receiptAtHead, error) {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err != nil {
			return receiptAtHead{}, err
		}
		head, err := client.BlockNumber(ctx)
		if err != nil {
			return receiptAtHead{}, err
		}
		return receiptAtHead{receipt: receipt, head: head}, nil
	})
	if err != nil {
		return nil, err
	}
	return rd.finalDeposits(res.receipt, res.head)
}

// finalDeposits refuses receipts the watcher would not yet consider final
func (rd ReceiptDeposits) finalDeposits(receipt *ethtypes.Receipt, head uint64) ([]types.BridgeRequest, error) {
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, nil
	}
	if receipt.BlockNumber == nil || head < rd.MinConfirmations || receipt.BlockNumber.Uint64() > head-rd.MinConfirmations {
		return nil, fmt.Errorf("%w: tx %s at head %d needs %d confirmations", types.ErrNotFinal, receipt.TxHash.Hex(), head, rd.MinConfirmations)
	}
	return depositsFromLogs(receipt.Logs, rd.Vault, rd.ChainID), nil
}

func depositsFromLogs(logs []*ethtypes.Log, vault common.Address, chainID uint64) []types.BridgeRequest {
	out := make([]types.BridgeRequest, 0)
	for _, l := range logs {
		if l == nil || l.Address != vault {
			continue
		}
		req, err := EVMRPC.DecodeBridgeRequested(*l, chainID)
		if errors.Is(err, EVMRPC.ErrNotBridgeLog) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("tx", l.TxHash.Hex()).Uint("index", l.Index).Msg("undecodable deposit log in receipt")
			continue
		}
		out = append(out, req)
	}
	return out
}
