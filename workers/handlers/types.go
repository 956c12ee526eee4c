package handlers

import (
	"context"
	"time"

	"anchorebridge/types"

	"github.com/ethereum/go-ethereum/common"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type APIStateResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Watcher string `json:"watcher"`
}

type APIRelease struct {
	ID                string `json:"id"`
	Nonce             string `json:"nonce"`
	Status            string `json:"status"`
	DestinationTxID   string `json:"destinationTxId,omitempty"`
	AttemptCount      int    `json:"attemptCount"`
	Reason            string `json:"reason,omitempty"`
	SourceSender      string `json:"sourceSender"`
	SourceChainID     uint64 `json:"sourceChainId"`
	SourceTxHash      string `json:"sourceTxHash"`
	SourceBlockHeight uint64 `json:"sourceBlockHeight"`
	Recipient         string `json:"recipient"`
	Amount            string `json:"amount"`
	TokenRef          string `json:"tokenRef,omitempty"`
	TsCreated         int64  `json:"tsCreated"`
	TsUpdated         int64  `json:"tsUpdated"`
}

func releaseView(rec types.ReleaseRecord) APIRelease {
	return APIRelease{
		ID:                rec.ID,
		Nonce:             rec.Nonce,
		Status:            string(rec.Status),
		DestinationTxID:   rec.DestinationTxID,
		AttemptCount:      rec.AttemptCount,
		Reason:            rec.Reason,
		SourceSender:      rec.SourceSender,
		SourceChainID:     rec.SourceChainID,
		SourceTxHash:      rec.SourceTxHash,
		SourceBlockHeight: rec.SourceBlockHeight,
		Recipient:         rec.Recipient,
		Amount:            rec.Amount,
		TokenRef:          rec.TokenRef,
		TsCreated:         rec.TsCreated,
		TsUpdated:         rec.TsUpdated,
	}
}

type DepositSubmission struct {
	TxHash string `json:"txHash"`
}

type APIDepositResponse struct {
	Status   string       `json:"status"`
	Releases []APIRelease `json:"releases"`
}

type Releases interface {
	Get(ctx context.Context, nonce string) (types.ReleaseRecord, error)
	ListByStatus(ctx context.Context, status types.ReleaseStatus) ([]types.ReleaseRecord, error)
}

type Operator interface {
	Handle(ctx context.Context, req types.BridgeRequest) (types.ReleaseRecord, error)
	Retry(ctx context.Context, nonce string) (types.ReleaseRecord, error)
}

// DepositSource finds the bridge requests emitted by a source chain transaction
type DepositSource interface {
	DepositsInTx(ctx context.Context, txHash common.Hash) ([]types.BridgeRequest, error)
}

const defaultHandleTimeout = 2 * time.Minute

// API holds what the handlers need, nil Deposits disables deposit submission
type API struct {
	Releases     Releases
	Operator     Operator
	Deposits     DepositSource
	WatcherState func() string
	Ping         func(ctx context.Context) error
	// bounds a release started from a request, which outlives the client
	HandleTimeout time.Duration
}

func (a *API) handleTimeout() time.Duration {
	if a.HandleTimeout <= 0 {
		return defaultHandleTimeout
	}
	return a.HandleTimeout
}
