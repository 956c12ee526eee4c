package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"anchorebridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"
)

// SubmitDeposit feeds the deposits of a source transaction to the dispatcher,
// for deposits the watcher missed. Nonces already handled are returned as is.
func (a *API) SubmitDeposit(w http.ResponseWriter, r *http.Request) {
	if a.Deposits == nil {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "deposit submission is disabled",
		}, http.StatusNotImplemented)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		log.Error().Err(err).Msg("error reading request body")
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "Error reading request body",
		}, http.StatusBadRequest)
		return
	}

	var req DepositSubmission
	if err := json.Unmarshal(body, &req); err != nil {
		log.Warn().Err(err).Msg("error unmarshalling request body")
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "Cannot unmarshal input JSON",
		}, http.StatusBadRequest)
		return
	}

	raw, err := hexutil.Decode(strings.TrimSpace(req.TxHash))
	if err != nil || len(raw) != common.HashLength {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Field:   "txHash",
			Message: "No transaction hash or invalid hash provided",
		}, http.StatusBadRequest)
		return
	}

	requests, err := a.Deposits.DepositsInTx(r.Context(), common.BytesToHash(raw))
	if err != nil {
		log.Error().Err(err).Str("tx", req.TxHash).Msg("cannot read deposits of transaction")
		responseError(w, err)
		return
	}
	if len(requests) == 0 {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Field:   "txHash",
			Message: "Transaction has no bridge deposit",
		}, http.StatusNotFound)
		return
	}

	// a release must not stop half way when the client goes away
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), a.handleTimeout())
	defer cancel()

	out := APIDepositResponse{Status: "ok", Releases: make([]APIRelease, 0, len(requests))}
	for _, br := range requests {
		rec, err := a.Operator.Handle(ctx, br)
		if err != nil && !errors.Is(err, types.ErrNonceReplay) {
			log.Error().Err(err).Str("nonce", br.NonceKey()).Msg("cannot handle submitted deposit")
			responseError(w, err)
			return
		}
		out.Releases = append(out.Releases, releaseView(rec))
	}
	responseJSON(w, out, http.StatusOK)
}
