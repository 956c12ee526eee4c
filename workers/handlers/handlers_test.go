package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"anchorebridge/ledger"
	"anchorebridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOperator records requests straight into the store
type fakeOperator struct {
	store *ledger.MemoryStore
}

func (o fakeOperator) Handle(ctx context.Context, req types.BridgeRequest) (types.ReleaseRecord, error) {
	rec, created, err := o.store.CreatePending(ctx, types.ReleaseRecord{Nonce: req.NonceKey(), Amount: req.Amount.String(), SourceTxHash: req.SourceTxHash})
	if err == nil && !created {
		err = fmt.Errorf("%w: nonce %s", types.ErrNonceReplay, rec.Nonce)
	}
	return rec, err
}

func (o fakeOperator) Retry(ctx context.Context, nonce string) (types.ReleaseRecord, error) {
	rec, err := o.store.Get(ctx, nonce)
	if err != nil {
		return rec, err
	}
	if rec.Status != types.StatusFailed {
		return rec, fmt.Errorf("%w: not failed", ledger.ErrInvalidTransition)
	}
	rec.Status = types.StatusPending
	return rec, o.store.Update(ctx, rec, types.StatusFailed)
}

type depositsFunc func(ctx context.Context, txHash common.Hash) ([]types.BridgeRequest, error)

func (f depositsFunc) DepositsInTx(ctx context.Context, txHash common.Hash) ([]types.BridgeRequest, error) {
	return f(ctx, txHash)
}

func newTestAPI(t *testing.T) (*API, *ledger.MemoryStore, http.Handler) {
	t.Helper()
	store := ledger.NewMemoryStore()
	api := &API{
		Releases:     store,
		Operator:     fakeOperator{store: store},
		WatcherState: func() string { return "listening" },
	}
	r := chi.NewRouter()
	api.Mount(r)
	return api, store, r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestStateAndHealth(t *testing.T) {
	api, _, h := newTestAPI(t)

	rr := do(t, h, http.MethodGet, "/state", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	var state APIStateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	assert.Equal(t, "listening", state.Watcher)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)

	api.Ping = func(ctx context.Context) error { return fmt.Errorf("connection refused") }
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/health", "").Code)
}

func TestGetAndListReleases(t *testing.T) {
	_, store, h := newTestAPI(t)
	ctx := context.Background()

	rec, _, err := store.CreatePending(ctx, types.ReleaseRecord{Nonce: "7", Amount: "1000000"})
	require.NoError(t, err)
	rec.Status = types.StatusFailed
	rec.Reason = "no token mapping"
	require.NoError(t, store.Update(ctx, rec, types.StatusPending))

	rr := do(t, h, http.MethodGet, "/releases/7", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got APIRelease
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "no token mapping", got.Reason)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/releases/8", "").Code)

	rr = do(t, h, http.MethodGet, "/stats/failed", "")
	var failed []APIRelease
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &failed))
	require.Len(t, failed, 1)
	assert.Equal(t, "7", failed[0].Nonce)

	rr = do(t, h, http.MethodGet, "/stats/pending", "")
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestRetryRelease(t *testing.T) {
	_, store, h := newTestAPI(t)
	ctx := context.Background()
	_, _, err := store.CreatePending(ctx, types.ReleaseRecord{Nonce: "9"})
	require.NoError(t, err)

	// pending cannot be retried
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/releases/9/retry", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/releases/10/retry", "").Code)

	rec, err := store.Get(ctx, "9")
	require.NoError(t, err)
	rec.Status = types.StatusFailed
	require.NoError(t, store.Update(ctx, rec, types.StatusPending))

	rr := do(t, h, http.MethodPost, "/releases/9/retry", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got APIRelease
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "pending", got.Status)
}

func TestSubmitDeposit(t *testing.T) {
	api, store, h := newTestAPI(t)

	assert.Equal(t, http.StatusNotImplemented, do(t, h, http.MethodPost, "/submit/deposit", `{"txHash":"0x01"}`).Code)

	tx := common.HexToHash("0xabc1")
	api.Deposits = depositsFunc(func(ctx context.Context, txHash common.Hash) ([]types.BridgeRequest, error) {
		if txHash != tx {
			return nil, nil
		}
		return []types.BridgeRequest{{Nonce: big.NewInt(11), Amount: big.NewInt(5), SourceTxHash: tx.Hex()}}, nil
	})

	rr := do(t, h, http.MethodPost, "/submit/deposit", `{"txHash":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "txHash")
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/submit/deposit", `{`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/submit/deposit", `{"txHash":"`+common.HexToHash("0x01").Hex()+`"}`).Code)

	rr = do(t, h, http.MethodPost, "/submit/deposit", `{"txHash":"`+tx.Hex()+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp APIDepositResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Releases, 1)
	assert.Equal(t, "11", resp.Releases[0].Nonce)

	_, err := store.Get(context.Background(), "11")
	assert.NoError(t, err)

	// submitting again returns the stored release
	rr = do(t, h, http.MethodPost, "/submit/deposit", `{"txHash":"`+tx.Hex()+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	resp = APIDepositResponse{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Releases, 1)
	assert.Equal(t, "11", resp.Releases[0].Nonce)
	assert.Equal(t, "pending", resp.Releases[0].Status)
}

func TestSubmitDepositRefusesShallowReceipt(t *testing.T) {
	api, store, h := newTestAPI(t)
	api.Deposits = depositsFunc(func(ctx context.Context, txHash common.Hash) ([]types.BridgeRequest, error) {
		return nil, fmt.Errorf("%w: tx %s at head 100 needs 12 confirmations", types.ErrNotFinal, txHash.Hex())
	})

	rr := do(t, h, http.MethodPost, "/submit/deposit", `{"txHash":"`+common.HexToHash("0xabc1").Hex()+`"}`)
	assert.Equal(t, http.StatusTooEarly, rr.Code)
	list, err := store.ListByStatus(context.Background(), types.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// ctxOperator remembers whether the context was already cancelled when Handle ran
type ctxOperator struct {
	fakeOperator
	handleErr error
	deadline  bool
}

func (o *ctxOperator) Handle(ctx context.Context, req types.BridgeRequest) (types.ReleaseRecord, error) {
	o.handleErr = ctx.Err()
	_, o.deadline = ctx.Deadline()
	return o.fakeOperator.Handle(ctx, req)
}

func TestSubmitDepositOutlivesClient(t *testing.T) {
	api, store, h := newTestAPI(t)
	op := &ctxOperator{fakeOperator: fakeOperator{store: store}}
	api.Operator = op

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/submit/deposit", strings.NewReader(`{"txHash":"`+common.HexToHash("0xabc2").Hex()+`"}`)).WithContext(ctx)
	api.Deposits = depositsFunc(func(c context.Context, txHash common.Hash) ([]types.BridgeRequest, error) {
		// client hangs up once the deposits are known
		cancel()
		return []types.BridgeRequest{{Nonce: big.NewInt(12), Amount: big.NewInt(5), SourceTxHash: txHash.Hex()}}, nil
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.NoError(t, op.handleErr)
	assert.True(t, op.deadline)
	_, err := store.Get(context.Background(), "12")
	assert.NoError(t, err)
}
