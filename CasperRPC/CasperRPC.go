package CasperRPC

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"anchorebridge/deploy"
	"anchorebridge/metrics"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/ybbus/jsonrpc"
	"golang.org/x/time/rate"
)

// the node answers info_get_deploy for unknown hashes with this code
const codeNoSuchDeploy = -32000

type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables limiting
	HTTPClient        *http.Client
}

// RPCClient talks JSON-RPC to a single Casper node
type RPCClient struct {
	endpoint string
	base     *http.Client
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

func NewClient(endpoint string, opts Options) *RPCClient {
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	if opts.Timeout > 0 {
		cp := *base
		cp.Timeout = opts.Timeout
		base = &cp
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &RPCClient{
		endpoint: endpoint,
		base:     base,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   log.With().Str("component", "casper-rpc").Str("node", endpoint).Logger(),
	}
}

type ctxTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}

// rpc returns a jsonrpc client whose requests are bound to ctx
func (c *RPCClient) rpc(ctx context.Context) jsonrpc.RPCClient {
	next := c.base.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	hc := *c.base
	hc.Transport = ctxTransport{ctx: ctx, next: next}
	return jsonrpc.NewClientWithOpts(c.endpoint, &jsonrpc.RPCClientOpts{HTTPClient: &hc})
}

// call performs one request and sorts failures into NetworkError and ProtocolError
func (c *RPCClient) call(ctx context.Context, out interface{}, method string, params ...interface{}) (err error) {
	done := metrics.StartRPCTimer(method)
	defer func() { done(err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return &NetworkError{Method: method, Err: err}
	}

	resp, err := c.rpc(ctx).Call(method, params...)
	if err != nil {
		var httpErr *jsonrpc.HTTPError
		if errors.As(err, &httpErr) {
			if resp != nil && resp.Error != nil {
				return protocolError(method, resp.Error)
			}
			return &NetworkError{Method: method, StatusCode: httpErr.Code, Err: err}
		}
		return &NetworkError{Method: method, Err: err}
	}
	if resp == nil {
		return &NetworkError{Method: method, Err: errors.New("empty response")}
	}
	if resp.Error != nil {
		return protocolError(method, resp.Error)
	}
	if out == nil {
		return nil
	}
	if err := resp.GetObject(out); err != nil {
		return &ProtocolError{Method: method, Message: fmt.Sprintf("decode result: %v", err)}
	}
	return nil
}

func protocolError(method string, e *jsonrpc.RPCError) *ProtocolError {
	return &ProtocolError{Method: method, Code: e.Code, Message: e.Message, Data: dataString(e.Data)}
}

type putDeployResult struct {
	APIVersion string `json:"api_version"`
	DeployHash string `json:"deploy_hash"`
}

// Submit sends a signed deploy with account_put_deploy. Nodes that reject
// the named {"deploy": ...} params with an unknown field error get exactly
// one more attempt with the deploy itself as params.
func (c *RPCClient) Submit(ctx context.Context, d *deploy.Deploy) (string, error) {
	if d == nil || !d.Signed() {
		return "", fmt.Errorf("%w: deploy has no approvals", deploy.ErrInvalidSignature)
	}

	var res putDeployResult
	err := c.call(ctx, &res, "account_put_deploy", map[string]interface{}{"deploy": d})
	var perr *ProtocolError
	if errors.As(err, &perr) && perr.unknownField() {
		c.logger.Warn().Str("deploy", d.Hash).Msg("node rejected named params, retrying with flat deploy")
		res = putDeployResult{}
		err = c.call(ctx, &res, "account_put_deploy", d)
	}
	if err != nil {
		return "", err
	}

	if res.DeployHash == "" {
		res.DeployHash = d.Hash
	}
	c.logger.Info().Str("deploy", res.DeployHash).Msg("deploy accepted")
	return res.DeployHash, nil
}

func (c *RPCClient) StateRootHash(ctx context.Context) (string, error) {
	var res struct {
		StateRootHash string `json:"state_root_hash"`
	}
	if err := c.call(ctx, &res, "chain_get_state_root_hash"); err != nil {
		return "", err
	}
	if res.StateRootHash == "" {
		return "", &ProtocolError{Method: "chain_get_state_root_hash", Message: "empty state root hash"}
	}
	return res.StateRootHash, nil
}

// QueryGlobalState returns the stored_value under key at the current state root
func (c *RPCClient) QueryGlobalState(ctx context.Context, key string, path []string) (json.RawMessage, error) {
	root, err := c.StateRootHash(ctx)
	if err != nil {
		return nil, err
	}
	if path == nil {
		path = []string{}
	}
	var res struct {
		StoredValue json.RawMessage `json:"stored_value"`
	}
	params := map[string]interface{}{
		"state_identifier": map[string]string{"StateRootHash": root},
		"key":              key,
		"path":             path,
	}
	if err := c.call(ctx, &res, "query_global_state", params); err != nil {
		return nil, err
	}
	return res.StoredValue, nil
}

type contractVersion struct {
	ProtocolVersionMajor uint32 `json:"protocol_version_major"`
	ContractVersion      uint32 `json:"contract_version"`
	ContractHash         string `json:"contract_hash"`
}

// ResolvePackage returns the hash of the newest enabled contract in a package
func (c *RPCClient) ResolvePackage(ctx context.Context, pkg deploy.ContractRef) (deploy.ContractRef, error) {
	raw, err := c.QueryGlobalState(ctx, "hash-"+pkg.Hex(), nil)
	if err != nil {
		return deploy.ContractRef{}, err
	}
	var stored struct {
		ContractPackage *struct {
			Versions         []contractVersion `json:"versions"`
			DisabledVersions []contractVersion `json:"disabled_versions"`
		} `json:"ContractPackage"`
	}
	if err := json.Unmarshal(raw, &stored); err != nil || stored.ContractPackage == nil {
		return deploy.ContractRef{}, &ProtocolError{Method: "query_global_state", Message: "stored value is not a contract package"}
	}

	disabled := map[[2]uint32]bool{}
	for _, v := range stored.ContractPackage.DisabledVersions {
		disabled[[2]uint32{v.ProtocolVersionMajor, v.ContractVersion}] = true
	}
	versions := stored.ContractPackage.Versions
	sort.Slice(versions, func(i, j int) bool {
		if versions[i].ProtocolVersionMajor != versions[j].ProtocolVersionMajor {
			return versions[i].ProtocolVersionMajor > versions[j].ProtocolVersionMajor
		}
		return versions[i].ContractVersion > versions[j].ContractVersion
	})
	for _, v := range versions {
		if disabled[[2]uint32{v.ProtocolVersionMajor, v.ContractVersion}] {
			continue
		}
		return deploy.ParseContractHash(v.ContractHash)
	}
	return deploy.ContractRef{}, &ProtocolError{Method: "query_global_state", Message: fmt.Sprintf("package %s has no enabled version", pkg)}
}

type ExecutionState string

const (
	ExecutionPending ExecutionState = "pending"
	ExecutionSuccess ExecutionState = "success"
	ExecutionFailure ExecutionState = "failure"
)

type ExecutionStatus struct {
	State        ExecutionState
	BlockHash    string
	ErrorMessage string
}

// GetDeploy reports whether a deploy has executed. Both the 1.x
// execution_results and the 2.x execution_info layouts are understood.
func (c *RPCClient) GetDeploy(ctx context.Context, deployHash string) (ExecutionStatus, error) {
	var res struct {
		ExecutionResults []struct {
			BlockHash string                     `json:"block_hash"`
			Result    map[string]json.RawMessage `json:"result"`
		} `json:"execution_results"`
		ExecutionInfo *struct {
			BlockHash       string                     `json:"block_hash"`
			ExecutionResult map[string]json.RawMessage `json:"execution_result"`
		} `json:"execution_info"`
	}
	err := c.call(ctx, &res, "info_get_deploy", map[string]interface{}{"deploy_hash": deployHash})
	var perr *ProtocolError
	if errors.As(err, &perr) && perr.Code == codeNoSuchDeploy {
		return ExecutionStatus{State: ExecutionPending}, nil
	}
	if err != nil {
		return ExecutionStatus{}, err
	}

	switch {
	case len(res.ExecutionResults) > 0:
		r := res.ExecutionResults[0]
		return executionFromResult(r.BlockHash, r.Result), nil
	case res.ExecutionInfo != nil && res.ExecutionInfo.ExecutionResult != nil:
		return executionFromResult(res.ExecutionInfo.BlockHash, res.ExecutionInfo.ExecutionResult), nil
	}
	return ExecutionStatus{State: ExecutionPending}, nil
}

func executionFromResult(blockHash string, result map[string]json.RawMessage) ExecutionStatus {
	st := ExecutionStatus{State: ExecutionSuccess, BlockHash: blockHash}
	for key, raw := range result {
		if key == "Version1" {
			var nested map[string]json.RawMessage
			if json.Unmarshal(raw, &nested) == nil {
				return executionFromResult(blockHash, nested)
			}
		}
		var body struct {
			ErrorMessage *string `json:"error_message"`
		}
		_ = json.Unmarshal(raw, &body)
		if key == "Failure" || (strings.HasPrefix(key, "Version") && body.ErrorMessage != nil) {
			st.State = ExecutionFailure
		}
		if body.ErrorMessage != nil {
			st.ErrorMessage = *body.ErrorMessage
		}
	}
	return st
}
