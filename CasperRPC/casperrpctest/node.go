// Package casperrpctest provides an in-process Casper node for tests.
package casperrpctest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"anchorebridge/deploy"
	"anchorebridge/signer"
)

const StateRoot = "0c5d3c3ab0f0a4a7e3b1e8e1c2b8f0c0d8b2c5a8e6f1d7a9b3c4e5f6a7b8c9d0"

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type Call struct {
	Method string
	Params json.RawMessage
}

// Node answers the JSON-RPC methods the relay uses. Override lets a test
// replace any answer, returning handled=false falls through to the defaults.
type Node struct {
	*httptest.Server

	RejectNamedParams bool // answer {"deploy": ...} with an unknown field error
	VerifyApprovals   bool // reject deploys whose approvals do not verify
	Override          func(method string, params json.RawMessage) (result interface{}, rpcErr *RPCError, handled bool)

	mu       sync.Mutex
	calls    []Call
	deploys  map[string]*deploy.Deploy
	order    []string
	failures map[string]string
	stored   map[string]json.RawMessage
}

func NewNode() *Node {
	n := &Node{
		deploys:  map[string]*deploy.Deploy{},
		failures: map[string]string{},
		stored:   map[string]json.RawMessage{},
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

// FailExecution makes the deploy report a failed execution once submitted
func (n *Node) FailExecution(deployHash, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[deployHash] = message
}

// Store puts a stored value under a global state key
func (n *Node) Store(key string, value interface{}) {
	b, _ := json.Marshal(value)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stored[key] = b
}

func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, call := range n.calls {
		if call.Method == method {
			c++
		}
	}
	return c
}

func (n *Node) History() []Call {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Call(nil), n.calls...)
}

// Submitted lists accepted deploys in submission order
func (n *Node) Submitted() []*deploy.Deploy {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*deploy.Deploy, 0, len(n.order))
	for _, h := range n.order {
		out = append(out, n.deploys[h])
	}
	return out
}

type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.calls = append(n.calls, Call{Method: req.Method, Params: req.Params})
	n.mu.Unlock()

	var (
		result interface{}
		rpcErr *RPCError
	)
	handled := false
	if n.Override != nil {
		result, rpcErr, handled = n.Override(req.Method, req.Params)
	}
	if !handled {
		result, rpcErr = n.answer(req.Method, req.Params)
	}

	id := req.ID
	if len(id) == 0 {
		id = json.RawMessage("0")
	}
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *Node) answer(method string, params json.RawMessage) (interface{}, *RPCError) {
	switch method {
	case "account_put_deploy":
		return n.putDeploy(params)
	case "info_get_deploy":
		return n.getDeploy(params)
	case "chain_get_state_root_hash":
		return map[string]string{"api_version": "1.5.6", "state_root_hash": StateRoot}, nil
	case "query_global_state":
		var p struct {
			Key string `json:"key"`
		}
		_ = json.Unmarshal(params, &p)
		n.mu.Lock()
		v, ok := n.stored[p.Key]
		n.mu.Unlock()
		if !ok {
			return nil, &RPCError{Code: -32003, Message: "state query failed: ValueNotFound"}
		}
		return map[string]interface{}{"api_version": "1.5.6", "stored_value": v}, nil
	}
	return nil, &RPCError{Code: -32601, Message: "Method not found"}
}

func (n *Node) putDeploy(params json.RawMessage) (interface{}, *RPCError) {
	var named map[string]json.RawMessage
	_ = json.Unmarshal(params, &named)
	if _, ok := named["deploy"]; ok && n.RejectNamedParams {
		return nil, &RPCError{Code: -32602, Message: "Invalid params", Data: "unknown field `deploy`, expected one of `hash`, `header`, `payment`, `session`, `approvals`"}
	}

	d, err := deploy.Unwrap(params)
	if err != nil {
		return nil, &RPCError{Code: -32602, Message: "Invalid params", Data: err.Error()}
	}
	if n.VerifyApprovals {
		if err := signer.Verify(d); err != nil {
			return nil, &RPCError{Code: -32008, Message: "invalid deploy: " + err.Error()}
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.deploys[d.Hash]; !dup {
		n.order = append(n.order, d.Hash)
	}
	n.deploys[d.Hash] = d
	return map[string]string{"api_version": "1.5.6", "deploy_hash": d.Hash}, nil
}

func (n *Node) getDeploy(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		DeployHash string `json:"deploy_hash"`
	}
	_ = json.Unmarshal(params, &p)

	n.mu.Lock()
	d, ok := n.deploys[p.DeployHash]
	msg, failed := n.failures[p.DeployHash]
	n.mu.Unlock()
	if !ok {
		return nil, &RPCError{Code: -32000, Message: "get-deploy failed to get specified deploy"}
	}

	result := map[string]interface{}{"Success": map[string]interface{}{"cost": "100000"}}
	if failed {
		result = map[string]interface{}{"Failure": map[string]interface{}{"cost": "100000", "error_message": msg}}
	}
	return map[string]interface{}{
		"api_version": "1.5.6",
		"deploy":      d,
		"execution_results": []interface{}{
			map[string]interface{}{"block_hash": "aa" + d.Hash[2:], "result": result},
		},
	}, nil
}
