package CasperRPC

import (
	"encoding/json"
	"fmt"
	"strings"

	"anchorebridge/types"
)

// NetworkError is a transport failure: unreachable node, timeout or an
// HTTP error status without a JSON-RPC body. Callers may retry it.
type NetworkError struct {
	Method     string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http status %d: %v", e.Method, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{types.ErrNetwork, e.Err}
}

// ProtocolError is a JSON-RPC error payload returned by the node
type ProtocolError struct {
	Method  string
	Code    int
	Message string
	Data    string
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("%s: rpc error %d: %s (%s)", e.Method, e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return types.ErrProtocol
}

// the node rejects the {"deploy": ...} params shape with this
func (e *ProtocolError) unknownField() bool {
	return strings.Contains(e.Message, "unknown field") || strings.Contains(e.Data, "unknown field")
}

func dataString(data interface{}) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
