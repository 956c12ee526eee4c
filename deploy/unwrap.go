package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedEnvelope = errors.New("malformed deploy envelope")

// Unwrap normalizes the envelope shapes seen in the wild into one Deploy:
// {"deploy": {...}}, {"transaction": {...}}, {"transaction": {"Deploy": {...}}}
// and a flat deploy object.
func Unwrap(envelope []byte) (*Deploy, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(envelope, &outer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	inner := json.RawMessage(envelope)
	for _, key := range []string{"deploy", "transaction"} {
		if v, ok := outer[key]; ok {
			inner = v
			break
		}
	}

	var versioned map[string]json.RawMessage
	if err := json.Unmarshal(inner, &versioned); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if v, ok := versioned["Deploy"]; ok {
		inner = v
	}

	d := &Deploy{}
	if err := json.Unmarshal(inner, d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if _, err := d.HashBytes(); err != nil {
		return nil, err
	}
	if d.Header.Account == "" || len(d.Session) == 0 || len(d.Payment) == 0 {
		return nil, fmt.Errorf("%w: missing header account, payment or session", ErrMalformedEnvelope)
	}
	if d.Approvals == nil {
		d.Approvals = []Approval{}
	}
	if d.Header.Dependencies == nil {
		d.Header.Dependencies = []string{}
	}
	return d, nil
}
