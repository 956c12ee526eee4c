package types

import "errors"

var (
	// unmapped token or contract, fatal for the request, needs an operator
	ErrConfiguration = errors.New("configuration error")
	// signer declined, pipeline halts and prior steps stand
	ErrSignerCancelled = errors.New("signer cancelled")
	// transport failure, retryable with backoff
	ErrNetwork = errors.New("network error")
	// rpc level rejection
	ErrProtocol = errors.New("protocol error")
	// duplicate processing attempt, short-circuited
	ErrNonceReplay = errors.New("nonce replay")

	ErrInvalidRequest = errors.New("invalid bridge request")
	// deposit block is shallower than the required confirmations
	ErrNotFinal = errors.New("deposit not final")
)
