package aaclient

import (
	"errors"
	"fmt"
)

type clientError string

func (e clientError) Error() string {
	return string(e)
}

// Define error constants
const (
	ErrNotInitialized  clientError = "AA client is not initialized yet"
	ErrTopUpFailed     clientError = "entry point deposit top-up failed"
	ErrDeployerMissing clientError = "deterministic deployment proxy is not deployed"
	ErrFactoryMissing  clientError = "account factory has no code"
	ErrUnknownChain    clientError = "no contract address configured for chain"
	ErrChainMismatch   clientError = "bundler chain id does not match wallet chain id"
	ErrNoFeeToken      clientError = "paymaster configured without a fee token"
	ErrSuperseded      clientError = "session initialization superseded by a newer connect"
	ErrUnknownFunction clientError = "function not found in contract ABI"
)

// OperationFailedMsg is the fallback text shown when a failure carries no
// decodable revert reason.
const OperationFailedMsg = "Operation Failed"

// TransportError is an RPC, bundler or network failure. The message of the
// underlying error is surfaced unmodified.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RevertError is an on-chain execution failure. Reason holds the decoded
// Error(string) message, or is empty when the payload could not be decoded.
type RevertError struct {
	Reason string
	Data   string
	Err    error
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("execution reverted: %s", OperationFailedMsg)
	}
	return fmt.Sprintf("execution reverted: %s", e.Reason)
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// Message returns the human-readable failure text.
func (e *RevertError) Message() string {
	if e.Reason == "" {
		return OperationFailedMsg
	}
	return e.Reason
}

// wrapRemote classifies err as a revert when it carries revert data, and as a
// transport failure otherwise.
func wrapRemote(op string, err error) error {
	if err == nil {
		return nil
	}
	var revertErr *RevertError
	if errors.As(err, &revertErr) {
		return err
	}
	if revert := RevertFromError(err); revert != nil {
		observeRevert(revert)
		return revert
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
