package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the engine can surface. Only
// ErrorKindUnderpricedReplacement is retryable inside the engine; everything
// else propagates immediately. ErrorKindKeyAuthorization additionally drives
// the caller-level signer refresh/fallback policy.
type ErrorKind int

const (
	ErrorKindNone ErrorKind = iota
	ErrorKindWrongChain
	ErrorKindInvalidInput
	ErrorKindRPCUnreachable
	ErrorKindRPCResponse
	ErrorKindUnderpricedReplacement
	ErrorKindSignatureRecoveryFailed
	ErrorKindOnChainRevert
	ErrorKindDroppedBeforeInclusion
	ErrorKindNotConfirmedBeforeExpiry
	ErrorKindReplacementRejected
	ErrorKindKeyAuthorization
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindWrongChain:
		return "wrong-chain"
	case ErrorKindInvalidInput:
		return "invalid-input"
	case ErrorKindRPCUnreachable:
		return "rpc-unreachable"
	case ErrorKindRPCResponse:
		return "rpc-response"
	case ErrorKindUnderpricedReplacement:
		return "underpriced-replacement"
	case ErrorKindSignatureRecoveryFailed:
		return "signature-recovery-failed"
	case ErrorKindOnChainRevert:
		return "on-chain-revert"
	case ErrorKindDroppedBeforeInclusion:
		return "dropped-before-inclusion"
	case ErrorKindNotConfirmedBeforeExpiry:
		return "not-confirmed-before-expiry"
	case ErrorKindReplacementRejected:
		return "replacement-rejected"
	case ErrorKindKeyAuthorization:
		return "key-authorization"
	default:
		return fmt.Sprintf("error-kind(%d)", int(k))
	}
}

// EngineError is the classified error type used throughout the engine. TxHash
// is populated for failures tied to an already-submitted transaction so
// operators can chase them down.
type EngineError struct {
	Kind   ErrorKind
	TxHash string
	Msg    string
	Cause  error
}

func (e *EngineError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.TxHash != "" {
		s += fmt.Sprintf(" (tx %s)", e.TxHash)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(": %v", e.Cause)
	}
	return s
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewEngineError creates a classified error without a cause.
func NewEngineError(kind ErrorKind, format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapEngineError creates a classified error wrapping a cause.
func WrapEngineError(kind ErrorKind, cause error, format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the ErrorKind from any error in the chain. Unclassified
// errors report ErrorKindNone.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ErrorKindNone
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// TxHashOf extracts the transaction hash attached to a classified error, if
// any.
func TxHashOf(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.TxHash
	}
	return ""
}
