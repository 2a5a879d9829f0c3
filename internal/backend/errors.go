// ABOUTME: Error sentinels and the kind taxonomy used to carry errors across the isolation boundary
// ABOUTME: Errors are flattened to {kind, message} and rebuilt so errors.Is still matches the sentinels

package backend

import (
	"errors"

	"github.com/2389/coven-dataengine/internal/store"
)

var (
	// ErrNotInitialized is returned by operations issued before initialize
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrUnknownOp is returned for operation names outside the closed set
	ErrUnknownOp = errors.New("unknown operation")

	// ErrInvalidRequest is returned when a payload cannot be decoded
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInternal marks unexpected failures, including recovered panics
	ErrInternal = errors.New("internal error")
)

// Kind classifies an error for transport
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotInitialized  Kind = "not_initialized"
	KindUnknownOp       Kind = "unknown_op"
	KindInvalidRequest  Kind = "invalid_request"
	KindNotFound        Kind = "not_found"
	KindInvalidSnapshot Kind = "invalid_snapshot"
	KindInternal        Kind = "internal"
)

var kindSentinels = map[Kind]error{
	KindValidation:      store.ErrInvalidIdentifier,
	KindNotInitialized:  ErrNotInitialized,
	KindUnknownOp:       ErrUnknownOp,
	KindInvalidRequest:  ErrInvalidRequest,
	KindNotFound:        store.ErrNotFound,
	KindInvalidSnapshot: store.ErrInvalidSnapshot,
	KindInternal:        ErrInternal,
}

// KindOf returns the transport kind of err
func KindOf(err error) Kind {
	for _, kind := range []Kind{
		KindValidation,
		KindNotInitialized,
		KindUnknownOp,
		KindInvalidRequest,
		KindNotFound,
		KindInvalidSnapshot,
	} {
		if errors.Is(err, kindSentinels[kind]) {
			return kind
		}
	}
	return KindInternal
}

// ErrorInfo is the wire form of an error
type ErrorInfo struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Describe flattens err for transport. A nil error yields nil.
func Describe(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Kind: KindOf(err), Message: err.Error()}
}

// Err rebuilds the error described by e
func (e *ErrorInfo) Err() error {
	if e == nil {
		return nil
	}
	return &RemoteError{Kind: e.Kind, Message: e.Message}
}

// RemoteError is an error rebuilt from its wire form. It unwraps to the
// sentinel for its kind.
type RemoteError struct {
	Kind    Kind
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error {
	if s, ok := kindSentinels[e.Kind]; ok {
		return s
	}
	return ErrInternal
}
