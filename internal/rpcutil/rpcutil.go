// Package rpcutil maps internal failures to JSON-RPC 2.0 error objects.
// It is the proxy's analogue of the teacher's internal/errors mapper,
// adapted from a domain-specific error-code enum to the fixed numeric
// code space JSON-RPC 2.0 reserves (spec.md §4.5).
package rpcutil

import "errors"

// Code is a JSON-RPC 2.0 error code.
type Code int

const (
	CodeInvalidParams     Code = -32602
	CodeMethodNotFound    Code = -32601
	CodeInternalError     Code = -32603
	CodeInvalidSessionID  Code = -32602
	CodeParseError        Code = -32700
	CodeInvalidRequest    Code = -32600
	CodeServerUnavailable Code = -32601
)

// Sentinel errors the router and session layer raise; FromError maps each
// to its JSON-RPC code.
var (
	ErrInvalidParams    = errors.New("invalid params")
	ErrNotFound         = errors.New("not found")
	ErrUnavailable      = errors.New("server unavailable")
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Error is a JSON-RPC 2.0 error object (the "error" member of a Response).
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Kind classifies the situation that produced an Error, independent of
// the exact message, so callers can branch on taxonomy rather than text.
type Kind int

const (
	KindInvalidParams Kind = iota
	KindNotFound
	KindUnavailable
	KindInvalidSessionID
	KindInternal
)

// New builds an Error of the given kind with message, optionally carrying
// data (typically the wrapped upstream error's message).
func New(kind Kind, message string, data any) *Error {
	return &Error{Code: codeForKind(kind), Message: message, Data: data}
}

func codeForKind(kind Kind) Code {
	switch kind {
	case KindInvalidParams, KindInvalidSessionID:
		return CodeInvalidParams
	case KindNotFound, KindUnavailable:
		return CodeMethodNotFound
	default:
		return CodeInternalError
	}
}

// FromError classifies err against the package's sentinels and wraps it
// into an Error, falling back to internalError for anything unrecognized
// (spec.md §4.5 "Error taxonomy").
func FromError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	switch {
	case errors.Is(err, ErrInvalidParams):
		return New(KindInvalidParams, err.Error(), nil)
	case errors.Is(err, ErrInvalidSessionID):
		return New(KindInvalidSessionID, err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		return New(KindNotFound, err.Error(), nil)
	case errors.Is(err, ErrUnavailable):
		return New(KindUnavailable, err.Error(), nil)
	default:
		return New(KindInternal, "internal error", err.Error())
	}
}
