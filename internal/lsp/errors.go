package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the LSP client.
var (
	// ErrClosed indicates the client or session has been closed.
	ErrClosed = errors.New("lsp session closed")

	// ErrAlreadyOpen indicates the client already owns a session.
	ErrAlreadyOpen = errors.New("lsp session already open")

	// ErrNotOpen indicates no session has been opened yet.
	ErrNotOpen = errors.New("lsp session not open")

	// ErrServerTerminated indicates the server process exited or its pipe broke.
	ErrServerTerminated = errors.New("language server terminated")

	// ErrUnknownID indicates a response referenced an id with no pending request.
	ErrUnknownID = errors.New("response for unknown request id")
)

// ProcessLaunchError is returned when the server binary cannot be spawned.
type ProcessLaunchError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ProcessLaunchError) Error() string {
	return fmt.Sprintf("launch language server %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProcessLaunchError) Unwrap() error {
	return e.Err
}

// TransportWriteError is returned when a frame cannot be written to the server.
// It always matches ErrServerTerminated.
type TransportWriteError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportWriteError) Error() string {
	if e.Err == nil {
		return "write to language server: " + ErrServerTerminated.Error()
	}
	return fmt.Sprintf("write to language server: %v", e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *TransportWriteError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrServerTerminated}
	}
	return []error{ErrServerTerminated, e.Err}
}

// ServerTerminatedError reports an unexpected exit of the server process.
type ServerTerminatedError struct {
	ExitCode int
	Err      error
}

// Error implements the error interface.
func (e *ServerTerminatedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("language server terminated (exit code %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("language server terminated (exit code %d)", e.ExitCode)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *ServerTerminatedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrServerTerminated}
	}
	return []error{ErrServerTerminated, e.Err}
}

// ProtocolViolationError describes a malformed or uncorrelated inbound frame.
// The frame is dropped and the session continues.
type ProtocolViolationError struct {
	Reason string
	Frame  []byte
	Err    error
}

// Error implements the error interface.
func (e *ProtocolViolationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol violation: %s: %v", e.Reason, e.Err)
	}
	return "protocol violation: " + e.Reason
}

// Unwrap returns the underlying error.
func (e *ProtocolViolationError) Unwrap() error {
	return e.Err
}

// UnrecognizedResponseShapeError is reported when a correlated response does not
// decode as the reply the request expected.
type UnrecognizedResponseShapeError struct {
	ID     ID
	Method string
	Expect ResponseKind
}

// Error implements the error interface.
func (e *UnrecognizedResponseShapeError) Error() string {
	return fmt.Sprintf("unrecognized %s response shape for request %d (%s)", e.Expect, e.ID, e.Method)
}

// RPCError represents a JSON-RPC error from the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
)
