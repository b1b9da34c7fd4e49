package jsonrpc

import (
	"encoding/json"
	"errors"
)

// Error codes carried on the wire.
//
// CodeInvalidParams and CodeInternalError intentionally keep the values used
// by the existing device-management clients (-32603 and -32693) instead of
// the canonical JSON-RPC 2.0 values (-32602 and -32603).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32603
	CodeInternalError  = -32693
)

const (
	msgParseError       = "Parse error."
	msgVersion          = "The JSON-RPC version is not supported."
	msgInvalidRequest   = "The JSON sent is not a valid Request object."
	msgMethodNotFound   = "Method not found."
	msgLineTooLong      = "The request exceeds the maximum line size."
	msgInternalPanic    = "internal error"
	msgNoParamsExpected = "No parameters expected"
)

var (
	// ErrTransport wraps failures to serialize or write a response.
	// These cannot be reported on the wire.
	ErrTransport = errors.New("jsonrpc: transport error")

	ErrEmptyName  = errors.New("jsonrpc: empty procedure name")
	ErrNilHandler = errors.New("jsonrpc: nil handler")
	ErrDuplicate  = errors.New("jsonrpc: procedure already registered")
)

// Error is a JSON-RPC error object. Handlers return it to control the code,
// message and data of the error response.
//
// Data is handed over to the response: once a handler returns an Error it
// must not modify Data.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	c := *e
	c.Data = data
	return &c
}

// RequestError reports an envelope that failed validation. ID is the request
// id when one could be read, nil otherwise.
type RequestError struct {
	ID  json.RawMessage
	Err *Error
}

func (e *RequestError) Error() string {
	return "jsonrpc: " + e.Err.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// mapError converts a handler error to a wire error. A nil result means the
// call succeeded. *Error values keep their code; code 0 counts as success.
func mapError(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		if rpcErr == nil || rpcErr.Code == 0 {
			return nil
		}
		return rpcErr
	}
	return &Error{
		Code:    CodeInternalError,
		Message: err.Error(),
	}
}
