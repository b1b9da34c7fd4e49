package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type resultResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

type errorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *Error          `json:"error"`
}

// Encoder writes response lines to a stream.
//
// Each response is serialized in full before anything is written, and is
// written with a single Write call ending in one newline.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteResult writes a success response. A nil id is written as null, as is
// a nil result.
func (e *Encoder) WriteResult(id json.RawMessage, result any) (int, error) {
	return e.write(resultResponse{JSONRPC: version, ID: id, Result: result})
}

// WriteError writes an error response. A nil id is written as null.
func (e *Encoder) WriteError(id json.RawMessage, rpcErr *Error) (int, error) {
	return e.write(errorResponse{JSONRPC: version, ID: id, Error: rpcErr})
}

// write serializes v without HTML escaping; Encode terminates the line.
func (e *Encoder) write(v any) (int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return 0, fmt.Errorf("%w: encode response: %w", ErrTransport, err)
	}
	n, err := e.w.Write(buf.Bytes())
	if err != nil {
		return n, fmt.Errorf("%w: write response: %w", ErrTransport, err)
	}
	return n, nil
}
