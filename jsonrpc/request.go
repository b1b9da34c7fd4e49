package jsonrpc

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

const version = "2.0"

// Call is a validated request envelope.
type Call struct {
	// ID is the request id as sent, or nil when the request carried none.
	// A JSON null id is kept as the bytes "null".
	ID     json.RawMessage
	Method string
	Params []json.RawMessage
}

// HasID reports whether the request carried an id member, null included.
func (c *Call) HasID() bool {
	return c.ID != nil
}

// ParseRequest decodes one request and checks its envelope.
//
// On failure it returns a *RequestError. The version is checked first and a
// bad version never echoes the id; a bad method or params echoes the id if
// one was sent.
func ParseRequest(data []byte) (*Call, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		if !json.Valid(data) {
			return nil, &RequestError{Err: NewError(CodeParseError, msgParseError)}
		}
		// Valid JSON, but not an object: there is no version member.
		return nil, &RequestError{Err: NewError(CodeInvalidRequest, msgVersion)}
	}
	if fields == nil {
		return nil, &RequestError{Err: NewError(CodeInvalidRequest, msgVersion)}
	}

	var v string
	if raw, ok := fields["jsonrpc"]; !ok || json.Unmarshal(raw, &v) != nil || v != version {
		return nil, &RequestError{Err: NewError(CodeInvalidRequest, msgVersion)}
	}

	// RawMessage values are copies, so the id does not alias data.
	var id json.RawMessage
	if raw, ok := fields["id"]; ok {
		id = validUTF8(raw)
	}

	var method string
	if raw, ok := fields["method"]; !ok || !isString(raw) || json.Unmarshal(raw, &method) != nil {
		return nil, &RequestError{ID: id, Err: NewError(CodeInvalidRequest, msgInvalidRequest)}
	}

	var params []json.RawMessage
	if raw, ok := fields["params"]; !ok || !isArray(raw) || json.Unmarshal(raw, &params) != nil {
		return nil, &RequestError{ID: id, Err: NewError(CodeInvalidRequest, msgInvalidRequest)}
	}
	if params == nil {
		params = []json.RawMessage{}
	}

	return &Call{ID: id, Method: method, Params: params}, nil
}

// isString and isArray look at the first byte of a member value. Values from
// a decoded object carry no leading whitespace.
func isString(raw json.RawMessage) bool {
	return len(raw) > 0 && raw[0] == '"'
}

func isArray(raw json.RawMessage) bool {
	return len(raw) > 0 && raw[0] == '['
}

// validUTF8 returns raw unchanged when it is valid UTF-8. Otherwise it
// re-encodes the value, which replaces invalid bytes in strings with U+FFFD.
func validUTF8(raw json.RawMessage) json.RawMessage {
	if utf8.Valid(raw) {
		return raw
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return json.RawMessage("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
