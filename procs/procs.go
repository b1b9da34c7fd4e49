// Package procs provides the procedures served by linerpcd.
package procs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/mnehpets/linerpc/jsonrpc"
	"github.com/mnehpets/linerpc/state"
)

// Store keys read and written by the address procedures.
const (
	KeyDefaultDPAddress = "default_dp_address"
	KeyRootDSAddress    = "root_ds_address"
)

var errNoState = jsonrpc.NewError(jsonrpc.CodeInternalError, "shared state unavailable")

// Register adds every built-in procedure to reg.
func Register(reg *jsonrpc.Registry) error {
	procs := []struct {
		name string
		h    jsonrpc.Handler
	}{
		{"ping", Ping()},
		{"echo", Echo()},
		{"rpc.methods", Methods(reg)},
		{"state.get", StateGet()},
		{"state.set", StateSet()},
		{"state.delete", StateDelete()},
		{"state.keys", StateKeys()},
		{"get_euicc_configured_addresses", ConfiguredAddresses()},
		{"set_default_dp_address", SetDefaultDPAddress()},
	}
	var errs []error
	for _, p := range procs {
		errs = append(errs, reg.Register(p.name, p.h))
	}
	return errors.Join(errs...)
}

// Ping answers an empty object. It takes no parameters.
func Ping() jsonrpc.HandlerFunc {
	return func(_ context.Context, req *jsonrpc.Request) (any, error) {
		if err := req.ExpectParams(0); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}
}

// Echo answers its single parameter unchanged.
func Echo() jsonrpc.HandlerFunc {
	return func(_ context.Context, req *jsonrpc.Request) (any, error) {
		if err := req.ExpectParams(1); err != nil {
			return nil, err
		}
		return req.Params[0], nil
	}
}

// Methods lists the distinct procedure names registered on reg.
func Methods(reg *jsonrpc.Registry) jsonrpc.HandlerFunc {
	return func(_ context.Context, req *jsonrpc.Request) (any, error) {
		if err := req.ExpectParams(0); err != nil {
			return nil, err
		}
		return reg.Names(), nil
	}
}

func store(req *jsonrpc.Request) (*state.Store, error) {
	s, ok := req.Shared.(*state.Store)
	if !ok || s == nil {
		return nil, errNoState
	}
	return s, nil
}

// keyParam checks the parameter count and decodes the leading key.
func keyParam(req *jsonrpc.Request, n int) (string, error) {
	if err := req.ExpectParams(n); err != nil {
		return "", err
	}
	var key string
	if err := req.Param(0, &key); err != nil {
		return "", err
	}
	return key, nil
}

// StateGet answers the value stored under [key], or null.
func StateGet() jsonrpc.HandlerFunc {
	return func(_ context.Context, req *jsonrpc.Request) (any, error) {
		s, err := store(req)
		if err != nil {
			return nil, err
		}
		key, err := keyParam(req, 1)
		if err != nil {
			return nil, err
		}
		var v any
		if _, err := s.Get(key, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// StateSet stores [key, value].
func StateSet() jsonrpc.HandlerFunc {
	return func(_ context.Context, req *jsonrpc.Request) (any, error) {
		s, err := store(req)
		if err != nil {
			return nil, err
		}
		key, err := keyParam(req, 2)
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(req.Params[1])
		if err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid param 1")
		}
		return nil, s.Set(key, v)
	}
}

// StateDelete removes [key] and answers whether it was set.
func StateDelete() jsonrpc.HandlerFunc {
	return func(_ context.Context, req *jsonrpc.Request) (any, error) {
		s, err := store(req)
		if err != nil {
			return nil, err
		}
		key, err := keyParam(req, 1)
		if err != nil {
			return nil, err
		}
		return s.Delete(key), nil
	}
}

// decodeValue decodes a JSON value for storage. Integral numbers become
// int64 or uint64 so they keep their exact value; other numbers become
// float64.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return convertNumbers(v)
}

func convertNumbers(v any) (any, error) {
	switch v := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return u, nil
		}
		return v.Float64()
	case map[string]any:
		for k, e := range v {
			c, err := convertNumbers(e)
			if err != nil {
				return nil, err
			}
			v[k] = c
		}
		return v, nil
	case []any:
		for i, e := range v {
			c, err := convertNumbers(e)
			if err != nil {
				return nil, err
			}
			v[i] = c
		}
		return v, nil
	default:
		return v, nil
	}
}

func StateKeys() jsonrpc.HandlerFunc {
	return func(_ context.Context, req *jsonrpc.Request) (any, error) {
		s, err := store(req)
		if err != nil {
			return nil, err
		}
		if err := req.ExpectParams(0); err != nil {
			return nil, err
		}
		return s.Keys(), nil
	}
}

// Addresses is the result of get_euicc_configured_addresses.
type Addresses struct {
	DefaultDPAddress string `json:"default_dp_address"`
	RootDSAddress    string `json:"root_ds_address"`
}

// ConfiguredAddresses answers the configured SM-DP+ and SM-DS addresses.
// Unset addresses are empty strings.
func ConfiguredAddresses() jsonrpc.HandlerFunc {
	return func(_ context.Context, req *jsonrpc.Request) (any, error) {
		s, err := store(req)
		if err != nil {
			return nil, err
		}
		if err := req.ExpectParams(0); err != nil {
			return nil, err
		}
		var a Addresses
		if _, err := s.Get(KeyDefaultDPAddress, &a.DefaultDPAddress); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "Failed to get eUICC configured addresses")
		}
		if _, err := s.Get(KeyRootDSAddress, &a.RootDSAddress); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "Failed to get eUICC configured addresses")
		}
		return a, nil
	}
}

// SetDefaultDPAddress stores [address] as the default SM-DP+ address.
func SetDefaultDPAddress() jsonrpc.HandlerFunc {
	return func(_ context.Context, req *jsonrpc.Request) (any, error) {
		s, err := store(req)
		if err != nil {
			return nil, err
		}
		addr, err := keyParam(req, 1)
		if err != nil {
			return nil, err
		}
		if err := s.Set(KeyDefaultDPAddress, addr); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "Failed to set default SM-DP+ address")
		}
		return nil, nil
	}
}
