package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Request is what a handler receives for one call.
type Request struct {
	// Name is the method name the call was routed by.
	Name string
	// Params holds the positional parameters.
	Params []json.RawMessage
	// Shared is the server-wide context value. It is the same value for every
	// call, so changes a handler makes are seen by all later calls.
	Shared any
}

// Param decodes the i-th positional parameter into v.
func (r *Request) Param(i int, v any) error {
	if i < 0 || i >= len(r.Params) {
		return NewError(CodeInvalidParams, fmt.Sprintf("missing param %d", i))
	}
	if err := json.Unmarshal(r.Params[i], v); err != nil {
		return NewError(CodeInvalidParams, fmt.Sprintf("invalid param %d", i))
	}
	return nil
}

// ExpectParams fails with an invalid params error unless exactly n
// parameters were supplied.
func (r *Request) ExpectParams(n int) error {
	if len(r.Params) == n {
		return nil
	}
	if n == 0 {
		return NewError(CodeInvalidParams, msgNoParamsExpected)
	}
	return NewError(CodeInvalidParams, fmt.Sprintf("expected %d params, got %d", n, len(r.Params)))
}

// Handler serves one named procedure.
//
// A handler returns a JSON-serializable result, or an error. Return an *Error
// to choose the wire code; any other error is reported as CodeInternalError.
// Handlers never write responses themselves.
type Handler interface {
	ServeRPC(ctx context.Context, req *Request) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

func (f HandlerFunc) ServeRPC(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// DuplicatePolicy decides what Register does with a name that is already
// registered.
type DuplicatePolicy int

const (
	// Shadow keeps both registrations. Lookup returns the newest one and
	// Deregister removes the oldest one.
	Shadow DuplicatePolicy = iota
	// Reject refuses the second registration with ErrDuplicate.
	Reject
)

func (p DuplicatePolicy) String() string {
	switch p {
	case Shadow:
		return "shadow"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
	}
}

// ParseDuplicatePolicy parses "shadow" or "reject".
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "", "shadow":
		return Shadow, nil
	case "reject":
		return Reject, nil
	}
	return Shadow, fmt.Errorf("jsonrpc: unknown duplicate policy %q", s)
}

type procedure struct {
	name    string
	handler Handler
}

// Registry is an ordered set of named procedures.
//
// Entries keep their registration order. Every scan works on a snapshot of
// the entry list, so handlers may register or deregister procedures while
// they are being invoked.
type Registry struct {
	mu     sync.RWMutex
	procs  []procedure
	policy DuplicatePolicy
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDuplicatePolicy sets how repeated names are handled. The default is
// Shadow.
func WithDuplicatePolicy(p DuplicatePolicy) RegistryOption {
	return func(r *Registry) {
		r.policy = p
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends a procedure. It becomes the most recently registered
// entry for name.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return ErrEmptyName
	}
	if h == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.policy == Reject {
		for _, p := range r.procs {
			if p.name == name {
				return fmt.Errorf("%w: %s", ErrDuplicate, name)
			}
		}
	}
	r.procs = append(r.procs, procedure{name: name, handler: h})
	return nil
}

// RegisterFunc registers f under name.
func (r *Registry) RegisterFunc(name string, f func(ctx context.Context, req *Request) (any, error)) error {
	if f == nil {
		return ErrNilHandler
	}
	return r.Register(name, HandlerFunc(f))
}

// Deregister removes the oldest entry registered under name, keeping the
// order of the rest. Removing a name that is not registered is a no-op.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.procs {
		if p.name != name {
			continue
		}
		procs := make([]procedure, 0, len(r.procs)-1)
		procs = append(procs, r.procs[:i]...)
		procs = append(procs, r.procs[i+1:]...)
		r.procs = procs
		return nil
	}
	return nil
}

// Lookup returns the handler of the most recently registered entry for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	procs := r.snapshot()
	for i := len(procs) - 1; i >= 0; i-- {
		if procs[i].name == name {
			return procs[i].handler, true
		}
	}
	return nil, false
}

// Names lists the distinct registered names in first-registration order.
func (r *Registry) Names() []string {
	procs := r.snapshot()
	seen := make(map[string]struct{}, len(procs))
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		if _, ok := seen[p.name]; ok {
			continue
		}
		seen[p.name] = struct{}{}
		names = append(names, p.name)
	}
	return names
}

// Len reports the number of entries, counting shadowed ones.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.procs)
}

// snapshot returns the current entry list. Mutations always replace or
// append past the end of the backing array, so the returned slice is never
// modified underneath a caller.
func (r *Registry) snapshot() []procedure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.procs[:len(r.procs):len(r.procs)]
}
