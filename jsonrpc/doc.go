// Package jsonrpc serves JSON-RPC 2.0 over a single newline-delimited stream.
//
// Each input line holds one request object. Each request gets exactly one
// response line, written before the next request is read. Batches and
// notifications are not supported: a request without an id is still
// answered, with a null id.
//
// # Basic Usage
//
// Register procedures on a Registry and serve a stream:
//
//	reg := jsonrpc.NewRegistry()
//	reg.RegisterFunc("echo", func(ctx context.Context, req *jsonrpc.Request) (any, error) {
//	    var v any
//	    if err := req.Param(0, &v); err != nil {
//	        return nil, err
//	    }
//	    return v, nil
//	})
//	srv := jsonrpc.NewServer(reg, jsonrpc.WithShared(device))
//	err := srv.Serve(ctx, os.Stdin, os.Stdout)
//
// # Requests
//
// Requests must look like
//
//	{"jsonrpc":"2.0","id":<any>,"method":"<string>","params":[...]}
//
// Only positional (array) params are accepted. The handler receives them as
// raw JSON values in Request.Params, together with the Shared value given
// to WithShared. Shared is the same value for every call; changes made by
// one handler are visible to the next.
//
// # Registry
//
// A name may be registered more than once. Lookup uses the most recent
// registration, and Deregister removes the oldest one. Use
// WithDuplicatePolicy(Reject) to refuse duplicate names instead. Handlers may
// register and deregister procedures while they run.
//
// # Error Handling
//
// Return an *Error to choose the error code sent to the client:
//
//	return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "No parameters expected")
//
// An *Error with code 0 is treated as success. Any other error is sent as
// CodeInternalError with the error text as message, and panics are
// recovered the same way.
//
// Codes defined by this package:
//   - CodeParseError (-32700)
//   - CodeInvalidRequest (-32600)
//   - CodeMethodNotFound (-32601)
//   - CodeInvalidParams (-32603)
//   - CodeInternalError (-32693)
//
// A response that cannot be encoded or written is dropped and the error,
// wrapping ErrTransport, is returned to the caller. Serve logs it and keeps
// reading.
package jsonrpc
