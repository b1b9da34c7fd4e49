package jsonrpc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultMaxLineBytes bounds the size of one request line.
const DefaultMaxLineBytes = 1 << 20

// Outcome classifies how a request ended.
type Outcome string

const (
	OutcomeResult         Outcome = "result"
	OutcomeError          Outcome = "error"
	OutcomeMethodNotFound Outcome = "method_not_found"
	OutcomeInvalidRequest Outcome = "invalid_request"
	OutcomeParseError     Outcome = "parse_error"
)

// Observer receives one event per request and one per failed emission.
// Methods are called on the serving goroutine and must not block.
type Observer interface {
	ObserveDispatch(method string, outcome Outcome, elapsed time.Duration)
	ObserveTransportError(err error)
}

// Server routes requests from one stream to the procedures of a Registry.
//
// Requests are handled one at a time: a request is validated, dispatched and
// answered before the next one is read.
type Server struct {
	registry     *Registry
	shared       any
	logger       zerolog.Logger
	observer     Observer
	limiter      *rate.Limiter
	maxLineBytes int
}

// Option configures a Server.
type Option func(*Server)

// WithShared sets the value passed as Request.Shared to every handler.
func WithShared(shared any) Option {
	return func(s *Server) {
		s.shared = shared
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithObserver(o Observer) Option {
	return func(s *Server) {
		s.observer = o
	}
}

// WithLimiter makes Serve wait for a token from l before each request.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithMaxLineBytes sets the longest accepted request line, excluding the
// line terminator. Longer lines are answered with an invalid request error.
func WithMaxLineBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLineBytes = n
		}
	}
}

// NewServer creates a server dispatching to reg.
func NewServer(reg *Registry, opts ...Option) *Server {
	s := &Server{
		registry:     reg,
		logger:       zerolog.Nop(),
		maxLineBytes: DefaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry the server dispatches to.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Serve answers requests read from r on w until r is exhausted.
//
// It returns nil at end of input and ctx.Err() if ctx is done between
// requests. Failures to emit a response are logged and do not stop Serve.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	br := bufio.NewReaderSize(r, 64*1024)
	enc := NewEncoder(w)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, tooLong, err := readLine(br, s.maxLineBytes)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("jsonrpc: read request: %w", err)
		}
		if !tooLong && len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if tooLong {
			s.logger.Warn().Int("max_bytes", s.maxLineBytes).Msg("request line too long")
			s.observe("", OutcomeInvalidRequest, 0)
			_, err = s.emit(enc.WriteError(nil, NewError(CodeInvalidRequest, msgLineTooLong)))
		} else {
			_, err = s.HandleMessage(ctx, line, enc)
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to send response")
		}
	}
}

// HandleMessage validates one request and dispatches it, emitting exactly
// one response on enc.
func (s *Server) HandleMessage(ctx context.Context, data []byte, enc *Encoder) (int, error) {
	call, err := ParseRequest(data)
	if err != nil {
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			reqErr = &RequestError{Err: NewError(CodeInvalidRequest, msgInvalidRequest)}
		}
		outcome := OutcomeInvalidRequest
		if reqErr.Err.Code == CodeParseError {
			outcome = OutcomeParseError
		}
		s.logger.Debug().Int("rpc_code", reqErr.Err.Code).Str("rpc_id", string(reqErr.ID)).Msg("rpc rejected")
		s.observe("", outcome, 0)
		return s.emit(enc.WriteError(reqErr.ID, reqErr.Err))
	}
	return s.Dispatch(ctx, call, enc)
}

// Dispatch invokes the procedure named by call and emits exactly one
// response on enc.
func (s *Server) Dispatch(ctx context.Context, call *Call, enc *Encoder) (int, error) {
	reqID := uuid.NewString()
	started := time.Now()
	log := s.logger.With().Str("request_id", reqID).Str("method", call.Method).Logger()
	log.Debug().Str("rpc_id", string(call.ID)).Msg("rpc request")

	h, ok := s.registry.Lookup(call.Method)
	if !ok {
		log.Debug().Msg("rpc method not found")
		s.observe(call.Method, OutcomeMethodNotFound, time.Since(started))
		return s.emit(enc.WriteError(call.ID, NewError(CodeMethodNotFound, msgMethodNotFound)))
	}

	result, rpcErr := s.invoke(ctx, h, &Request{
		Name:   call.Method,
		Params: call.Params,
		Shared: s.shared,
	})
	elapsed := time.Since(started)
	if rpcErr != nil {
		log.Info().Int("rpc_code", rpcErr.Code).Int64("latency_ms", elapsed.Milliseconds()).Msg("rpc failed")
		s.observe(call.Method, OutcomeError, elapsed)
		return s.emit(enc.WriteError(call.ID, rpcErr))
	}
	log.Debug().Int64("latency_ms", elapsed.Milliseconds()).Msg("rpc response")
	s.observe(call.Method, OutcomeResult, elapsed)
	return s.emit(enc.WriteResult(call.ID, result))
}

func (s *Server) invoke(ctx context.Context, h Handler, req *Request) (result any, rpcErr *Error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("method", req.Name).Interface("panic", r).Msg("rpc handler panic")
			result = nil
			rpcErr = NewError(CodeInternalError, msgInternalPanic)
		}
	}()
	result, err := h.ServeRPC(ctx, req)
	if rpcErr = mapError(err); rpcErr != nil {
		return nil, rpcErr
	}
	return result, nil
}

func (s *Server) observe(method string, outcome Outcome, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.ObserveDispatch(method, outcome, elapsed)
	}
}

// emit passes an encoder result through, reporting failures to the observer.
func (s *Server) emit(n int, err error) (int, error) {
	if err != nil && s.observer != nil {
		s.observer.ObserveTransportError(err)
	}
	return n, err
}

// readLine reads one line of at most limit bytes, without its terminator.
// An over-long line is consumed and reported with tooLong set. A final line
// without a terminator is returned before io.EOF.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, rerr := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit+2 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		case errors.Is(rerr, io.EOF):
			if len(line) == 0 && !tooLong {
				return nil, false, io.EOF
			}
		case rerr != nil:
			return nil, false, rerr
		}
		line = trimEOL(line)
		if len(line) > limit {
			return nil, true, nil
		}
		return line, tooLong, nil
	}
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}
