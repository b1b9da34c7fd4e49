// Command jsonrpc is a minimal stdio JSON-RPC server with one custom
// procedure and the built-in ones. Try:
//
//	echo '{"jsonrpc":"2.0","id":1,"method":"counter.add","params":[2]}' | go run ./example/jsonrpc
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog"

	"github.com/mnehpets/linerpc/jsonrpc"
	"github.com/mnehpets/linerpc/procs"
	"github.com/mnehpets/linerpc/state"
)

func add(_ context.Context, req *jsonrpc.Request) (any, error) {
	if err := req.ExpectParams(1); err != nil {
		return nil, err
	}
	var n int
	if err := req.Param(0, &n); err != nil {
		return nil, err
	}
	s := req.Shared.(*state.Store)
	var total int
	if _, err := s.Get("counter", &total); err != nil {
		return nil, err
	}
	total += n
	return total, s.Set("counter", total)
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	reg := jsonrpc.NewRegistry()
	if err := procs.Register(reg); err != nil {
		logger.Fatal().Err(err).Msg("register procedures")
	}
	if err := reg.RegisterFunc("counter.add", add); err != nil {
		logger.Fatal().Err(err).Msg("register counter.add")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	srv := jsonrpc.NewServer(reg, jsonrpc.WithShared(state.New()), jsonrpc.WithLogger(logger))
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Fatal().Err(err).Msg("serve")
	}
}
