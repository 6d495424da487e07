// Command mirrorstub is a minimal remote-agent test harness: it speaks
// just enough of the legacy-binary framing to answer CmdPing and CmdSearch
// with a canned reply, so agentconn and the listener multiplexor can be
// exercised against a real (if trivial) peer instead of only mocks.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dreamware/searchd/internal/config"
	"github.com/dreamware/searchd/internal/daemon"
	"github.com/dreamware/searchd/internal/listen"
)

func main() {
	addr := flag.String("listen", "9312", "listen spec for the stub agent")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ep, err := config.ParseEndpoint(*addr)
	if err != nil {
		log.Fatal("parse listen spec", zap.Error(err))
	}

	handlers := map[config.Protocol]listen.Handler{
		config.ProtocolLegacyBinary: daemon.StubHandler(log),
	}
	mux, err := listen.NewMultiplexor(log, 16, 0, 0, handlers)
	if err != nil {
		log.Fatal("build multiplexor", zap.Error(err))
	}
	if err := mux.Bind([]config.Endpoint{ep}); err != nil {
		log.Fatal("bind", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("mirrorstub listening", zap.String("spec", *addr))
	if err := mux.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("multiplexor exited with error", zap.Error(err))
		os.Exit(1)
	}
}
