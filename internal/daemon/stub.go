package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/searchd/internal/config"
	"github.com/dreamware/searchd/internal/listen"
	"github.com/dreamware/searchd/internal/netio"
	"github.com/dreamware/searchd/internal/poller"
	"github.com/dreamware/searchd/internal/wire"
)

// StubHandler builds a legacy-binary handler that answers every request
// with an empty StatusOK reply, for cmd/mirrorstub: a minimal peer to
// exercise agentconn and the listener multiplexor against real I/O instead
// of only mocks. Each connection gets its own poller since a test stub
// has no shared net loop to join.
func StubHandler(log *zap.Logger) listen.Handler {
	return func(ctx context.Context, sock *netio.Socket, proto config.Protocol) {
		defer sock.Close()

		p, err := poller.New()
		if err != nil {
			log.Error("stub: poller", zap.Error(err))
			return
		}
		defer p.Close()

		in := wire.NewNetInput(sock, p)
		out := wire.NewNetOutput(sock, p)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			env, err := wire.ReadEnvelope(in, time.Now().Add(30*time.Second), 8<<20)
			if err != nil {
				return
			}
			wire.WriteEnvelope(out.Output, uint16(wire.StatusOK), env.Version, nil)
			if err := out.Flush(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
		}
	}
}
