package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/searchd/internal/agentconn"
	"github.com/dreamware/searchd/internal/config"
	"github.com/dreamware/searchd/internal/errs"
	"github.com/dreamware/searchd/internal/listen"
	"github.com/dreamware/searchd/internal/netio"
	"github.com/dreamware/searchd/internal/poller"
	"github.com/dreamware/searchd/internal/registry"
	"github.com/dreamware/searchd/internal/wire"
)

// QueryRequest is the parsed form of one inbound request envelope, handed
// to a QueryExecutor. Index is the target index name for index-targeted
// commands (empty otherwise); Body is the remaining payload after the
// index-name prefix, opaque to this package.
type QueryRequest struct {
	Command wire.Command
	Version uint16
	Index   string
	Body    []byte
}

// QueryResult is what a QueryExecutor produces for one request: a status
// plus an already-encoded reply body.
type QueryResult struct {
	Status wire.Status
	Body   []byte
	Rows   int
}

// QueryExecutor is the seam to the index internals: it accepts a parsed
// request and emits a result set. This package frames, looks up the target
// index, and dispatches; the inverted-list/ranker/executor machinery lives
// behind this interface.
type QueryExecutor interface {
	Execute(ctx context.Context, reg *registry.Registry, req QueryRequest) (QueryResult, error)
}

// DistributedIndex is the payload of a distributed-type served index: the
// names of the mirror groups its remote agents are organized into, each
// registered via Daemon.RegisterGroup.
type DistributedIndex struct {
	Groups []string
}

// Deadlines bundles the per-phase timeouts a handler enforces on its own
// accepted connection (distinct from agentconn.Deadlines, which governs
// the daemon's outbound calls to a mirror).
type Deadlines struct {
	Read  time.Duration
	Write time.Duration
}

// indexTargeted reports whether cmd's body begins with the target index
// name as a length-prefixed string. Commands like ping, status and sql
// carry no index prefix and go straight to the executor.
func indexTargeted(cmd wire.Command) bool {
	switch cmd {
	case wire.CmdSearch, wire.CmdExcerpt, wire.CmdUpdate, wire.CmdKeywords,
		wire.CmdDelete, wire.CmdInsert, wire.CmdReplace, wire.CmdSuggest,
		wire.CmdCallPQ:
		return true
	default:
		return false
	}
}

// dispatch is the per-request control flow: consult the registry for the
// target index, gate insert/replace on mutability, then either answer
// locally through exec or fan the query out across the distributed index's
// mirror groups. Per-index query stats are recorded on the handle either
// way.
func (d *Daemon) dispatch(ctx context.Context, exec QueryExecutor, req QueryRequest) (QueryResult, error) {
	if !indexTargeted(req.Command) {
		return exec.Execute(ctx, d.registry, req)
	}

	in := wire.NewInput(req.Body)
	in.SetMaxLen(d.cfg.MaxPacketSize)
	name := in.ReadString()
	if err := in.Err(); err != nil {
		return QueryResult{}, fmt.Errorf("daemon: bad index-name prefix: %w", err)
	}
	req.Index = name
	req.Body = in.ReadBytesZerocopy(in.Remaining())

	h := d.registry.Get(name)
	if h == nil {
		return QueryResult{}, fmt.Errorf("%w: %s", errs.ErrIndexNotFound, name)
	}
	if (req.Command == wire.CmdInsert || req.Command == wire.CmdReplace) && !h.Mutable() {
		return QueryResult{}, fmt.Errorf("%w: %s is %s, writes need rt or percolate", errs.ErrIndexTypeMismatch, name, h.Type())
	}

	start := time.Now()
	var result QueryResult
	var err error
	if h.Type() == registry.IndexDistributed {
		result, err = d.dispatchDistributed(h, req)
	} else {
		result, err = exec.Execute(ctx, d.registry, req)
	}
	if err == nil {
		h.Stats().Observe(result.Rows, time.Since(start))
	}
	return result, err
}

// dispatchDistributed fans req out across every mirror group of a
// distributed index, one dispatcher call (choose → exchange → retry) per
// group, and merges the replies in arrival order. A remote warning keeps
// its body and downgrades the merged status; the whole dispatch fails only
// when every group does.
func (d *Daemon) dispatchDistributed(h *registry.ServedIndexHandle, req QueryRequest) (QueryResult, error) {
	di, ok := h.Payload().(DistributedIndex)
	if !ok {
		return QueryResult{}, fmt.Errorf("%w: %s has no distributed descriptor", errs.ErrIndexTypeMismatch, h.Name())
	}

	dl := agentconn.Deadlines{
		Connect: d.cfg.ConnectTimeout,
		Send:    d.cfg.SendTimeout,
		Receive: d.cfg.ReceiveTimeout,
	}

	out := QueryResult{Status: wire.StatusOK}
	var failures []string
	answered := 0
	for _, name := range di.Groups {
		g := d.Group(name)
		if g == nil {
			failures = append(failures, fmt.Sprintf("mirror group %q not registered", name))
			continue
		}
		res := d.dispatcher.Call(g, uint16(req.Command), req.Version, req.Body, dl)
		if res.Err != nil {
			var appErr *errs.AppError
			if errors.As(res.Err, &appErr) && appErr.Warning {
				// A remote warning does not abort the dispatch: keep the
				// body, downgrade the merged status.
				out.Status = wire.StatusWarning
				out.Body = append(out.Body, res.Reply.Body...)
				answered++
				continue
			}
			failures = append(failures, res.Err.Error())
			continue
		}
		out.Body = append(out.Body, res.Reply.Body...)
		answered++
	}
	if answered == 0 {
		return QueryResult{}, fmt.Errorf("daemon: every mirror group of %s failed: %s", h.Name(), strings.Join(failures, "; "))
	}
	return out, nil
}

// LegacyBinaryHandler builds the per-protocol connection handler for the
// legacy-binary endpoint tag: it loops reading framed request envelopes
// and writing framed replies until the peer closes or a protocol error
// occurs, routing each request through the daemon's dispatch path.
func LegacyBinaryHandler(d *Daemon, exec QueryExecutor, dl Deadlines) listen.Handler {
	return func(ctx context.Context, sock *netio.Socket, proto config.Protocol) {
		defer sock.Close()

		// Each accepted connection gets its own poller: many
		// connections are served concurrently by the multiplexor's
		// per-connection goroutines, and a shared Poller's Wait is not
		// safe to call from more than one goroutine at a time.
		p, err := poller.New()
		if err != nil {
			d.log.Error("legacy-binary: poller", zap.Error(err))
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

			env, err := wire.ReadEnvelope(in, time.Now().Add(dl.Read), d.cfg.MaxPacketSize)
			if err != nil {
				return
			}

			req := QueryRequest{Command: wire.Command(env.Tag), Version: env.Version, Body: env.Body}
			start := time.Now()
			result, execErr := d.dispatch(ctx, exec, req)
			elapsed := time.Since(start)

			if execErr != nil {
				wire.WriteEnvelope(out.Output, uint16(wire.StatusError), env.Version, []byte(execErr.Error()))
			} else {
				wire.WriteEnvelope(out.Output, uint16(result.Status), env.Version, result.Body)
			}
			if err := out.Flush(time.Now().Add(dl.Write)); err != nil {
				return
			}

			d.log.Debug("request served",
				zap.Uint16("command", uint16(req.Command)),
				zap.Duration("elapsed", elapsed),
				zap.Error(execErr))
		}
	}
}

// NoopExecutor is a QueryExecutor that returns an empty OK result for
// every request, useful for exercising the framing, lookup and dispatch
// path without a real index engine behind it (tests, cmd/searchd).
type NoopExecutor struct{}

func (NoopExecutor) Execute(ctx context.Context, reg *registry.Registry, req QueryRequest) (QueryResult, error) {
	return QueryResult{Status: wire.StatusOK}, nil
}

// unhandledProtocolHandler logs and closes connections for a protocol tag
// this daemon declares in its listen grammar but does not itself speak.
// mysql-wire's handshake and replication's stream format are not framed
// here; a deployment that needs them fronts this daemon with a real MySQL
// server or replication peer and only routes legacy-binary traffic here.
func unhandledProtocolHandler(log *zap.Logger, name string) listen.Handler {
	return func(ctx context.Context, sock *netio.Socket, proto config.Protocol) {
		defer sock.Close()
		log.Debug("closing connection on unimplemented protocol", zap.String("protocol", name))
	}
}

// DefaultHandlers builds the handler table passed to listen.NewMultiplexor:
// a real legacy-binary handler wired to exec, and close-immediately stubs
// for mysql-wire and replication (see unhandledProtocolHandler).
func DefaultHandlers(d *Daemon, exec QueryExecutor, dl Deadlines) map[config.Protocol]listen.Handler {
	return map[config.Protocol]listen.Handler{
		config.ProtocolLegacyBinary: LegacyBinaryHandler(d, exec, dl),
		config.ProtocolMySQLWire:    unhandledProtocolHandler(d.log, "mysql-wire"),
		config.ProtocolReplication:  unhandledProtocolHandler(d.log, "replication"),
	}
}
