// Package daemon wires together the network-serving core: the
// shared index registry, dashboard registry, agent connector, and listener
// multiplexor, plus the ambient concerns (logging, correlation ids,
// graceful shutdown) that tie them into one runnable process.
package daemon

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/dreamware/searchd/internal/agentconn"
	"github.com/dreamware/searchd/internal/config"
	"github.com/dreamware/searchd/internal/dashboard"
	"github.com/dreamware/searchd/internal/listen"
	"github.com/dreamware/searchd/internal/netio"
	"github.com/dreamware/searchd/internal/poller"
	"github.com/dreamware/searchd/internal/registry"
)

// Daemon is the top-level process: every long-lived component plus the
// goroutines that drive them.
type Daemon struct {
	cfg config.Daemon
	log *zap.Logger

	registry   *registry.Registry
	dashboards *dashboard.Registry
	netPoll    *poller.Poller
	connector  *agentconn.Connector
	dispatcher *agentconn.Dispatcher
	pinger     *dashboard.Pinger
	mux        *listen.Multiplexor
	admin      *listen.AdminServer

	groups map[string]*dashboard.Group
}

// New builds a Daemon from cfg, dispatching legacy-binary requests to exec.
// It binds nothing and starts no goroutines; call Run to do that.
func New(cfg config.Daemon, log *zap.Logger, exec QueryExecutor) (*Daemon, error) {
	netPoll, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("daemon: net-loop poller: %w", err)
	}

	reg := registry.NewRegistry()
	dashboards := dashboard.NewRegistry(cfg.KarmaPeriod, true)
	connector := agentconn.NewConnector(cfg.PersistentPoolSize, cfg.ConnectTimeout, uint(cfg.RetryCount), 100*time.Millisecond)
	exchange := agentconn.NewExchange(connector, cfg.MaxPacketSize)
	dispatcher := agentconn.NewDispatcher(exchange, 100*time.Millisecond)
	connPinger := agentconn.NewPinger(exchange, agentconn.DefaultPingDeadlines)
	pinger := dashboard.NewPinger(connPinger.Ping, log)

	handlers := map[config.Protocol]listen.Handler{}
	mux, err := listen.NewMultiplexor(log, cfg.WorkerConcurrency, cfg.AcceptRatePerSecond, cfg.AcceptBurst, handlers)
	if err != nil {
		return nil, err
	}

	var admin *listen.AdminServer
	if cfg.AdminAddr != "" {
		admin = listen.NewAdminServer(cfg.AdminAddr, listen.AdminDeps{
			Registry:   reg,
			Dashboards: dashboards,
			JWTSecret:  cfg.AdminJWTSecret,
		})
	}

	d := &Daemon{
		cfg:        cfg,
		log:        log,
		registry:   reg,
		dashboards: dashboards,
		netPoll:    netPoll,
		connector:  connector,
		dispatcher: dispatcher,
		pinger:     pinger,
		mux:        mux,
		admin:      admin,
		groups:     make(map[string]*dashboard.Group),
	}

	dl := Deadlines{Read: cfg.ReceiveTimeout, Write: cfg.SendTimeout}
	for proto, h := range DefaultHandlers(d, exec, dl) {
		mux.SetHandler(proto, h)
	}
	return d, nil
}

// Registry exposes the shared index registry for query handlers to consult.
func (d *Daemon) Registry() *registry.Registry { return d.registry }

// Dashboards exposes the dashboard registry, primarily so a host descriptor
// can be resolved to its canonical Dashboard before building a mirror Group.
func (d *Daemon) Dashboards() *dashboard.Registry { return d.dashboards }

// RegisterGroup adds a mirror group under name and, if it requires
// background pinging, schedules it.
func (d *Daemon) RegisterGroup(name string, g *dashboard.Group) error {
	d.groups[name] = g
	return d.pinger.Register(g, d.cfg.KarmaPeriod)
}

// Group returns the named mirror group, or nil if unregistered.
func (d *Daemon) Group(name string) *dashboard.Group { return d.groups[name] }

// Run binds every configured listen endpoint and blocks, running the
// net-loop, accept multiplexor, admin server and pinger, until ctx is
// cancelled — at which point it shuts every component down in dependency
// order (listeners first, so no new work arrives; then the registry drains
// naturally since Each/EachWriteLocked calls already in flight finish under
// their own locks; then the persistent connection pools, via the agent
// connector; then the net-loop poller).
func (d *Daemon) Run(ctx context.Context) error {
	endpoints, err := d.cfg.Endpoints()
	if err != nil {
		return err
	}
	if err := d.mux.Bind(endpoints); err != nil {
		return fmt.Errorf("daemon: bind listeners: %w", err)
	}

	d.pinger.Start()
	defer d.pinger.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.mux.Run(ctx)
	})

	if d.admin != nil {
		g.Go(func() error {
			return d.admin.Serve(ctx)
		})
	}

	g.Go(func() error {
		return d.runNetLoop(ctx)
	})

	err = g.Wait()
	d.shutdown()
	return err
}

// shutdown closes the components Run doesn't own via context cancellation:
// the persistent connection pools (via the connector) and the net-loop
// poller itself.
func (d *Daemon) shutdown() {
	d.connector.Shutdown()
	d.netPoll.Close()
}

// runNetLoop wakes every 100ms until ctx is cancelled, pops every entry of
// its local deadline min-heap whose deadline has passed, and logs each one
// at debug level. It does not wait on d.netPoll, does not close or cancel
// an expired connection, and nothing adds entries to its heap: Exchange
// bounds each agent call itself through a private poller's WaitFD.
func (d *Daemon) runNetLoop(ctx context.Context) error {
	dq := newDeadlineQueue()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now().UnixNano()
			for _, fd := range dq.Expired(now) {
				d.log.Debug("net-loop: deadline expired", zap.Int("fd", fd))
			}
		}
	}
}

// NewCorrelationID returns a fresh correlation id for one inbound request,
// threaded through logging so a multi-mirror fan-out's log lines can be
// grouped.
func NewCorrelationID() string {
	return uuid.NewString()
}

// AcceptSocket adapts a raw net.Conn (the tests use it to hand a
// stdlib-created connection to a handler) into
// a netio.Socket by duplicating its underlying file descriptor — the
// original net.Conn keeps ownership of its own fd and must still be closed
// by its caller.
func AcceptSocket(conn net.Conn) (*netio.Socket, error) {
	sc, ok := conn.(syscallConner)
	if !ok {
		return nil, fmt.Errorf("daemon: connection does not expose a raw fd")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}
	var sock *netio.Socket
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		dup, dupErr := unix.Dup(int(fd))
		if dupErr != nil {
			sockErr = dupErr
			return
		}
		sock, sockErr = netio.FromFD(dup)
	})
	if ctrlErr != nil {
		return nil, ctrlErr
	}
	return sock, sockErr
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}
