package core

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sys/unix"

	"github.com/searchktools/static-server/core/http"
	"github.com/searchktools/static-server/core/observability"
	"github.com/searchktools/static-server/core/poller"
	"github.com/searchktools/static-server/core/pools"
)

// Options configures an Engine. Zero values take the package defaults.
type Options struct {
	Host         string
	Port         int
	Root         string
	Workers      int
	MaxClients   int
	BufferSize   int
	MaxURILength int
	MaxHeaders   int
	WaitTimeout  time.Duration
	ServerName   string
	Logger       *logrus.Entry

	// MeterProvider receives request and connection metrics; nil uses
	// the global provider
	MeterProvider metric.MeterProvider
}

func (o *Options) withDefaults() {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Workers == 0 {
		o.Workers = DefaultWorkers
	}
	if o.MaxClients <= 0 {
		o.MaxClients = DefaultMaxClients
	}
	if o.BufferSize <= 0 {
		o.BufferSize = http.DefaultBufferSize
	}
	if o.MaxURILength <= 0 {
		o.MaxURILength = http.DefaultMaxURILength
	}
	if o.MaxHeaders <= 0 {
		o.MaxHeaders = http.DefaultMaxHeaders
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.ServerName == "" {
		o.ServerName = http.DefaultServerName
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if o.MeterProvider == nil {
		o.MeterProvider = otel.GetMeterProvider()
	}
}

// Engine is the epoll reactor: an accept loop and a dispatch loop running
// as long-lived tasks on its own worker pool, plus the table of live
// connections.
type Engine struct {
	opts     Options
	log      *logrus.Entry
	settings *http.Settings

	poller poller.Poller
	lfd    int
	addr   *net.TCPAddr

	connections map[int]*Connection
	connMu      sync.RWMutex

	state  atomic.Int32
	lifeMu sync.Mutex

	bytePool   *pools.BytePool
	workerPool *pools.WorkerPool

	acceptLoop   *pools.Future[struct{}]
	dispatchLoop *pools.Future[struct{}]

	stats   engineStats
	monitor *observability.Monitor
}

type engineStats struct {
	accepted atomic.Uint64
	refused  atomic.Uint64
	rejected atomic.Uint64
	handled  atomic.Uint64
	closed   atomic.Uint64
}

var _ Reactor = (*Engine)(nil)

// NewEngine creates an engine in StateInit. No descriptor is opened until
// Start.
func NewEngine(opts Options) (*Engine, error) {
	opts.withDefaults()
	if opts.Root == "" {
		return nil, ErrNoRoot
	}
	if opts.Workers < MinWorkers {
		return nil, fmt.Errorf("%w: %d, need at least %d", ErrTooFewWorkers, opts.Workers, MinWorkers)
	}
	if net.ParseIP(opts.Host).To4() == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHost, opts.Host)
	}

	settings := http.NewSettings(opts.Root)
	settings.ServerName = opts.ServerName
	settings.MaxURILength = opts.MaxURILength
	settings.MaxHeaders = opts.MaxHeaders
	settings.Logger = opts.Logger.WithField("component", "http")
	if need := settings.MinBufferSize(); opts.BufferSize < need {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrBufferTooSmall, opts.BufferSize, need)
	}

	monitor, err := observability.NewMonitorWithProvider(opts.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("create monitor: %w", err)
	}

	// room for both loops plus one queued request per connection
	queueCapacity := opts.MaxClients + 2

	e := &Engine{
		opts:        opts,
		log:         opts.Logger.WithField("component", "engine"),
		settings:    settings,
		lfd:         -1,
		connections: make(map[int]*Connection, opts.MaxClients),
		bytePool:    pools.NewBytePoolWithSizes([]int{opts.BufferSize}),
		workerPool:  pools.NewWorkerPool(opts.Workers, queueCapacity),
		monitor:     monitor,
	}
	e.state.Store(int32(StateInit))

	err = monitor.ObserveGauge("static_server.connections.active", "Open client connections", func() int64 {
		return int64(e.Active())
	})
	if err != nil {
		return nil, fmt.Errorf("register connection gauge: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"workers":     opts.Workers,
		"max_clients": opts.MaxClients,
		"buffer_size": opts.BufferSize,
	}).Debug("engine created")

	return e, nil
}

// Monitor returns the per-method request monitor
func (e *Engine) Monitor() *observability.Monitor {
	return e.monitor
}

// Pool returns the worker pool the engine runs on
func (e *Engine) Pool() *pools.WorkerPool {
	return e.workerPool
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsRunning reports whether the loops are accepting and dispatching
func (e *Engine) IsRunning() bool {
	return e.State() == StateRunning
}

// Addr returns the bound listen address, or nil before Start
func (e *Engine) Addr() *net.TCPAddr {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.addr
}

// Start opens the poller and listener and launches the loops. On a
// suspended engine it relaunches the loops. Start on a running engine is
// a no-op.
func (e *Engine) Start() error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	switch s := e.State(); {
	case s == StateRunning:
		return nil
	case s.final():
		return fmt.Errorf("%w: %s", ErrFinalState, s)
	case s == StateSuspended:
		if err := e.launch(); err != nil {
			e.state.Store(int32(StateError))
			return err
		}
		e.log.Info("engine resumed")
		return nil
	}

	if err := e.setup(); err != nil {
		e.workerPool.Stop()
		e.closeResources()
		e.state.Store(int32(StateError))
		return err
	}

	e.log.WithFields(logrus.Fields{
		"addr":    e.addr.String(),
		"root":    e.opts.Root,
		"workers": e.workerPool.Size(),
	}).Info("engine started")
	return nil
}

func (e *Engine) setup() error {
	if err := e.serverInit(); err != nil {
		return err
	}
	if err := e.serverListen(); err != nil {
		return err
	}
	if err := e.workerPool.Start(); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	return e.launch()
}

// serverInit creates the poller sized for MaxClients events per wait
func (e *Engine) serverInit() error {
	p, err := poller.NewPoller(e.opts.MaxClients)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}
	e.poller = p
	return nil
}

// serverListen binds a non-blocking IPv4 listener on Host:Port
func (e *Engine) serverListen() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("server listen: socket: %w", err)
	}
	e.lfd = fd

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("server listen: setsockopt: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: e.opts.Port}
	copy(sa.Addr[:], net.ParseIP(e.opts.Host).To4())
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("server listen: bind %s: %w", net.JoinHostPort(e.opts.Host, strconv.Itoa(e.opts.Port)), err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		return fmt.Errorf("server listen: listen: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fmt.Errorf("server listen: getsockname: %w", err)
	}
	if in4, ok := bound.(*unix.SockaddrInet4); ok {
		e.addr = &net.TCPAddr{IP: net.IP(in4.Addr[:]).To16(), Port: in4.Port}
	}
	return nil
}

// launch marks the engine running and schedules both loops
func (e *Engine) launch() error {
	e.state.Store(int32(StateRunning))

	accept, err := pools.Submit(e.workerPool, e.loop(e.handleAccept))
	if err != nil {
		return fmt.Errorf("%w: accept: %v", ErrLoopSubmission, err)
	}
	e.acceptLoop = accept

	dispatch, err := pools.Submit(e.workerPool, e.loop(e.Dispatch))
	if err != nil {
		e.state.Store(int32(StateSuspended))
		e.waitLoops()
		return fmt.Errorf("%w: dispatch: %v", ErrLoopSubmission, err)
	}
	e.dispatchLoop = dispatch
	return nil
}

func (e *Engine) loop(fn func() error) func() (struct{}, error) {
	return func() (struct{}, error) {
		return struct{}{}, fn()
	}
}

// waitLoops blocks until both loop tasks have returned
func (e *Engine) waitLoops() error {
	var errs []error
	for _, f := range []*pools.Future[struct{}]{e.acceptLoop, e.dispatchLoop} {
		if f == nil {
			continue
		}
		if _, err := f.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	e.acceptLoop, e.dispatchLoop = nil, nil
	return errors.Join(errs...)
}

// Suspend stops the loops. Connections stay open and registered, and
// readiness that arrives meanwhile is delivered after the next Start.
func (e *Engine) Suspend() error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if !e.state.CompareAndSwap(int32(StateRunning), int32(StateSuspended)) {
		return fmt.Errorf("%w: %s", ErrNotRunning, e.State())
	}
	e.wake()
	err := e.waitLoops()

	e.log.Info("engine suspended")
	return err
}

// Terminate stops the loops and the pool, closes every connection and
// releases the listener and poller. It is safe to call more than once.
func (e *Engine) Terminate() error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	prev := e.State()
	if prev == StateTerminated {
		return nil
	}
	if prev != StateError {
		e.state.Store(int32(StateTerminated))
	}

	e.wake()
	err := e.waitLoops()
	e.workerPool.Stop()
	e.releaseAll()
	e.closeResources()

	e.log.WithField("previous", prev.String()).Info("engine terminated")
	return err
}

func (e *Engine) wake() {
	if e.poller == nil {
		return
	}
	if err := e.poller.Wake(); err != nil {
		e.log.WithError(err).Warn("wake dispatch loop failed")
	}
}

// closeResources closes whatever setup managed to open
func (e *Engine) closeResources() {
	if e.lfd >= 0 {
		unix.Close(e.lfd)
		e.lfd = -1
	}
	if e.poller != nil {
		e.poller.Close()
		e.poller = nil
	}
}

// fail moves a running engine to StateError
func (e *Engine) fail(err error) {
	if e.state.CompareAndSwap(int32(StateRunning), int32(StateError)) {
		e.log.WithError(err).Error("engine failed")
	}
}

func (e *Engine) waitTimeoutMillis() int {
	return int(e.opts.WaitTimeout / time.Millisecond)
}

// handleAccept admits new connections until the engine leaves running
func (e *Engine) handleAccept() error {
	fds := []unix.PollFd{{Fd: int32(e.lfd), Events: unix.POLLIN}}
	timeout := e.waitTimeoutMillis()

	for e.IsRunning() {
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			err = fmt.Errorf("poll listener: %w", err)
			e.fail(err)
			return err
		}
		if n > 0 {
			e.accept()
		}
	}
	return nil
}

func (e *Engine) accept() {
	nfd, sa, err := unix.Accept4(e.lfd, unix.SOCK_CLOEXEC)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.EINTR, unix.ECONNABORTED:
		default:
			e.log.WithError(err).Warn("accept failed")
		}
		return
	}
	remote := sockaddrString(sa)

	if e.Active() >= e.opts.MaxClients {
		e.stats.refused.Add(1)
		unix.Close(nfd)
		e.log.WithField("remote", remote).Debug("connection refused, at capacity")
		return
	}

	if err := unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		e.log.WithError(err).Debug("set TCP_NODELAY failed")
	}

	buf := e.bytePool.Get(e.opts.BufferSize)
	conn := newConnection(nfd, remote, http.NewRequestContext(nfd, buf, e.settings, remote))

	// The table entry must exist before the first readiness can arrive.
	e.connMu.Lock()
	e.connections[nfd] = conn
	e.connMu.Unlock()
	e.stats.accepted.Add(1)

	if err := e.poller.Add(nfd); err != nil {
		e.log.WithError(err).Warn("register connection failed")
		conn.owner.Store(connClosing)
		e.release(conn)
	}
}

// Dispatch waits for readiness and hands each ready connection to the
// worker pool. It never runs protocol logic itself.
func (e *Engine) Dispatch() error {
	timeout := e.waitTimeoutMillis()

	for e.IsRunning() {
		events, err := e.poller.Wait(timeout)
		if err != nil {
			err = fmt.Errorf("dispatch: %w", err)
			e.fail(err)
			return err
		}
		for _, ev := range events {
			e.dispatch(ev)
		}
	}
	return nil
}

func (e *Engine) dispatch(ev poller.Event) {
	conn := e.lookup(ev.Fd)
	if conn == nil {
		return
	}

	if ev.Hangup {
		if conn.transfer(connArmed, connClosing) {
			e.release(conn)
		}
		return
	}
	if !ev.Readable || !conn.transfer(connArmed, connProcessing) {
		return
	}

	if err := e.workerPool.Execute(func() { e.serve(conn) }); err != nil {
		e.stats.rejected.Add(1)
		e.log.WithError(err).WithField("remote", conn.remote).Warn("request rejected")
		if err := http.WriteStatus(conn.fd, http.StatusServiceUnavailable, e.settings); err != nil {
			e.log.WithError(err).Debug("send 503 failed")
		}
		conn.owner.Store(connClosing)
		e.release(conn)
	}
}

// serve is the request task for one readiness delivery
func (e *Engine) serve(conn *Connection) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("remote", conn.remote).Errorf("request handler panicked: %v", r)
			conn.owner.Store(connClosing)
			e.release(conn)
			panic(r)
		}
	}()

	start := e.monitor.StartTrace()
	outcome := http.Handle(conn.ctx)
	e.stats.handled.Add(1)
	if conn.ctx.Status != http.StatusNone {
		e.monitor.EndTrace(conn.ctx.Method, int(conn.ctx.Status), start)
	}
	e.finish(conn, outcome)
}

// finish hands the connection back to the poller or tears it down
func (e *Engine) finish(conn *Connection, outcome http.Outcome) {
	if outcome == http.OutcomeClose {
		conn.owner.Store(connClosing)
		e.release(conn)
		return
	}

	// The tag must read armed before the poller can deliver again.
	conn.owner.Store(connArmed)
	err := e.poller.Rearm(conn.fd)
	if err == nil {
		return
	}
	e.log.WithError(err).WithField("remote", conn.remote).Warn("rearm failed")
	if conn.transfer(connArmed, connClosing) {
		e.release(conn)
	}
}

func (e *Engine) lookup(fd int) *Connection {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	return e.connections[fd]
}

// release is the only place a connection is destroyed. Removal from the
// table decides the single caller that proceeds.
func (e *Engine) release(conn *Connection) {
	e.connMu.Lock()
	cur, ok := e.connections[conn.fd]
	if !ok || cur != conn {
		e.connMu.Unlock()
		return
	}
	delete(e.connections, conn.fd)
	e.connMu.Unlock()

	if e.poller != nil {
		if err := e.poller.Remove(conn.fd); err != nil {
			e.log.WithError(err).Debug("deregister connection failed")
		}
	}
	unix.Close(conn.fd)
	e.bytePool.Put(conn.ctx.Buffer())
	e.stats.closed.Add(1)

	e.log.WithField("remote", conn.remote).Debug("connection closed")
}

// releaseAll closes every connection left in the table. Workers must be
// stopped first.
func (e *Engine) releaseAll() {
	e.connMu.RLock()
	conns := make([]*Connection, 0, len(e.connections))
	for _, conn := range e.connections {
		conns = append(conns, conn)
	}
	e.connMu.RUnlock()

	for _, conn := range conns {
		conn.owner.Store(connClosing)
		e.release(conn)
	}
}

// Active returns the number of open connections
func (e *Engine) Active() int {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	return len(e.connections)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	}
	return "unknown"
}
