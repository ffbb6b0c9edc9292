// Package stream maintains the single duplex connection to the market data service.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/coachpo/pulse/errs"
	"github.com/coachpo/pulse/internal/observability"
	"github.com/coachpo/pulse/internal/telemetry"
)

const (
	defaultReconnectDelay   = 3 * time.Second
	defaultMaxAttempts      = 10
	defaultPingInterval     = 30 * time.Second
	defaultPingTimeout      = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadLimit        = 2 * 1024 * 1024

	// MessageConnectionError is reported after a single failed session.
	MessageConnectionError = "connection error"
	// MessageRetriesExhausted is reported once the manager gives up.
	MessageRetriesExhausted = "connection failed after multiple attempts"
)

// State is the lifecycle phase of the connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateTerminal     State = "terminal"
)

// Status is a point-in-time view of the connection.
type Status struct {
	State     State  `json:"state"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"lastError,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Options tunes reconnect and keepalive behaviour. Zero values take defaults.
type Options struct {
	ReconnectDelay   time.Duration
	MaxAttempts      int
	PingInterval     time.Duration
	PingTimeout      time.Duration
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Dialer           Dialer
	Logger           observability.Logger
}

// Manager owns at most one live connection and reconnects it with a bounded budget.
type Manager struct {
	opts    Options
	logger  observability.Logger
	metrics *streamMetrics

	mu     sync.Mutex
	status Status
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}

	subsMu    sync.Mutex
	listeners map[string]func(Status)
	order     []string
}

// NewManager constructs a manager. It does not dial until Start.
func NewManager(opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.Dialer == nil {
		opts.Dialer = websocketDialer{handshakeTimeout: opts.HandshakeTimeout, readLimit: opts.ReadLimit}
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Log()
	}
	return &Manager{
		opts:      opts,
		logger:    logger,
		metrics:   newStreamMetrics(),
		status:    Status{State: StateDisconnected},
		listeners: make(map[string]func(Status)),
	}
}

// Start launches the connect loop in the background. Every text frame is passed to
// onMessage on the read goroutine in arrival order; onMessage must not call Stop.
// Start fails while a previous loop is still running. After Stop or a terminal
// failure it may be called again with a fresh retry budget.
func (m *Manager) Start(ctx context.Context, url string, onMessage func([]byte)) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return errs.New("stream", errs.CodeInvalid, errs.WithMessage("websocket url required"))
	}
	if onMessage == nil {
		return errs.New("stream", errs.CodeInvalid, errs.WithMessage("message handler required"))
	}

	m.mu.Lock()
	if m.done != nil {
		select {
		case <-m.done:
		default:
			m.mu.Unlock()
			return errs.New("stream", errs.CodeInvalid, errs.WithMessage("connection already running"))
		}
	}
	if m.cancel != nil {
		m.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.status = Status{State: StateConnecting}
	status := m.status
	m.mu.Unlock()

	m.notify(status)
	go m.run(loopCtx, url, onMessage, done)
	return nil
}

// Stop cancels any pending reconnect wait, closes the live connection and waits for the
// loop to exit. It is safe to call repeatedly.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	<-done

	m.mu.Lock()
	changed := m.status.State != StateTerminal && m.status.State != StateDisconnected
	if m.status.State != StateTerminal {
		m.status.State = StateDisconnected
		m.status.SessionID = ""
	}
	status := m.status
	m.mu.Unlock()
	if changed {
		m.notify(status)
	}
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers fn for status transitions and returns a function that removes it.
func (m *Manager) Subscribe(fn func(Status)) func() {
	if fn == nil {
		return func() {}
	}
	id := uuid.NewString()
	m.subsMu.Lock()
	m.listeners[id] = fn
	m.order = append(m.order, id)
	m.subsMu.Unlock()
	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if _, ok := m.listeners[id]; !ok {
			return
		}
		delete(m.listeners, id)
		for i, existing := range m.order {
			if existing == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}

func (m *Manager) run(ctx context.Context, url string, onMessage func([]byte), done chan struct{}) {
	defer close(done)
	delay := backoff.NewConstantBackOff(m.opts.ReconnectDelay)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.transition(func(s *Status) { s.State = StateConnecting })

		conn, err := m.opts.Dialer.Dial(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.metrics.recordConnect(ctx, telemetry.ResultError)
			if m.fail(ctx, fmt.Errorf("dial %s: %w", url, err)) {
				return
			}
		} else {
			m.metrics.recordConnect(ctx, telemetry.ResultSuccess)
			if !m.attach(conn) {
				_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
				return
			}
			err = m.serve(ctx, conn, onMessage)
			m.detach(conn)
			if ctx.Err() != nil {
				return
			}
			if m.fail(ctx, err) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay.NextBackOff()):
		}
	}
}

// attach records conn as the live connection. It reports false when Stop won the race.
func (m *Manager) attach(conn Conn) bool {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.status = Status{State: StateConnected, SessionID: uuid.NewString()}
	status := m.status
	m.mu.Unlock()

	m.logger.Info("stream connected", observability.F("session", status.SessionID))
	m.notify(status)
	return true
}

func (m *Manager) detach(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
}

// fail records a failed session and reports whether the retry budget is spent.
func (m *Manager) fail(ctx context.Context, cause error) bool {
	m.mu.Lock()
	m.status.State = StateDisconnected
	m.status.SessionID = ""
	m.status.Attempts++
	m.status.LastError = MessageConnectionError
	terminal := m.status.Attempts >= m.opts.MaxAttempts
	if terminal {
		m.status.State = StateTerminal
		m.status.LastError = MessageRetriesExhausted
	}
	status := m.status
	m.mu.Unlock()

	if terminal {
		m.metrics.recordTerminal(ctx)
		m.logger.Error("stream gave up", observability.F("error", errs.New("stream", errs.CodeExhausted,
			errs.WithMessage(MessageRetriesExhausted),
			errs.WithField("attempts", fmt.Sprint(status.Attempts)),
			errs.WithCause(cause))))
	} else {
		m.logger.Warn("stream disconnected",
			observability.F("attempt", status.Attempts),
			observability.F("retry_in", m.opts.ReconnectDelay.String()),
			observability.F("error", cause))
	}
	m.notify(status)
	return terminal
}

func (m *Manager) transition(apply func(*Status)) {
	m.mu.Lock()
	before := m.status
	apply(&m.status)
	status := m.status
	m.mu.Unlock()
	if status != before {
		m.notify(status)
	}
}

func (m *Manager) notify(status Status) {
	m.subsMu.Lock()
	fns := make([]func(Status), 0, len(m.order))
	for _, id := range m.order {
		fns = append(fns, m.listeners[id])
	}
	m.subsMu.Unlock()
	for _, fn := range fns {
		fn(status)
	}
}

// serve runs the read and ping loops for one session and returns the first error.
func (m *Manager) serve(ctx context.Context, conn Conn, onMessage func([]byte)) error {
	connCtx, connCancel := context.WithCancel(ctx)
	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		errCh <- m.readLoop(connCtx, conn, onMessage)
	}()

	go func() {
		defer wg.Done()
		errCh <- m.pingLoop(connCtx, conn)
	}()

	firstErr := <-errCh
	connCancel()
	_ = conn.Close(websocket.StatusNormalClosure, "")

	wg.Wait()
	close(errCh)

	aggregated := firstErr
	for e := range errCh {
		if aggregated == nil || errors.Is(aggregated, context.Canceled) {
			aggregated = e
		}
	}
	if aggregated == nil {
		aggregated = errSessionEnded
	}
	return aggregated
}

var (
	errSessionEnded = errors.New("session ended")
	errRemoteClosed = errors.New("remote closed the connection")
)

func (m *Manager) readLoop(ctx context.Context, conn Conn, onMessage func([]byte)) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			if errors.Is(err, net.ErrClosed) {
				return errRemoteClosed
			}
			if status := websocket.CloseStatus(err); status != -1 {
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
					return errRemoteClosed
				}
				return fmt.Errorf("read: remote closed with status %d", status)
			}
			return fmt.Errorf("read: %w", err)
		}

		if msgType != websocket.MessageText {
			m.metrics.recordSkipped(ctx)
			continue
		}
		m.metrics.recordFrame(ctx, len(data))
		onMessage(data)
	}
}

func (m *Manager) pingLoop(ctx context.Context, conn Conn) error {
	if m.opts.PingInterval < 0 {
		<-ctx.Done()
		return context.Canceled
	}
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, m.opts.PingTimeout)
			start := time.Now()
			err := conn.Ping(pingCtx)
			cancel()
			result := telemetry.ResultSuccess
			if err != nil {
				result = telemetry.ResultError
			}
			m.metrics.recordPing(ctx, time.Since(start), result)
			if err != nil {
				if ctx.Err() != nil {
					return context.Canceled
				}
				if errors.Is(err, net.ErrClosed) {
					return errRemoteClosed
				}
				if status := websocket.CloseStatus(err); status != -1 {
					return fmt.Errorf("ping: remote closed with status %d", status)
				}
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}
