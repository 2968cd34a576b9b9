// Package channel owns the persistent websocket to the backend: handshake,
// inbound event stream, outbound sends and the observable channel state.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/credential"
	"github.com/matheus3301/gigline/internal/status"
	"go.uber.org/zap"
)

const (
	eventBuffer  = 64
	readLimit    = 1 << 20
	writeTimeout = 5 * time.Second
)

// Config holds channel settings.
type Config struct {
	URL               string
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	HTTPClient        *http.Client
}

// Manager runs at most one websocket at a time. It never reconnects on its
// own; reopening is always an explicit Open.
type Manager struct {
	cfg     Config
	machine *status.Machine
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	gen     uint64
	lastErr error
}

// NewManager creates a Manager in the disconnected state.
func NewManager(cfg Config, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		machine: status.NewMachine(b),
		logger:  logger,
		now:     time.Now,
	}
}

// State returns the current channel state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// LastError returns the error that last moved the channel to
// CLOSED_WITH_ERROR, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Open dials the channel with cred and waits for the server's greeting. The
// returned stream carries every inbound event until the connection ends and
// is then closed; the caller must drain it. The stream outlives ctx, which
// only bounds the handshake.
func (m *Manager) Open(ctx context.Context, cred credential.Credential) (<-chan Event, error) {
	m.mu.Lock()
	if err := m.machine.Transition(status.Connecting); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	m.gen++
	gen := m.gen
	m.lastErr = nil
	m.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(hctx, m.cfg.URL, &websocket.DialOptions{
		HTTPClient: m.cfg.HTTPClient,
		HTTPHeader: http.Header{"Authorization": {"Bearer " + cred.AccessToken}},
	})
	if err != nil {
		err = classifyDial(resp, err)
		m.fail(gen, status.Connecting, err)
		m.logger.Warn("channel handshake failed", zap.Error(err))
		return nil, err
	}
	conn.SetReadLimit(readLimit)

	// The server greets with "authenticated" or closes with 1008. Any other
	// first frame fails the handshake.
	first, err := m.readEvent(hctx, conn)
	if err != nil {
		conn.CloseNow()
		err = classifyRead("handshake", err)
		m.fail(gen, status.Connecting, err)
		m.logger.Warn("channel handshake failed", zap.Error(err))
		return nil, err
	}
	if _, ok := first.(AuthenticatedEvent); !ok {
		conn.CloseNow()
		err = &TransientError{Op: "handshake", Err: fmt.Errorf("first frame is %T, want authenticated", first)}
		m.fail(gen, status.Connecting, err)
		m.logger.Warn("channel handshake failed", zap.Error(err))
		return nil, err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		runCancel()
		conn.CloseNow()
		return nil, ErrClosed
	}
	m.conn, m.cancel = conn, runCancel
	m.machine.TransitionFrom(status.Connecting, status.Connected)
	m.mu.Unlock()

	m.logger.Info("channel connected", zap.String("url", m.cfg.URL))

	events := make(chan Event, eventBuffer)
	events <- first
	go m.readLoop(runCtx, gen, conn, events)
	if m.cfg.HeartbeatInterval > 0 {
		go m.heartbeat(runCtx, conn)
	}
	return events, nil
}

// Send writes one outbound frame. It fails with ErrNotConnected unless the
// channel is connected.
func (m *Manager) Send(ctx context.Context, o Outbound) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil || m.machine.Current() != status.Connected {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, o.frame()); err != nil {
		return &TransientError{Op: "send", Err: err}
	}
	return nil
}

// Close ends the channel from any state. It is idempotent. The stream of the
// closed connection ends without a ClosedEvent.
func (m *Manager) Close() {
	m.mu.Lock()
	m.gen++
	conn, cancel := m.conn, m.cancel
	m.conn, m.cancel = nil, nil
	m.lastErr = nil
	changed := m.machine.Reset()
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	if cancel != nil {
		cancel()
	}
	if changed {
		m.logger.Info("channel closed")
	}
}

func (m *Manager) readEvent(ctx context.Context, conn *websocket.Conn) (Event, error) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		evt, err := decode(data, m.now())
		if err != nil {
			m.logger.Warn("dropping inbound frame", zap.Error(err))
			continue
		}
		if evt != nil {
			return evt, nil
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn, events chan<- Event) {
	defer close(events)
	for {
		evt, err := m.readEvent(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			err = classifyRead("read", err)
			stop, ok := m.fail(gen, status.Connected, err)
			if !ok {
				return
			}
			m.logger.Warn("channel dropped", zap.Error(err))
			events <- ClosedEvent{Err: err}
			stop()
			return
		}
		select {
		case events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(m.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ping{}.frame())
			cancel()
			if err != nil && ctx.Err() == nil {
				// The read loop observes the broken connection.
				m.logger.Debug("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// fail moves generation gen from `from` to CLOSED_WITH_ERROR and returns the
// function that stops the connection's goroutines. ok is false when Close or
// a newer Open already superseded gen.
func (m *Manager) fail(gen uint64, from status.State, err error) (stop func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || !m.machine.TransitionFrom(from, status.ClosedWithError) {
		return nil, false
	}
	m.lastErr = err
	conn, cancel := m.conn, m.cancel
	m.conn, m.cancel = nil, nil
	return func() {
		if conn != nil {
			conn.CloseNow()
		}
		if cancel != nil {
			cancel()
		}
	}, true
}

func classifyDial(resp *http.Response, err error) error {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: handshake status %d", ErrChannelRejected, resp.StatusCode)
	}
	return &TransientError{Op: "dial", Err: err}
}

func classifyRead(op string, err error) error {
	if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
		return fmt.Errorf("%w: %v", ErrChannelRejected, err)
	}
	return &TransientError{Op: op, Err: err}
}

// IsRejected reports whether err is an authorization rejection of the channel.
func IsRejected(err error) bool {
	return errors.Is(err, ErrChannelRejected)
}
