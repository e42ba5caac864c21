package services

import (
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/geotrack/tracker/internal/models"
	"github.com/geotrack/tracker/internal/observability"
)

const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultRetryDelay        = 5 * time.Second
	defaultRetryJitter       = 0.5
	defaultMaxRetries        = 5
	writeTimeout             = 10 * time.Second
)

// ConnectionConfig configures the push-channel client
type ConnectionConfig struct {
	URL               string
	Token             string
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	RetryDelay        time.Duration
	RetryJitter       float64
	MaxRetries        int
}

func (c *ConnectionConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.RetryJitter == 0 {
		c.RetryJitter = defaultRetryJitter
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
}

// MessageHandler receives every decoded server message
type MessageHandler func(models.ServerMessage)

// ConnectionManager owns the single push-messaging connection for the
// session. It tracks which device ids are watched, reconnects with a
// bounded attempt budget, and dispatches decoded frames through one
// handler. Transport failures land in the connection state, they are
// never surfaced as errors to callers.
type ConnectionManager struct {
	cfg     ConnectionConfig
	log     *observability.Logger
	metrics *observability.PipelineMetrics

	mu      sync.Mutex
	conn    *websocket.Conn
	state   models.ConnectionState
	watched map[string]struct{}
	handler MessageHandler

	// gen invalidates goroutines and timers belonging to a previous
	// connection: a frame or timer from generation n is discarded once
	// the manager has moved to generation n+1.
	gen        int
	stopPing   chan struct{}
	retryTimer *time.Timer

	writeMu sync.Mutex
}

// NewConnectionManager creates a manager in the idle state
func NewConnectionManager(cfg ConnectionConfig, metrics *observability.PipelineMetrics) *ConnectionManager {
	cfg.applyDefaults()
	return &ConnectionManager{
		cfg:     cfg,
		log:     observability.WithField("component", "connection"),
		metrics: metrics,
		state:   models.ConnectionState{Phase: models.PhaseIdle},
		watched: make(map[string]struct{}),
	}
}

// SetHandler installs the message handler. Must be set before Connect.
func (m *ConnectionManager) SetHandler(fn MessageHandler) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
}

// State returns a copy of the current connection state
func (m *ConnectionManager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the push channel and watches the given device ids. It is
// idempotent: while an attempt is in flight or a connection is live, the
// call only merges the ids into the watch set. Dial failures are
// recorded in the connection state and retried automatically.
func (m *ConnectionManager) Connect(deviceIDs []string) {
	m.mu.Lock()
	for _, id := range deviceIDs {
		m.watched[id] = struct{}{}
	}
	// An armed retry timer is an attempt in flight: dialing here as
	// well would race the timer into a second transport handle
	if m.state.IsConnected() || m.state.IsConnecting() || m.retryTimer != nil {
		m.mu.Unlock()
		return
	}
	m.state.Phase = models.PhaseConnecting
	m.state.Error = ""
	m.state.LastAttempt = time.Now().UTC()
	gen := m.gen
	m.mu.Unlock()

	go m.dial(gen)
}

// Disconnect tears the channel down. Idempotent. The generation bump
// happens before the transport close, so a frame already in flight is
// discarded by dispatch rather than reaching the handler.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.bumpGenerationLocked()
	conn := m.conn
	m.conn = nil
	m.state = models.ConnectionState{Phase: models.PhaseIdle}
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Reconnect is the manual trigger out of the terminal failed state. It
// resets the attempt budget and re-runs connect with the current watch
// set.
func (m *ConnectionManager) Reconnect() {
	m.mu.Lock()
	m.bumpGenerationLocked()
	conn := m.conn
	m.conn = nil
	m.state = models.ConnectionState{
		Phase:       models.PhaseConnecting,
		LastAttempt: time.Now().UTC(),
	}
	gen := m.gen
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	go m.dial(gen)
}

// Watch adds a device to the watch set and, when connected, asks the
// server to start pushing its events
func (m *ConnectionManager) Watch(deviceID string) {
	m.mu.Lock()
	m.watched[deviceID] = struct{}{}
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		m.emit(conn, models.EventWatchDevice, models.WatchDevice{DeviceID: deviceID})
	}
}

// Unwatch removes a device from the watch set
func (m *ConnectionManager) Unwatch(deviceID string) {
	m.mu.Lock()
	delete(m.watched, deviceID)
	m.mu.Unlock()
}

// ReportLocation sends the local device's position upstream. Dropped
// silently when the channel is down; the periodic reporter will try
// again on its next tick.
func (m *ConnectionManager) ReportLocation(report models.LocationReport) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		m.log.Debug("location report dropped, channel down")
		return
	}
	m.emit(conn, models.EventUpdateLocation, report)
}

// bumpGenerationLocked invalidates the current connection's goroutines
// and cancels its timers. Caller holds m.mu.
func (m *ConnectionManager) bumpGenerationLocked() {
	m.gen++
	if m.stopPing != nil {
		close(m.stopPing)
		m.stopPing = nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *ConnectionManager) dial(gen int) {
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	header := http.Header{}
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	conn, _, err := dialer.Dial(m.cfg.URL, header)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		m.log.WithField("url", m.cfg.URL).Warnf("dial failed: %v", err)
		m.state.Phase = models.PhaseError
		m.state.Error = err.Error()
		m.scheduleRetryLocked()
		m.mu.Unlock()
		return
	}

	m.conn = conn
	m.state.Phase = models.PhaseConnected
	m.state.Error = ""
	m.state.RetryCount = 0
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	stop := make(chan struct{})
	m.stopPing = stop
	watched := make([]string, 0, len(m.watched))
	for id := range m.watched {
		watched = append(watched, id)
	}
	m.mu.Unlock()

	m.log.Infof("push channel connected, watching %d devices", len(watched))

	for _, id := range watched {
		m.emit(conn, models.EventWatchDevice, models.WatchDevice{DeviceID: id})
	}

	go m.heartbeat(conn, stop)
	go m.readLoop(conn, gen)
}

func (m *ConnectionManager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleTransportError(gen, err)
			return
		}

		msg, err := models.DecodeServerMessage(data)
		if err != nil {
			// One bad frame must not halt the stream
			m.log.Warnf("dropping undecodable frame: %v", err)
			if m.metrics != nil {
				m.metrics.EventDropped("undecodable")
			}
			continue
		}

		if _, ok := msg.(models.Pong); ok {
			m.log.Debug("pong received")
			continue
		}

		// Dispatch runs under the lock: Disconnect cannot return while
		// a frame is mid-handler, and once the generation is bumped no
		// further frame is delivered. Handlers must not call back into
		// the manager.
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		if m.handler != nil {
			m.handler(msg)
		}
		m.mu.Unlock()
	}
}

func (m *ConnectionManager) handleTransportError(gen int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return // deliberate disconnect, not a failure
	}

	m.log.Warnf("push channel lost: %v", err)
	if m.stopPing != nil {
		close(m.stopPing)
		m.stopPing = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.state.Phase = models.PhaseDisconnected
	} else {
		m.state.Phase = models.PhaseError
		m.state.Error = err.Error()
	}
	m.scheduleRetryLocked()
}

// scheduleRetryLocked arms the next automatic reconnect attempt, or
// parks the manager in the terminal failed state once the budget is
// spent. Caller holds m.mu.
func (m *ConnectionManager) scheduleRetryLocked() {
	if m.state.RetryCount >= m.cfg.MaxRetries {
		m.log.Errorf("reconnect budget exhausted after %d attempts", m.state.RetryCount)
		m.state.Phase = models.PhaseFailed
		return
	}

	delay := m.retryDelay()
	gen := m.gen
	m.retryTimer = time.AfterFunc(delay, func() {
		m.retryAttempt(gen)
	})
}

func (m *ConnectionManager) retryDelay() time.Duration {
	jitter := 1 + m.cfg.RetryJitter*(2*rand.Float64()-1)
	return time.Duration(float64(m.cfg.RetryDelay) * jitter)
}

func (m *ConnectionManager) retryAttempt(gen int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.state.RetryCount++
	m.state.Phase = models.PhaseConnecting
	m.state.LastAttempt = time.Now().UTC()
	attempt := m.state.RetryCount
	m.mu.Unlock()

	m.log.Infof("reconnect attempt %d/%d", attempt, m.cfg.MaxRetries)
	if m.metrics != nil {
		m.metrics.ReconnectAttempt()
	}
	m.dial(gen)
}

// heartbeat pings on a fixed interval while connected. A missing pong is
// not treated as failure: the transport's own keep-alive governs
// disconnect detection, this only feeds observability.
func (m *ConnectionManager) heartbeat(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.emit(conn, models.EventPing, nil)
		case <-stop:
			return
		}
	}
}

func (m *ConnectionManager) emit(conn *websocket.Conn, event string, payload interface{}) {
	data, err := models.EncodeClientMessage(event, payload)
	if err != nil {
		m.log.Errorf("encode %s: %v", event, err)
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.log.Warnf("write %s failed: %v", event, err)
	}
}
