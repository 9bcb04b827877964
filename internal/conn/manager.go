package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-Arena/internal/auth"
	"github.com/park285/Cheese-Arena/internal/metrics"
)

var ErrNoURL = errors.New("websocket url is empty")

type Options struct {
	URL            string
	MaxReconnect   int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PingInterval   time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	ClientID       string
	Logger         *zap.Logger
}

func (o *Options) defaults() {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if strings.TrimSpace(o.ClientID) == "" {
		o.ClientID = uuid.NewString()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type handlerEntry[T any] struct {
	id int
	fn T
}

// Manager owns the one duplex connection to the game server.
type Manager struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	status Status
	token  string
	// gen changes on every Connect/Disconnect; goroutines of an older
	// generation never attach or report.
	gen    uint64
	life   context.Context
	cancel context.CancelFunc

	cbM       sync.RWMutex
	msgCbs    []handlerEntry[MessageHandler]
	statusCbs []handlerEntry[StatusHandler]
	nextCbID  int

	failures failureRing
	wg       sync.WaitGroup
}

func New(opts Options) *Manager {
	opts.defaults()
	return &Manager{
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "conn")),
		status: StatusDisconnected,
	}
}

func (m *Manager) ClientID() string { return m.opts.ClientID }

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetAuthToken stores the token for the next handshake. It never reconnects.
func (m *Manager) SetAuthToken(token string) {
	m.mu.Lock()
	m.token = strings.TrimSpace(token)
	m.mu.Unlock()
}

// Connect dials once. On failure the bounded reconnect policy takes over in
// the background and the dial error is returned.
func (m *Manager) Connect(ctx context.Context) error {
	if strings.TrimSpace(m.opts.URL) == "" {
		return ErrNoURL
	}
	m.mu.Lock()
	if m.status == StatusConnected || m.status == StatusConnecting {
		m.mu.Unlock()
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	gen := m.gen
	m.life, m.cancel = context.WithCancel(context.Background())
	life := m.life
	m.mu.Unlock()

	m.setStatus(gen, StatusConnecting)
	c, err := m.dial(ctx)
	if err != nil {
		m.logger.Warn("ws_connect_failed", zap.Error(err))
		m.scheduleReconnect(gen, life)
		return err
	}
	if !m.attach(gen, life, c) {
		return context.Canceled
	}
	return nil
}

// Disconnect closes the transport and stops any pending reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	c := m.conn
	m.conn = nil
	m.mu.Unlock()
	if c != nil {
		// close handshake can take seconds; callers include the event loop
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			_ = c.Close(websocket.StatusNormalClosure, "disconnect")
		}()
	}
	m.setStatus(gen, StatusDisconnected)
}

// Reconnect drops the current transport and dials again.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.Disconnect()
	return m.Connect(ctx)
}

// Close disconnects and waits for the reader and pinger to exit.
func (m *Manager) Close(ctx context.Context) error {
	m.Disconnect()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Send writes msg as JSON. A send while not connected is recorded and
// reported as false; it never panics.
func (m *Manager) Send(msg any) bool {
	kind := messageKind(msg)
	m.mu.Lock()
	c := m.conn
	life := m.life
	status := m.status
	m.mu.Unlock()
	if c == nil || status != StatusConnected {
		m.recordFailure(kind, "not connected: "+string(status))
		return false
	}
	ctx, cancel := context.WithTimeout(life, m.opts.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c, msg); err != nil {
		m.recordFailure(kind, err.Error())
		return false
	}
	return true
}

// RecentSendFailures returns up to the last 30 failed sends, oldest first.
func (m *Manager) RecentSendFailures() []SendFailure { return m.failures.snapshot() }

func (m *Manager) recordFailure(kind, reason string) {
	m.failures.add(SendFailure{At: time.Now(), Kind: kind, Reason: reason})
	metrics.SendFailures.Inc()
	m.logger.Warn("ws_send_dropped", zap.String("kind", kind), zap.String("reason", reason))
}

func (m *Manager) OnMessage(fn MessageHandler) int {
	m.cbM.Lock()
	defer m.cbM.Unlock()
	m.nextCbID++
	m.msgCbs = append(m.msgCbs, handlerEntry[MessageHandler]{id: m.nextCbID, fn: fn})
	return m.nextCbID
}

func (m *Manager) RemoveMessageHandler(id int) {
	m.cbM.Lock()
	defer m.cbM.Unlock()
	for i, cb := range m.msgCbs {
		if cb.id == id {
			m.msgCbs = append(m.msgCbs[:i], m.msgCbs[i+1:]...)
			break
		}
	}
}

func (m *Manager) OnStatusChange(fn StatusHandler) int {
	m.cbM.Lock()
	defer m.cbM.Unlock()
	m.nextCbID++
	m.statusCbs = append(m.statusCbs, handlerEntry[StatusHandler]{id: m.nextCbID, fn: fn})
	return m.nextCbID
}

func (m *Manager) RemoveStatusHandler(id int) {
	m.cbM.Lock()
	defer m.cbM.Unlock()
	for i, cb := range m.statusCbs {
		if cb.id == id {
			m.statusCbs = append(m.statusCbs[:i], m.statusCbs[i+1:]...)
			break
		}
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()
	c, _, err := websocket.Dial(dialCtx, m.opts.URL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      m.buildHeaders(),
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.opts.URL, err)
	}
	c.SetReadLimit(1 << 20)
	return c, nil
}

func (m *Manager) buildHeaders() http.Header {
	hdr := http.Header{}
	hdr.Set("X-Client-Id", m.opts.ClientID)
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	if token == "" {
		return hdr
	}
	if auth.Expired(token, time.Now()) {
		m.logger.Warn("ws_auth_token_expired")
		return hdr
	}
	hdr.Set("Authorization", "Bearer "+token)
	return hdr
}

func (m *Manager) attach(gen uint64, life context.Context, c *websocket.Conn) bool {
	m.mu.Lock()
	if gen != m.gen || life.Err() != nil {
		m.mu.Unlock()
		_ = c.Close(websocket.StatusNormalClosure, "superseded")
		return false
	}
	m.conn = c
	m.mu.Unlock()
	m.setStatus(gen, StatusConnected)
	m.logger.Info("ws_connected", zap.String("url", m.opts.URL))

	m.wg.Add(2)
	go m.listen(gen, life, c)
	go m.pingLoop(gen, life, c)
	return true
}

// drop detaches c if it is still the live connection of gen.
func (m *Manager) drop(gen uint64, c *websocket.Conn, reason string) bool {
	m.mu.Lock()
	if gen != m.gen || m.conn != c {
		m.mu.Unlock()
		return false
	}
	m.conn = nil
	m.mu.Unlock()
	_ = c.Close(websocket.StatusGoingAway, reason)
	m.logger.Warn("ws_connection_lost", zap.String("reason", reason))
	return true
}

func (m *Manager) listen(gen uint64, life context.Context, c *websocket.Conn) {
	defer m.wg.Done()
	for {
		_, data, err := c.Read(life)
		if err != nil {
			if life.Err() != nil {
				return
			}
			if m.drop(gen, c, "read failure") {
				m.scheduleReconnect(gen, life)
			}
			return
		}

		m.cbM.RLock()
		callbacks := make([]handlerEntry[MessageHandler], len(m.msgCbs))
		copy(callbacks, m.msgCbs)
		m.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.fn != nil {
				entry.fn(data)
			}
		}
	}
}

func (m *Manager) pingLoop(gen uint64, life context.Context, c *websocket.Conn) {
	defer m.wg.Done()
	t := time.NewTicker(m.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-life.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(life, 3*time.Second)
			err := c.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if m.drop(gen, c, "ping failure") {
					m.scheduleReconnect(gen, life)
				}
				return
			}
		}
	}
}

// scheduleReconnect retries in the background with capped exponential backoff.
func (m *Manager) scheduleReconnect(gen uint64, life context.Context) {
	if m.opts.MaxReconnect <= 0 {
		m.setStatus(gen, StatusDisconnected)
		return
	}
	m.setStatus(gen, StatusReconnecting)

	go func() {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = m.opts.InitialBackoff
		eb.Multiplier = 2
		eb.MaxInterval = m.opts.MaxBackoff
		eb.MaxElapsedTime = 0
		policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(m.opts.MaxReconnect-1)), life)

		attempt := 0
		op := func() error {
			attempt++
			if !m.current(gen) {
				return backoff.Permanent(context.Canceled)
			}
			c, err := m.dial(life)
			if err != nil {
				metrics.ReconnectAttempts.WithLabelValues("failed").Inc()
				return err
			}
			metrics.ReconnectAttempts.WithLabelValues("ok").Inc()
			if !m.attach(gen, life, c) {
				return backoff.Permanent(context.Canceled)
			}
			return nil
		}
		// 첫 시도 전에도 한 번 쉰다
		select {
		case <-life.Done():
			return
		case <-time.After(m.opts.InitialBackoff):
		}
		err := backoff.RetryNotify(op, policy, func(err error, d time.Duration) {
			m.logger.Debug("ws_reconnect_retry", zap.Int("attempt", attempt), zap.Duration("next", d), zap.Error(err))
		})
		if err != nil && m.current(gen) {
			m.logger.Warn("ws_reconnect_gave_up", zap.Int("attempts", attempt), zap.Error(err))
			m.setStatus(gen, StatusDisconnected)
		}
	}()
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) setStatus(gen uint64, s Status) {
	m.mu.Lock()
	if gen != m.gen || m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	m.mu.Unlock()
	metrics.SetConnectionStatus(string(s))
	m.logger.Debug("ws_status", zap.String("status", string(s)))

	m.cbM.RLock()
	callbacks := make([]handlerEntry[StatusHandler], len(m.statusCbs))
	copy(callbacks, m.statusCbs)
	m.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.fn != nil {
			entry.fn(s)
		}
	}
}

// messageKind pulls the Type field out of an outbound message for logging.
func messageKind(msg any) string {
	v := reflect.ValueOf(msg)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct {
		if f := v.FieldByName("Type"); f.IsValid() && f.Kind() == reflect.String {
			return f.String()
		}
	}
	return fmt.Sprintf("%T", msg)
}
