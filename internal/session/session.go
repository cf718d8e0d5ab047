package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-session/internal/dispatch"
	"github.com/nerrad567/gray-logic-session/internal/subscription"
	"github.com/nerrad567/gray-logic-session/internal/transport"
)

// ResultCode is the outcome passed to connect and disconnect callbacks.
type ResultCode = transport.ResultCode

// Logger defines the logging interface used by the Session.
// It is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer is notified of session events after the state has changed.
// Calls arrive on the transport's event goroutine and must not block.
type Observer interface {
	ConnectResult(clientID string, code ResultCode)
	DisconnectResult(clientID string, code ResultCode, reconnecting bool)
	MessageReceived(clientID, topic string, size int)
}

// Session is one logical MQTT broker session.
//
// It owns the connection state machine, the subscription registry and the
// dispatch router, and drives a transport.Transport. Every lifecycle and
// message callback runs on the goroutine blocked in Connect.
//
// Thread Safety:
//   - Subscribe, Unsubscribe, Disconnect and the query methods may be called
//     from any goroutine, including from inside callbacks.
//   - Connect blocks; a second concurrent Connect returns ErrAlreadyRunning.
type Session struct {
	cfg       Config
	transport transport.Transport
	registry  *subscription.Registry
	router    *dispatch.Router
	logger    Logger
	observers []Observer

	// Connection state, guarded by connMu.
	state         State
	autoReconnect bool
	running       bool
	stopSent      bool
	lastResult    ResultCode
	connectedAt   time.Time
	connMu        sync.RWMutex

	// Lifecycle callbacks, guarded by callbackMu.
	onConnect    func(code ResultCode)
	onDisconnect func(code ResultCode)
	onError      func(err error)
	callbackMu   sync.RWMutex

	connects       atomic.Uint64
	failedAttempts atomic.Uint64
	disconnects    atomic.Uint64
	reconnects     atomic.Uint64
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry uses an existing subscription registry, for example one
// restored from a Store.
func WithRegistry(reg *subscription.Registry) Option {
	return func(s *Session) {
		s.registry = reg
	}
}

// WithRouter uses an existing router. It must read from the same registry
// as the session.
func WithRouter(r *dispatch.Router) Option {
	return func(s *Session) {
		s.router = r
	}
}

// WithObserver registers an observer for lifecycle and message events.
// Observers are notified in registration order.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// New creates a session. The configuration is validated, completed with
// defaults and applied to the transport with Configure.
func New(cfg Config, t transport.Transport, opts ...Option) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}

	s := &Session{
		cfg:           cfg,
		transport:     t,
		logger:        noopLogger{},
		autoReconnect: cfg.AutoReconnect,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = subscription.NewRegistry()
	}
	if s.router == nil {
		s.router = dispatch.NewRouter(s.registry)
	}
	s.router.SetOnError(s.reportError)

	if err := t.Configure(cfg.ClientID, cfg.ProtocolVersion, cfg.Transport); err != nil {
		return nil, fmt.Errorf("configuring transport: %w", err)
	}

	return s, nil
}

// Connect opens the session and blocks until it ends.
//
// It applies credentials and TLS to the transport, registers the session as
// the transport's event handler and runs the transport loop on the calling
// goroutine. A refused or failed connection is not an error: it is reported
// through the OnConnect callback. Connect returns after Disconnect, or after
// a disconnect while auto-reconnect is off.
func (s *Session) Connect(opts ConnectOptions) error {
	s.connMu.Lock()
	if s.running {
		s.connMu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopSent = false
	s.autoReconnect = opts.AutoReconnect
	s.state = StateConnecting
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		s.running = false
		s.state = StateDisconnected
		s.connMu.Unlock()
	}()

	if opts.Credentials != nil {
		s.transport.SetCredentials(opts.Credentials.Username, opts.Credentials.Password)
	}
	if opts.UseTLS {
		s.transport.EnableTLS(opts.TLSConfig)
	}
	s.transport.RegisterHandler(s)

	policy := transport.PolicyFor(s.cfg.ProtocolVersion, s.cfg.SessionExpiry)

	s.logger.Info("connecting to MQTT broker",
		"client_id", s.cfg.ClientID,
		"broker", s.cfg.BrokerAddress(),
		"protocol", s.cfg.ProtocolVersion.String(),
		"transport", string(s.cfg.Transport),
		"tls", opts.UseTLS,
		"auto_reconnect", opts.AutoReconnect,
	)

	if err := s.transport.Connect(s.cfg.BrokerHost, s.cfg.BrokerPort, s.cfg.KeepAlive, policy); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	s.logger.Info("MQTT session ended", "client_id", s.cfg.ClientID)
	return nil
}

// Disconnect ends the session. Auto-reconnect is switched off first, so the
// resulting disconnect event does not trigger a reconnect. Safe to call from
// any goroutine and more than once.
func (s *Session) Disconnect() error {
	s.connMu.Lock()
	s.autoReconnect = false
	s.connMu.Unlock()

	return s.stopTransport()
}

// stopTransport asks the transport to end its loop, once per Connect.
func (s *Session) stopTransport() error {
	s.connMu.Lock()
	send := s.running && !s.stopSent
	if send {
		s.stopSent = true
	}
	s.connMu.Unlock()

	if !send {
		return nil
	}

	if err := s.transport.Disconnect(); err != nil {
		return fmt.Errorf("disconnecting: %w", err)
	}
	return nil
}

// Subscribe registers a subscription. A later call for the same topic
// replaces QoS and handler. While connected the broker is subscribed
// immediately; otherwise the entry is sent on the next connect.
func (s *Session) Subscribe(topic string, qos byte, handler subscription.TopicHandler) error {
	if err := s.registry.Subscribe(topic, qos, handler); err != nil {
		return err
	}

	if !s.IsConnected() {
		return nil
	}

	if err := s.transport.Subscribe(topic, qos); err != nil {
		s.logger.Warn("live subscribe failed", "topic", topic, "error", err)
		return fmt.Errorf("%w: subscribe %q: %w", ErrLiveSubscribe, topic, err)
	}
	return nil
}

// Unsubscribe removes a subscription and reports whether it existed. While
// connected the broker is unsubscribed immediately.
func (s *Session) Unsubscribe(topic string) (bool, error) {
	if !s.registry.Unsubscribe(topic) {
		return false, nil
	}

	if !s.IsConnected() {
		return true, nil
	}

	if err := s.transport.Unsubscribe(topic); err != nil {
		s.logger.Warn("live unsubscribe failed", "topic", topic, "error", err)
		return true, fmt.Errorf("%w: unsubscribe %q: %w", ErrLiveSubscribe, topic, err)
	}
	return true, nil
}

// SetOnConnect sets the connect callback. The last call wins.
func (s *Session) SetOnConnect(fn func(code ResultCode)) {
	s.callbackMu.Lock()
	s.onConnect = fn
	s.callbackMu.Unlock()
}

// SetOnDisconnect sets the disconnect callback. The last call wins.
func (s *Session) SetOnDisconnect(fn func(code ResultCode)) {
	s.callbackMu.Lock()
	s.onDisconnect = fn
	s.callbackMu.Unlock()
}

// SetOnMessage sets the global message handler, called for every message
// before the topic handler. The last call wins.
func (s *Session) SetOnMessage(fn dispatch.MessageHandler) {
	s.router.SetOnMessage(fn)
}

// SetOnError sets the sink for handler failures, dropped payloads and
// replay errors. The last call wins.
func (s *Session) SetOnError(fn func(err error)) {
	s.callbackMu.Lock()
	s.onError = fn
	s.callbackMu.Unlock()
}

// reportError passes err to the error sink.
func (s *Session) reportError(err error) {
	s.callbackMu.RLock()
	sink := s.onError
	s.callbackMu.RUnlock()

	if sink == nil {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("error callback panic recovered", "panic", p)
		}
	}()
	sink(err)
}

// State returns the connection state.
func (s *Session) State() State {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.state
}

// IsConnected reports whether the broker accepted the current connection.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// AutoReconnect reports whether a disconnect will trigger a reconnect.
func (s *Session) AutoReconnect() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.autoReconnect
}

// Running reports whether Connect is currently blocked in the transport loop.
func (s *Session) Running() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.running
}

// Config returns a copy of the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Registry returns the subscription registry.
func (s *Session) Registry() *subscription.Registry {
	return s.registry
}

// HealthCheck reports whether the session is connected.
func (s *Session) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("health check cancelled: %w", err)
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Status is a point-in-time view of the session for status endpoints.
type Status struct {
	ClientID        string         `json:"client_id"`
	Broker          string         `json:"broker"`
	ProtocolVersion string         `json:"protocol_version"`
	Transport       string         `json:"transport"`
	State           string         `json:"state"`
	Running         bool           `json:"running"`
	AutoReconnect   bool           `json:"auto_reconnect"`
	LastResult      uint8          `json:"last_result"`
	LastResultText  string         `json:"last_result_text"`
	ConnectedSince  *time.Time     `json:"connected_since,omitempty"`
	Subscriptions   int            `json:"subscriptions"`
	Connects        uint64         `json:"connects"`
	FailedAttempts  uint64         `json:"failed_attempts"`
	Disconnects     uint64         `json:"disconnects"`
	Reconnects      uint64         `json:"reconnects"`
	Messages        dispatch.Stats `json:"messages"`
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.connMu.RLock()
	st := Status{
		ClientID:        s.cfg.ClientID,
		Broker:          s.cfg.BrokerAddress(),
		ProtocolVersion: s.cfg.ProtocolVersion.String(),
		Transport:       string(s.cfg.Transport),
		State:           s.state.String(),
		Running:         s.running,
		AutoReconnect:   s.autoReconnect,
		LastResult:      uint8(s.lastResult),
		LastResultText:  s.lastResult.String(),
	}
	if s.state == StateConnected {
		since := s.connectedAt
		st.ConnectedSince = &since
	}
	s.connMu.RUnlock()

	st.Subscriptions = s.registry.Len()
	st.Connects = s.connects.Load()
	st.FailedAttempts = s.failedAttempts.Load()
	st.Disconnects = s.disconnects.Load()
	st.Reconnects = s.reconnects.Load()
	st.Messages = s.router.Stats()
	return st
}
