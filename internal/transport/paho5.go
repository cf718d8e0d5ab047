package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
)

// maxSessionExpirySeconds is the largest expiry an MQTT 5 CONNECT can carry
// without meaning "never expires".
const maxSessionExpirySeconds = 0xFFFFFFFE

// dialFunc opens the network connection for one connect attempt.
type dialFunc func(ctx context.Context, s dialSettings) (net.Conn, error)

// PahoV5 is the MQTT 5 engine built on paho.golang.
//
// A paho.golang client lives for exactly one network connection, so every
// connect attempt dials a fresh connection and builds a fresh client. The
// first attempt of a Connect call asks for a clean start; reconnects resume
// the broker session kept alive by the session expiry interval.
//
// Thread Safety:
//   - All methods except Connect are safe for concurrent use.
//   - Connect must not be called again until the previous call returns.
type PahoV5 struct {
	settings   dialSettings
	configured bool
	handler    EventHandler
	client     *paho.Client
	running    bool

	// run counts Connect calls so an attempt outliving its run is dropped.
	run uint64

	// resumed is set after the first successful CONNACK of a Connect call.
	resumed bool
	mu      sync.RWMutex

	lostOnce *sync.Once

	stopping atomic.Bool
	loop     *eventLoop

	logger   Logger
	loggerMu sync.RWMutex

	dial dialFunc
}

// NewPahoV5 creates an unconfigured MQTT 5 engine.
func NewPahoV5() *PahoV5 {
	return &PahoV5{
		loop:     newEventLoop(),
		lostOnce: new(sync.Once),
		dial:     dialBroker,
	}
}

// SetLogger sets a logger for engine diagnostics.
func (p *PahoV5) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

func (p *PahoV5) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

// Configure implements Transport.
func (p *PahoV5) Configure(clientID string, version ProtocolVersion, kind Kind) error {
	if version != V5 {
		return fmt.Errorf("%w: paho v5 engine cannot speak MQTT %s", ErrUnsupportedVersion, version)
	}
	if kind != KindTCP {
		return fmt.Errorf("%w: MQTT 5 engine supports tcp only, got %q", ErrUnsupportedKind, kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.settings.clientID = clientID
	p.settings.version = version
	p.settings.kind = kind
	p.configured = true
	return nil
}

// SetCredentials implements Transport.
func (p *PahoV5) SetCredentials(username, password string) {
	p.mu.Lock()
	p.settings.username = username
	p.settings.password = password
	p.mu.Unlock()
}

// EnableTLS implements Transport.
func (p *PahoV5) EnableTLS(cfg *tls.Config) {
	p.mu.Lock()
	p.settings.useTLS = true
	p.settings.tlsConfig = cfg
	p.mu.Unlock()
}

// RegisterHandler implements Transport.
func (p *PahoV5) RegisterHandler(h EventHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *PahoV5) getHandler() EventHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handler
}

// Connect implements Transport. It blocks until Disconnect is requested and
// the resulting disconnect event has been delivered.
func (p *PahoV5) Connect(host string, port int, keepAlive time.Duration, policy ContinuationPolicy) error {
	p.mu.Lock()
	if !p.configured {
		p.mu.Unlock()
		return ErrNotConfigured
	}
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}

	p.settings.host = host
	p.settings.port = port
	p.settings.keepAlive = keepAlive
	p.settings.policy = policy
	p.resumed = false
	p.run++
	// Stale events go before stopping is read: a Disconnect racing this
	// call either sets stopping first or queues its stop after the reset.
	p.loop.reset()
	stopped := p.stopping.Load()
	p.running = true
	p.mu.Unlock()

	defer p.finish()

	// Disconnect was requested before the loop started.
	if stopped {
		return nil
	}

	p.attempt()
	p.loop.run(p.getHandler)

	return nil
}

// finish clears per-run state once the Connect loop has ended.
func (p *PahoV5) finish() {
	p.mu.Lock()
	p.running = false
	p.client = nil
	p.stopping.Store(false)
	p.mu.Unlock()
}

// attempt dials and connects in the background. Failure is reported as a
// full connect/disconnect cycle.
func (p *PahoV5) attempt() {
	p.mu.RLock()
	settings := p.settings
	resumed := p.resumed
	run := p.run
	p.mu.RUnlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
		defer cancel()

		conn, err := p.dial(ctx, settings)
		if err != nil {
			p.failAttempt(ResultNetworkError, err)
			return
		}

		lost := new(sync.Once)
		client := paho.NewClient(paho.ClientConfig{
			ClientID: settings.clientID,
			Conn:     conn,
			Router: paho.NewSingleHandlerRouter(func(pb *paho.Publish) {
				p.loop.push(messageEvent(pb.Topic, pb.Payload))
			}),
			OnServerDisconnect: func(d *paho.Disconnect) {
				p.connectionLost(lost, ResultCode(d.ReasonCode), nil)
			},
			OnClientError: func(err error) {
				p.connectionLost(lost, ResultNetworkError, err)
			},
		})

		connack, err := client.Connect(ctx, buildConnectPacket(settings, resumed))
		if err != nil {
			code := ResultNetworkError
			if connack != nil && connack.ReasonCode != 0 {
				code = ResultCode(connack.ReasonCode)
			}
			_ = conn.Close() //nolint:errcheck // Best effort cleanup on error path
			p.failAttempt(code, err)
			return
		}

		// Disconnect sets stopping before it takes mu, so either it is seen
		// here or Disconnect finds the published client.
		p.mu.Lock()
		if p.stopping.Load() || !p.running || p.run != run {
			p.mu.Unlock()
			_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0}) //nolint:errcheck // Session already ending
			return
		}
		p.client = client
		p.resumed = true
		p.lostOnce = lost
		p.loop.push(connectEvent(ResultCode(connack.ReasonCode)))
		p.mu.Unlock()
	}()
}

// failAttempt queues the connect/disconnect cycle for a failed attempt.
func (p *PahoV5) failAttempt(code ResultCode, err error) {
	if logger := p.getLogger(); logger != nil {
		logger.Warn("MQTT 5 connect attempt failed", "code", code.String(), "error", err)
	}
	p.loop.push(connectEvent(code))
	p.loop.push(disconnectEvent(code))
}

// connectionLost queues the disconnect event for one connection, once.
func (p *PahoV5) connectionLost(once *sync.Once, code ResultCode, err error) {
	once.Do(func() {
		if logger := p.getLogger(); logger != nil && err != nil {
			logger.Warn("MQTT 5 connection lost", "error", err)
		}
		p.loop.push(disconnectEvent(code))
	})
}

// Disconnect implements Transport. Calling it more than once per Connect is
// a no-op. Called before Connect, it makes the next Connect return at once.
func (p *PahoV5) Disconnect() error {
	if !p.stopping.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	client := p.client
	once := p.lostOnce
	p.client = nil
	p.mu.Unlock()

	var err error
	if client != nil {
		err = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		p.connectionLost(once, ResultSuccess, nil)
	}

	p.loop.push(stopEvent())
	if err != nil {
		return fmt.Errorf("sending DISCONNECT: %w", err)
	}
	return nil
}

// Reconnect implements Transport. It only works while Connect is running.
func (p *PahoV5) Reconnect() error {
	p.mu.Lock()
	running := p.running
	if running {
		p.client = nil
	}
	p.mu.Unlock()

	if !running || p.stopping.Load() {
		return ErrStopped
	}

	p.attempt()
	return nil
}

// Subscribe implements Transport.
func (p *PahoV5) Subscribe(topic string, qos byte) error {
	if qos > maxQoS {
		return fmt.Errorf("%w: qos %d", ErrSubscribeFailed, qos)
	}

	client, err := p.liveClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultAckTimeout)
	defer cancel()

	_, err = client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: qos},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe implements Transport.
func (p *PahoV5) Unsubscribe(topic string) error {
	client, err := p.liveClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultAckTimeout)
	defer cancel()

	if _, err := client.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}}); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// liveClient returns the client of the current connection.
func (p *PahoV5) liveClient() (*paho.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.client == nil {
		return nil, ErrNotConnected
	}
	return p.client, nil
}

// buildConnectPacket creates the MQTT 5 CONNECT for one attempt.
// resumed reports whether an earlier attempt of the same Connect call
// succeeded, which turns off clean start under CleanFirstOnly.
func buildConnectPacket(s dialSettings, resumed bool) *paho.Connect {
	expiry := sessionExpirySeconds(s.policy.SessionExpiry)

	cp := &paho.Connect{
		ClientID:   s.clientID,
		KeepAlive:  keepAliveSeconds(s.keepAlive),
		CleanStart: s.policy.CleanStart == CleanAlways || !resumed,
		Properties: &paho.ConnectProperties{
			SessionExpiryInterval: &expiry,
		},
	}

	if s.username != "" {
		cp.Username = s.username
		cp.UsernameFlag = true
	}
	if s.password != "" {
		cp.Password = []byte(s.password)
		cp.PasswordFlag = true
	}

	return cp
}

// sessionExpirySeconds converts an expiry to the CONNECT property value.
func sessionExpirySeconds(d time.Duration) uint32 {
	secs := int64(d / time.Second)
	switch {
	case secs <= 0:
		return 0
	case secs > maxSessionExpirySeconds:
		return maxSessionExpirySeconds
	default:
		return uint32(secs) // #nosec G115 -- bounded above
	}
}

// keepAliveSeconds converts a keepalive interval to the CONNECT field value.
func keepAliveSeconds(d time.Duration) uint16 {
	secs := int64(d / time.Second)
	switch {
	case secs <= 0:
		return 0
	case secs > 0xFFFF:
		return 0xFFFF
	default:
		return uint16(secs) // #nosec G115 -- bounded above
	}
}

// dialBroker opens a TCP or TLS connection to the broker.
func dialBroker(ctx context.Context, s dialSettings) (net.Conn, error) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	netDialer := &net.Dialer{Timeout: defaultConnectTimeout}

	if tlsConfig := s.effectiveTLS(); tlsConfig != nil {
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: tlsConfig}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dialing %s with TLS: %w", addr, err)
		}
		return conn, nil
	}

	conn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return conn, nil
}
