package transport

import (
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// PahoV3 is the MQTT 3.1 / 3.1.1 engine built on paho.mqtt.golang.
//
// paho delivers its callbacks on its own goroutines; PahoV3 turns each of
// them into a queued event so the registered EventHandler only ever runs on
// the goroutine blocked in Connect.
//
// Thread Safety:
//   - All methods except Connect are safe for concurrent use.
//   - Connect must not be called again until the previous call returns.
type PahoV3 struct {
	settings   dialSettings
	configured bool
	handler    EventHandler
	client     pahomqtt.Client
	running    bool
	mu         sync.RWMutex

	// lostOnce guards the disconnect event of the current connection so a
	// lost connection and an explicit Disconnect report only once.
	lostOnce *sync.Once

	stopping atomic.Bool
	loop     *eventLoop

	logger   Logger
	loggerMu sync.RWMutex

	// newClient constructs the paho client. Replaced in tests.
	newClient func(opts *pahomqtt.ClientOptions) pahomqtt.Client
}

// NewPahoV3 creates an unconfigured MQTT 3.x engine.
func NewPahoV3() *PahoV3 {
	return &PahoV3{
		loop:      newEventLoop(),
		lostOnce:  new(sync.Once),
		newClient: pahomqtt.NewClient,
	}
}

// SetLogger sets a logger for engine diagnostics.
func (p *PahoV3) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

func (p *PahoV3) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

// Configure implements Transport.
func (p *PahoV3) Configure(clientID string, version ProtocolVersion, kind Kind) error {
	if version != V31 && version != V311 {
		return fmt.Errorf("%w: paho v3 engine cannot speak MQTT %s", ErrUnsupportedVersion, version)
	}
	if kind != KindTCP && kind != KindWebSockets {
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
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
func (p *PahoV3) SetCredentials(username, password string) {
	p.mu.Lock()
	p.settings.username = username
	p.settings.password = password
	p.mu.Unlock()
}

// EnableTLS implements Transport.
func (p *PahoV3) EnableTLS(cfg *tls.Config) {
	p.mu.Lock()
	p.settings.useTLS = true
	p.settings.tlsConfig = cfg
	p.mu.Unlock()
}

// RegisterHandler implements Transport.
func (p *PahoV3) RegisterHandler(h EventHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *PahoV3) getHandler() EventHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handler
}

// Connect implements Transport. It blocks until Disconnect is requested and
// the resulting disconnect event has been delivered.
func (p *PahoV3) Connect(host string, port int, keepAlive time.Duration, policy ContinuationPolicy) error {
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

	opts := buildClientOptions(p.settings)
	opts.SetOnConnectHandler(p.handleConnect)
	opts.SetConnectionLostHandler(p.handleConnectionLost)
	opts.SetDefaultPublishHandler(p.handleMessage)

	// Stale events go before stopping is read: a Disconnect racing this
	// call either sets stopping first or queues its stop after the reset.
	p.loop.reset()
	p.client = p.newClient(opts)
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
func (p *PahoV3) finish() {
	p.mu.Lock()
	p.running = false
	p.stopping.Store(false)
	p.mu.Unlock()
}

// attempt starts one asynchronous connect. Success is reported by paho's
// OnConnect callback; failure is reported here as a full connect/disconnect
// cycle.
func (p *PahoV3) attempt() {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	token := client.Connect()
	go func() {
		token.Wait()
		err := token.Error()
		if err == nil {
			return
		}

		code := ResultNetworkError
		if ct, ok := token.(*pahomqtt.ConnectToken); ok && ct.ReturnCode() != 0 {
			code = ResultCode(ct.ReturnCode())
		}

		if logger := p.getLogger(); logger != nil {
			logger.Warn("MQTT connect attempt failed", "code", code.String(), "error", err)
		}

		p.loop.push(connectEvent(code))
		p.loop.push(disconnectEvent(code))
	}()
}

// handleConnect is paho's OnConnect callback.
func (p *PahoV3) handleConnect(client pahomqtt.Client) {
	p.mu.Lock()
	if p.stopping.Load() || !p.running || p.client != client {
		// Disconnect was requested while the attempt was in flight, or the
		// run it belonged to is over.
		p.mu.Unlock()
		client.Disconnect(0)
		return
	}
	p.lostOnce = new(sync.Once)
	p.loop.push(connectEvent(ResultSuccess))
	p.mu.Unlock()
}

// handleConnectionLost is paho's ConnectionLost callback.
func (p *PahoV3) handleConnectionLost(_ pahomqtt.Client, err error) {
	if logger := p.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
	p.signalLost(ResultNetworkError)
}

// handleMessage is paho's default publish handler. Subscriptions are made
// without a per-topic callback so every message arrives here.
func (p *PahoV3) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	p.loop.push(messageEvent(msg.Topic(), msg.Payload()))
}

// signalLost queues the disconnect event for the current connection once.
func (p *PahoV3) signalLost(code ResultCode) {
	p.mu.RLock()
	once := p.lostOnce
	p.mu.RUnlock()

	once.Do(func() {
		p.loop.push(disconnectEvent(code))
	})
}

// Disconnect implements Transport. Calling it more than once per Connect is
// a no-op. Called before Connect, it makes the next Connect return at once.
func (p *PahoV3) Disconnect() error {
	if !p.stopping.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(defaultDisconnectQuiesce)
		p.signalLost(ResultSuccess)
	}

	p.loop.push(stopEvent())
	return nil
}

// Reconnect implements Transport. It only works while Connect is running.
func (p *PahoV3) Reconnect() error {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()

	if !running || p.stopping.Load() {
		return ErrStopped
	}

	p.attempt()
	return nil
}

// Subscribe implements Transport.
func (p *PahoV3) Subscribe(topic string, qos byte) error {
	if qos > maxQoS {
		return fmt.Errorf("%w: qos %d", ErrSubscribeFailed, qos)
	}

	client, err := p.openClient()
	if err != nil {
		return err
	}

	// nil callback: deliveries go to the default publish handler.
	token := client.Subscribe(topic, qos, nil)
	if !token.WaitTimeout(defaultAckTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, defaultAckTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe implements Transport.
func (p *PahoV3) Unsubscribe(topic string) error {
	client, err := p.openClient()
	if err != nil {
		return err
	}

	token := client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultAckTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrUnsubscribeFailed, ErrTimeout, defaultAckTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// openClient returns the paho client if its connection is open.
func (p *PahoV3) openClient() (pahomqtt.Client, error) {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	if client == nil || !client.IsConnectionOpen() {
		return nil, ErrNotConnected
	}
	return client, nil
}
