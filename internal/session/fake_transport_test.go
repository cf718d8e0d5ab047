package session

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-session/internal/transport"
)

// fakeTransport implements transport.Transport with the same event contract
// as the paho engines: Connect runs a loop on the calling goroutine, a
// failed attempt yields a connect and a disconnect event, and Disconnect
// ends the loop.
type fakeTransport struct {
	mu    sync.Mutex
	calls []string

	handler transport.EventHandler
	policy  transport.ContinuationPolicy
	tlsOn   bool

	// outcomes are consumed one per connect attempt; missing entries succeed.
	outcomes []transport.ResultCode

	subscribeErr error
	reconnectErr error

	connected bool
	stopping  bool
	events    chan func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan func(), 1024)}
}

func (f *fakeTransport) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

// callsWithPrefix returns recorded calls starting with prefix.
func (f *fakeTransport) callsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) Configure(clientID string, version transport.ProtocolVersion, kind transport.Kind) error {
	f.record("configure:%s:%s:%s", clientID, version, kind)
	return nil
}

func (f *fakeTransport) SetCredentials(username, _ string) {
	f.record("credentials:%s", username)
}

func (f *fakeTransport) EnableTLS(*tls.Config) {
	f.mu.Lock()
	f.tlsOn = true
	f.mu.Unlock()
	f.record("tls")
}

func (f *fakeTransport) RegisterHandler(h transport.EventHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeTransport) Connect(host string, port int, _ time.Duration, policy transport.ContinuationPolicy) error {
	f.record("connect:%s:%d", host, port)

	f.mu.Lock()
	f.policy = policy
	f.stopping = false
	f.mu.Unlock()

	f.attempt()

	for ev := range f.events {
		if ev == nil {
			return nil
		}
		ev()
	}
	return nil
}

// attempt queues the events of one connect attempt.
func (f *fakeTransport) attempt() {
	f.mu.Lock()
	code := transport.ResultSuccess
	if len(f.outcomes) > 0 {
		code = f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}
	f.connected = code.OK()
	h := f.handler
	f.mu.Unlock()

	f.events <- func() { h.OnConnectResult(code) }
	if !code.OK() {
		f.events <- func() { h.OnDisconnectResult(code) }
	}
}

func (f *fakeTransport) Disconnect() error {
	f.record("disconnect")

	f.mu.Lock()
	if f.stopping {
		f.mu.Unlock()
		return nil
	}
	f.stopping = true
	wasConnected := f.connected
	f.connected = false
	h := f.handler
	f.mu.Unlock()

	if wasConnected {
		f.events <- func() { h.OnDisconnectResult(transport.ResultSuccess) }
	}
	f.events <- nil
	return nil
}

func (f *fakeTransport) Reconnect() error {
	f.record("reconnect")
	if f.reconnectErr != nil {
		return f.reconnectErr
	}
	f.attempt()
	return nil
}

func (f *fakeTransport) Subscribe(topic string, qos byte) error {
	f.record("subscribe:%s:%d", topic, qos)
	return f.subscribeErr
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.record("unsubscribe:%s", topic)
	return nil
}

// drop simulates the broker closing the connection.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.connected = false
	h := f.handler
	f.mu.Unlock()
	f.events <- func() { h.OnDisconnectResult(transport.ResultNetworkError) }
}

// deliver simulates an inbound message.
func (f *fakeTransport) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	f.events <- func() { h.OnMessage(topic, payload) }
}
