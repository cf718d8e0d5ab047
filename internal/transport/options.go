package transport

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a CONNACK.
	defaultConnectTimeout = 10 * time.Second

	// defaultAckTimeout is the maximum time to wait for SUBACK/UNSUBACK.
	defaultAckTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultWebSocketPath is the broker path used for ws:// and wss://.
	defaultWebSocketPath = "/mqtt"

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// dialSettings is everything an engine needs to open a connection.
// It is captured at Connect and reused by every Reconnect.
type dialSettings struct {
	clientID  string
	version   ProtocolVersion
	kind      Kind
	host      string
	port      int
	keepAlive time.Duration
	policy    ContinuationPolicy
	username  string
	password  string
	useTLS    bool
	tlsConfig *tls.Config
}

// brokerURL builds the paho broker URL for the settings.
//
//	tcp + plain  -> tcp://host:port
//	tcp + TLS    -> ssl://host:port
//	ws  + plain  -> ws://host:port/mqtt
//	ws  + TLS    -> wss://host:port/mqtt
func (s dialSettings) brokerURL() string {
	if s.kind == KindWebSockets {
		scheme := "ws"
		if s.useTLS {
			scheme = "wss"
		}
		return fmt.Sprintf("%s://%s:%d%s", scheme, s.host, s.port, defaultWebSocketPath)
	}

	scheme := "tcp"
	if s.useTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.host, s.port)
}

// effectiveTLS returns the TLS config to use, or nil when TLS is off.
func (s dialSettings) effectiveTLS() *tls.Config {
	if !s.useTLS {
		return nil
	}
	if s.tlsConfig != nil {
		return s.tlsConfig
	}
	return &tls.Config{
		MinVersion: tlsMinVersion,
	}
}

// buildClientOptions creates paho MQTT 3.x options from the dial settings.
//
// This configures:
//   - Broker URL (tcp, ssl, ws or wss)
//   - Client ID and protocol level (3 for MQTT 3.1, 4 for MQTT 3.1.1)
//   - Authentication credentials (if provided)
//   - Clean session on every connect
//   - paho's own reconnect disabled; the session decides when to reconnect
//   - TLS configuration (if enabled)
//
// Callbacks are attached by the caller.
func buildClientOptions(s dialSettings) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(s.brokerURL())
	opts.SetClientID(s.clientID)
	opts.SetProtocolVersion(uint(s.version))

	if s.username != "" {
		opts.SetUsername(s.username)
		opts.SetPassword(s.password)
	}

	// Pre-5 protocols have no session expiry; always start clean.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(s.keepAlive)

	// Messages must reach the event loop in arrival order.
	opts.SetOrderMatters(true)

	if tlsConfig := s.effectiveTLS(); tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}
