package session

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-session/internal/transport"
)

// Session defaults.
const (
	// DefaultKeepAlive is the MQTT keepalive interval.
	DefaultKeepAlive = 60 * time.Second

	// generatedIDPrefix starts every generated client identifier.
	generatedIDPrefix = "gs-"

	// maxLegacyClientIDLength is the longest client identifier MQTT 3.1
	// brokers must accept.
	maxLegacyClientIDLength = 23

	maxPort = 65535
)

// Config is the immutable description of one broker session.
// New copies it; there are no setters.
type Config struct {
	// ClientID identifies the session to the broker. Empty generates one.
	ClientID string

	BrokerHost string
	BrokerPort int

	// ProtocolVersion selects MQTT 3.1, 3.1.1 or 5. Zero means 3.1.1.
	ProtocolVersion transport.ProtocolVersion

	// Transport is the network carrier. Empty means tcp.
	Transport transport.Kind

	// UseTLS and AutoReconnect are the defaults for DefaultConnectOptions.
	UseTLS        bool
	AutoReconnect bool

	// KeepAlive is sent on CONNECT. Zero means DefaultKeepAlive.
	KeepAlive time.Duration

	// SessionExpiry is how long an MQTT 5 broker keeps the session after a
	// disconnect. Zero means transport.DefaultSessionExpiry.
	SessionExpiry time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.ClientID) == "" {
		errs = append(errs, "client id is required")
	}
	if strings.TrimSpace(c.BrokerHost) == "" {
		errs = append(errs, "broker host is required")
	}
	if c.BrokerPort < 1 || c.BrokerPort > maxPort {
		errs = append(errs, fmt.Sprintf("broker port %d out of range 1-%d", c.BrokerPort, maxPort))
	}
	if !c.ProtocolVersion.Valid() {
		errs = append(errs, fmt.Sprintf("unsupported protocol version %d", int(c.ProtocolVersion)))
	}
	if c.Transport != "" && c.Transport != transport.KindTCP && c.Transport != transport.KindWebSockets {
		errs = append(errs, fmt.Sprintf("unsupported transport %q", c.Transport))
	}
	if c.KeepAlive < 0 {
		errs = append(errs, "keepalive must not be negative")
	}
	if c.SessionExpiry < 0 {
		errs = append(errs, "session expiry must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// withDefaults fills the optional fields.
func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.ClientID) == "" {
		c.ClientID = GenerateClientID()
	}
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = transport.V311
	}
	if c.Transport == "" {
		c.Transport = transport.KindTCP
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.SessionExpiry == 0 {
		c.SessionExpiry = transport.DefaultSessionExpiry
	}
	return c
}

// BrokerAddress returns host:port for logs and status output.
func (c Config) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.BrokerHost, c.BrokerPort)
}

// GenerateClientID returns a random client identifier short enough for
// MQTT 3.1 brokers.
func GenerateClientID() string {
	id := generatedIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:maxLegacyClientIDLength]
}

// Credentials are sent on CONNECT.
type Credentials struct {
	Username string
	Password string
}

// ConnectOptions are the per-call connect parameters.
type ConnectOptions struct {
	// Credentials is optional; nil connects anonymously.
	Credentials *Credentials

	UseTLS bool

	// TLSConfig is used when UseTLS is set. Nil uses system roots with a
	// TLS 1.2 minimum.
	TLSConfig *tls.Config

	AutoReconnect bool
}

// DefaultConnectOptions derives connect options from the session config.
func DefaultConnectOptions(cfg Config) ConnectOptions {
	return ConnectOptions{
		UseTLS:        cfg.UseTLS,
		AutoReconnect: cfg.AutoReconnect,
	}
}
