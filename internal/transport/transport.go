package transport

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"
)

// Transport is the MQTT engine the session drives.
//
// Connect blocks until the session loop ends. Every other method may be
// called from any goroutine, including from inside an EventHandler callback.
type Transport interface {
	// Configure sets the client identity. It must be called before Connect.
	Configure(clientID string, version ProtocolVersion, kind Kind) error

	// SetCredentials sets the username and password sent on CONNECT.
	SetCredentials(username, password string)

	// EnableTLS switches the connection to TLS. A nil config uses
	// a TLS 1.2 minimum with system roots.
	EnableTLS(cfg *tls.Config)

	// RegisterHandler sets the receiver of lifecycle and message events.
	RegisterHandler(h EventHandler)

	// Connect starts the first connect attempt and then runs the event
	// loop on the calling goroutine until Disconnect is requested.
	Connect(host string, port int, keepAlive time.Duration, policy ContinuationPolicy) error

	// Disconnect closes the connection and ends the Connect loop.
	Disconnect() error

	// Reconnect starts a new connect attempt with the stored settings.
	// The outcome is reported through the EventHandler.
	Reconnect() error

	// Subscribe issues a SUBSCRIBE for one topic on the live connection.
	Subscribe(topic string, qos byte) error

	// Unsubscribe issues an UNSUBSCRIBE for one topic on the live connection.
	Unsubscribe(topic string) error
}

// EventHandler receives events from a Transport. Calls are serialized on the
// goroutine blocked in Transport.Connect.
type EventHandler interface {
	OnConnectResult(code ResultCode)
	OnDisconnectResult(code ResultCode)
	OnMessage(topic string, payload []byte)
}

// Logger is the logging interface used by the engines.
// It is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// =============================================================================
// Protocol version and transport kind
// =============================================================================

// ProtocolVersion is the MQTT protocol level spoken on the connection.
type ProtocolVersion int

// Supported protocol versions.
const (
	V31  ProtocolVersion = 3 // MQTT 3.1
	V311 ProtocolVersion = 4 // MQTT 3.1.1
	V5   ProtocolVersion = 5 // MQTT 5.0
)

// ParseProtocolVersion converts the configuration form ("3.1", "3.1.1", "5")
// into a ProtocolVersion.
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	switch strings.TrimSpace(s) {
	case "3.1":
		return V31, nil
	case "3.1.1", "":
		return V311, nil
	case "5", "5.0":
		return V5, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
	}
}

// String returns the configuration form of the version.
func (v ProtocolVersion) String() string {
	switch v {
	case V31:
		return "3.1"
	case V311:
		return "3.1.1"
	case V5:
		return "5"
	default:
		return fmt.Sprintf("unknown(%d)", int(v))
	}
}

// Valid reports whether v is a supported version.
func (v ProtocolVersion) Valid() bool {
	return v == V31 || v == V311 || v == V5
}

// Kind is the network transport carrying MQTT.
type Kind string

// Supported transport kinds.
const (
	KindTCP        Kind = "tcp"
	KindWebSockets Kind = "websockets"
)

// ParseKind converts the configuration form into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindTCP, "":
		return KindTCP, nil
	case KindWebSockets:
		return KindWebSockets, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
	}
}

// =============================================================================
// Session continuation policy
// =============================================================================

// CleanStartMode controls when the broker is asked to discard session state.
type CleanStartMode int

const (
	// CleanAlways requests a clean session on every connect (3.1 / 3.1.1).
	CleanAlways CleanStartMode = iota

	// CleanFirstOnly requests a clean start on the first connect of a
	// Connect call and resumes the session on every reconnect (MQTT 5).
	CleanFirstOnly
)

// DefaultSessionExpiry is the MQTT 5 session expiry interval used when none
// is configured.
const DefaultSessionExpiry = 1800 * time.Second

// ContinuationPolicy is sent with every CONNECT.
type ContinuationPolicy struct {
	CleanStart CleanStartMode

	// SessionExpiry is how long the broker keeps the session after the
	// connection closes. Only sent by MQTT 5 engines.
	SessionExpiry time.Duration
}

// PolicyFor returns the continuation policy for a protocol version.
// MQTT 5 gets a bounded session expiry window and clean start on the first
// connect only; older versions always start clean.
func PolicyFor(version ProtocolVersion, sessionExpiry time.Duration) ContinuationPolicy {
	if version != V5 {
		return ContinuationPolicy{CleanStart: CleanAlways}
	}
	if sessionExpiry <= 0 {
		sessionExpiry = DefaultSessionExpiry
	}
	return ContinuationPolicy{
		CleanStart:    CleanFirstOnly,
		SessionExpiry: sessionExpiry,
	}
}

// =============================================================================
// Result codes
// =============================================================================

// ResultCode is the outcome reported with connect and disconnect events.
// Values 1-5 are MQTT 3.x CONNACK refusals, values >= 0x80 are MQTT 5 reason
// codes passed through unchanged.
type ResultCode byte

// Result codes produced by the engines.
const (
	ResultSuccess               ResultCode = 0x00
	ResultBadProtocolVersion    ResultCode = 0x01
	ResultIdentifierRejected    ResultCode = 0x02
	ResultServerUnavailable     ResultCode = 0x03
	ResultBadUsernameOrPassword ResultCode = 0x04
	ResultNotAuthorized         ResultCode = 0x05
	ResultUnspecifiedError      ResultCode = 0x80
	ResultNetworkError          ResultCode = 0xFE
	ResultProtocolViolation     ResultCode = 0xFF
)

// OK reports whether the code indicates success.
func (c ResultCode) OK() bool {
	return c == ResultSuccess
}

// String returns a short description of the code.
func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "success"
	case ResultBadProtocolVersion:
		return "refused: unacceptable protocol version"
	case ResultIdentifierRejected:
		return "refused: identifier rejected"
	case ResultServerUnavailable:
		return "refused: server unavailable"
	case ResultBadUsernameOrPassword:
		return "refused: bad username or password"
	case ResultNotAuthorized:
		return "refused: not authorised"
	case ResultUnspecifiedError:
		return "unspecified error"
	case ResultNetworkError:
		return "network error"
	case ResultProtocolViolation:
		return "protocol violation"
	default:
		return fmt.Sprintf("reason code 0x%02X", byte(c))
	}
}

// NewForVersion returns the engine that speaks the given protocol version.
func NewForVersion(version ProtocolVersion) (Transport, error) {
	switch version {
	case V31, V311:
		return NewPahoV3(), nil
	case V5:
		return NewPahoV5(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, int(version))
	}
}
