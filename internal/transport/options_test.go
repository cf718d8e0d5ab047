package transport

import (
	"crypto/tls"
	"testing"
	"time"
)

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		name string
		s    dialSettings
		want string
	}{
		{
			name: "tcp plain",
			s:    dialSettings{kind: KindTCP, host: "localhost", port: 1883},
			want: "tcp://localhost:1883",
		},
		{
			name: "tcp tls",
			s:    dialSettings{kind: KindTCP, host: "broker", port: 8883, useTLS: true},
			want: "ssl://broker:8883",
		},
		{
			name: "websockets plain",
			s:    dialSettings{kind: KindWebSockets, host: "broker", port: 8080},
			want: "ws://broker:8080/mqtt",
		},
		{
			name: "websockets tls",
			s:    dialSettings{kind: KindWebSockets, host: "broker", port: 443, useTLS: true},
			want: "wss://broker:443/mqtt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.brokerURL(); got != tt.want {
				t.Errorf("brokerURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEffectiveTLS(t *testing.T) {
	if got := (dialSettings{}).effectiveTLS(); got != nil {
		t.Errorf("effectiveTLS() without TLS = %v, want nil", got)
	}

	def := (dialSettings{useTLS: true}).effectiveTLS()
	if def == nil || def.MinVersion != tls.VersionTLS12 {
		t.Errorf("effectiveTLS() default = %+v, want MinVersion TLS 1.2", def)
	}

	custom := &tls.Config{ServerName: "broker.local", MinVersion: tls.VersionTLS13}
	if got := (dialSettings{useTLS: true, tlsConfig: custom}).effectiveTLS(); got != custom {
		t.Error("effectiveTLS() did not return the supplied config")
	}
}

func TestBuildClientOptions(t *testing.T) {
	s := dialSettings{
		clientID:  "dev1",
		version:   V311,
		kind:      KindTCP,
		host:      "localhost",
		port:      1883,
		keepAlive: 60 * time.Second,
		username:  "user",
		password:  "secret",
	}

	opts := buildClientOptions(s)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://localhost:1883" {
		t.Errorf("Servers = %v, want [tcp://localhost:1883]", opts.Servers)
	}
	if opts.ClientID != "dev1" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "dev1")
	}
	if opts.ProtocolVersion != 4 {
		t.Errorf("ProtocolVersion = %d, want 4", opts.ProtocolVersion)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if opts.AutoReconnect {
		t.Error("AutoReconnect = true, want false")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want false")
	}
	if opts.KeepAlive != 60 {
		t.Errorf("KeepAlive = %d, want 60", opts.KeepAlive)
	}
	if opts.Username != "user" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want user/secret", opts.Username, opts.Password)
	}
	if !opts.Order {
		t.Error("Order = false, want true")
	}
}

func TestBuildClientOptionsV31NoAuth(t *testing.T) {
	opts := buildClientOptions(dialSettings{
		clientID: "old",
		version:  V31,
		kind:     KindTCP,
		host:     "h",
		port:     1,
	})

	if opts.ProtocolVersion != 3 {
		t.Errorf("ProtocolVersion = %d, want 3", opts.ProtocolVersion)
	}
	if opts.Username != "" {
		t.Errorf("Username = %q, want empty", opts.Username)
	}
	if opts.Servers[0].Scheme != "tcp" {
		t.Errorf("scheme = %q, want tcp", opts.Servers[0].Scheme)
	}
}
