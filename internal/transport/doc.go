// Package transport defines the contract between the session state machine
// and the MQTT engine that performs the actual socket I/O, and provides the
// two engines used in production.
//
// # Contract
//
// A Transport is configured once (client id, protocol version, transport
// kind), given credentials and optional TLS, and then driven through a
// blocking Connect call. While Connect blocks, the calling goroutine drains
// an internal event queue and invokes the registered EventHandler for every
// lifecycle and message event. All callbacks therefore run serialized on the
// goroutine that called Connect:
//
//	t := transport.NewPahoV3()
//	t.Configure("dev1", transport.V311, transport.KindTCP)
//	t.RegisterHandler(handler)
//	err := t.Connect("broker.local", 1883, 60*time.Second, policy) // blocks
//
// Connect returns after Disconnect has been called and its final disconnect
// event has been delivered.
//
// A connect attempt that fails is reported as an OnConnectResult carrying
// the failure code followed by an OnDisconnectResult with the same code, so
// the caller sees one complete connect/disconnect cycle per attempt.
//
// # Engines
//
//   - PahoV3: github.com/eclipse/paho.mqtt.golang for MQTT 3.1 and 3.1.1,
//     over tcp, ssl, ws and wss.
//   - PahoV5: github.com/eclipse/paho.golang for MQTT 5 over tcp and tls,
//     with a session expiry interval on CONNECT.
//
// Neither engine reconnects on its own. Reconnection is requested by the
// session through Reconnect.
package transport
