// Package session manages one logical MQTT broker session.
//
// A Session combines three parts:
//   - a connection state machine (Disconnected, Connecting, Connected)
//   - a subscription registry whose entries survive reconnects
//   - a dispatch router delivering inbound messages to handlers
//
// The wire protocol is delegated to a transport.Transport. Session.Connect
// hands the calling goroutine to the transport's event loop and only returns
// when the session ends; every callback runs on that goroutine.
//
// Lifecycle:
//
//	connect ok       -> Connected, replay registry, OnConnect(0)
//	connect refused  -> Disconnected, OnConnect(code), then a disconnect event
//	disconnect       -> Disconnected, OnDisconnect(code), then
//	                    Connecting + transport Reconnect if auto-reconnect is on,
//	                    otherwise the transport loop ends and Connect returns
//
// Disconnect switches auto-reconnect off before asking the transport to
// close, so an explicit disconnect never reconnects. Reconnects are not
// delayed or rate-limited.
//
// Usage:
//
//	t, _ := transport.NewForVersion(transport.V311)
//	s, err := session.New(session.Config{
//	    ClientID:   "dev1",
//	    BrokerHost: "localhost",
//	    BrokerPort: 1883,
//	}, t, session.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//
//	_ = s.Subscribe("home/kitchen/temperature", 1, func(payload string) error {
//	    return nil
//	})
//
//	go func() {
//	    <-ctx.Done()
//	    s.Disconnect()
//	}()
//	return s.Connect(session.ConnectOptions{AutoReconnect: true})
package session
