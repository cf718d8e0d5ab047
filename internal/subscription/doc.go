// Package subscription holds the desired subscription set of an MQTT session.
//
// The Registry is keyed by topic filter. Subscribing to a filter that is
// already present overwrites its QoS and handler; there is never more than
// one entry per filter. The registry does no network I/O: the session reads
// a Snapshot after every successful connect and replays it to the broker.
//
// Entries survive reconnects. Topic/QoS pairs can additionally be persisted
// through a Store so the desired set survives a process restart; handlers are
// code and are never persisted.
//
// Usage:
//
//	reg := subscription.NewRegistry()
//	reg.SetStore(subscription.NewSQLiteStore(db.DB))
//	if err := reg.Load(ctx); err != nil {
//	    return err
//	}
//
//	err := reg.Subscribe("home/+/temperature", 1, func(payload string) error {
//	    return nil
//	})
package subscription
