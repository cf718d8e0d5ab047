package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// storeTimeout bounds a single write-through to the Store.
const storeTimeout = 5 * time.Second

// TopicHandler processes the payload of a message delivered on a topic.
// The payload has already been decoded as UTF-8.
type TopicHandler func(payload string) error

// Subscription is one desired subscription.
type Subscription struct {
	Topic   string
	QoS     byte
	Handler TopicHandler
}

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the keyed set of desired subscriptions.
//
// All public methods are thread-safe. The registry has its own lock and never
// calls out to the session or the transport.
type Registry struct {
	entries map[string]Subscription
	mu      sync.RWMutex

	store  Store
	logger Logger
}

// NewRegistry creates an empty registry with no persistence.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Subscription),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// SetStore enables write-through persistence of topic/QoS pairs.
func (r *Registry) SetStore(store Store) {
	r.mu.Lock()
	r.store = store
	r.mu.Unlock()
}

// Subscribe adds or replaces the entry for topic.
//
// The in-memory entry is authoritative. A store failure is logged and does
// not undo the upsert.
func (r *Registry) Subscribe(topic string, qos byte, handler TopicHandler) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if err := ValidateQoS(qos); err != nil {
		return err
	}

	r.mu.Lock()
	_, existed := r.entries[topic]
	r.entries[topic] = Subscription{Topic: topic, QoS: qos, Handler: handler}
	store := r.store
	logger := r.logger
	r.mu.Unlock()

	logger.Debug("subscription registered", "topic", topic, "qos", qos, "replaced", existed)

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := store.Save(ctx, topic, qos); err != nil {
			logger.Warn("persisting subscription failed", "topic", topic, "error", err)
		}
	}

	return nil
}

// Unsubscribe removes the entry for topic and reports whether it existed.
func (r *Registry) Unsubscribe(topic string) bool {
	r.mu.Lock()
	_, existed := r.entries[topic]
	delete(r.entries, topic)
	store := r.store
	logger := r.logger
	r.mu.Unlock()

	if !existed {
		return false
	}

	logger.Debug("subscription removed", "topic", topic)

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := store.Delete(ctx, topic); err != nil {
			logger.Warn("deleting persisted subscription failed", "topic", topic, "error", err)
		}
	}

	return true
}

// Lookup returns the entry whose filter is exactly topic.
func (r *Registry) Lookup(topic string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.entries[topic]
	return sub, ok
}

// Match returns the most specific wildcard entry whose filter matches the
// concrete topic. Ties are broken by filter order so the choice is stable.
func (r *Registry) Match(topic string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best      Subscription
		found     bool
		bestWild  int
		bestLevel int
	)

	for filter, sub := range r.entries {
		if !HasWildcard(filter) || !Match(filter, topic) {
			continue
		}

		wild, levels := specificity(filter)
		better := !found ||
			wild < bestWild ||
			(wild == bestWild && levels > bestLevel) ||
			(wild == bestWild && levels == bestLevel && filter < best.Topic)
		if better {
			best, found = sub, true
			bestWild, bestLevel = wild, levels
		}
	}

	return best, found
}

// Snapshot returns a copy of all entries sorted by topic.
func (r *Registry) Snapshot() []Subscription {
	r.mu.RLock()
	subs := make([]Subscription, 0, len(r.entries))
	for _, sub := range r.entries {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].Topic < subs[j].Topic
	})
	return subs
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Load restores persisted topic/QoS pairs from the store. Entries already
// registered in memory keep their QoS and handler. Returns the number of
// entries added.
func (r *Registry) Load(ctx context.Context) (int, error) {
	r.mu.RLock()
	store := r.store
	r.mu.RUnlock()

	if store == nil {
		return 0, ErrStoreNotConfigured
	}

	persisted, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading subscriptions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, sub := range persisted {
		if ValidateTopic(sub.Topic) != nil || ValidateQoS(sub.QoS) != nil {
			r.logger.Warn("skipping invalid persisted subscription", "topic", sub.Topic, "qos", sub.QoS)
			continue
		}
		if _, ok := r.entries[sub.Topic]; ok {
			continue
		}
		r.entries[sub.Topic] = Subscription{Topic: sub.Topic, QoS: sub.QoS}
		added++
	}

	r.logger.Info("subscriptions loaded", "persisted", len(persisted), "added", added)
	return added, nil
}
