package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// memStore is an in-memory Store that can be told to fail.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]byte
	failAll error
	saves   int
	deletes int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]byte)}
}

func (s *memStore) Save(_ context.Context, topic string, qos byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failAll != nil {
		return s.failAll
	}
	s.rows[topic] = qos
	return nil
}

func (s *memStore) Delete(_ context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.failAll != nil {
		return s.failAll
	}
	delete(s.rows, topic)
	return nil
}

func (s *memStore) List(context.Context) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return nil, s.failAll
	}
	subs := make([]Subscription, 0, len(s.rows))
	for topic, qos := range s.rows {
		subs = append(subs, Subscription{Topic: topic, QoS: qos})
	}
	return subs, nil
}

// =============================================================================
// Subscribe / Unsubscribe Tests
// =============================================================================

func TestSubscribeUpsert(t *testing.T) {
	r := NewRegistry()

	var calledFirst, calledSecond bool
	first := func(string) error { calledFirst = true; return nil }
	second := func(string) error { calledSecond = true; return nil }

	if err := r.Subscribe("home/temp", 0, first); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := r.Subscribe("home/temp", 2, second); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	sub, ok := r.Lookup("home/temp")
	if !ok {
		t.Fatal("Lookup() ok = false, want true")
	}
	if sub.QoS != 2 {
		t.Errorf("QoS = %d, want 2", sub.QoS)
	}
	if err := sub.Handler("x"); err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	if calledFirst || !calledSecond {
		t.Errorf("handler calls first=%v second=%v, want only second", calledFirst, calledSecond)
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	r := NewRegistry()
	if err := r.Subscribe("a/b", 1, nil); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	sub, _ := r.Lookup("a/b")
	if sub.Handler != nil {
		t.Error("Handler != nil, want nil")
	}
}

func TestSubscribeInvalid(t *testing.T) {
	r := NewRegistry()

	if err := r.Subscribe("", 0, nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := r.Subscribe("a/#/b", 0, nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(a/#/b) error = %v, want ErrInvalidTopic", err)
	}
	if err := r.Subscribe("a", 3, nil); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after invalid subscribes, want 0", r.Len())
	}
}

func TestUnsubscribe(t *testing.T) {
	r := NewRegistry()
	_ = r.Subscribe("a", 0, nil)

	if !r.Unsubscribe("a") {
		t.Error("Unsubscribe(a) = false, want true")
	}
	if r.Unsubscribe("a") {
		t.Error("second Unsubscribe(a) = true, want false")
	}
	if _, ok := r.Lookup("a"); ok {
		t.Error("Lookup(a) ok = true after Unsubscribe")
	}
}

// =============================================================================
// Snapshot / Match Tests
// =============================================================================

func TestSnapshotSortedCopy(t *testing.T) {
	r := NewRegistry()
	for _, topic := range []string{"c", "a", "b"} {
		_ = r.Subscribe(topic, 1, nil)
	}

	snap := r.Snapshot()
	want := []string{"a", "b", "c"}
	if len(snap) != len(want) {
		t.Fatalf("len(Snapshot()) = %d, want %d", len(snap), len(want))
	}
	for i, sub := range snap {
		if sub.Topic != want[i] {
			t.Errorf("Snapshot()[%d].Topic = %q, want %q", i, sub.Topic, want[i])
		}
	}

	// Mutating the snapshot must not touch the registry.
	snap[0].QoS = 2
	if sub, _ := r.Lookup("a"); sub.QoS != 1 {
		t.Errorf("registry QoS changed through snapshot: %d", sub.QoS)
	}
}

func TestRegistryMatch(t *testing.T) {
	r := NewRegistry()
	_ = r.Subscribe("home/#", 0, nil)
	_ = r.Subscribe("home/+/temp", 0, nil)
	_ = r.Subscribe("home/kitchen/temp", 0, nil)
	_ = r.Subscribe("+/+/temp", 0, nil)

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"home/hall/temp", "home/+/temp", true},
		{"home/hall/hum", "home/#", true},
		{"office/a/temp", "+/+/temp", true},
		{"office/a/hum", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			sub, ok := r.Match(tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("Match(%q) ok = %v, want %v", tt.topic, ok, tt.wantOK)
			}
			if sub.Topic != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.topic, sub.Topic, tt.want)
			}
		})
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			topic := "t/" + string(rune('a'+n))
			for j := 0; j < 100; j++ {
				_ = r.Subscribe(topic, byte(j%3), nil)
				_ = r.Snapshot()
				_, _ = r.Lookup(topic)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 8 {
		t.Errorf("Len() = %d, want 8", r.Len())
	}
}

// =============================================================================
// Persistence Tests
// =============================================================================

func TestRegistryWriteThrough(t *testing.T) {
	store := newMemStore()
	r := NewRegistry()
	r.SetStore(store)

	_ = r.Subscribe("a", 1, nil)
	_ = r.Subscribe("b", 2, nil)
	r.Unsubscribe("a")
	r.Unsubscribe("missing")

	if store.saves != 2 {
		t.Errorf("saves = %d, want 2", store.saves)
	}
	if store.deletes != 1 {
		t.Errorf("deletes = %d, want 1", store.deletes)
	}
	if qos, ok := store.rows["b"]; !ok || qos != 2 {
		t.Errorf("store[b] = %d, %v, want 2, true", qos, ok)
	}
}

func TestRegistryStoreFailureKeepsEntry(t *testing.T) {
	store := newMemStore()
	store.failAll = errors.New("disk full")

	r := NewRegistry()
	r.SetStore(store)

	if err := r.Subscribe("a", 1, nil); err != nil {
		t.Fatalf("Subscribe() error = %v, want nil", err)
	}
	if _, ok := r.Lookup("a"); !ok {
		t.Error("Lookup(a) ok = false after store failure")
	}
}

func TestRegistryLoad(t *testing.T) {
	store := newMemStore()
	store.rows["persisted"] = 1
	store.rows["both"] = 0
	store.rows["bad/#/x"] = 0

	r := NewRegistry()
	handler := func(string) error { return nil }
	_ = r.Subscribe("both", 2, handler)
	r.SetStore(store)

	added, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if added != 1 {
		t.Errorf("Load() added = %d, want 1", added)
	}

	if sub, ok := r.Lookup("persisted"); !ok || sub.QoS != 1 || sub.Handler != nil {
		t.Errorf("Lookup(persisted) = %+v, %v, want qos 1 without handler", sub, ok)
	}
	if sub, _ := r.Lookup("both"); sub.QoS != 2 || sub.Handler == nil {
		t.Errorf("Lookup(both) = %+v, want in-memory entry kept", sub)
	}
	if _, ok := r.Lookup("bad/#/x"); ok {
		t.Error("invalid persisted filter was loaded")
	}
}

func TestRegistryLoadErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Load(context.Background()); !errors.Is(err, ErrStoreNotConfigured) {
		t.Errorf("Load() without store error = %v, want ErrStoreNotConfigured", err)
	}

	store := newMemStore()
	store.failAll = errors.New("boom")
	r.SetStore(store)
	if _, err := r.Load(context.Background()); err == nil {
		t.Error("Load() error = nil, want store error")
	}
}
