package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store persists the topic/QoS part of the desired subscription set.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts or updates the QoS for topic.
	Save(ctx context.Context, topic string, qos byte) error

	// Delete removes topic. Deleting a missing topic is not an error.
	Delete(ctx context.Context, topic string) error

	// List returns every persisted entry ordered by topic. Handlers are nil.
	List(ctx context.Context) ([]Subscription, error)
}

// SQLiteStore implements Store on the subscriptions table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open SQLite connection.
// The subscriptions table is created by the embedded migrations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save upserts the topic row.
func (s *SQLiteStore) Save(ctx context.Context, topic string, qos byte) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (topic, qos, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET
			qos = excluded.qos,
			updated_at = excluded.updated_at`,
		topic, int(qos), now, now,
	)
	if err != nil {
		return fmt.Errorf("saving subscription %q: %w", topic, err)
	}
	return nil
}

// Delete removes the topic row.
func (s *SQLiteStore) Delete(ctx context.Context, topic string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM subscriptions WHERE topic = ?", topic); err != nil {
		return fmt.Errorf("deleting subscription %q: %w", topic, err)
	}
	return nil
}

// List returns all rows ordered by topic.
func (s *SQLiteStore) List(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT topic, qos FROM subscriptions ORDER BY topic")
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var (
			topic string
			qos   int
		)
		if err := rows.Scan(&topic, &qos); err != nil {
			return nil, fmt.Errorf("scanning subscription row: %w", err)
		}
		if qos < 0 || qos > MaxQoS {
			return nil, fmt.Errorf("%w: stored qos %d for %q", ErrInvalidQoS, qos, topic)
		}
		subs = append(subs, Subscription{Topic: topic, QoS: byte(qos)})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}
