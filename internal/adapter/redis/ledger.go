// Package redis provides a Redis-backed firing ledger, so that several
// billcycle instances sharing one event stream fire each workflow once per event.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/neomorfeo/billcycle/internal/domain"
)

const (
	defaultPrefix = "billcycle:fired:"
	// defaultTTL outlives any realistic redelivery of the same event.
	defaultTTL = 30 * 24 * time.Hour
)

// Compile-time check: Ledger implements domain.FiringLedger.
var _ domain.FiringLedger = (*Ledger)(nil)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Ledger records (workflow, event) firings with SETNX.
type Ledger struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewWithClient wraps an existing client. Empty prefix and zero ttl use defaults.
func NewWithClient(client *goredis.Client, prefix string, ttl time.Duration) *Ledger {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Ledger{client: client, prefix: prefix, ttl: ttl}
}

// MarkFired returns true only for the first call with a given pair.
func (l *Ledger) MarkFired(ctx context.Context, workflowID, eventID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(workflowID, eventID), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("marking workflow %s fired for %s: %w", workflowID, eventID, err)
	}
	return ok, nil
}

// Close closes the Redis client.
func (l *Ledger) Close() error {
	return l.client.Close()
}

func (l *Ledger) key(workflowID, eventID string) string {
	return l.prefix + workflowID + ":" + eventID
}
