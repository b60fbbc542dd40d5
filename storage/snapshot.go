package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RiskSnapshot is the transient per-account risk view published for the
// platform's dashboards. Not a durability mechanism; entries expire.
type RiskSnapshot struct {
	AccountID     string  `json:"account_id"`
	Equity        string  `json:"equity"`
	UnrealizedPnL string  `json:"unrealized_pnl"`
	DailyPnL      string  `json:"daily_pnl"`
	DailyLossPct  float64 `json:"daily_loss_pct"`
	DrawdownPct   float64 `json:"drawdown_pct"`
	UpdatedAt     int64   `json:"updated_at"`
}

// SnapshotPublisher writes risk snapshots to Redis. A nil publisher (no
// REDIS_URL configured) is valid and publishes nothing.
type SnapshotPublisher struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotPublisher connects to Redis, or returns nil when url is empty.
func NewSnapshotPublisher(url string) (*SnapshotPublisher, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Info().Msg("Risk snapshot publisher connected (Redis)")
	return &SnapshotPublisher{client: client, ttl: 30 * time.Second}, nil
}

// Publish writes one snapshot with a TTL. Failures are logged and swallowed;
// snapshots are advisory.
func (p *SnapshotPublisher) Publish(snap RiskSnapshot) {
	if p == nil {
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.client.Set(ctx, "risk:"+snap.AccountID, payload, p.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("account", snap.AccountID).Msg("Risk snapshot publish failed")
	}
}

// Close releases the Redis connection.
func (p *SnapshotPublisher) Close() {
	if p != nil && p.client != nil {
		p.client.Close()
	}
}
