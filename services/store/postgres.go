package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sjsage522/flatwatcher/internal/filter"
	"sjsage522/flatwatcher/logger"
	apperrors "sjsage522/flatwatcher/pkg/errors"
)

// PostgresStore keeps subscribers in the users table.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresStore connects to dsn and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperrors.NewConfiguration("invalid DATABASE_URL", err)
	}
	cfg.MinConns = 1
	cfg.MaxConns = 10

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apperrors.NewStore("postgres", "failed to create pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.NewStore("postgres", "failed to connect", err)
	}

	return &PostgresStore{pool: pool, log: logger.ForStore()}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the users table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	sql := `
	CREATE TABLE IF NOT EXISTS users (
		user_id BIGINT PRIMARY KEY,
		filters TEXT,
		subscribed_until BIGINT,
		last_ad_id TEXT,
		plan TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_users_subscribed_until ON users(subscribed_until);
	`

	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return apperrors.NewStore("postgres", "failed to ensure schema", err)
	}
	return nil
}

// ListActiveSubscribers implements SubscriberStore. Rows whose filter
// document cannot be decoded are logged and left out.
func (s *PostgresStore) ListActiveSubscribers(ctx context.Context, now time.Time) ([]Subscriber, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, COALESCE(filters, ''), subscribed_until, COALESCE(plan, '')
		 FROM users WHERE subscribed_until > $1 ORDER BY user_id`,
		now.Unix(),
	)
	if err != nil {
		return nil, apperrors.NewStore("postgres", "failed to list subscribers", err)
	}
	defer rows.Close()

	var subscribers []Subscriber
	for rows.Next() {
		var (
			id    int64
			doc   string
			until int64
			plan  string
		)
		if err := rows.Scan(&id, &doc, &until, &plan); err != nil {
			return nil, apperrors.NewStore("postgres", "failed to scan subscriber", err)
		}

		f, err := filter.Decode([]byte(doc))
		if err != nil {
			s.log.Warn().Err(err).Int64("subscriber", id).Msg("Skipping subscriber with unreadable filter")
			continue
		}

		subscribers = append(subscribers, Subscriber{
			ID:              id,
			Filter:          f,
			SubscribedUntil: time.Unix(until, 0),
			Plan:            plan,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStore("postgres", "failed to read subscribers", err)
	}

	return subscribers, nil
}

// GetLastSeenID implements SubscriberStore.
func (s *PostgresStore) GetLastSeenID(ctx context.Context, subscriberID int64) (string, bool, error) {
	var lastSeen *string
	err := s.pool.QueryRow(ctx, `SELECT last_ad_id FROM users WHERE user_id = $1`, subscriberID).Scan(&lastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewStore("postgres", "failed to read watermark", err)
	}
	if lastSeen == nil || *lastSeen == "" {
		return "", false, nil
	}
	return *lastSeen, true, nil
}

// SetLastSeenID implements SubscriberStore.
func (s *PostgresStore) SetLastSeenID(ctx context.Context, subscriberID int64, listingID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_ad_id = $1 WHERE user_id = $2`, listingID, subscriberID)
	if err != nil {
		return apperrors.NewStore("postgres", "failed to store watermark", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewStore("postgres", fmt.Sprintf("subscriber %d not found", subscriberID), nil)
	}
	return nil
}

// SaveFilter stores the subscriber's filter, creating the row when needed.
func (s *PostgresStore) SaveFilter(ctx context.Context, subscriberID int64, f filter.Filter) error {
	doc, err := f.Encode()
	if err != nil {
		return apperrors.NewValidation("postgres", "filter cannot be encoded")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (user_id, filters) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET filters = EXCLUDED.filters`,
		subscriberID, string(doc),
	)
	if err != nil {
		return apperrors.NewStore("postgres", "failed to save filter", err)
	}
	return nil
}

// ActivateSubscription extends the subscription until the given time.
func (s *PostgresStore) ActivateSubscription(ctx context.Context, subscriberID int64, until time.Time, plan string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, subscribed_until, plan) VALUES ($1, $2, NULLIF($3, ''))
		 ON CONFLICT (user_id) DO UPDATE
		 SET subscribed_until = EXCLUDED.subscribed_until,
		     plan = COALESCE(EXCLUDED.plan, users.plan)`,
		subscriberID, until.Unix(), plan,
	)
	if err != nil {
		return apperrors.NewStore("postgres", "failed to activate subscription", err)
	}
	return nil
}

// Stats counts all and active subscribers.
func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE subscribed_until > $1) FROM users`,
		now.Unix(),
	).Scan(&stats.Total, &stats.Active)
	if err != nil {
		return Stats{}, apperrors.NewStore("postgres", "failed to count subscribers", err)
	}
	return stats, nil
}
