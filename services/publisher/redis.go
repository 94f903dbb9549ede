package publisher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sjsage522/flatwatcher/internal/listing"
	apperrors "sjsage522/flatwatcher/pkg/errors"
)

// PayloadField is the stream entry field holding the encoded notification.
const PayloadField = "b64_notification"

// NewRedisClient creates a client and checks the server is reachable.
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.NewNotify("redis", "redis is not reachable", err)
	}
	return client, nil
}

// RedisNotifier implements Notifier using Redis streams
type RedisNotifier struct {
	client          *redis.Client
	streamPrefix    string
	streamCount     int
	streamMaxLength int
}

// NewRedisNotifier creates a new Redis notifier
func NewRedisNotifier(client *redis.Client, streamPrefix string, streamCount int, streamMaxLength int) *RedisNotifier {
	if streamCount < 1 {
		streamCount = 1
	}
	return &RedisNotifier{
		client:          client,
		streamPrefix:    streamPrefix,
		streamCount:     streamCount,
		streamMaxLength: streamMaxLength,
	}
}

// StreamFor returns the stream a subscriber's notifications go to.
// A subscriber always maps to the same stream so its messages stay ordered.
func (p *RedisNotifier) StreamFor(subscriberID int64) string {
	shard := subscriberID % int64(p.streamCount)
	if shard < 0 {
		shard = -shard
	}
	return p.streamPrefix + ":" + strconv.FormatInt(shard, 10)
}

// Notify publishes the notification to the subscriber's stream.
// The payload is JSON, base64 encoded.
func (p *RedisNotifier) Notify(ctx context.Context, subscriberID int64, l listing.Listing) error {
	data, err := json.Marshal(NewNotification(subscriberID, l))
	if err != nil {
		return apperrors.NewNotify("redis", "failed to encode notification", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.StreamFor(subscriberID),
		Values: map[string]interface{}{
			PayloadField: base64.StdEncoding.EncodeToString(data),
		},
	}).Err()
	if err != nil {
		return apperrors.NewNotify("redis", fmt.Sprintf("failed to publish listing %s", l.ID), err)
	}
	return nil
}

// TrimStreams trims all streams to the configured maximum length
func (p *RedisNotifier) TrimStreams(ctx context.Context) error {
	if p.streamMaxLength <= 0 {
		return nil
	}
	for i := 0; i < p.streamCount; i++ {
		stream := p.streamPrefix + ":" + strconv.Itoa(i)
		if err := p.client.XTrimMaxLen(ctx, stream, int64(p.streamMaxLength)).Err(); err != nil {
			return apperrors.NewNotify("redis", "failed to trim "+stream, err)
		}
	}
	return nil
}

// Close closes the Redis connection
func (p *RedisNotifier) Close() error {
	return p.client.Close()
}

// RedisLedger implements DeliveryLedger with SETNX keys that expire after ttl.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger creates a ledger sharing client with the notifier.
func NewRedisLedger(client *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisLedger) key(subscriberID int64, listingID string) string {
	return r.prefix + ":delivered:" + strconv.FormatInt(subscriberID, 10) + ":" + listingID
}

// Claim implements DeliveryLedger.
func (r *RedisLedger) Claim(ctx context.Context, subscriberID int64, listingID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(subscriberID, listingID), time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, apperrors.NewNotify("ledger", "failed to claim delivery", err)
	}
	return ok, nil
}

// Release implements DeliveryLedger.
func (r *RedisLedger) Release(ctx context.Context, subscriberID int64, listingID string) error {
	if err := r.client.Del(ctx, r.key(subscriberID, listingID)).Err(); err != nil {
		return apperrors.NewNotify("ledger", "failed to release delivery", err)
	}
	return nil
}
