package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dense-identity/callsig/internal/helpers"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrMailboxFull is returned by Push when the recipient's mailbox already
// holds the configured maximum number of messages.
var ErrMailboxFull = errors.New("relay: mailbox full")

// RedisStore keeps one mailbox list per identity. Identities are hashed
// before they become part of a key.
type RedisStore struct {
	client      *redis.Client
	mailboxTTL  time.Duration
	mailboxSize int64
	presenceTTL time.Duration
}

// NewRedisStore connects to the Redis server named in cfg.
func NewRedisStore(ctx context.Context, cfg *Config) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	return NewRedisStoreWithClient(rdb, cfg), nil
}

// NewRedisStoreWithClient wraps an existing client. The store owns the
// client afterwards.
func NewRedisStoreWithClient(rdb *redis.Client, cfg *Config) *RedisStore {
	size := cfg.MailboxSize
	if size <= 0 {
		size = 100
	}
	return &RedisStore{
		client:      rdb,
		mailboxTTL:  cfg.MailboxTTL,
		mailboxSize: size,
		presenceTTL: cfg.PresenceTTL,
	}
}

func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

func mailboxKey(identity string) string {
	return fmt.Sprintf("mailbox:%s:messages", helpers.Hash256Hex([]byte(identity)))
}

func presenceKey(identity string) string {
	return fmt.Sprintf("mailbox:%s:present", helpers.Hash256Hex([]byte(identity)))
}

// Push appends msg to its recipient's mailbox and refreshes the mailbox TTL.
func (rs *RedisStore) Push(ctx context.Context, msg Message) error {
	key := mailboxKey(msg.Recipient)

	n, err := rs.client.LLen(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to read mailbox length: %w", err)
	}
	if n >= rs.mailboxSize {
		return ErrMailboxFull
	}

	data := msg.appendWire(nil)
	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// Newest at head.
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, rs.mailboxSize-1)
		if rs.mailboxTTL > 0 {
			pipe.Expire(ctx, key, rs.mailboxTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// Drain removes and returns every message waiting for identity, oldest first.
func (rs *RedisStore) Drain(ctx context.Context, identity string) ([]Message, error) {
	key := mailboxKey(identity)

	var lrange *redis.StringSliceCmd
	_, err := rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to drain mailbox: %w", err)
	}

	data := lrange.Val()
	msgs := make([]Message, 0, len(data))
	for i := len(data) - 1; i >= 0; i-- { // LPUSH => reverse to deliver oldest→newest
		var m Message
		if err := m.parseWire([]byte(data[i])); err != nil {
			log.Warn().Err(err).Msg("dropping undecodable mailbox entry")
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Touch marks identity as reachable for the presence TTL.
func (rs *RedisStore) Touch(ctx context.Context, identity string) error {
	if err := rs.client.Set(ctx, presenceKey(identity), "1", rs.presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}
	return nil
}

// Known reports whether identity fetched recently or still has mail waiting.
func (rs *RedisStore) Known(ctx context.Context, identity string) (bool, error) {
	n, err := rs.client.Exists(ctx, presenceKey(identity), mailboxKey(identity)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return n > 0, nil
}

// Len returns the number of messages waiting for identity.
func (rs *RedisStore) Len(ctx context.Context, identity string) (int64, error) {
	count, err := rs.client.LLen(ctx, mailboxKey(identity)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get mailbox length: %w", err)
	}
	return count, nil
}
