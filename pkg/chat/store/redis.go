package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	turnKeyPrefix = "kin:turns:"
	docKeyPrefix  = "kin:doc:"

	// Turn logs and documents expire after long inactivity so abandoned
	// users do not accumulate forever.
	defaultRedisTTL = 30 * 24 * time.Hour

	maxTurnLogLen = 512
)

// Redis stores turn logs as capped lists and documents as plain keys.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*Redis)(nil)

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (s *Redis) AppendTurn(ctx context.Context, userID string, turn TurnRecord) error {
	val, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	key := turnKeyPrefix + userID
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, val)
	pipe.LTrim(ctx, key, -maxTurnLogLen, -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *Redis) RecentTurns(ctx context.Context, userID string, n int) ([]TurnRecord, error) {
	if n <= 0 {
		n = maxTurnLogLen
	}
	vals, err := s.client.LRange(ctx, turnKeyPrefix+userID, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	// LRange returns oldest first; callers expect newest first.
	out := make([]TurnRecord, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var turn TurnRecord
		if err := json.Unmarshal([]byte(vals[i]), &turn); err != nil {
			continue
		}
		out = append(out, turn)
	}
	return out, nil
}

func (s *Redis) GetDocument(ctx context.Context, userID, kind string) ([]byte, error) {
	val, err := s.client.Get(ctx, docKeyPrefix+userID+":"+kind).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return val, nil
}

func (s *Redis) SetDocument(ctx context.Context, userID, kind string, data []byte) error {
	if err := s.client.Set(ctx, docKeyPrefix+userID+":"+kind, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	return nil
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Redis) Close() error {
	return s.client.Close()
}
