package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"live-session-service/internal/domain"
)

var casActivationScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2])
  redis.call('SET', KEYS[2], ARGV[3])
  return 1
end
return 0
`)

// ActivationStore persists activation rows in Redis. Runtime mutations go
// through a version compare-and-swap so a host action racing the timer
// coordinator cannot clobber the other's write.
type ActivationStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewActivationStore(client *redis.Client, ttl time.Duration) *ActivationStore {
	return &ActivationStore{client: client, ttl: ttl}
}

func (s *ActivationStore) Save(ctx context.Context, act *domain.Activation) error {
	data, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("marshal activation: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, activationKey(act.ID), data, s.ttl)
	pipe.Set(ctx, activationVerKey(act.ID), strconv.FormatInt(act.Version, 10), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save activation: %w", err)
	}
	return nil
}

func (s *ActivationStore) Get(ctx context.Context, id string) (*domain.Activation, error) {
	raw, err := s.client.Get(ctx, activationKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrActivationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activation: %w", err)
	}
	var act domain.Activation
	if err := json.Unmarshal(raw, &act); err != nil {
		return nil, fmt.Errorf("unmarshal activation: %w", err)
	}
	return &act, nil
}

func (s *ActivationStore) Update(ctx context.Context, act *domain.Activation) error {
	data, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("marshal activation: %w", err)
	}
	res, err := casActivationScript.Run(ctx, s.client,
		[]string{activationVerKey(act.ID), activationKey(act.ID)},
		strconv.FormatInt(act.Version-1, 10),
		strconv.FormatInt(act.Version, 10),
		data,
	).Int64()
	if err != nil {
		return fmt.Errorf("update activation: %w", err)
	}
	if res != 1 {
		return domain.ErrVersionConflict
	}
	return nil
}
