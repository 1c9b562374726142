package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"live-session-service/internal/domain"
)

// casPointerScript swaps the pointer value only when the stored version
// still matches; the whole read-compare-write runs atomically in Redis.
var casPointerScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if (not cur and ARGV[1] == '0') or cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2])
  redis.call('SET', KEYS[2], ARGV[3])
  redis.call('SADD', KEYS[3], ARGV[4])
  return 1
end
return 0
`)

// PointerStore is the Redis-backed session pointer with compare-and-swap
// writes, so overlapping host devices cannot both install an activation.
type PointerStore struct {
	client *redis.Client
}

func NewPointerStore(client *redis.Client) *PointerStore {
	return &PointerStore{client: client}
}

func (s *PointerStore) Get(ctx context.Context, roomID string) (domain.Pointer, error) {
	pipe := s.client.Pipeline()
	verCmd := pipe.Get(ctx, pointerVerKey(roomID))
	actCmd := pipe.Get(ctx, pointerActKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.Pointer{}, fmt.Errorf("get pointer: %w", err)
	}

	ptr := domain.Pointer{RoomID: roomID}
	if raw, err := verCmd.Result(); err == nil {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ptr.Version = v
		}
	}
	if act, err := actCmd.Result(); err == nil {
		ptr.ActivationID = act
	}
	return ptr, nil
}

func (s *PointerStore) CompareAndSwap(ctx context.Context, roomID string, expectedVersion int64, activationID string) (domain.Pointer, error) {
	next := expectedVersion + 1
	res, err := casPointerScript.Run(ctx, s.client,
		[]string{pointerVerKey(roomID), pointerActKey(roomID), roomsKey},
		strconv.FormatInt(expectedVersion, 10),
		strconv.FormatInt(next, 10),
		activationID,
		roomID,
	).Int64()
	if err != nil {
		return domain.Pointer{}, fmt.Errorf("cas pointer: %w", err)
	}
	if res != 1 {
		return domain.Pointer{}, domain.ErrPointerConflict
	}
	return domain.Pointer{RoomID: roomID, ActivationID: activationID, Version: next}, nil
}

func (s *PointerStore) Rooms(ctx context.Context) ([]string, error) {
	rooms, err := s.client.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}
