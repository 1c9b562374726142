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

// casRowScript writes a participant row only when its stored version still
// matches the caller's expectation. Versions live in a parallel hash so the
// comparison stays a plain string check inside Redis.
var casRowScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if (not cur and ARGV[2] == '0') or cur == ARGV[2] then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
  redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
  return 1
end
return 0
`)

// ScoreLedger is the Redis-backed per-room participant aggregate. Writes are
// serialized per participant by the version compare-and-swap; different
// participants never contend.
type ScoreLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewScoreLedger(client *redis.Client, ttl time.Duration) *ScoreLedger {
	return &ScoreLedger{client: client, ttl: ttl}
}

func (l *ScoreLedger) Get(ctx context.Context, roomID, participantID string) (*domain.Participant, bool, error) {
	raw, err := l.client.HGet(ctx, scoresKey(roomID), participantID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get participant: %w", err)
	}
	var p domain.Participant
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, fmt.Errorf("unmarshal participant: %w", err)
	}
	return &p, true, nil
}

func (l *ScoreLedger) Upsert(ctx context.Context, roomID string, p *domain.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	res, err := casRowScript.Run(ctx, l.client,
		[]string{scoresKey(roomID), scoresVerKey(roomID)},
		p.ParticipantID,
		strconv.FormatInt(p.Version-1, 10),
		data,
		strconv.FormatInt(p.Version, 10),
	).Int64()
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	if res != 1 {
		return domain.ErrVersionConflict
	}
	if l.ttl > 0 {
		pipe := l.client.Pipeline()
		pipe.Expire(ctx, scoresKey(roomID), l.ttl)
		pipe.Expire(ctx, scoresVerKey(roomID), l.ttl)
		_, _ = pipe.Exec(ctx)
	}
	return nil
}

func (l *ScoreLedger) List(ctx context.Context, roomID string) ([]*domain.Participant, error) {
	all, err := l.client.HGetAll(ctx, scoresKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	rows := make([]*domain.Participant, 0, len(all))
	for _, raw := range all {
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("unmarshal participant: %w", err)
		}
		rows = append(rows, &p)
	}
	return rows, nil
}

// TallyStore keeps poll tallies as a Redis hash of option -> count.
type TallyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTallyStore(client *redis.Client, ttl time.Duration) *TallyStore {
	return &TallyStore{client: client, ttl: ttl}
}

func (s *TallyStore) Incr(ctx context.Context, activationID, optionID string) (int, error) {
	n, err := s.client.HIncrBy(ctx, tallyKey(activationID), optionID, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment tally: %w", err)
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, tallyKey(activationID), s.ttl).Err()
	}
	return int(n), nil
}

func (s *TallyStore) Get(ctx context.Context, activationID string) (*domain.Tally, error) {
	all, err := s.client.HGetAll(ctx, tallyKey(activationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get tally: %w", err)
	}
	counts := make(map[string]int, len(all))
	for option, raw := range all {
		if n, err := strconv.Atoi(raw); err == nil {
			counts[option] = n
		}
	}
	return &domain.Tally{ActivationID: activationID, Counts: counts}, nil
}
