package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"live-session-service/internal/domain"
)

// ResponseLedger stores responses as one hash per activation, keyed by
// participant. HSETNX makes the uniqueness check and insert a single atomic
// operation, which is what keeps duplicate network retries from being
// accepted twice. The settlement claim lives in a second hash, also written
// with HSETNX so exactly one scorer wins.
type ResponseLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResponseLedger(client *redis.Client, ttl time.Duration) *ResponseLedger {
	return &ResponseLedger{client: client, ttl: ttl}
}

func (l *ResponseLedger) InsertIfAbsent(ctx context.Context, resp *domain.Response) (*domain.Response, bool, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, false, fmt.Errorf("marshal response: %w", err)
	}
	key := responsesKey(resp.ActivationID)
	inserted, err := l.client.HSetNX(ctx, key, resp.ParticipantID, data).Result()
	if err != nil {
		return nil, false, fmt.Errorf("insert response: %w", err)
	}
	if inserted {
		if l.ttl > 0 {
			_ = l.client.Expire(ctx, key, l.ttl).Err()
		}
		out := *resp
		return &out, true, nil
	}
	existing, _, err := l.Get(ctx, resp.ActivationID, resp.ParticipantID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (l *ResponseLedger) Get(ctx context.Context, activationID, participantID string) (*domain.Response, bool, error) {
	raw, err := l.client.HGet(ctx, responsesKey(activationID), participantID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get response: %w", err)
	}
	var resp domain.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, true, nil
}

func (l *ResponseLedger) MarkScored(ctx context.Context, activationID, participantID string, correct bool, points int) (bool, error) {
	claim := fmt.Sprintf("%t:%d", correct, points)
	claimed, err := l.client.HSetNX(ctx, scoredKey(activationID), participantID, claim).Result()
	if err != nil {
		return false, fmt.Errorf("claim response: %w", err)
	}
	if !claimed {
		return false, nil
	}
	if l.ttl > 0 {
		_ = l.client.Expire(ctx, scoredKey(activationID), l.ttl).Err()
	}

	// The claim is held, so rewriting the response body is single-writer.
	// Any failure past this point reports claimed=true so the caller knows
	// there is a claim to release.
	resp, found, err := l.Get(ctx, activationID, participantID)
	if err != nil {
		return true, err
	}
	if !found {
		return true, domain.ErrResponseNotFound
	}
	resp.Scored = true
	resp.IsCorrect = &correct
	resp.PointsAwarded = &points
	data, err := json.Marshal(resp)
	if err != nil {
		return true, fmt.Errorf("marshal response: %w", err)
	}
	if err := l.client.HSet(ctx, responsesKey(activationID), participantID, data).Err(); err != nil {
		return true, fmt.Errorf("store outcome: %w", err)
	}
	return true, nil
}

func (l *ResponseLedger) UnmarkScored(ctx context.Context, activationID, participantID string) error {
	if err := l.client.HDel(ctx, scoredKey(activationID), participantID).Err(); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	resp, found, err := l.Get(ctx, activationID, participantID)
	if err != nil || !found {
		return err
	}
	resp.Scored = false
	resp.IsCorrect = nil
	resp.PointsAwarded = nil
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return l.client.HSet(ctx, responsesKey(activationID), participantID, data).Err()
}

func (l *ResponseLedger) ListUnscored(ctx context.Context, activationID string) ([]*domain.Response, error) {
	all, err := l.client.HGetAll(ctx, responsesKey(activationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	claims, err := l.client.HGetAll(ctx, scoredKey(activationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}

	var pending []*domain.Response
	for participantID, raw := range all {
		if _, settled := claims[participantID]; settled {
			continue
		}
		var resp domain.Response
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		if !resp.Scored {
			pending = append(pending, &resp)
		}
	}
	return pending, nil
}
