package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-session-service/internal/domain"
)

// TemplateLoader fetches template content from a backing store (e.g., Postgres).
type TemplateLoader interface {
	LoadTemplate(ctx context.Context, templateID string) (domain.Template, error)
}

// TemplateRepository caches template JSON in Redis and falls back to the
// loader on a miss. Cache fills are deduplicated with singleflight so a
// burst of activations for the same template hits the backing store once.
type TemplateRepository struct {
	client *redis.Client
	loader TemplateLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewTemplateRepository(client *redis.Client, loader TemplateLoader, ttl time.Duration) *TemplateRepository {
	return &TemplateRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *TemplateRepository) GetTemplate(ctx context.Context, templateID string) (domain.Template, error) {
	if tmpl, ok := r.cached(ctx, templateID); ok {
		return tmpl, nil
	}

	result, err, _ := r.sf.Do(templateID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if tmpl, ok := r.cached(ctx, templateID); ok {
			return tmpl, nil
		}

		tmpl, err := r.loader.LoadTemplate(ctx, templateID)
		if err != nil {
			return domain.Template{}, err
		}

		data, err := json.Marshal(tmpl)
		if err != nil {
			return domain.Template{}, fmt.Errorf("marshal template: %w", err)
		}
		_ = r.client.Set(ctx, templateKey(templateID), data, r.ttlWithJitter()).Err()
		return tmpl, nil
	})
	if err != nil {
		return domain.Template{}, err
	}
	return result.(domain.Template), nil
}

func (r *TemplateRepository) cached(ctx context.Context, templateID string) (domain.Template, bool) {
	raw, err := r.client.Get(ctx, templateKey(templateID)).Bytes()
	if err != nil {
		return domain.Template{}, false
	}
	var tmpl domain.Template
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		return domain.Template{}, false
	}
	return tmpl, true
}

func (r *TemplateRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
