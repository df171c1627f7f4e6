package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/repository"
)

const (
	defaultKeyPrefix = "growth:cache:"
	maxWatchRetries  = 5
)

// RedisProvider namespaces one Redis database into per-device caches.
type RedisProvider struct {
	rdb   *redis.Client
	keyNS string
	ttl   time.Duration
	now   func() time.Time
}

// NewRedisProvider builds a provider. Every key written is given ttl.
func NewRedisProvider(rdb *redis.Client, keyPrefix string, ttl time.Duration) *RedisProvider {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisProvider{rdb: rdb, keyNS: keyPrefix, ttl: ttl, now: time.Now}
}

// ForDevice returns the cache owned by deviceID.
func (p *RedisProvider) ForDevice(deviceID string) Cache {
	return &redisCache{
		rdb:    p.rdb,
		prefix: p.keyNS + deviceID + ":",
		ttl:    p.ttl,
		now:    p.now,
	}
}

type redisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func (c *redisCache) grantKey(id string) string { return c.prefix + "grant:" + id }
func (c *redisCache) subjectKey(identity string) string {
	return c.prefix + "subject:" + identity
}
func (c *redisCache) orderKey(number string) string { return c.prefix + "order:" + orderKey(number) }
func (c *redisCache) codeKey(code, identity string) string {
	return c.prefix + "code:" + codeKey(code, identity)
}

func (c *redisCache) IsAvailable() bool { return true }

func (c *redisCache) GetGrantsForSubject(ctx context.Context, identity string) ([]domain.Grant, error) {
	ids, err := c.rdb.SMembers(ctx, c.subjectKey(identity)).Result()
	if err != nil {
		return nil, err
	}
	result := make([]domain.Grant, 0, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.grantKey(id)
	}
	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var r record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, err
		}
		if r.SubjectIdentity == identity {
			result = append(result, r.grant())
		}
	}
	sortByCreated(result)
	return result, nil
}

func (c *redisCache) GetGrantByOrderNumber(ctx context.Context, number string) (*domain.Grant, error) {
	return c.lookupIndex(ctx, c.orderKey(number))
}

func (c *redisCache) GetGrantByCode(ctx context.Context, code, identity string) (*domain.Grant, error) {
	return c.lookupIndex(ctx, c.codeKey(code, identity))
}

func (c *redisCache) UpsertGrant(ctx context.Context, grant *domain.Grant) error {
	prev, err := c.existing(ctx, *grant)
	if err != nil {
		return err
	}
	next := merge(prev, *grant, c.now())
	payload, err := json.Marshal(next)
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != nil {
			if prev.ID != next.ID {
				pipe.Del(ctx, c.grantKey(prev.ID))
			}
			pipe.SRem(ctx, c.subjectKey(prev.SubjectIdentity), prev.ID)
			if prev.SourceKind == domain.SourceOrder {
				pipe.Del(ctx, c.orderKey(prev.SourceReference))
			}
		}
		pipe.Set(ctx, c.grantKey(next.ID), payload, c.ttl)
		pipe.SAdd(ctx, c.subjectKey(next.SubjectIdentity), next.ID)
		pipe.Expire(ctx, c.subjectKey(next.SubjectIdentity), c.ttl)
		switch next.SourceKind {
		case domain.SourceOrder:
			pipe.Set(ctx, c.orderKey(next.SourceReference), next.ID, c.ttl)
		case domain.SourceCode:
			pipe.Set(ctx, c.codeKey(next.SourceReference, next.SubjectIdentity), next.ID, c.ttl)
		}
		return nil
	})
	if err != nil {
		return err
	}
	*grant = next.grant()
	return nil
}

func (c *redisCache) IncrementUsage(ctx context.Context, grantID string) (*domain.Grant, error) {
	key := c.grantKey(grantID)
	var written record

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		if err := consume(&r, c.now()); err != nil {
			return err
		}
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, c.ttl)
			return nil
		})
		if err == nil {
			written = r
		}
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := c.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		g := written.grant()
		return &g, nil
	}
	return nil, redis.TxFailedErr
}

func (c *redisCache) existing(ctx context.Context, g domain.Grant) (*record, error) {
	if g.ID != "" {
		r, err := c.get(ctx, g.ID)
		if err != nil || r != nil {
			return r, err
		}
	}
	var indexKey string
	switch g.SourceKind {
	case domain.SourceOrder:
		indexKey = c.orderKey(g.SourceReference)
	case domain.SourceCode:
		indexKey = c.codeKey(g.SourceReference, g.SubjectIdentity)
	default:
		return nil, nil
	}
	id, err := c.rdb.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.get(ctx, id)
}

func (c *redisCache) get(ctx context.Context, id string) (*record, error) {
	raw, err := c.rdb.Get(ctx, c.grantKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *redisCache) lookupIndex(ctx context.Context, indexKey string) (*domain.Grant, error) {
	id, err := c.rdb.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r, err := c.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, repository.ErrNotFound
	}
	g := r.grant()
	return &g, nil
}
