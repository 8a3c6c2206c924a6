package persistence

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
	"github.com/iota-uz/org-import/modules/orgimport/services"
)

const (
	DefaultCachePrefix = "orgimport:codes"
	DefaultCacheTTL    = 5 * time.Minute
)

// RedisCodesCache keeps a tenant's existing codes in redis sets. Redis failures fall back
// to the wrapped provider; the cache never turns a readable store into an error.
type RedisCodesCache struct {
	client redis.UniversalClient
	source services.ExistingCodesProvider
	prefix string
	ttl    time.Duration
	log    *logrus.Entry
}

type CacheOption func(*RedisCodesCache)

func WithCachePrefix(prefix string) CacheOption {
	return func(c *RedisCodesCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *RedisCodesCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithCacheLogger(l *logrus.Entry) CacheOption {
	return func(c *RedisCodesCache) {
		if l != nil {
			c.log = l
		}
	}
}

func NewRedisCodesCache(client redis.UniversalClient, source services.ExistingCodesProvider, opts ...CacheOption) *RedisCodesCache {
	c := &RedisCodesCache{
		client: client,
		source: source,
		prefix: DefaultCachePrefix,
		ttl:    DefaultCacheTTL,
		log:    logrusNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCodesCache) ExistingCodes(ctx context.Context, tenantID uuid.UUID) (record.ExistingCodes, error) {
	log := c.log.WithField("tenant_id", tenantID.String())

	cached, ok, err := c.read(ctx, tenantID)
	if err != nil {
		log.WithError(err).Warn("orgimport: codes cache read failed")
	}
	if ok {
		log.Debug("orgimport: codes cache hit")
		return cached, nil
	}

	existing, err := c.source.ExistingCodes(ctx, tenantID)
	if err != nil {
		return record.ExistingCodes{}, err
	}
	if err := c.write(ctx, tenantID, existing); err != nil {
		log.WithError(err).Warn("orgimport: codes cache write failed")
	}
	return existing, nil
}

// Invalidate drops the cached codes of a tenant. Call it after any write to the store.
func (c *RedisCodesCache) Invalidate(ctx context.Context, tenantID uuid.UUID) error {
	if err := c.client.Del(ctx, c.keys(tenantID)...).Err(); err != nil {
		return errors.Wrap(err, "invalidate codes cache")
	}
	return nil
}

func (c *RedisCodesCache) markerKey(tenantID uuid.UUID) string {
	return c.prefix + ":" + tenantID.String() + ":loaded"
}

func (c *RedisCodesCache) setKey(tenantID uuid.UUID, kind record.SheetKind) string {
	return c.prefix + ":" + tenantID.String() + ":" + string(kind)
}

func (c *RedisCodesCache) keys(tenantID uuid.UUID) []string {
	return []string{
		c.markerKey(tenantID),
		c.setKey(tenantID, record.SheetDepartments),
		c.setKey(tenantID, record.SheetPositions),
	}
}

// read reports ok only when the marker is present; empty sets do not exist in redis.
func (c *RedisCodesCache) read(ctx context.Context, tenantID uuid.UUID) (record.ExistingCodes, bool, error) {
	var (
		marker *redis.IntCmd
		depts  *redis.StringSliceCmd
		poss   *redis.StringSliceCmd
	)
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		marker = p.Exists(ctx, c.markerKey(tenantID))
		depts = p.SMembers(ctx, c.setKey(tenantID, record.SheetDepartments))
		poss = p.SMembers(ctx, c.setKey(tenantID, record.SheetPositions))
		return nil
	})
	if err != nil {
		return record.ExistingCodes{}, false, errors.Wrap(err, "read codes cache")
	}
	if marker.Val() == 0 {
		return record.ExistingCodes{}, false, nil
	}
	return record.ExistingCodes{
		Departments: record.NewCodeSet(depts.Val()...),
		Positions:   record.NewCodeSet(poss.Val()...),
	}, true, nil
}

func (c *RedisCodesCache) write(ctx context.Context, tenantID uuid.UUID, existing record.ExistingCodes) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, c.keys(tenantID)...)
		for _, kind := range []record.SheetKind{record.SheetDepartments, record.SheetPositions} {
			codes := existing.For(kind).Sorted()
			if len(codes) == 0 {
				continue
			}
			members := make([]any, len(codes))
			for i, code := range codes {
				members[i] = code
			}
			key := c.setKey(tenantID, kind)
			p.SAdd(ctx, key, members...)
			p.Expire(ctx, key, c.ttl)
		}
		p.Set(ctx, c.markerKey(tenantID), "1", c.ttl)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "write codes cache")
	}
	return nil
}
