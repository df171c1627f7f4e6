package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/repository"
)

// MemoryProvider keeps device caches in process, bounded by an LRU of devices.
type MemoryProvider struct {
	mu      sync.Mutex
	devices *lru.Cache[string, *memoryCache]
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryProvider creates a provider holding at most size devices. Devices idle for
// longer than ttl start empty.
func NewMemoryProvider(size int, ttl time.Duration) (*MemoryProvider, error) {
	if size <= 0 {
		size = 10000
	}
	devices, err := lru.New[string, *memoryCache](size)
	if err != nil {
		return nil, err
	}
	return &MemoryProvider{devices: devices, ttl: ttl, now: time.Now}, nil
}

// ForDevice returns the cache owned by deviceID, creating it on first use.
func (p *MemoryProvider) ForDevice(deviceID string) Cache {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if c, ok := p.devices.Get(deviceID); ok && (p.ttl <= 0 || now.Sub(c.touchedAt()) < p.ttl) {
		return c
	}
	c := newMemoryCache(p.now)
	p.devices.Add(deviceID, c)
	return c
}

type memoryCache struct {
	mu      sync.RWMutex
	grants  map[string]*record
	orders  map[string]string
	codes   map[string]string
	touched time.Time
	now     func() time.Time
}

func newMemoryCache(now func() time.Time) *memoryCache {
	return &memoryCache{
		grants:  make(map[string]*record),
		orders:  make(map[string]string),
		codes:   make(map[string]string),
		touched: now(),
		now:     now,
	}
}

func (c *memoryCache) touchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.touched
}

func (c *memoryCache) IsAvailable() bool { return true }

func (c *memoryCache) GetGrantsForSubject(_ context.Context, identity string) ([]domain.Grant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Grant, 0)
	for _, r := range c.grants {
		if r.SubjectIdentity == identity {
			result = append(result, r.grant())
		}
	}
	sortByCreated(result)
	return result, nil
}

func (c *memoryCache) GetGrantByOrderNumber(_ context.Context, number string) (*domain.Grant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookup(c.orders[orderKey(number)])
}

func (c *memoryCache) GetGrantByCode(_ context.Context, code, identity string) (*domain.Grant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookup(c.codes[codeKey(code, identity)])
}

func (c *memoryCache) UpsertGrant(_ context.Context, grant *domain.Grant) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	prev := c.existing(*grant)
	next := merge(prev, *grant, now)
	if prev != nil {
		// A mirrored store id supersedes a grant created locally while offline.
		delete(c.grants, prev.ID)
		if prev.SourceKind == domain.SourceOrder {
			delete(c.orders, orderKey(prev.SourceReference))
		}
	}
	c.grants[next.ID] = &next
	switch next.SourceKind {
	case domain.SourceOrder:
		c.orders[orderKey(next.SourceReference)] = next.ID
	case domain.SourceCode:
		c.codes[codeKey(next.SourceReference, next.SubjectIdentity)] = next.ID
	}
	c.touched = now
	*grant = next.grant()
	return nil
}

func (c *memoryCache) IncrementUsage(_ context.Context, grantID string) (*domain.Grant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.grants[grantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	now := c.now()
	if err := consume(r, now); err != nil {
		return nil, err
	}
	c.touched = now
	g := r.grant()
	return &g, nil
}

func (c *memoryCache) existing(g domain.Grant) *record {
	if g.ID != "" {
		if r, ok := c.grants[g.ID]; ok {
			return r
		}
	}
	var id string
	switch g.SourceKind {
	case domain.SourceOrder:
		id = c.orders[orderKey(g.SourceReference)]
	case domain.SourceCode:
		id = c.codes[codeKey(g.SourceReference, g.SubjectIdentity)]
	}
	return c.grants[id]
}

func (c *memoryCache) lookup(id string) (*domain.Grant, error) {
	r, ok := c.grants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	g := r.grant()
	return &g, nil
}
