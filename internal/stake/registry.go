package stake

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"stakewatch/internal/model"
)

// RegistrationSource answers which subnets a hotkey is registered on. The
// underlying query may be slow; callers bound it with a timeout.
type RegistrationSource interface {
	RegistrationsFor(ctx context.Context, hotkey string) ([]uint64, error)
}

// RegistrationCacheConfig tunes the memo.
type RegistrationCacheConfig struct {
	// TTL bounds how long a lookup is reused. Registrations change rarely
	// but are not immutable.
	TTL time.Duration
	// QueryTimeout bounds one collaborator query.
	QueryTimeout time.Duration
	// MaxEntries caps how many hotkeys the memo holds at once.
	MaxEntries int
}

const (
	defaultRegistrationTTL        = 5 * time.Minute
	defaultRegistrationTimeout    = 10 * time.Second
	defaultRegistrationMaxEntries = 4096
)

type registrationEntry struct {
	netuids   []uint64
	expiresAt time.Time
}

// RegistrationCache memoizes a RegistrationSource by hotkey with a TTL. It
// is safe for concurrent use; the collaborator query runs outside the
// lock and the result is inserted afterward.
type RegistrationCache struct {
	src        RegistrationSource
	ttl        time.Duration
	timeout    time.Duration
	maxEntries int
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]registrationEntry
}

// NewRegistrationCache builds the memo around a collaborator source. Zero
// config values fall back to defaults.
func NewRegistrationCache(src RegistrationSource, cfg RegistrationCacheConfig, logger *zap.Logger) *RegistrationCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultRegistrationTTL
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultRegistrationTimeout
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultRegistrationMaxEntries
	}
	return &RegistrationCache{
		src:        src,
		ttl:        ttl,
		timeout:    timeout,
		maxEntries: maxEntries,
		logger:     logger,
		now:        time.Now,
		entries:    make(map[string]registrationEntry),
	}
}

// RegistrationsFor returns the sorted subnet ids the hotkey is registered
// on, from the memo when fresh.
func (c *RegistrationCache) RegistrationsFor(ctx context.Context, hotkey string) ([]uint64, error) {
	if hotkey == "" {
		return nil, nil
	}

	c.mu.RLock()
	entry, ok := c.entries[hotkey]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.netuids, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	netuids, err := c.src.RegistrationsFor(queryCtx, hotkey)
	if err != nil {
		return nil, err
	}

	sorted := append([]uint64(nil), netuids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	c.mu.Lock()
	now := c.now()
	c.evictLocked(now)
	c.entries[hotkey] = registrationEntry{netuids: sorted, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return sorted, nil
}

// evictLocked drops expired entries, then the soonest-expiring live ones
// until the memo is below capacity. It runs on every insert, which is
// already paying for a collaborator query, so a long watch never
// accumulates entries for hotkeys it saw once.
func (c *RegistrationCache) evictLocked(now time.Time) {
	for hotkey, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, hotkey)
		}
	}
	for len(c.entries) >= c.maxEntries {
		var victim string
		var soonest time.Time
		for hotkey, entry := range c.entries {
			if victim == "" || entry.expiresAt.Before(soonest) {
				victim = hotkey
				soonest = entry.expiresAt
			}
		}
		delete(c.entries, victim)
	}
}

// ClassifyRegistrations applies the disambiguation policy to a lookup
// result: no registrations means the subnet stays unknown, a single one
// decides it, several are surfaced as ambiguous rather than collapsed.
func ClassifyRegistrations(netuids []uint64) model.NetUid {
	switch len(netuids) {
	case 0:
		return model.UnknownNetUid()
	case 1:
		return model.ScalarNetUid(netuids[0])
	default:
		return model.AmbiguousNetUid(netuids)
	}
}
