package gate

import (
	"context"
	"sync"
	"time"
)

// CachedResolver memoizes profiles per user for ttl.
type CachedResolver struct {
	inner ProfileResolver
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[uint]cachedProfile
}

type cachedProfile struct {
	profile Profile
	expires time.Time
}

func NewCachedResolver(inner ProfileResolver, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uint]cachedProfile),
	}
}

func (r *CachedResolver) Resolve(ctx context.Context, s Subject) (Profile, error) {
	r.mu.RLock()
	e, ok := r.entries[s.UserID]
	r.mu.RUnlock()
	if ok && r.now().Before(e.expires) {
		return e.profile, nil
	}

	p, err := r.inner.Resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	if s.UserID != 0 {
		r.mu.Lock()
		r.entries[s.UserID] = cachedProfile{profile: p, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return p, nil
}

// Invalidate drops the cached profile of one user, e.g. after a role change.
func (r *CachedResolver) Invalidate(userID uint) {
	r.mu.Lock()
	delete(r.entries, userID)
	r.mu.Unlock()
}

// InvalidateAll is used when role permissions are reseeded.
func (r *CachedResolver) InvalidateAll() {
	r.mu.Lock()
	r.entries = make(map[uint]cachedProfile)
	r.mu.Unlock()
}

// Len is the number of cached users.
func (r *CachedResolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
