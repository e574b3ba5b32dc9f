package lark

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
)

// leaderLookup is the contact call the directory needs from the SDK client
type leaderLookup interface {
	GetLeader(ctx context.Context, userID string) (string, error)
}

type cachedLeader struct {
	leader  string
	fetched time.Time
}

// Directory implements port.Directory over the Lark contact API.
// Leaders are cached because escalation sweeps resolve the same approvers repeatedly.
type Directory struct {
	lookup leaderLookup
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedLeader
}

var _ port.Directory = (*Directory)(nil)

// NewDirectory creates a directory; ttl <= 0 disables caching
func NewDirectory(lookup leaderLookup, ttl time.Duration, logger *zap.Logger) *Directory {
	return &Directory{
		lookup: lookup,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
		cache:  make(map[string]cachedLeader),
	}
}

// ResolveManager returns the leader of userID
func (d *Directory) ResolveManager(ctx context.Context, userID string) (string, bool, error) {
	if userID == "" {
		return "", false, nil
	}

	if d.ttl > 0 {
		d.mu.Lock()
		hit, ok := d.cache[userID]
		d.mu.Unlock()
		if ok && d.now().Sub(hit.fetched) < d.ttl {
			return hit.leader, hit.leader != "", nil
		}
	}

	leader, err := d.lookup.GetLeader(ctx, userID)
	if err != nil {
		d.logger.Warn("Failed to resolve manager",
			zap.String("user_id", userID),
			zap.Error(err))
		return "", false, err
	}

	if d.ttl > 0 {
		d.mu.Lock()
		d.cache[userID] = cachedLeader{leader: leader, fetched: d.now()}
		d.mu.Unlock()
	}
	return leader, leader != "", nil
}
