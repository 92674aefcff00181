// Package override reads the per-user outcome override directive owned by
// the admin back office. The engine reads the directive current at
// settlement time; directives are not snapshotted at contract creation.
package override

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Directive is the admin-controlled per-user settlement mode.
type Directive string

const (
	Normal    Directive = "normal"
	ForceWin  Directive = "force-win"
	ForceLose Directive = "force-lose"
)

// Source supplies the directive for a user. A missing entry means Normal.
type Source interface {
	GetDirective(ctx context.Context, userID string) (Directive, error)
}

// RedisSource reads directives from the key the admin subsystem writes,
// override:{userID}. Unknown or absent values degrade to Normal so a stale
// admin write can never block settlement.
type RedisSource struct {
	rdb *redis.Client
}

// NewRedisSource creates a directive source backed by Redis.
func NewRedisSource(rdb *redis.Client) *RedisSource {
	return &RedisSource{rdb: rdb}
}

func (s *RedisSource) GetDirective(ctx context.Context, userID string) (Directive, error) {
	val, err := s.rdb.Get(ctx, directiveKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return Normal, nil
	}
	if err != nil {
		return Normal, err
	}
	switch Directive(val) {
	case ForceWin, ForceLose:
		return Directive(val), nil
	default:
		return Normal, nil
	}
}

func directiveKey(userID string) string { return "override:" + userID }

// MemorySource is an in-memory directive source for tests and development.
type MemorySource struct {
	mu         sync.RWMutex
	directives map[string]Directive
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{directives: make(map[string]Directive)}
}

// Set assigns a directive for a user. Setting Normal clears the entry.
func (s *MemorySource) Set(userID string, d Directive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == Normal {
		delete(s.directives, userID)
		return
	}
	s.directives[userID] = d
}

func (s *MemorySource) GetDirective(_ context.Context, userID string) (Directive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.directives[userID]; ok {
		return d, nil
	}
	return Normal, nil
}
