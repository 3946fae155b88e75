package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
	"github.com/attendnet/attendnet-api/pkg/macaddr"
)

// presenceClient is the subset of the Redis client the presence store uses.
type presenceClient interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// PresenceService is the Redis-backed observation store. Presence agents
// submit the addresses they currently see on a session's network; each
// scheduled scan reads the accumulated set. Keys expire so stale
// observations age out between submissions.
type PresenceService struct {
	client presenceClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewPresenceService constructs the store. ttl bounds how long a submitted
// observation stays visible without being refreshed.
func NewPresenceService(client *redis.Client, ttl time.Duration, logger *zap.Logger) *PresenceService {
	return newPresenceService(client, ttl, logger)
}

func newPresenceService(client presenceClient, ttl time.Duration, logger *zap.Logger) *PresenceService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceService{client: client, ttl: ttl, logger: logger}
}

func observationKey(sessionID string) string {
	return "observations:" + sessionID
}

// Submit records observed addresses for a session. Addresses are normalized
// before storage; entries that normalize to empty are dropped. Submitting an
// empty list is a no-op.
func (s *PresenceService) Submit(ctx context.Context, sessionID string, addresses []string) (int, error) {
	members := make([]interface{}, 0, len(addresses))
	for _, addr := range addresses {
		if normalized := macaddr.Normalize(addr); normalized != "" {
			members = append(members, normalized)
		}
	}
	if len(members) == 0 {
		return 0, nil
	}

	key := observationKey(sessionID)
	if err := s.client.SAdd(ctx, key, members...).Err(); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to store observations")
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		s.logger.Warn("failed to set observation ttl", zap.String("session_id", sessionID), zap.Error(err))
	}
	return len(members), nil
}

// Observed returns the session's current observation set. A missing key
// yields an empty slice, which a scan treats as everyone absent.
func (s *PresenceService) Observed(ctx context.Context, sessionID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, observationKey(sessionID)).Result()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to read observations")
	}
	return members, nil
}

// Clear drops a session's observation set. Called when a session is deleted.
func (s *PresenceService) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, observationKey(sessionID)).Err(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to clear observations")
	}
	return nil
}
