package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
)

type stubPresenceClient struct {
	sets      map[string][]interface{}
	expires   map[string]time.Duration
	deleted   []string
	addErr    error
	expireErr error
	readErr   error
}

func newStubPresenceClient() *stubPresenceClient {
	return &stubPresenceClient{sets: map[string][]interface{}{}, expires: map[string]time.Duration{}}
}

func (c *stubPresenceClient) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if c.addErr != nil {
		cmd.SetErr(c.addErr)
		return cmd
	}
	c.sets[key] = append(c.sets[key], members...)
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (c *stubPresenceClient) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if c.expireErr != nil {
		cmd.SetErr(c.expireErr)
		return cmd
	}
	c.expires[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func (c *stubPresenceClient) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	if c.readErr != nil {
		cmd.SetErr(c.readErr)
		return cmd
	}
	members := make([]string, 0, len(c.sets[key]))
	for _, m := range c.sets[key] {
		members = append(members, m.(string))
	}
	cmd.SetVal(members)
	return cmd
}

func (c *stubPresenceClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	for _, key := range keys {
		delete(c.sets, key)
		c.deleted = append(c.deleted, key)
	}
	cmd.SetVal(int64(len(keys)))
	return cmd
}

func TestSubmitNormalizesAndExpires(t *testing.T) {
	client := newStubPresenceClient()
	svc := newPresenceService(client, 5*time.Minute, nil)

	count, err := svc.Submit(context.Background(), "sess-1", []string{"AA:BB:CC:DD:EE:01", "aa-bb-cc-dd-ee-02", "???"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []interface{}{"aabbccddee01", "aabbccddee02"}, client.sets["observations:sess-1"])
	assert.Equal(t, 5*time.Minute, client.expires["observations:sess-1"])
}

func TestSubmitEmptyAfterNormalizationIsNoOp(t *testing.T) {
	client := newStubPresenceClient()
	svc := newPresenceService(client, time.Minute, nil)

	count, err := svc.Submit(context.Background(), "sess-1", []string{"zz:zz", ""})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, client.sets)
}

func TestSubmitSurvivesExpireFailure(t *testing.T) {
	client := newStubPresenceClient()
	client.expireErr = fmt.Errorf("connection refused")
	svc := newPresenceService(client, time.Minute, nil)

	count, err := svc.Submit(context.Background(), "sess-1", []string{"aa:bb:cc:dd:ee:01"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestObservedRoundTrip(t *testing.T) {
	client := newStubPresenceClient()
	svc := newPresenceService(client, time.Minute, nil)

	_, err := svc.Submit(context.Background(), "sess-1", []string{"aa:bb:cc:dd:ee:01"})
	require.NoError(t, err)

	observed, err := svc.Observed(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"aabbccddee01"}, observed)

	require.NoError(t, svc.Clear(context.Background(), "sess-1"))
	observed, err = svc.Observed(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, observed)
}

func TestPresenceFailuresAreTransient(t *testing.T) {
	client := newStubPresenceClient()
	client.addErr = fmt.Errorf("connection refused")
	client.readErr = fmt.Errorf("connection refused")
	svc := newPresenceService(client, time.Minute, nil)

	_, err := svc.Submit(context.Background(), "sess-1", []string{"aa:bb:cc:dd:ee:01"})
	require.Error(t, err)
	assert.True(t, appErrors.IsTransient(err))

	_, err = svc.Observed(context.Background(), "sess-1")
	require.Error(t, err)
	assert.True(t, appErrors.IsTransient(err))
}
