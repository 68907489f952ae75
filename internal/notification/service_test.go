package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/testkit"
	appErrors "sudooom.planverse/shared/errors"
)

const (
	alice = "6f1c1b7e-1d7a-4f0e-9a57-2a8e1c3b0a01"
	bob   = "6f1c1b7e-1d7a-4f0e-9a57-2a8e1c3b0a02"
)

type deliverRecorder struct {
	mu     sync.Mutex
	online map[string]bool
	got    []model.Notification
}

func (d *deliverRecorder) Deliver(n model.Notification) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.online[n.UserID] {
		return false
	}
	d.got = append(d.got, n)
	return true
}

type failingPublisher struct {
	calls int
}

func (p *failingPublisher) Publish(ctx context.Context, n model.Notification) error {
	p.calls++
	return errors.New("kafka unavailable")
}

type capturePublisher struct {
	sent []model.Notification
}

func (p *capturePublisher) Publish(ctx context.Context, n model.Notification) error {
	p.sent = append(p.sent, n)
	return nil
}

func TestNotify_DirectWhenNoPublisher(t *testing.T) {
	mem := testkit.NewMemory(nil)
	d := &deliverRecorder{online: map[string]bool{bob: true}}
	svc := NewService(Options{Store: mem, Deliverer: d})
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, model.Notification{UserID: bob, ActorID: alice, Kind: model.NotifyFriendRequest, Title: "好友请求"}))

	list, err := svc.List(ctx, bob, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotEmpty(t, list[0].ID)
	assert.False(t, list[0].CreatedAt.IsZero())
	assert.Len(t, d.got, 1)
}

func TestNotify_SkipsSelf(t *testing.T) {
	mem := testkit.NewMemory(nil)
	svc := NewService(Options{Store: mem})

	require.NoError(t, svc.Notify(context.Background(), model.Notification{UserID: bob, ActorID: bob, Kind: model.NotifyPostLiked}))
	list, err := svc.List(context.Background(), bob, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNotify_PublishesToKafka(t *testing.T) {
	mem := testkit.NewMemory(nil)
	pub := &capturePublisher{}
	svc := NewService(Options{Store: mem, Publisher: pub})

	require.NoError(t, svc.Notify(context.Background(), model.Notification{UserID: bob, ActorID: alice, Kind: model.NotifyPostLiked}))
	require.Len(t, pub.sent, 1)

	// 消费端写入之前列表为空
	list, err := svc.List(context.Background(), bob, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, svc.Handle(context.Background(), pub.sent[0]))
	list, err = svc.List(context.Background(), bob, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestNotify_FallsBackWhenPublishFails(t *testing.T) {
	mem := testkit.NewMemory(nil)
	pub := &failingPublisher{}
	svc := NewService(Options{Store: mem, Publisher: pub})

	require.NoError(t, svc.Notify(context.Background(), model.Notification{UserID: bob, ActorID: alice, Kind: model.NotifyPostComment}))
	assert.Equal(t, 1, pub.calls)

	list, err := svc.List(context.Background(), bob, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUnreadAndMarkRead(t *testing.T) {
	mem := testkit.NewMemory(nil)
	svc := NewService(Options{Store: mem})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Notify(ctx, model.Notification{UserID: bob, ActorID: alice, Kind: model.NotifyPostLiked}))
	}
	n, err := svc.UnreadCount(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, _ := svc.List(ctx, bob, 10)
	require.NoError(t, svc.MarkRead(ctx, bob, list[0].ID))
	n, _ = svc.UnreadCount(ctx, bob)
	assert.Equal(t, 2, n)

	err = svc.MarkRead(ctx, bob, "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotificationNotFound))

	require.NoError(t, svc.MarkAllRead(ctx, bob))
	n, _ = svc.UnreadCount(ctx, bob)
	assert.Equal(t, 0, n)
}

func getTestRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("跳过测试：无法连接 Redis: %v", err)
	}
	client.FlushDB(ctx)
	return client
}

func TestRedisStore(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	store := NewRedisStore(client)
	ctx := context.Background()

	for _, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, store.Push(ctx, model.Notification{ID: id, UserID: bob, Kind: model.NotifyPostLiked}))
	}

	list, err := store.List(ctx, bob, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n3", list[0].ID)

	require.NoError(t, store.MarkRead(ctx, bob, "n2"))
	assert.ErrorIs(t, store.MarkRead(ctx, bob, "missing"), ErrNotFound)

	list, err = store.List(ctx, bob, 0)
	require.NoError(t, err)
	read := map[string]bool{}
	for _, n := range list {
		read[n.ID] = n.Read
	}
	assert.Equal(t, map[string]bool{"n1": false, "n2": true, "n3": false}, read)

	require.NoError(t, store.MarkAllRead(ctx, bob))
	list, _ = store.List(ctx, bob, 0)
	for _, n := range list {
		assert.True(t, n.Read)
	}

	ttl, err := client.TTL(ctx, "planverse:notify:"+bob+":list").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
