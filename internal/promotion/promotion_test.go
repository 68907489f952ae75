package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/task"
	"sudooom.planverse/internal/testkit"
	appErrors "sudooom.planverse/shared/errors"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mem     *testkit.Memory
	clock   *task.ManualClock
	svc     *Service
	alice   string
	bob     string
	alicePo string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := task.NewManualClock(t0)
	mem := testkit.NewMemory(clock)
	f := &fixture{mem: mem, clock: clock}
	f.alice = mem.AddUser("alice")
	f.bob = mem.AddUser("bob")

	post := &model.Post{AuthorID: f.alice, Content: "社团招新"}
	require.NoError(t, mem.CreatePost(context.Background(), post))
	f.alicePo = post.ID

	f.svc = NewService(Options{
		Store:   mem,
		Posts:   mem,
		Counter: testkit.NewCounter(),
		Now:     clock.Now,
	})
	return f
}

func (f *fixture) create(t *testing.T, budget, cpm int64) *model.Promotion {
	t.Helper()
	p, err := f.svc.Create(context.Background(), f.alice, CreateInput{
		PostID:      f.alicePo,
		BudgetCents: budget,
		CPMCents:    cpm,
		EndsAt:      t0.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return p
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.alice, CreateInput{PostID: f.alicePo, BudgetCents: 0, EndsAt: t0.Add(time.Hour)})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidBudget))

	_, err = f.svc.Create(ctx, f.alice, CreateInput{PostID: f.alicePo, BudgetCents: 100, EndsAt: t0.Add(-time.Hour)})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidWindow))

	_, err = f.svc.Create(ctx, f.bob, CreateInput{PostID: f.alicePo, BudgetCents: 100, EndsAt: t0.Add(time.Hour)})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotPostOwner))

	_, err = f.svc.Create(ctx, f.alice, CreateInput{PostID: "missing", BudgetCents: 100, EndsAt: t0.Add(time.Hour)})
	assert.True(t, appErrors.Is(err, appErrors.ErrPostNotFound))
}

func TestCreate_DefaultsStartAndCPM(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, 500, 0)

	assert.Equal(t, t0, p.StartsAt)
	assert.Equal(t, int64(1000), p.CPMCents)
	assert.Equal(t, model.PromotionActive, p.Status)

	list, err := f.svc.List(context.Background(), f.alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
}

func TestCandidates_ExcludesOwnPromotion(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, 500, 1000)
	ctx := context.Background()

	own, err := f.svc.Candidates(ctx, f.alice, 3)
	require.NoError(t, err)
	assert.Empty(t, own)

	other, err := f.svc.Candidates(ctx, f.bob, 3)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, f.alicePo, other[0].ID)
	assert.Equal(t, p.ID, other[0].PromotionID)
}

func TestCandidates_OutsideWindow(t *testing.T) {
	f := newFixture(t)
	f.create(t, 500, 1000)

	f.clock.Advance(25 * time.Hour)
	list, err := f.svc.Candidates(context.Background(), f.bob, 3)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRecordImpressions_ExhaustsBudget(t *testing.T) {
	f := newFixture(t)
	// 每次曝光 1 分，预算 3 分
	p := f.create(t, 3, 1000)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		served, err := f.svc.Candidates(ctx, f.bob, 1)
		require.NoError(t, err)
		require.Len(t, served, 1, "round %d", i)
		f.svc.RecordImpressions(ctx, served)
	}

	stored, err := f.mem.GetPromotion(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PromotionExhausted, stored.Status)
	assert.Equal(t, int64(3), stored.Impressions)

	served, err := f.svc.Candidates(ctx, f.bob, 1)
	require.NoError(t, err)
	assert.Empty(t, served)
}

func posts(ids ...string) []model.Post {
	out := make([]model.Post, len(ids))
	for i, id := range ids {
		out[i] = model.Post{ID: id}
	}
	return out
}

func ids(list []model.Post) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.ID
	}
	return out
}

func TestInterleave(t *testing.T) {
	organic := posts("a", "b", "c", "d", "e")
	promos := posts("p1", "p2", "p3")

	assert.Equal(t, []string{"a", "b", "p1", "c", "d", "p2", "e"}, ids(Interleave(organic, promos, 2)))
	assert.Equal(t, ids(organic), ids(Interleave(organic, promos, 0)))
	assert.Equal(t, ids(organic), ids(Interleave(organic, nil, 2)))
}

func TestInterleave_NoDuplicates(t *testing.T) {
	organic := posts("a", "b", "c", "d")
	// b 已经在普通流里，p1 重复出现
	promos := posts("b", "p1", "p1", "p2")

	assert.Equal(t, []string{"a", "b", "p1", "c", "d", "p2"}, ids(Interleave(organic, promos, 2)))
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

func TestRedisCounter(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	c := NewRedisCounter(client)
	ctx := context.Background()

	n, err := c.Incr(ctx, "promo-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Incr(ctx, "promo-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.Incr(ctx, "promo-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
