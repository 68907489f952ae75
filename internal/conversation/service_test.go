package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.planverse/internal/event"
	"sudooom.planverse/internal/loop"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/realtime"
	"sudooom.planverse/internal/task"
	appErrors "sudooom.planverse/shared/errors"
)

type fakeStore struct {
	rows     []model.Conversation
	orderErr error
	flagErr  error
	writes   [][]model.OrderUpdate
	fetches  int
	resets   []string
}

func (f *fakeStore) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	f.fetches++
	out := make([]model.Conversation, len(f.rows))
	for i := range f.rows {
		out[i] = clone(&f.rows[i])
	}
	return out, nil
}

func (f *fakeStore) UpdateDisplayOrders(ctx context.Context, userID string, updates []model.OrderUpdate) error {
	if f.orderErr != nil {
		return f.orderErr
	}
	f.writes = append(f.writes, updates)
	for _, u := range updates {
		for i := range f.rows {
			if f.rows[i].ID == u.ConversationID {
				f.rows[i].DisplayOrder = model.IntPtr(u.DisplayOrder)
			}
		}
	}
	return nil
}

func (f *fakeStore) SetConversationPinned(ctx context.Context, userID, conversationID string, pinned bool) error {
	return f.flagErr
}

func (f *fakeStore) SetConversationMuted(ctx context.Context, userID, conversationID string, muted bool) error {
	return f.flagErr
}

func (f *fakeStore) ResetUnread(ctx context.Context, userID, conversationID string) error {
	f.resets = append(f.resets, conversationID)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeStore, *loop.Manual, *event.Recorder) {
	t.Helper()
	store := &fakeStore{rows: []model.Conversation{
		row("p1", true, model.IntPtr(-2), t0),
		row("p2", true, model.IntPtr(-1), t0),
		row("a", false, model.IntPtr(1), t0),
		row("b", false, model.IntPtr(2), t0),
		row("c", false, model.IntPtr(3), t0),
	}}
	lp := loop.NewManual()
	rec := &event.Recorder{}
	svc := NewService(Options{UserID: me, Store: store, Loop: lp, Sink: rec.Sink})

	svc.Refresh()
	lp.Drain()
	require.True(t, svc.Loaded())
	return svc, store, lp, rec
}

func TestServiceReorderPersists(t *testing.T) {
	svc, store, lp, _ := newTestService(t)

	require.NoError(t, svc.Reorder("c", 2))
	lp.Drain()

	require.Len(t, store.writes, 1)
	assert.Equal(t, []string{"p1", "p2", "c", "a", "b"}, order(svc.Sorted()))

	// 相同的拖动不再写入
	require.NoError(t, svc.Reorder("c", 2))
	lp.Drain()
	assert.Len(t, store.writes, 1)
}

func TestServiceCrossPartitionNotice(t *testing.T) {
	svc, store, lp, rec := newTestService(t)
	before := svc.Sorted()

	err := svc.Reorder("p1", 3)
	lp.Drain()

	assert.True(t, appErrors.Is(err, appErrors.ErrCrossPartition))
	assert.Empty(t, store.writes)
	assert.Equal(t, before, svc.Sorted())
	assert.Equal(t, []int{appErrors.CodeCrossPartition}, rec.Notices())
}

func TestServiceReorderFailureRestoresServerOrder(t *testing.T) {
	svc, store, lp, rec := newTestService(t)
	store.orderErr = errors.New("timeout")
	fetches := store.fetches

	require.NoError(t, svc.Reorder("c", 2))
	assert.Equal(t, []string{"p1", "p2", "c", "a", "b"}, order(svc.Sorted()))

	lp.Drain()

	assert.Equal(t, fetches+1, store.fetches)
	assert.Equal(t, []string{"p1", "p2", "a", "b", "c"}, order(svc.Sorted()))
	assert.Equal(t, []int{appErrors.CodeReorderFailed}, rec.Notices())
}

func TestServiceRefreshSuppressedWhileReorderInFlight(t *testing.T) {
	svc, store, lp, _ := newTestService(t)
	// 写入回调排队，尚未回到循环
	lp2 := &deferredLoop{Manual: lp}
	svc.loop = lp2

	require.NoError(t, svc.Reorder("c", 2))
	fetches := store.fetches

	// 后台刷新被跳过，本地顺序保持
	svc.Refresh()
	assert.Equal(t, fetches, store.fetches)

	// 实时行变更同样延后
	fresh := row("3e1f6a7b-8c9d-4e0f-a1b2-c3d4e5f60718", false, nil, t0.Add(time.Hour))
	c, err := realtime.NewChange(realtime.Insert, realtime.TableConversations, me, fresh)
	require.NoError(t, err)
	svc.HandleChange(c)
	assert.Equal(t, []string{"p1", "p2", "c", "a", "b"}, order(svc.Sorted()))

	// 写入完成后补一次拉取，结果与本地一致
	lp2.release()
	lp.Drain()
	assert.Equal(t, fetches+1, store.fetches)
	assert.Equal(t, []string{"p1", "p2", "c", "a", "b"}, order(svc.Sorted()))
}

// deferredLoop 把 Go 也排入队列，模拟 I/O 尚未完成
type deferredLoop struct {
	*loop.Manual
	held []func()
}

func (d *deferredLoop) Go(fn func()) {
	d.held = append(d.held, fn)
}

func (d *deferredLoop) release() {
	held := d.held
	d.held = nil
	for _, fn := range held {
		d.Manual.Go(fn)
	}
	// 释放后产生的 I/O 直接执行
	d.Manual.Drain()
	for len(d.held) > 0 {
		held, d.held = d.held, nil
		for _, fn := range held {
			d.Manual.Go(fn)
		}
		d.Manual.Drain()
	}
}

func TestServiceMarkRead(t *testing.T) {
	svc, store, lp, _ := newTestService(t)
	store.rows[2].UnreadCount = 4
	svc.Refresh()
	lp.Drain()

	svc.MarkRead("a")
	lp.Drain()
	got, _ := svc.Get("a")
	assert.Equal(t, 0, got.UnreadCount)
	assert.Equal(t, []string{"a"}, store.resets)

	// 刷新带回旧的未读数
	svc.Refresh()
	lp.Drain()
	got, _ = svc.Get("a")
	assert.Equal(t, 0, got.UnreadCount)
}

func TestServiceSetMutedRollback(t *testing.T) {
	svc, store, lp, rec := newTestService(t)
	store.flagErr = errors.New("denied")

	require.NoError(t, svc.SetMuted("a", true))
	got, _ := svc.Get("a")
	assert.True(t, got.Muted)

	lp.Drain()
	got, _ = svc.Get("a")
	assert.False(t, got.Muted)
	assert.Equal(t, []int{appErrors.CodeUpdateFailed}, rec.Notices())
}

func TestServiceSetPinnedRollbackRefetches(t *testing.T) {
	svc, store, lp, _ := newTestService(t)
	store.flagErr = errors.New("denied")

	require.NoError(t, svc.SetPinned("a", true))
	lp.Drain()

	got, _ := svc.Get("a")
	assert.False(t, got.Pinned)
	assert.True(t, appErrors.Is(svc.SetPinned("missing", true), appErrors.ErrConversationNotFound))
}

func TestServiceHandleChange(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	fresh := row("3e1f6a7b-8c9d-4e0f-a1b2-c3d4e5f60718", false, nil, t0.Add(time.Hour))
	c, err := realtime.NewChange(realtime.Insert, realtime.TableConversations, me, fresh)
	require.NoError(t, err)
	svc.HandleChange(c)
	assert.Equal(t, 6, len(svc.Sorted()))

	// 置顶标志与排序值符号不一致的行被拒绝
	bad := fresh
	bad.ID = "4a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
	bad.DisplayOrder = model.IntPtr(-1)
	c, err = realtime.NewChange(realtime.Insert, realtime.TableConversations, me, bad)
	require.NoError(t, err)
	svc.HandleChange(c)
	assert.Equal(t, 6, len(svc.Sorted()))

	c, err = realtime.NewChange(realtime.Delete, realtime.TableConversations, me, fresh)
	require.NoError(t, err)
	svc.HandleChange(c)
	assert.Equal(t, 5, len(svc.Sorted()))
}

func TestServiceEventTimeFromClock(t *testing.T) {
	store := &fakeStore{rows: []model.Conversation{row("a", false, model.IntPtr(1), t0)}}
	lp := loop.NewManual()
	rec := &event.Recorder{}
	clock := task.NewManualClock(t0)
	svc := NewService(Options{UserID: me, Store: store, Loop: lp, Clock: clock, Sink: rec.Sink})

	svc.Refresh()
	lp.Drain()
	events := rec.OfKind(event.KindConversations)
	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].At.Equal(t0))

	clock.Advance(time.Minute)
	fresh := row("3e1f6a7b-8c9d-4e0f-a1b2-c3d4e5f60718", false, nil, t0.Add(time.Hour))
	c, err := realtime.NewChange(realtime.Insert, realtime.TableConversations, me, fresh)
	require.NoError(t, err)
	svc.HandleChange(c)

	events = rec.OfKind(event.KindConversations)
	assert.True(t, events[len(events)-1].At.Equal(t0.Add(time.Minute)))
}
