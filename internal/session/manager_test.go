package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/task"
	"sudooom.planverse/internal/testkit"
)

func newManager(t *testing.T) (*Manager, *testkit.Memory, *task.ManualClock) {
	t.Helper()
	clock := task.NewManualClock(t0)
	mem := testkit.NewMemory(clock)
	m := NewManager(ManagerOptions{
		Config:   DefaultConfig(),
		Platform: platformOf(mem),
		Clock:    clock,
		IdleTTL:  time.Minute,
	})
	t.Cleanup(m.StopAll)
	return m, mem, clock
}

func TestManager_GetReusesSession(t *testing.T) {
	m, mem, _ := newManager(t)
	alice := mem.AddUser("alice")

	s1, err := m.Get(context.Background(), alice)
	require.NoError(t, err)
	s2, err := m.Get(context.Background(), alice)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, m.Len())

	got, ok := m.Lookup(alice)
	assert.True(t, ok)
	assert.Same(t, s1, got)
}

func TestManager_SweepEvictsIdleWithoutSubscribers(t *testing.T) {
	m, mem, clock := newManager(t)
	alice := mem.AddUser("alice")
	bob := mem.AddUser("bob")

	_, err := m.Get(context.Background(), alice)
	require.NoError(t, err)
	sb, err := m.Get(context.Background(), bob)
	require.NoError(t, err)
	_, cancel := sb.Subscribe()
	defer cancel()

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, m.Sweep())

	_, ok := m.Lookup(alice)
	assert.False(t, ok)
	_, ok = m.Lookup(bob)
	assert.True(t, ok)
}

func TestManager_GetRefreshesIdleTime(t *testing.T) {
	m, mem, clock := newManager(t)
	alice := mem.AddUser("alice")

	s1, err := m.Get(context.Background(), alice)
	require.NoError(t, err)

	// 刚被 Get 取走还没来得及订阅的会话不能被回收
	clock.Advance(2 * time.Minute)
	s2, err := m.Get(context.Background(), alice)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 0, m.Sweep())
}

func TestManager_GetSkipsClosingSession(t *testing.T) {
	m, mem, _ := newManager(t)
	alice := mem.AddUser("alice")

	old, err := m.Get(context.Background(), alice)
	require.NoError(t, err)

	// 模拟 Sweep 已选中该会话但尚未关闭完成
	m.mu.Lock()
	e := m.sessions[alice]
	e.closing = true
	m.mu.Unlock()

	_, ok := m.Lookup(alice)
	assert.False(t, ok)

	fresh, err := m.Get(context.Background(), alice)
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)

	// 旧会话关闭后不会把新会话移出表
	m.stop(alice, e)
	got, ok := m.Lookup(alice)
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.Equal(t, 1, m.Len())
}

func TestManager_DeliverOnlyToLiveSessions(t *testing.T) {
	m, mem, _ := newManager(t)
	alice := mem.AddUser("alice")

	assert.False(t, m.Deliver(model.Notification{ID: "n1", UserID: alice}))

	s, err := m.Get(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, m.Deliver(model.Notification{ID: "n1", UserID: alice}))

	require.Eventually(t, func() bool {
		return s.State().UnreadNotifications() == 1
	}, waitFor, tick)
}

func TestManager_ApplySettings(t *testing.T) {
	m, mem, _ := newManager(t)
	alice := mem.AddUser("alice")
	s, err := m.Get(context.Background(), alice)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.State().ReadReceipts() }, waitFor, tick)
	m.ApplySettings(model.Settings{UserID: alice, ReadReceipts: false})
	require.Eventually(t, func() bool { return !s.State().ReadReceipts() }, waitFor, tick)
}

func TestManager_RunStopsAllOnCancel(t *testing.T) {
	m, mem, _ := newManager(t)
	_, err := m.Get(context.Background(), mem.AddUser("alice"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 0, m.Len())
}
