package receipts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.planverse/internal/loop"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/task"
)

const (
	me   = "0a8c2f6e-1b2d-4e3f-8a9b-0c1d2e3f4a5b"
	peer = "9f8e7d6c-5b4a-4392-8170-6f5e4d3c2b1a"
	conv = "5d1f0a4e-7a3b-4c1a-9f3e-2b6a1c0d9e01"
)

type fakeStore struct {
	calls int
	ids   []string
	err   error
}

func (f *fakeStore) MarkMessagesRead(ctx context.Context, conversationID, readerID string) ([]string, error) {
	f.calls++
	return f.ids, f.err
}

func TestDisplayStatus(t *testing.T) {
	mine := &model.Message{SenderID: me, Status: model.StatusSeen}
	theirs := &model.Message{SenderID: peer, Status: model.StatusSeen}

	assert.Equal(t, model.StatusSeen, DisplayStatus(mine, me, true))
	assert.Equal(t, model.StatusDelivered, DisplayStatus(mine, me, false))
	assert.Equal(t, model.StatusSeen, DisplayStatus(theirs, me, false))

	sent := &model.Message{SenderID: me, Status: model.StatusSent}
	assert.Equal(t, model.StatusSent, DisplayStatus(sent, me, false))
}

func newMarker(store Store, enabled bool) (*Marker, *loop.Manual, *task.ManualClock, *[][]string) {
	l := loop.NewManual()
	clock := task.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	var reads [][]string
	m := NewMarker(Options{
		UserID:  me,
		Delay:   800 * time.Millisecond,
		Store:   store,
		Loop:    l,
		Clock:   clock,
		Enabled: func() bool { return enabled },
		OnRead:  func(_ string, ids []string) { reads = append(reads, ids) },
	})
	return m, l, clock, &reads
}

func TestMarker_Debounces(t *testing.T) {
	store := &fakeStore{ids: []string{"m1", "m2"}}
	m, l, clock, reads := newMarker(store, true)

	m.Displayed(conv)
	clock.Advance(500 * time.Millisecond)
	m.Displayed(conv)
	clock.Advance(500 * time.Millisecond)
	l.Drain()
	assert.Zero(t, store.calls, "静默期未结束不应写入")
	assert.True(t, m.Pending(conv))

	clock.Advance(400 * time.Millisecond)
	l.Drain()
	assert.Equal(t, 1, store.calls)
	require.Len(t, *reads, 1)
	assert.Equal(t, []string{"m1", "m2"}, (*reads)[0])
	assert.False(t, m.Pending(conv))
}

func TestMarker_DisabledSkipsWrite(t *testing.T) {
	store := &fakeStore{ids: []string{"m1"}}
	m, l, clock, reads := newMarker(store, false)

	m.Displayed(conv)
	clock.Advance(time.Second)
	l.Drain()

	assert.Zero(t, store.calls)
	require.Len(t, *reads, 1)
	assert.Empty(t, (*reads)[0])
}

func TestMarker_StoreErrorStillCallsBack(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	m, l, clock, reads := newMarker(store, true)

	m.Displayed(conv)
	clock.Advance(time.Second)
	l.Drain()

	require.Len(t, *reads, 1)
	assert.Empty(t, (*reads)[0])
}

func TestMarker_Cancel(t *testing.T) {
	store := &fakeStore{}
	m, l, clock, _ := newMarker(store, true)

	m.Displayed(conv)
	m.Cancel(conv)
	clock.Advance(time.Second)
	l.Drain()
	assert.Zero(t, store.calls)
}
