package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.planverse/internal/model"
	appErrors "sudooom.planverse/shared/errors"
)

const me = "0a8c2f6e-1b2d-4e3f-8a9b-0c1d2e3f4a5b"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func row(id string, pinned bool, order *int, last time.Time) model.Conversation {
	return model.Conversation{
		ID:            id,
		UserID:        me,
		PeerID:        "9f8e7d6c-5b4a-4392-8170-6f5e4d3c2b1a",
		Pinned:        pinned,
		DisplayOrder:  order,
		LastMessageAt: last,
	}
}

func order(list []model.Conversation) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = list[i].ID
	}
	return out
}

// fixture: 置顶 p1(-2) p2(-1)，普通 a(1) b(2) c(无排序，最新)
func fixture() *List {
	l := NewList()
	l.Replace([]model.Conversation{
		row("c", false, nil, t0.Add(time.Hour)),
		row("b", false, model.IntPtr(2), t0),
		row("a", false, model.IntPtr(1), t0),
		row("p2", true, model.IntPtr(-1), t0),
		row("p1", true, model.IntPtr(-2), t0),
	})
	return l
}

func TestSorted(t *testing.T) {
	l := fixture()
	assert.Equal(t, []string{"p1", "p2", "a", "b", "c"}, order(l.Sorted()))
}

func TestSortedUnorderedByRecency(t *testing.T) {
	l := NewList()
	l.Replace([]model.Conversation{
		row("old", false, nil, t0),
		row("new", false, nil, t0.Add(time.Minute)),
	})
	assert.Equal(t, []string{"new", "old"}, order(l.Sorted()))
}

func TestReorderWithinPartition(t *testing.T) {
	l := fixture()

	updates, err := l.Reorder("c", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "c", "a", "b"}, order(l.Sorted()))

	byID := map[string]int{}
	for _, u := range updates {
		byID[u.ConversationID] = u.DisplayOrder
	}
	assert.Equal(t, map[string]int{"c": 1, "a": 2, "b": 3}, byID)
}

func TestReorderIdempotent(t *testing.T) {
	l := fixture()

	_, err := l.Reorder("b", 2)
	require.NoError(t, err)
	first := l.Sorted()

	updates, err := l.Reorder("b", 2)
	require.NoError(t, err)
	assert.Empty(t, updates)
	assert.Equal(t, first, l.Sorted())
}

func TestReorderPinnedPartitionNumbering(t *testing.T) {
	l := fixture()

	_, err := l.Reorder("p2", 0)
	require.NoError(t, err)

	sorted := l.Sorted()
	assert.Equal(t, []string{"p2", "p1"}, order(sorted[:2]))
	assert.Equal(t, -2, *sorted[0].DisplayOrder)
	assert.Equal(t, -1, *sorted[1].DisplayOrder)
}

func TestReorderCrossPartitionRejected(t *testing.T) {
	l := fixture()
	before := l.Sorted()

	// p1 的排序值为 -2，拖到普通分区的第 3 个位置
	updates, err := l.Reorder("p1", 3)

	assert.True(t, appErrors.Is(err, appErrors.ErrCrossPartition))
	assert.Empty(t, updates)
	assert.Equal(t, before, l.Sorted())
}

func TestReorderUnknownAndOutOfRange(t *testing.T) {
	l := fixture()

	_, err := l.Reorder("missing", 0)
	assert.True(t, appErrors.Is(err, appErrors.ErrConversationNotFound))

	_, err = l.Reorder("a", 9)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidParams))
}

func TestMarkReadSurvivesStaleRefresh(t *testing.T) {
	l := NewList()
	c := row("a", false, nil, t0)
	c.UnreadCount = 3
	l.Replace([]model.Conversation{c})

	assert.True(t, l.MarkRead("a"))

	// 与已读无关的刷新带回了旧的未读数
	l.Replace([]model.Conversation{c})
	got, _ := l.Get("a")
	assert.Equal(t, 0, got.UnreadCount)

	// 之后有新消息，服务端的未读数生效
	newer := c
	newer.LastMessageAt = t0.Add(time.Minute)
	newer.UnreadCount = 1
	l.Upsert(newer)
	got, _ = l.Get("a")
	assert.Equal(t, 1, got.UnreadCount)
}

func TestTouch(t *testing.T) {
	l := NewList()
	l.Replace([]model.Conversation{row("a", false, nil, t0)})

	m := &model.Message{ID: "m1", ConversationID: "a", ReceiverID: me, Content: "hi", CreatedAt: t0.Add(time.Second)}
	assert.True(t, l.Touch(m, me, false))
	assert.False(t, l.Touch(m, me, false))

	got, _ := l.Get("a")
	assert.Equal(t, 1, got.UnreadCount)
	assert.Equal(t, "hi", got.LastMessage)

	open := &model.Message{ID: "m2", ConversationID: "a", ReceiverID: me, ImageURL: "https://x/y.png", CreatedAt: t0.Add(2 * time.Second)}
	assert.True(t, l.Touch(open, me, true))
	got, _ = l.Get("a")
	assert.Equal(t, 1, got.UnreadCount)
	assert.Equal(t, "[图片]", got.LastMessage)
}

func TestSetPinnedClearsOrder(t *testing.T) {
	l := fixture()

	assert.True(t, l.SetPinned("a", true))
	got, _ := l.Get("a")
	assert.True(t, got.Pinned)
	assert.Nil(t, got.DisplayOrder)
	assert.Equal(t, []string{"p1", "p2", "a", "b", "c"}, order(l.Sorted()))
}

func TestUnreadTotalSkipsMuted(t *testing.T) {
	l := NewList()
	a := row("a", false, nil, t0)
	a.UnreadCount = 2
	b := row("b", false, nil, t0)
	b.UnreadCount = 5
	b.Muted = true
	l.Replace([]model.Conversation{a, b})

	assert.Equal(t, 2, l.UnreadTotal())
}

func TestGetReturnsCopy(t *testing.T) {
	l := fixture()
	got, _ := l.Get("a")
	*got.DisplayOrder = 99

	again, _ := l.Get("a")
	assert.Equal(t, 1, *again.DisplayOrder)
}
