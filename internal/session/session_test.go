package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.planverse/internal/event"
	"sudooom.planverse/internal/loop"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/task"
	"sudooom.planverse/internal/testkit"
	"sudooom.planverse/shared/snowflake"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	t     *testing.T
	mem   *testkit.Memory
	clock *task.ManualClock
	alice string
	bob   string
	conv  string
	s     *Session
	loop  *loop.Serial
}

func platformOf(mem *testkit.Memory) Platform {
	return Platform{
		Messages:      mem,
		Uploader:      mem,
		Receipts:      mem,
		Conversations: mem,
		Settings:      mem,
		Bus:           mem.Hub,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := task.NewManualClock(t0)
	mem := testkit.NewMemory(clock)
	h := &harness{t: t, mem: mem, clock: clock}
	h.alice = mem.AddUser("alice")
	h.bob = mem.AddUser("bob")

	conv, err := mem.CreateConversation(context.Background(), h.alice, h.bob)
	require.NoError(t, err)
	h.conv = conv

	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)

	h.loop = loop.NewSerial(256, nil)
	h.s = New(Options{
		UserID:   h.alice,
		Config:   DefaultConfig(),
		Platform: platformOf(mem),
		Loop:     h.loop,
		Clock:    clock,
		IDs:      ids,
	})
	require.NoError(t, h.s.Start(context.Background()))
	t.Cleanup(func() {
		_ = h.s.Stop(context.Background())
		h.loop.Close()
	})

	require.Eventually(t, func() bool {
		list, err := h.s.Conversations(context.Background())
		return err == nil && len(list) == 1
	}, waitFor, tick)
	return h
}

func (h *harness) view() []model.Message {
	v, err := h.s.Open(context.Background(), h.conv)
	require.NoError(h.t, err)
	out := make([]model.Message, 0, len(v.Messages))
	for _, mv := range v.Messages {
		out = append(out, mv.Message)
	}
	return out
}

// bobSays 模拟对方从另一端发来消息
func (h *harness) bobSays(text string) {
	_, err := h.mem.InsertMessage(context.Background(), &model.Message{
		ConversationID: h.conv,
		SenderID:       h.bob,
		ReceiverID:     h.alice,
		Content:        text,
	})
	require.NoError(h.t, err)
}

func TestSession_OpenLoadsHistory(t *testing.T) {
	h := newHarness(t)
	h.bobSays("早")

	msgs := h.view()
	require.Len(t, msgs, 1)
	assert.Equal(t, "早", msgs[0].Content)
}

func TestSession_SendConfirmedByRealtime(t *testing.T) {
	h := newHarness(t)
	h.view()

	sent, err := h.s.Send(context.Background(), h.conv, model.Draft{ConversationID: h.conv, ReceiverID: h.bob, Content: "hi"})
	require.NoError(t, err)
	assert.True(t, sent.IsTemp())

	require.Eventually(t, func() bool {
		msgs := h.view()
		return len(msgs) == 1 && !msgs[0].IsTemp() && msgs[0].Status == model.StatusSent
	}, waitFor, tick)

	stored := h.mem.Messages(h.conv)
	require.Len(t, stored, 1)
	assert.Equal(t, sent.ID, stored[0].ClientID)
	assert.Equal(t, stored[0].ID, h.view()[0].ID)
}

func TestSession_IncomingMessageMarkedReadAfterDebounce(t *testing.T) {
	h := newHarness(t)
	h.view()
	h.bobSays("在吗")

	require.Eventually(t, func() bool {
		msgs := h.view()
		return len(msgs) == 1 && msgs[0].Status == model.StatusDelivered
	}, waitFor, tick)

	// 打开状态下收到的消息在防抖结束后写回已读
	require.Eventually(t, func() bool {
		return h.clock.Pending() > 0
	}, waitFor, tick)
	h.clock.Advance(DefaultConfig().ReadDebounce)

	require.Eventually(t, func() bool {
		stored := h.mem.Messages(h.conv)
		return len(stored) == 1 && stored[0].IsRead && stored[0].Status == model.StatusSeen
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		list, err := h.s.Conversations(context.Background())
		return err == nil && list[0].UnreadCount == 0
	}, waitFor, tick)
}

func TestSession_PollsWhileDisconnected(t *testing.T) {
	h := newHarness(t)
	h.view()

	h.mem.Hub.SetConnected(false)
	require.Eventually(t, func() bool {
		polling, err := h.s.Polling(context.Background())
		return err == nil && polling
	}, waitFor, tick)

	// 断线期间的插入不会经实时通道到达
	h.bobSays("断线时发的")
	assert.Empty(t, h.view())

	h.clock.Advance(DefaultConfig().PollInterval)
	require.Eventually(t, func() bool {
		return len(h.view()) == 1
	}, waitFor, tick)

	h.mem.Hub.SetConnected(true)
	require.Eventually(t, func() bool {
		polling, err := h.s.Polling(context.Background())
		return err == nil && !polling
	}, waitFor, tick)
}

func TestSession_CatchUpOnReconnect(t *testing.T) {
	h := newHarness(t)
	h.view()

	h.mem.Hub.SetConnected(false)
	h.bobSays("补拉")
	h.mem.Hub.SetConnected(true)

	require.Eventually(t, func() bool {
		return len(h.view()) == 1
	}, waitFor, tick)
}

func TestSession_ReorderRejectedAcrossPartitionsEmitsNotice(t *testing.T) {
	h := newHarness(t)
	other := h.mem.AddUser("carol")
	conv2, err := h.mem.CreateConversation(context.Background(), h.alice, other)
	require.NoError(t, err)

	events, cancel := h.s.Subscribe()
	defer cancel()

	require.Eventually(t, func() bool {
		list, err := h.s.Conversations(context.Background())
		return err == nil && len(list) == 2
	}, waitFor, tick)
	require.NoError(t, h.s.SetPinned(context.Background(), conv2, true))
	require.Eventually(t, func() bool {
		c, ok := h.mem.Conversation(conv2, h.alice)
		return ok && c.Pinned
	}, waitFor, tick)

	// 未置顶的会话拖到置顶分区
	err = h.s.Reorder(context.Background(), h.conv, 0)
	require.Error(t, err)

	sawNotice := false
	timeout := time.After(waitFor)
	for !sawNotice {
		select {
		case e := <-events:
			sawNotice = e.Kind == event.KindNotice
		case <-timeout:
			t.Fatal("no notice emitted")
		}
	}
}

func TestSession_DeliverFansOutToSubscribers(t *testing.T) {
	h := newHarness(t)
	events, cancel := h.s.Subscribe()
	defer cancel()
	assert.Equal(t, 1, h.s.Subscribers())

	n := model.Notification{ID: "n1", UserID: h.alice, Kind: model.NotifyFriendRequest, Title: "bob 请求添加好友"}
	h.s.Deliver(n)
	h.s.Deliver(n)

	timeout := time.After(waitFor)
	for {
		select {
		case e := <-events:
			if e.Kind != event.KindNotification {
				continue
			}
			assert.Equal(t, n, e.Data)
			require.Eventually(t, func() bool {
				return h.s.State().UnreadNotifications() == 1
			}, waitFor, tick)
			return
		case <-timeout:
			t.Fatal("notification not delivered")
		}
	}
}

func TestSession_ReadReceiptsOffHidesSeen(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mem.UpdateSettings(context.Background(), model.Settings{UserID: h.alice, ReadReceipts: false}))
	h.s.ApplySettings(model.Settings{UserID: h.alice, ReadReceipts: false})

	_, err := h.s.Send(context.Background(), h.conv, model.Draft{ConversationID: h.conv, ReceiverID: h.bob, Content: "hi"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := h.view()
		return len(msgs) == 1 && !msgs[0].IsTemp()
	}, waitFor, tick)

	_, err = h.mem.MarkMessagesRead(context.Background(), h.conv, h.bob)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, err := h.s.Open(context.Background(), h.conv)
		if err != nil || len(v.Messages) != 1 {
			return false
		}
		mv := v.Messages[0]
		return mv.Status == model.StatusSeen && mv.DisplayStatus == model.StatusDelivered
	}, waitFor, tick)
}

func TestSession_StopRejectsCalls(t *testing.T) {
	h := newHarness(t)
	events, _ := h.s.Subscribe()

	require.NoError(t, h.s.Stop(context.Background()))
	_, open := <-events
	assert.False(t, open)

	_, err := h.s.Conversations(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, h.mem.Hub.Subscribers("conversation_members", h.alice))
}

func TestSession_UnknownConversation(t *testing.T) {
	h := newHarness(t)

	_, err := h.s.Open(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.Error(t, err)
	_, err = h.s.Typing(context.Background(), "00000000-0000-0000-0000-000000000000", true)
	assert.Error(t, err)
	assert.Error(t, h.s.Pin(context.Background(), "missing"))
}
