package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.planverse/internal/model"
)

const (
	me   = "0a8c2f6e-1b2d-4e3f-8a9b-0c1d2e3f4a5b"
	peer = "9f8e7d6c-5b4a-4392-8170-6f5e4d3c2b1a"
	conv = "5d1f0a4e-7a3b-4c1a-9f3e-2b6a1c0d9e01"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id, sender, content string, at time.Time) model.Message {
	receiver := peer
	if sender == peer {
		receiver = me
	}
	return model.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		ReceiverID:     receiver,
		Content:        content,
		Status:         model.StatusSent,
		CreatedAt:      at,
	}
}

func temp(id, content string, at time.Time) model.Message {
	m := msg(model.TempIDPrefix+id, me, content, at)
	m.Status = model.StatusSending
	return m
}

func ids(list []model.Message) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = list[i].ID
	}
	return out
}

func TestMergeInsertSorted(t *testing.T) {
	var list []model.Message
	list, res := Merge(list, msg("b", peer, "2", t0.Add(2*time.Second)), time.Second)
	assert.Equal(t, Inserted, res.Outcome)
	list, _ = Merge(list, msg("a", peer, "1", t0), time.Second)
	list, _ = Merge(list, msg("c", peer, "3", t0.Add(2*time.Second)), time.Second)

	assert.Equal(t, []string{"a", "b", "c"}, ids(list))
}

func TestMergeDuplicateIsNoop(t *testing.T) {
	m := msg("a", peer, "hi", t0)
	list, _ := Merge(nil, m, time.Second)
	again, res := Merge(list, m, time.Second)

	assert.Equal(t, Duplicate, res.Outcome)
	assert.Equal(t, list, again)
}

func TestMergeStatusNeverRegresses(t *testing.T) {
	seen := msg("a", me, "hi", t0)
	seen.Status = model.StatusSeen
	seen.IsRead = true
	list, _ := Merge(nil, seen, time.Second)

	stale := msg("a", me, "hi", t0)
	stale.Status = model.StatusDelivered
	list, res := Merge(list, stale, time.Second)

	assert.Equal(t, Duplicate, res.Outcome)
	require.Len(t, list, 1)
	assert.Equal(t, model.StatusSeen, list[0].Status)
	assert.True(t, list[0].IsRead)
}

func TestMergeConfirmsByClientID(t *testing.T) {
	list := []model.Message{
		msg("x", peer, "before", t0.Add(-time.Second)),
		temp("1", "hello", t0),
	}
	row := msg("srv-1", me, "hello", t0.Add(300*time.Millisecond))
	row.ClientID = model.TempIDPrefix + "1"

	out, res := Merge(list, row, 5*time.Second)

	assert.Equal(t, Confirmed, res.Outcome)
	assert.Equal(t, model.TempIDPrefix+"1", res.TempID)
	assert.Equal(t, []string{"x", "srv-1"}, ids(out))
	assert.Equal(t, model.StatusSent, out[1].Status)
	// 入参不被修改
	assert.Equal(t, model.TempIDPrefix+"1", list[1].ID)
}

func TestMergeConfirmRepositionsOnlyWhenOutOfOrder(t *testing.T) {
	list := []model.Message{
		temp("1", "a", t0),
		msg("y", peer, "reply", t0.Add(time.Second)),
	}
	row := msg("srv-1", me, "a", t0.Add(2*time.Second))
	row.ClientID = model.TempIDPrefix + "1"

	out, res := Merge(list, row, 5*time.Second)

	assert.Equal(t, Confirmed, res.Outcome)
	assert.Equal(t, []string{"y", "srv-1"}, ids(out))
}

func TestMergeHeuristicPicksClosestTemp(t *testing.T) {
	list := []model.Message{
		temp("1", "same", t0),
		temp("2", "same", t0.Add(2*time.Second)),
	}
	row := msg("srv", me, "same", t0.Add(1800*time.Millisecond))

	out, res := Merge(list, row, 5*time.Second)

	assert.Equal(t, Confirmed, res.Outcome)
	assert.Equal(t, model.TempIDPrefix+"2", res.TempID)
	assert.Equal(t, []string{model.TempIDPrefix + "1", "srv"}, ids(out))
}

func TestMergeHeuristicRespectsWindowAndSender(t *testing.T) {
	list := []model.Message{temp("1", "same", t0)}

	far := msg("srv", me, "same", t0.Add(6*time.Second))
	_, res := Merge(list, far, 5*time.Second)
	assert.Equal(t, Inserted, res.Outcome)

	other := msg("srv2", peer, "same", t0)
	_, res = Merge(list, other, 5*time.Second)
	assert.Equal(t, Inserted, res.Outcome)
}

func TestMergeClientIDDoesNotFallBackToHeuristic(t *testing.T) {
	list := []model.Message{temp("1", "same", t0)}
	row := msg("srv", me, "same", t0)
	row.ClientID = model.TempIDPrefix + "gone"

	out, res := Merge(list, row, 5*time.Second)

	assert.Equal(t, Inserted, res.Outcome)
	assert.Len(t, out, 2)
}

func TestMergeKnownIDRemovesStaleTemp(t *testing.T) {
	// 回退拉取先插入了服务端行，临时消息因并发仍残留
	list := []model.Message{
		temp("1", "hello", t0),
		msg("srv", me, "hello", t0.Add(100*time.Millisecond)),
	}
	row := list[1]
	row.ClientID = model.TempIDPrefix + "1"

	out, res := Merge(list, row, 5*time.Second)

	assert.Equal(t, Updated, res.Outcome)
	assert.Equal(t, []string{"srv"}, ids(out))
}

func TestMergeKnownIDRepositionsOnTimeChange(t *testing.T) {
	list := []model.Message{
		msg("a", peer, "1", t0),
		msg("b", peer, "2", t0.Add(time.Second)),
		msg("c", peer, "3", t0.Add(2*time.Second)),
	}
	// 服务端修正了创建时间
	moved := list[0]
	moved.CreatedAt = t0.Add(3 * time.Second)

	out, res := Merge(list, moved, time.Second)

	assert.Equal(t, Updated, res.Outcome)
	assert.Equal(t, []string{"b", "c", "a"}, ids(out))
	assert.Equal(t, []string{"a", "b", "c"}, ids(list))

	moved = out[2]
	moved.CreatedAt = t0.Add(1500 * time.Millisecond)
	out, _ = Merge(out, moved, time.Second)
	assert.Equal(t, []string{"b", "a", "c"}, ids(out))
}

func TestMergeFailedTempConfirmsAsSent(t *testing.T) {
	failed := temp("1", "hello", t0)
	failed.Status = model.StatusFailed
	row := msg("srv", me, "hello", t0)
	row.ClientID = failed.ID

	out, res := Merge([]model.Message{failed}, row, 5*time.Second)

	assert.Equal(t, Confirmed, res.Outcome)
	assert.Equal(t, model.StatusSent, out[0].Status)
}

func TestRemove(t *testing.T) {
	list := []model.Message{msg("a", me, "1", t0), msg("b", me, "2", t0)}

	out, ok := Remove(list, "a")
	assert.True(t, ok)
	assert.Equal(t, []string{"b"}, ids(out))
	assert.Equal(t, []string{"a", "b"}, ids(list))

	_, ok = Remove(list, "missing")
	assert.False(t, ok)
}
