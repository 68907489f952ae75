package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sudooom.planverse/internal/model"
)

func TestSliceLoadReturnsCopy(t *testing.T) {
	s := New("u1")
	s.Friends.Set([]model.Friend{{UserID: "a"}})

	got := s.Friends.Load()
	got[0].UserID = "changed"

	assert.Equal(t, "a", s.Friends.Load()[0].UserID)
}

func TestSliceUpdateVersionsAndNotifies(t *testing.T) {
	s := New("u1")
	var seen []uint64
	cancel := s.Presence.Subscribe(func(v map[string]bool, version uint64) {
		seen = append(seen, version)
	})

	v1 := s.Presence.Update(func(cur map[string]bool) (map[string]bool, bool) {
		cur["a"] = true
		return cur, true
	})
	// 不写入时版本不变
	v2 := s.Presence.Update(func(cur map[string]bool) (map[string]bool, bool) {
		return cur, false
	})
	cancel()
	s.Presence.Set(map[string]bool{})

	assert.Equal(t, uint64(1), v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, []uint64{1}, seen)
	assert.Equal(t, uint64(2), s.Presence.Version())
}

func TestSettingsDefaultsAndUnread(t *testing.T) {
	s := New("u1")
	assert.True(t, s.ReadReceipts())

	s.Settings.Set(model.Settings{UserID: "u1", ReadReceipts: false})
	assert.False(t, s.ReadReceipts())

	s.Notifications.Set([]model.Notification{
		{ID: "1", Read: true},
		{ID: "2", Meta: map[string]string{"post_id": "p"}},
	})
	assert.Equal(t, 1, s.UnreadNotifications())

	list := s.Notifications.Load()
	list[1].Meta["post_id"] = "x"
	assert.Equal(t, "p", s.Notifications.Load()[1].Meta["post_id"])
}
