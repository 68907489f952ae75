package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()

	var exact, wildcard, other []Change
	_, err := hub.Subscribe(TableMessages, "conv-1", func(c Change) { exact = append(exact, c) })
	require.NoError(t, err)
	_, err = hub.Subscribe(TableMessages, "*", func(c Change) { wildcard = append(wildcard, c) })
	require.NoError(t, err)
	_, err = hub.Subscribe(TableMessages, "conv-2", func(c Change) { other = append(other, c) })
	require.NoError(t, err)

	ch, err := NewChange(Insert, TableMessages, "conv-1", map[string]string{"id": "m1"})
	require.NoError(t, err)
	require.NoError(t, hub.Publish(ch))

	assert.Len(t, exact, 1)
	assert.Len(t, wildcard, 1)
	assert.Empty(t, other)
	assert.JSONEq(t, `{"id":"m1"}`, string(exact[0].Record))
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()

	calls := 0
	sub, err := hub.Subscribe(TableTyping, "conv-1", func(Change) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers(TableTyping, "conv-1"))

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, hub.Subscribers(TableTyping, "conv-1"))

	require.NoError(t, hub.Publish(Change{Type: Broadcast, Table: TableTyping, Topic: "conv-1"}))
	assert.Zero(t, calls)
}

func TestHub_ConnectionState(t *testing.T) {
	hub := NewHub()

	var states []bool
	remove := hub.OnStateChange(func(connected bool) { states = append(states, connected) })

	hub.SetConnected(false)
	hub.SetConnected(false)
	assert.False(t, hub.Connected())
	assert.Error(t, hub.Publish(Change{Table: TableMessages, Topic: "x"}))

	hub.SetConnected(true)
	assert.Equal(t, []bool{false, true}, states)

	remove()
	hub.SetConnected(false)
	assert.Len(t, states, 2)
}

func TestSubjectRoundTrip(t *testing.T) {
	s := Subject(TableReactions, "5d1f0a4e-7a3b-4c1a-9f3e-2b6a1c0d9e01")
	assert.Equal(t, "planverse.rt.message_reactions.5d1f0a4e-7a3b-4c1a-9f3e-2b6a1c0d9e01", s)

	table, topic, ok := parseSubject(s)
	require.True(t, ok)
	assert.Equal(t, TableReactions, table)
	assert.Equal(t, "5d1f0a4e-7a3b-4c1a-9f3e-2b6a1c0d9e01", topic)

	_, _, ok = parseSubject("other.subject")
	assert.False(t, ok)
}
