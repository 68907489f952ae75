package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFixture_Repository(t *testing.T) {
	f, err := loadFixture("../../configs/seed.yaml")
	require.NoError(t, err)
	assert.Equal(t, "planverse123", f.Password)
	assert.Len(t, f.Accounts, 3)
	assert.NotEmpty(t, f.Campuses)
}

func TestLoadFixture_RequiresPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("random_users: 2\n"), 0o600))
	_, err := loadFixture(path)
	assert.ErrorContains(t, err, "password")
}

func TestBuildPlan_Deterministic(t *testing.T) {
	f := &Fixture{
		Seed:                    7,
		Password:                "x",
		RandomUsers:             6,
		PostsPerUser:            2,
		FriendsPerUser:          2,
		MessagesPerConversation: 3,
		Promotions:              2,
		Campuses:                []string{"北校区"},
		Accounts:                []Account{{Username: "alice", DisplayName: "Alice", Campus: "北校区"}},
	}

	a := buildPlan(f)
	b := buildPlan(f)
	assert.Equal(t, a, b)

	require.Len(t, a.Users, 7)
	assert.Equal(t, "alice", a.Users[0].Username)
	assert.Len(t, a.Posts, 14)
	assert.Len(t, a.Messages, len(a.Friendships)*3)
	assert.Len(t, a.Promoted, 2)

	names := make(map[string]bool)
	for _, u := range a.Users {
		assert.False(t, names[u.Username], u.Username)
		names[u.Username] = true
	}
	for _, pair := range a.Friendships {
		assert.Less(t, pair[0], pair[1])
	}
}
