package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"gopkg.in/yaml.v3"
)

// Account 固定账号
type Account struct {
	Username    string `yaml:"username"`
	DisplayName string `yaml:"display_name"`
	Campus      string `yaml:"campus"`
}

// Fixture 种子数据描述
type Fixture struct {
	Seed                    int64     `yaml:"seed"`
	Password                string    `yaml:"password"`
	RandomUsers             int       `yaml:"random_users"`
	PostsPerUser            int       `yaml:"posts_per_user"`
	FriendsPerUser          int       `yaml:"friends_per_user"`
	MessagesPerConversation int       `yaml:"messages_per_conversation"`
	Promotions              int       `yaml:"promotions"`
	Campuses                []string  `yaml:"campuses"`
	Accounts                []Account `yaml:"accounts"`
}

func loadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.Password == "" {
		return nil, fmt.Errorf("%s: password is required", path)
	}
	if len(f.Campuses) == 0 {
		f.Campuses = []string{"主校区"}
	}
	return &f, nil
}

// Plan 由 Fixture 展开的确定性数据，同一个 seed 生成同样的内容
type Plan struct {
	Users       []Account
	Posts       []PlannedPost
	Friendships [][2]int
	Messages    []PlannedMessage
	// Promoted 被推广的动态下标
	Promoted []int
}

type PlannedPost struct {
	Author  int
	Content string
}

// PlannedMessage Friendship 为 Friendships 的下标，FromFirst 表示由第一个用户发出
type PlannedMessage struct {
	Friendship int
	FromFirst  bool
	Content    string
}

func buildPlan(f *Fixture) *Plan {
	faker := gofakeit.New(f.Seed)
	p := &Plan{}

	seen := make(map[string]bool)
	for _, a := range f.Accounts {
		seen[strings.ToLower(a.Username)] = true
		p.Users = append(p.Users, a)
	}
	for len(p.Users) < len(f.Accounts)+f.RandomUsers {
		name := strings.ToLower(faker.Username())
		if len(name) < 3 || seen[name] {
			continue
		}
		seen[name] = true
		p.Users = append(p.Users, Account{
			Username:    name,
			DisplayName: faker.Name(),
			Campus:      f.Campuses[faker.Number(0, len(f.Campuses)-1)],
		})
	}

	for i := range p.Users {
		for j := 0; j < f.PostsPerUser; j++ {
			p.Posts = append(p.Posts, PlannedPost{Author: i, Content: faker.Sentence(faker.Number(6, 18))})
		}
	}

	// 每个用户和后面的若干人成为好友，不会重复
	n := len(p.Users)
	for i := 0; i < n; i++ {
		for k := 1; k <= f.FriendsPerUser && i+k < n; k++ {
			p.Friendships = append(p.Friendships, [2]int{i, i + k})
		}
	}
	for fi := range p.Friendships {
		for j := 0; j < f.MessagesPerConversation; j++ {
			p.Messages = append(p.Messages, PlannedMessage{
				Friendship: fi,
				FromFirst:  faker.Bool(),
				Content:    faker.Sentence(faker.Number(2, 10)),
			})
		}
	}

	for i := 0; i < f.Promotions && i < len(p.Posts); i++ {
		p.Promoted = append(p.Promoted, faker.Number(0, len(p.Posts)-1))
	}
	return p
}
