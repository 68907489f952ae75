package testkit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sudooom.planverse/internal/model"
)

// ============== 好友 ==============

func (m *Memory) CreateRequest(ctx context.Context, req *model.FriendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateRequest"); err != nil {
		return err
	}
	req.ID = uuid.NewString()
	req.CreatedAt = m.clock.Now()
	if u, ok := m.users[req.FromUserID]; ok {
		req.FromUsername = u.Username
	}
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *Memory) GetRequest(ctx context.Context, id string) (*model.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *Memory) PendingRequest(ctx context.Context, fromUserID, toUserID string) (*model.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.requests {
		if req.FromUserID == fromUserID && req.ToUserID == toUserID && req.Status == model.FriendRequestPending {
			cp := *req
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateRequestStatus(ctx context.Context, id string, status model.FriendRequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = status
	return nil
}

func (m *Memory) PendingRequestsFor(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FriendRequest
	for _, req := range m.requests {
		if req.ToUserID == userID && req.Status == model.FriendRequestPending {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateFriendship(ctx context.Context, userID, friendID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateFriendship"); err != nil {
		return err
	}
	now := m.clock.Now()
	for _, pair := range [][2]string{{userID, friendID}, {friendID, userID}} {
		if m.friends[pair[0]] == nil {
			m.friends[pair[0]] = make(map[string]time.Time)
		}
		if _, ok := m.friends[pair[0]][pair[1]]; !ok {
			m.friends[pair[0]][pair[1]] = now
		}
	}
	return nil
}

func (m *Memory) DeleteFriendship(ctx context.Context, userID, friendID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.friends[userID][friendID]; !ok {
		return ErrNotFound
	}
	delete(m.friends[userID], friendID)
	delete(m.friends[friendID], userID)
	return nil
}

func (m *Memory) IsFriend(ctx context.Context, userID, friendID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.friends[userID][friendID]
	return ok, nil
}

func (m *Memory) ListFriends(ctx context.Context, userID string) ([]model.Friend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListFriends"); err != nil {
		return nil, err
	}
	var out []model.Friend
	for id, since := range m.friends[userID] {
		f := model.Friend{UserID: id, Since: since, ConversationID: m.findConversation(userID, id)}
		if u, ok := m.users[id]; ok {
			f.Username = u.Username
			f.DisplayName = u.DisplayName
			f.AvatarURL = u.AvatarURL
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// ============== 在线状态 ==============

// SetOnline 模拟在线状态
func (m *Memory) SetOnline(userID string, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if online {
		m.online[userID] = true
	} else {
		delete(m.online, userID)
	}
}

func (m *Memory) IsOnline(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[userID], nil
}

func (m *Memory) OnlineMany(ctx context.Context, userIDs []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if m.online[id] {
			out[id] = true
		}
	}
	return out, nil
}

// ============== 动态 ==============

func (m *Memory) viewPost(p *model.Post, viewerID string) model.Post {
	out := *p
	out.LikedByMe = m.likes[p.ID][viewerID]
	if u, ok := m.users[p.AuthorID]; ok {
		out.AuthorName = u.DisplayName
	}
	return out
}

func (m *Memory) ListPosts(ctx context.Context, viewerID string, before time.Time, limit int) ([]model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListPosts"); err != nil {
		return nil, err
	}
	var out []model.Post
	for _, p := range m.posts {
		if p.CreatedAt.Before(before) {
			out = append(out, m.viewPost(p, viewerID))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PostsByIDs(ctx context.Context, viewerID string, ids []string) ([]model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Post
	for _, id := range ids {
		if p, ok := m.posts[id]; ok {
			out = append(out, m.viewPost(p, viewerID))
		}
	}
	return out, nil
}

func (m *Memory) GetPost(ctx context.Context, viewerID, id string) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := m.viewPost(p, viewerID)
	return &out, nil
}

func (m *Memory) CreatePost(ctx context.Context, p *model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreatePost"); err != nil {
		return err
	}
	p.ID = uuid.NewString()
	p.CreatedAt = m.clock.Now()
	cp := *p
	m.posts[p.ID] = &cp
	return nil
}

func (m *Memory) SetLike(ctx context.Context, postID, userID string, liked bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("SetLike"); err != nil {
		return 0, err
	}
	p, ok := m.posts[postID]
	if !ok {
		return 0, ErrNotFound
	}
	if m.likes[postID] == nil {
		m.likes[postID] = make(map[string]bool)
	}
	if m.likes[postID][userID] != liked {
		if liked {
			m.likes[postID][userID] = true
			p.LikeCount++
		} else {
			delete(m.likes[postID], userID)
			p.LikeCount--
		}
	}
	return p.LikeCount, nil
}

func (m *Memory) ListComments(ctx context.Context, postID string) ([]model.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Comment(nil), m.comments[postID]...), nil
}

func (m *Memory) AddComment(ctx context.Context, c *model.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AddComment"); err != nil {
		return err
	}
	p, ok := m.posts[c.PostID]
	if !ok {
		return ErrNotFound
	}
	c.ID = uuid.NewString()
	c.CreatedAt = m.clock.Now()
	if u, ok := m.users[c.AuthorID]; ok {
		c.AuthorName = u.DisplayName
	}
	p.CommentCount++
	m.comments[c.PostID] = append(m.comments[c.PostID], *c)
	return nil
}

// ============== 推广 ==============

func (m *Memory) CreatePromotion(ctx context.Context, p *model.Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreatePromotion"); err != nil {
		return err
	}
	p.ID = uuid.NewString()
	p.CreatedAt = m.clock.Now()
	cp := *p
	m.promotions[p.ID] = &cp
	return nil
}

func (m *Memory) GetPromotion(ctx context.Context, id string) (*model.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promotions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListPromotions(ctx context.Context, ownerID string) ([]model.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Promotion
	for _, p := range m.promotions {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ActivePromotions(ctx context.Context, now time.Time) ([]model.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ActivePromotions"); err != nil {
		return nil, err
	}
	var out []model.Promotion
	for _, p := range m.promotions {
		if p.Status == model.PromotionActive && !now.Before(p.StartsAt) && now.Before(p.EndsAt) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateImpressions(ctx context.Context, id string, impressions int64, status model.PromotionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promotions[id]
	if !ok {
		return ErrNotFound
	}
	if impressions > p.Impressions {
		p.Impressions = impressions
	}
	p.Status = status
	return nil
}

// Counter 内存版曝光计数
type Counter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewCounter 创建
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int64)}
}

func (c *Counter) Incr(ctx context.Context, id string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[id]++
	return c.counts[id], nil
}

// ============== 通知 ==============

func (m *Memory) Push(ctx context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("Push"); err != nil {
		return err
	}
	m.notifications[n.UserID] = append([]model.Notification{n}, m.notifications[n.UserID]...)
	return nil
}

func (m *Memory) List(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.notifications[userID]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return append([]model.Notification(nil), list...), nil
}

func (m *Memory) MarkRead(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications[userID] {
		if m.notifications[userID][i].ID == id {
			m.notifications[userID][i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) MarkAllRead(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications[userID] {
		m.notifications[userID][i].Read = true
	}
	return nil
}
