// Package testkit 内存版平台：数据表加进程内实时通道，行为与 repository 保持一致
package testkit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/realtime"
	"sudooom.planverse/internal/repository"
	"sudooom.planverse/internal/task"
)

// 与 repository 使用同一组哨兵错误，服务层的判断对两者都成立
var (
	ErrNotFound  = repository.ErrNotFound
	ErrDuplicate = repository.ErrDuplicate
)

// Memory 内存平台
type Memory struct {
	Hub   *realtime.Hub
	clock task.Clock

	mu            sync.Mutex
	users         map[string]*model.User
	settings      map[string]model.Settings
	messages      []model.Message
	members       map[string]map[string]*model.Conversation // conversationID -> userID -> row
	reactions     []model.Reaction
	pins          []model.Pin
	friends       map[string]map[string]time.Time
	requests      map[string]*model.FriendRequest
	posts         map[string]*model.Post
	likes         map[string]map[string]bool
	comments      map[string][]model.Comment
	notifications map[string][]model.Notification
	promotions    map[string]*model.Promotion
	online        map[string]bool
	uploads       map[string][]byte
	failures      map[string]error
}

// NewMemory 创建，clock 为空时使用真实时间
func NewMemory(clock task.Clock) *Memory {
	if clock == nil {
		clock = task.Wall{}
	}
	return &Memory{
		Hub:           realtime.NewHub(),
		clock:         clock,
		users:         make(map[string]*model.User),
		settings:      make(map[string]model.Settings),
		members:       make(map[string]map[string]*model.Conversation),
		friends:       make(map[string]map[string]time.Time),
		requests:      make(map[string]*model.FriendRequest),
		posts:         make(map[string]*model.Post),
		likes:         make(map[string]map[string]bool),
		comments:      make(map[string][]model.Comment),
		notifications: make(map[string][]model.Notification),
		promotions:    make(map[string]*model.Promotion),
		online:        make(map[string]bool),
		uploads:       make(map[string][]byte),
		failures:      make(map[string]error),
	}
}

// Fail 让名为 op 的方法返回 err，err 为 nil 时恢复
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *Memory) failure(op string) error {
	return m.failures[op]
}

func (m *Memory) publish(typ realtime.EventType, table, topic string, record any) {
	c, err := realtime.NewChange(typ, table, topic, record)
	if err != nil {
		return
	}
	c.At = m.clock.Now()
	if typ == realtime.Delete {
		c.Old = c.Record
	}
	_ = m.Hub.Publish(c)
}

// ============== 用户与设置 ==============

// AddUser 创建用户，返回ID
func (m *Memory) AddUser(username string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.users[id] = &model.User{ID: id, Username: username, DisplayName: username, CreatedAt: m.clock.Now()}
	m.settings[id] = model.DefaultSettings(id)
	return id
}

func (m *Memory) CreateUser(ctx context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateUser"); err != nil {
		return err
	}
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrDuplicate
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = m.clock.Now()
	cp := *u
	m.users[u.ID] = &cp
	m.settings[u.ID] = model.DefaultSettings(u.ID)
	return nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetSettings(ctx context.Context, userID string) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetSettings"); err != nil {
		return model.Settings{}, err
	}
	s, ok := m.settings[userID]
	if !ok {
		return model.DefaultSettings(userID), nil
	}
	return s, nil
}

func (m *Memory) UpdateSettings(ctx context.Context, s model.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("UpdateSettings"); err != nil {
		return err
	}
	m.settings[s.UserID] = s
	return nil
}

// ============== 会话 ==============

// CreateConversation 创建两人会话，已存在时返回已有ID
func (m *Memory) CreateConversation(ctx context.Context, a, b string) (string, error) {
	m.mu.Lock()
	if id := m.findConversation(a, b); id != "" {
		m.mu.Unlock()
		return id, nil
	}
	id := uuid.NewString()
	now := m.clock.Now()
	m.members[id] = map[string]*model.Conversation{
		a: m.memberRow(id, a, b, now),
		b: m.memberRow(id, b, a, now),
	}
	rows := []model.Conversation{*m.members[id][a], *m.members[id][b]}
	m.mu.Unlock()

	for _, row := range rows {
		m.publish(realtime.Insert, realtime.TableConversations, row.UserID, row)
	}
	return id, nil
}

func (m *Memory) memberRow(id, user, peer string, at time.Time) *model.Conversation {
	row := &model.Conversation{ID: id, UserID: user, PeerID: peer, LastMessageAt: at}
	if u, ok := m.users[peer]; ok {
		row.PeerName = u.DisplayName
		row.PeerAvatar = u.AvatarURL
	}
	return row
}

func (m *Memory) findConversation(a, b string) string {
	for id, rows := range m.members {
		if _, ok := rows[a]; !ok {
			continue
		}
		if _, ok := rows[b]; ok {
			return id
		}
	}
	return ""
}

func (m *Memory) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListConversations"); err != nil {
		return nil, err
	}
	var out []model.Conversation
	for _, rows := range m.members {
		if row, ok := rows[userID]; ok {
			out = append(out, cloneConversation(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Conversation 单个会话成员行
func (m *Memory) Conversation(conversationID, userID string) (model.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.members[conversationID][userID]
	if !ok {
		return model.Conversation{}, false
	}
	return cloneConversation(row), true
}

func (m *Memory) UpdateDisplayOrders(ctx context.Context, userID string, updates []model.OrderUpdate) error {
	m.mu.Lock()
	if err := m.failure("UpdateDisplayOrders"); err != nil {
		m.mu.Unlock()
		return err
	}
	for _, u := range updates {
		if _, ok := m.members[u.ConversationID][userID]; !ok {
			m.mu.Unlock()
			return ErrNotFound
		}
	}
	var changed []model.Conversation
	for _, u := range updates {
		row := m.members[u.ConversationID][userID]
		row.DisplayOrder = model.IntPtr(u.DisplayOrder)
		changed = append(changed, cloneConversation(row))
	}
	m.mu.Unlock()

	for _, row := range changed {
		m.publish(realtime.Update, realtime.TableConversations, userID, row)
	}
	return nil
}

func (m *Memory) SetConversationPinned(ctx context.Context, userID, conversationID string, pinned bool) error {
	return m.updateMember("SetConversationPinned", userID, conversationID, func(row *model.Conversation) {
		row.Pinned = pinned
		row.DisplayOrder = nil
	})
}

func (m *Memory) SetConversationMuted(ctx context.Context, userID, conversationID string, muted bool) error {
	return m.updateMember("SetConversationMuted", userID, conversationID, func(row *model.Conversation) {
		row.Muted = muted
	})
}

func (m *Memory) ResetUnread(ctx context.Context, userID, conversationID string) error {
	return m.updateMember("ResetUnread", userID, conversationID, func(row *model.Conversation) {
		row.UnreadCount = 0
	})
}

func (m *Memory) updateMember(op, userID, conversationID string, fn func(row *model.Conversation)) error {
	m.mu.Lock()
	if err := m.failure(op); err != nil {
		m.mu.Unlock()
		return err
	}
	row, ok := m.members[conversationID][userID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	fn(row)
	cp := cloneConversation(row)
	m.mu.Unlock()

	m.publish(realtime.Update, realtime.TableConversations, userID, cp)
	return nil
}

// ============== 消息 ==============

func (m *Memory) InsertMessage(ctx context.Context, in *model.Message) (*model.Message, error) {
	m.mu.Lock()
	if err := m.failure("InsertMessage"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	rows, ok := m.members[in.ConversationID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	row := *in
	row.ID = uuid.NewString()
	row.CreatedAt = m.clock.Now()
	if !row.Status.Persistable() {
		row.Status = model.StatusSent
	}
	m.messages = append(m.messages, row)

	var touched []model.Conversation
	for userID, member := range rows {
		member.LastMessage = previewOf(&row)
		member.LastMessageAt = row.CreatedAt
		if userID == row.ReceiverID {
			member.UnreadCount++
		}
		touched = append(touched, cloneConversation(member))
	}
	m.mu.Unlock()

	m.publish(realtime.Insert, realtime.TableMessages, row.ConversationID, row)
	for _, c := range touched {
		m.publish(realtime.Update, realtime.TableConversations, c.UserID, c)
	}
	return &row, nil
}

func previewOf(msg *model.Message) string {
	if msg.HasImage() {
		return "[图片]"
	}
	return msg.Content
}

// Messages 会话全部消息，按时间升序
func (m *Memory) Messages(conversationID string) []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationMessages(conversationID)
}

func (m *Memory) conversationMessages(conversationID string) []model.Message {
	var out []model.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("RecentMessages"); err != nil {
		return nil, err
	}
	all := m.conversationMessages(conversationID)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *Memory) MessagesSince(ctx context.Context, conversationID string, since time.Time, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("MessagesSince"); err != nil {
		return nil, err
	}
	var out []model.Message
	for _, msg := range m.conversationMessages(conversationID) {
		if !msg.CreatedAt.Before(since) {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateMessageStatus(ctx context.Context, conversationID string, ids []string, status model.MessageStatus) error {
	m.mu.Lock()
	if err := m.failure("UpdateMessageStatus"); err != nil {
		m.mu.Unlock()
		return err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var changed []model.Message
	for i := range m.messages {
		msg := &m.messages[i]
		if msg.ConversationID != conversationID || !want[msg.ID] {
			continue
		}
		next := model.Advance(msg.Status, status)
		if next != msg.Status {
			msg.Status = next
			changed = append(changed, *msg)
		}
	}
	m.mu.Unlock()

	for _, msg := range changed {
		m.publish(realtime.Update, realtime.TableMessages, conversationID, msg)
	}
	return nil
}

func (m *Memory) MarkMessagesRead(ctx context.Context, conversationID, readerID string) ([]string, error) {
	m.mu.Lock()
	if err := m.failure("MarkMessagesRead"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	var (
		ids     []string
		changed []model.Message
	)
	for i := range m.messages {
		msg := &m.messages[i]
		if msg.ConversationID != conversationID || msg.ReceiverID != readerID || msg.IsRead {
			continue
		}
		msg.IsRead = true
		msg.Status = model.Advance(msg.Status, model.StatusSeen)
		ids = append(ids, msg.ID)
		changed = append(changed, *msg)
	}
	var member *model.Conversation
	if row, ok := m.members[conversationID][readerID]; ok && row.UnreadCount != 0 {
		row.UnreadCount = 0
		cp := cloneConversation(row)
		member = &cp
	}
	m.mu.Unlock()

	for _, msg := range changed {
		m.publish(realtime.Update, realtime.TableMessages, conversationID, msg)
	}
	if member != nil {
		m.publish(realtime.Update, realtime.TableConversations, readerID, *member)
	}
	return ids, nil
}

// ============== 回应与置顶 ==============

func (m *Memory) ListReactions(ctx context.Context, conversationID string) ([]model.Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.messageSet(conversationID)
	var out []model.Reaction
	for _, r := range m.reactions {
		if ids[r.MessageID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) messageSet(conversationID string) map[string]bool {
	ids := make(map[string]bool)
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			ids[msg.ID] = true
		}
	}
	return ids
}

func (m *Memory) AddReaction(ctx context.Context, conversationID string, r model.Reaction) error {
	m.mu.Lock()
	if err := m.failure("AddReaction"); err != nil {
		m.mu.Unlock()
		return err
	}
	for _, existing := range m.reactions {
		if existing.MessageID == r.MessageID && existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			m.mu.Unlock()
			return nil
		}
	}
	r.CreatedAt = m.clock.Now()
	m.reactions = append(m.reactions, r)
	m.mu.Unlock()

	m.publish(realtime.Insert, realtime.TableReactions, conversationID, r)
	return nil
}

func (m *Memory) RemoveReaction(ctx context.Context, conversationID string, r model.Reaction) error {
	m.mu.Lock()
	if err := m.failure("RemoveReaction"); err != nil {
		m.mu.Unlock()
		return err
	}
	removed := false
	for i, existing := range m.reactions {
		if existing.MessageID == r.MessageID && existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			m.reactions = append(m.reactions[:i], m.reactions[i+1:]...)
			removed = true
			break
		}
	}
	m.mu.Unlock()

	if removed {
		m.publish(realtime.Delete, realtime.TableReactions, conversationID, r)
	}
	return nil
}

func (m *Memory) ListPins(ctx context.Context, conversationID string) ([]model.Pin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Pin
	for _, p := range m.pins {
		if p.ConversationID == conversationID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) PinMessage(ctx context.Context, p model.Pin) error {
	m.mu.Lock()
	if err := m.failure("PinMessage"); err != nil {
		m.mu.Unlock()
		return err
	}
	for _, existing := range m.pins {
		if existing.MessageID == p.MessageID {
			m.mu.Unlock()
			return nil
		}
	}
	m.pins = append(m.pins, p)
	m.mu.Unlock()

	m.publish(realtime.Insert, realtime.TablePins, p.ConversationID, p)
	return nil
}

func (m *Memory) UnpinMessage(ctx context.Context, conversationID, messageID string) error {
	m.mu.Lock()
	if err := m.failure("UnpinMessage"); err != nil {
		m.mu.Unlock()
		return err
	}
	var removed *model.Pin
	for i, p := range m.pins {
		if p.MessageID == messageID {
			cp := p
			removed = &cp
			m.pins = append(m.pins[:i], m.pins[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if removed != nil {
		m.publish(realtime.Delete, realtime.TablePins, conversationID, *removed)
	}
	return nil
}

// ============== 存储 ==============

// Upload 保存图片，返回假地址
func (m *Memory) Upload(ctx context.Context, ownerID string, u *model.Upload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("Upload"); err != nil {
		return "", err
	}
	url := fmt.Sprintf("https://storage.test/images/%s/%s-%s", ownerID, uuid.NewString(), u.Filename)
	m.uploads[url] = append([]byte(nil), u.Data...)
	return url, nil
}

func cloneConversation(c *model.Conversation) model.Conversation {
	out := *c
	if c.DisplayOrder != nil {
		out.DisplayOrder = model.IntPtr(*c.DisplayOrder)
	}
	return out
}
