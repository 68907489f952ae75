// Package friend 好友关系：请求、接受后建立私信会话
package friend

import (
	"context"
	"errors"
	"log/slog"

	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/repository"
	appErrors "sudooom.planverse/shared/errors"
)

// Store 好友数据访问
type Store interface {
	CreateRequest(ctx context.Context, req *model.FriendRequest) error
	GetRequest(ctx context.Context, id string) (*model.FriendRequest, error)
	// PendingRequest 没有待处理请求时返回 nil, nil
	PendingRequest(ctx context.Context, fromUserID, toUserID string) (*model.FriendRequest, error)
	UpdateRequestStatus(ctx context.Context, id string, status model.FriendRequestStatus) error
	PendingRequestsFor(ctx context.Context, userID string) ([]model.FriendRequest, error)
	CreateFriendship(ctx context.Context, userID, friendID string) error
	DeleteFriendship(ctx context.Context, userID, friendID string) error
	IsFriend(ctx context.Context, userID, friendID string) (bool, error)
	ListFriends(ctx context.Context, userID string) ([]model.Friend, error)
}

// Users 用户查询
type Users interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Conversations 会话创建
type Conversations interface {
	CreateConversation(ctx context.Context, a, b string) (string, error)
}

// Presence 批量在线状态
type Presence interface {
	OnlineMany(ctx context.Context, userIDs []string) (map[string]bool, error)
}

// Notifier 通知投递
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Refresher 好友关系变化后刷新在线会话
type Refresher interface {
	RefreshFriends(userIDs ...string)
}

// Options 构造参数，Presence、Notifier、Refresher 可为空
type Options struct {
	Store         Store
	Users         Users
	Conversations Conversations
	Presence      Presence
	Notifier      Notifier
	Refresher     Refresher
	Logger        *slog.Logger
}

// Service 好友服务
type Service struct {
	store         Store
	users         Users
	conversations Conversations
	presence      Presence
	notifier      Notifier
	refresher     Refresher
	logger        *slog.Logger
}

// NewService 创建好友服务
func NewService(o Options) *Service {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Service{
		store:         o.Store,
		users:         o.Users,
		conversations: o.Conversations,
		presence:      o.Presence,
		notifier:      o.Notifier,
		refresher:     o.Refresher,
		logger:        o.Logger,
	}
}

// SetRefresher 会话管理器创建之后再接上
func (s *Service) SetRefresher(r Refresher) {
	s.refresher = r
}

// SendRequest 发送好友请求
func (s *Service) SendRequest(ctx context.Context, userID, friendID, message string) (*model.FriendRequest, error) {
	// 不能添加自己
	if userID == friendID {
		return nil, appErrors.ErrCannotAddSelf
	}

	// 检查目标用户是否存在
	if _, err := s.users.GetUserByID(ctx, friendID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, appErrors.ErrUserNotFound
		}
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	// 检查是否已是好友
	isFriend, err := s.store.IsFriend(ctx, userID, friendID)
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	if isFriend {
		return nil, appErrors.ErrAlreadyFriends
	}

	// 任一方向有待处理的请求都不再重复创建
	for _, pair := range [][2]string{{userID, friendID}, {friendID, userID}} {
		existing, err := s.store.PendingRequest(ctx, pair[0], pair[1])
		if err != nil {
			return nil, appErrors.ErrDBError.Wrap(err)
		}
		if existing != nil {
			return nil, appErrors.ErrRequestPending
		}
	}

	req := &model.FriendRequest{
		FromUserID: userID,
		ToUserID:   friendID,
		Message:    message,
		Status:     model.FriendRequestPending,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	s.notify(ctx, model.Notification{
		UserID:  friendID,
		ActorID: userID,
		Kind:    model.NotifyFriendRequest,
		Title:   s.displayName(ctx, userID) + " 请求添加你为好友",
		Body:    message,
		Meta:    map[string]string{"request_id": req.ID},
	})
	return req, nil
}

// pendingFor 取出发给 userID 的待处理请求
func (s *Service) pendingFor(ctx context.Context, userID, requestID string) (*model.FriendRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, appErrors.ErrFriendRequestNotFound
		}
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	// 验证请求归属和状态
	if req.ToUserID != userID || req.Status != model.FriendRequestPending {
		return nil, appErrors.ErrFriendRequestNotFound
	}
	return req, nil
}

// AcceptRequest 接受好友请求，返回双方的会话ID
func (s *Service) AcceptRequest(ctx context.Context, userID, requestID string) (string, error) {
	req, err := s.pendingFor(ctx, userID, requestID)
	if err != nil {
		return "", err
	}

	if err := s.store.UpdateRequestStatus(ctx, requestID, model.FriendRequestAccepted); err != nil {
		return "", appErrors.ErrDBError.Wrap(err)
	}
	if err := s.store.CreateFriendship(ctx, userID, req.FromUserID); err != nil {
		return "", appErrors.ErrDBError.Wrap(err)
	}
	convID, err := s.conversations.CreateConversation(ctx, userID, req.FromUserID)
	if err != nil {
		return "", appErrors.ErrDBError.Wrap(err)
	}

	s.notify(ctx, model.Notification{
		UserID:  req.FromUserID,
		ActorID: userID,
		Kind:    model.NotifyFriendAccepted,
		Title:   s.displayName(ctx, userID) + " 通过了你的好友请求",
		Meta:    map[string]string{"conversation_id": convID},
	})
	s.refresh(userID, req.FromUserID)
	return convID, nil
}

// RejectRequest 拒绝好友请求
func (s *Service) RejectRequest(ctx context.Context, userID, requestID string) error {
	if _, err := s.pendingFor(ctx, userID, requestID); err != nil {
		return err
	}
	if err := s.store.UpdateRequestStatus(ctx, requestID, model.FriendRequestRejected); err != nil {
		return appErrors.ErrDBError.Wrap(err)
	}
	return nil
}

// DeleteFriend 删除好友，会话和历史消息保留
func (s *Service) DeleteFriend(ctx context.Context, userID, friendID string) error {
	if err := s.store.DeleteFriendship(ctx, userID, friendID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return appErrors.ErrNotFriends
		}
		return appErrors.ErrDBError.Wrap(err)
	}
	s.refresh(userID, friendID)
	return nil
}

// ListFriends 好友列表，附带在线状态
func (s *Service) ListFriends(ctx context.Context, userID string) ([]model.Friend, error) {
	friends, err := s.store.ListFriends(ctx, userID)
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	if s.presence == nil || len(friends) == 0 {
		return friends, nil
	}

	ids := make([]string, len(friends))
	for i, f := range friends {
		ids[i] = f.UserID
	}
	online, err := s.presence.OnlineMany(ctx, ids)
	if err != nil {
		// 在线状态拿不到不影响列表
		s.logger.Warn("Failed to load friend presence", "userId", userID, "error", err)
		return friends, nil
	}
	for i := range friends {
		friends[i].Online = online[friends[i].UserID]
	}
	return friends, nil
}

// PendingRequests 待处理的好友请求
func (s *Service) PendingRequests(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	list, err := s.store.PendingRequestsFor(ctx, userID)
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	return list, nil
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return "有人"
	}
	return u.DisplayName
}

func (s *Service) notify(ctx context.Context, n model.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("Failed to send notification", "kind", n.Kind, "userId", n.UserID, "error", err)
	}
}

func (s *Service) refresh(userIDs ...string) {
	if s.refresher != nil {
		s.refresher.RefreshFriends(userIDs...)
	}
}
