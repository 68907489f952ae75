package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.planverse/internal/auth"
	"sudooom.planverse/internal/config"
	"sudooom.planverse/internal/feed"
	"sudooom.planverse/internal/friend"
	"sudooom.planverse/internal/handler"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/notification"
	"sudooom.planverse/internal/promotion"
	"sudooom.planverse/internal/router"
	"sudooom.planverse/internal/session"
	"sudooom.planverse/internal/task"
	"sudooom.planverse/internal/testkit"
	sharedErrors "sudooom.planverse/shared/errors"
	"sudooom.planverse/shared/jwt"
	"sudooom.planverse/shared/snowflake"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type server struct {
	t       *testing.T
	engine  *gin.Engine
	mem     *testkit.Memory
	jwt     *jwt.Service
	manager *session.Manager
	notify  *notification.Service
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := task.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	mem := testkit.NewMemory(clock)
	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)

	manager := session.NewManager(session.ManagerOptions{
		Config: session.DefaultConfig(),
		Platform: session.Platform{
			Messages:      mem,
			Uploader:      mem,
			Receipts:      mem,
			Conversations: mem,
			Settings:      mem,
			Bus:           mem.Hub,
		},
		Clock: clock,
		IDs:   ids,
	})
	t.Cleanup(manager.StopAll)

	jwtSvc := jwt.NewService("handler-test", 15*time.Minute, time.Hour)
	authSvc := auth.NewService(mem, jwtSvc)
	authSvc.SetSettingsApplier(manager)

	notifySvc := notification.NewService(notification.Options{Store: mem, Deliverer: manager})
	friendSvc := friend.NewService(friend.Options{
		Store:         mem,
		Users:         mem,
		Conversations: mem,
		Presence:      mem,
		Notifier:      notifySvc,
	})
	promoSvc := promotion.NewService(promotion.Options{Store: mem, Posts: mem, Counter: testkit.NewCounter()})
	feedSvc := feed.NewService(feed.Options{Store: mem, Uploader: mem, Promotions: promoSvc, Notifier: notifySvc})
	feedSvc.SetPusher(manager)

	cfg := &config.Config{}
	engine := router.SetupRouter(cfg, nil, nil, router.Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		Chat:          handler.NewChatHandler(manager, 1<<20),
		Events:        handler.NewEventsHandler(manager, time.Second),
		Feed:          handler.NewFeedHandler(feedSvc, 1<<20),
		Friend:        handler.NewFriendHandler(friendSvc),
		Notification:  handler.NewNotificationHandler(notifySvc),
		Promotion:     handler.NewPromotionHandler(promoSvc),
		TokenVerifier: authSvc,
	})

	return &server{t: t, engine: engine, mem: mem, jwt: jwtSvc, manager: manager, notify: notifySvc}
}

func (s *server) token(userID string) string {
	pair, err := s.jwt.GenerateTokenPair(userID, "u")
	require.NoError(s.t, err)
	return pair.AccessToken
}

func (s *server) do(method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestAuth_RegisterAndLogin(t *testing.T) {
	s := newServer(t)

	w, env := s.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "carol", "password": "secret123", "display_name": "Carol",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, sharedErrors.CodeSuccess, env.Code)

	w, env = s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "carol", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login auth.LoginResponse
	require.NoError(t, json.Unmarshal(env.Data, &login))
	assert.NotEmpty(t, login.AccessToken)

	w, _ = s.do(http.MethodGet, "/api/v1/me", login.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_BadRequestAndUnauthorized(t *testing.T) {
	s := newServer(t)

	w, env := s.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, sharedErrors.CodeInvalidParams, env.Code)

	w, env = s.do(http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, sharedErrors.CodeTokenInvalid, env.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/conversations", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChat_ConversationsAndSend(t *testing.T) {
	s := newServer(t)
	alice := s.mem.AddUser("alice")
	bob := s.mem.AddUser("bob")
	conv, err := s.mem.CreateConversation(context.Background(), alice, bob)
	require.NoError(t, err)
	token := s.token(alice)

	// 会话列表在会话启动后异步加载
	var list struct {
		List []model.Conversation `json:"list"`
	}
	require.Eventually(t, func() bool {
		w, env := s.do(http.MethodGet, "/api/v1/conversations", token, nil)
		if w.Code != http.StatusOK || json.Unmarshal(env.Data, &list) != nil {
			return false
		}
		return len(list.List) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, conv, list.List[0].ID)

	w, env := s.do(http.MethodPost, "/api/v1/conversations/"+conv+"/messages", token, map[string]string{"content": "你好"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var msg model.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "你好", msg.Content)
	assert.Equal(t, model.StatusSending, msg.Status)

	// 空消息不允许发送
	w, env = s.do(http.MethodPost, "/api/v1/conversations/"+conv+"/messages", token, map[string]string{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, sharedErrors.CodeInvalidContent, env.Code)
}

func TestChat_ReorderValidation(t *testing.T) {
	s := newServer(t)
	alice := s.mem.AddUser("alice")

	w, env := s.do(http.MethodPost, "/api/v1/conversations/reorder", s.token(alice), map[string]any{"conversation_id": "c1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, sharedErrors.CodeInvalidParams, env.Code)
}

func TestFriend_RequestAndAccept(t *testing.T) {
	s := newServer(t)
	alice := s.mem.AddUser("alice")
	bob := s.mem.AddUser("bob")

	w, env := s.do(http.MethodPost, "/api/v1/friends/request", s.token(alice), map[string]string{"friend_id": bob})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var fr model.FriendRequest
	require.NoError(t, json.Unmarshal(env.Data, &fr))

	w, env = s.do(http.MethodPost, "/api/v1/friends/request", s.token(alice), map[string]string{"friend_id": alice})
	assert.Equal(t, sharedErrors.CodeCannotAddSelf, env.Code)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(http.MethodPost, "/api/v1/friends/accept/"+fr.ID, s.token(bob), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var accepted struct {
		ConversationID string `json:"conversation_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &accepted))
	assert.NotEmpty(t, accepted.ConversationID)

	w, env = s.do(http.MethodGet, "/api/v1/friends", s.token(bob), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var friends struct {
		List []model.Friend `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &friends))
	require.Len(t, friends.List, 1)
	assert.Equal(t, alice, friends.List[0].UserID)
}

func TestNotification_ListAndMarkRead(t *testing.T) {
	s := newServer(t)
	alice := s.mem.AddUser("alice")
	require.NoError(t, s.notify.Notify(context.Background(), model.Notification{
		UserID: alice,
		Kind:   model.NotifyFriendRequest,
		Title:  "新的好友请求",
	}))
	token := s.token(alice)

	_, env := s.do(http.MethodGet, "/api/v1/notifications", token, nil)
	var page struct {
		List   []model.Notification `json:"list"`
		Unread int                  `json:"unread"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.List, 1)
	assert.Equal(t, 1, page.Unread)

	w, _ := s.do(http.MethodPost, "/api/v1/notifications/"+page.List[0].ID+"/read", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(http.MethodPost, "/api/v1/notifications/missing/read", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, sharedErrors.CodeNotificationNotFound, env.Code)
}

func TestFeed_CreateLikeAndPromote(t *testing.T) {
	s := newServer(t)
	alice := s.mem.AddUser("alice")
	token := s.token(alice)

	w, env := s.do(http.MethodPost, "/api/v1/posts", token, map[string]string{"content": "图书馆三楼有空位"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var post model.Post
	require.NoError(t, json.Unmarshal(env.Data, &post))

	w, env = s.do(http.MethodPost, "/api/v1/posts/"+post.ID+"/like", token, map[string]bool{"liked": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var liked struct {
		LikeCount int `json:"like_count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &liked))
	assert.Equal(t, 1, liked.LikeCount)

	w, _ = s.do(http.MethodGet, "/api/v1/feed?limit=10", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/feed?before=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, sharedErrors.CodeInvalidParams, env.Code)

	w, env = s.do(http.MethodPost, "/api/v1/promotions", token, map[string]any{
		"post_id":      post.ID,
		"budget_cents": 0,
		"ends_at":      time.Now().Add(24 * time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, sharedErrors.CodeInvalidBudget, env.Code)
}

func TestSwagger_UIWithoutAuth(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "swagger-ui")
}
