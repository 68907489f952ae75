// Package feed 校园动态：分页、发布、点赞和评论
// 点赞和评论先推送乐观结果，持久化失败后回滚并提示
package feed

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"sudooom.planverse/internal/event"
	"sudooom.planverse/internal/metrics"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/promotion"
	"sudooom.planverse/internal/repository"
	appErrors "sudooom.planverse/shared/errors"
)

// Store 动态数据访问
type Store interface {
	ListPosts(ctx context.Context, viewerID string, before time.Time, limit int) ([]model.Post, error)
	GetPost(ctx context.Context, viewerID, id string) (*model.Post, error)
	CreatePost(ctx context.Context, p *model.Post) error
	// SetLike 幂等，返回最新点赞数
	SetLike(ctx context.Context, postID, userID string, liked bool) (int, error)
	ListComments(ctx context.Context, postID string) ([]model.Comment, error)
	AddComment(ctx context.Context, c *model.Comment) error
}

// Uploader 图片上传
type Uploader interface {
	Upload(ctx context.Context, ownerID string, u *model.Upload) (string, error)
}

// Promotions 推广位
type Promotions interface {
	Candidates(ctx context.Context, viewerID string, limit int) ([]model.Post, error)
	RecordImpressions(ctx context.Context, served []model.Post)
}

// Pusher 推送到用户的在线会话
type Pusher interface {
	Push(userID string, e event.Event) bool
}

// Notifier 通知投递
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Update 一条动态的增量变化，作为 feed 事件的数据
type Update struct {
	PostID    string         `json:"post_id"`
	LikeCount *int           `json:"like_count,omitempty"`
	LikedByMe *bool          `json:"liked_by_me,omitempty"`
	Comment   *model.Comment `json:"comment,omitempty"`
	// ReplacesID 正式评论替换掉的临时评论
	ReplacesID string `json:"replaces_id,omitempty"`
	// RemovedID 发送失败被移除的临时评论
	RemovedID string `json:"removed_id,omitempty"`
}

// Page 一页动态
type Page struct {
	Posts []model.Post `json:"posts"`
	// NextCursor 下一页的 before 参数，没有更多时为空
	NextCursor *time.Time `json:"next_cursor,omitempty"`
}

// Options 构造参数，Uploader、Promotions、Pusher、Notifier 可为空
type Options struct {
	Store      Store
	Uploader   Uploader
	Promotions Promotions
	Pusher     Pusher
	Notifier   Notifier
	// PromotedEvery 每多少条普通动态插入一条推广，0 表示不插入
	PromotedEvery int
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Service 动态服务
type Service struct {
	store         Store
	uploader      Uploader
	promotions    Promotions
	pusher        Pusher
	notifier      Notifier
	promotedEvery int
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

// NewService 创建
func NewService(o Options) *Service {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Service{
		store:         o.Store,
		uploader:      o.Uploader,
		promotions:    o.Promotions,
		pusher:        o.Pusher,
		notifier:      o.Notifier,
		promotedEvery: o.PromotedEvery,
		metrics:       o.Metrics,
		logger:        o.Logger,
		now:           time.Now,
	}
}

// SetPusher main 中会话管理器晚于本服务创建
func (s *Service) SetPusher(p Pusher) {
	s.pusher = p
}

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// List 按时间倒序分页，before 为空时从最新开始
func (s *Service) List(ctx context.Context, viewerID string, before *time.Time, limit int) (*Page, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	cursor := s.now().Add(time.Second)
	if before != nil {
		cursor = *before
	}

	posts, err := s.store.ListPosts(ctx, viewerID, cursor, limit)
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	page := &Page{Posts: posts}
	if len(posts) == limit {
		next := posts[len(posts)-1].CreatedAt
		page.NextCursor = &next
	}

	if s.promotions != nil && s.promotedEvery > 0 && len(posts) >= s.promotedEvery {
		promos, err := s.promotions.Candidates(ctx, viewerID, len(posts)/s.promotedEvery)
		if err != nil {
			// 推广位失败不影响正常动态
			s.logger.Warn("Failed to load promotions", "error", err)
			return page, nil
		}
		page.Posts = promotion.Interleave(posts, promos, s.promotedEvery)
		s.promotions.RecordImpressions(ctx, promotedOnly(page.Posts))
	}
	return page, nil
}

// Create 发布动态，文字和图片至少有一个
func (s *Service) Create(ctx context.Context, authorID, content string, image *model.Upload) (*model.Post, error) {
	content = strings.TrimSpace(content)
	hasImage := image != nil && len(image.Data) > 0
	if content == "" && !hasImage {
		return nil, appErrors.ErrInvalidContent.WithMessage("动态内容不能为空")
	}

	p := &model.Post{AuthorID: authorID, Content: content}
	if hasImage {
		if s.uploader == nil {
			return nil, appErrors.ErrStorageError
		}
		url, err := s.uploader.Upload(ctx, authorID, image)
		if err != nil {
			s.metrics.SendFailed("post_upload")
			return nil, appErrors.ErrUploadFailed.Wrap(err)
		}
		p.ImageURL = url
	}
	if err := s.store.CreatePost(ctx, p); err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	s.logger.Info("Post created", "post_id", p.ID, "author_id", authorID)
	return p, nil
}

// ToggleLike 先推送乐观的点赞数，失败时推回原值并提示
func (s *Service) ToggleLike(ctx context.Context, userID, postID string, liked bool) (int, error) {
	post, err := s.getPost(ctx, userID, postID)
	if err != nil {
		return 0, err
	}
	if post.LikedByMe == liked {
		return post.LikeCount, nil
	}

	optimistic := post.LikeCount + 1
	if !liked {
		optimistic = post.LikeCount - 1
	}
	s.push(userID, Update{PostID: postID, LikeCount: &optimistic, LikedByMe: &liked})

	count, err := s.store.SetLike(ctx, postID, userID, liked)
	if err != nil {
		s.logger.Warn("Like failed, rolling back", "post_id", postID, "user_id", userID, "error", err)
		s.metrics.Rollback("like")
		prev := post.LikedByMe
		s.push(userID, Update{PostID: postID, LikeCount: &post.LikeCount, LikedByMe: &prev})
		s.notice(userID, appErrors.ErrLikeFailed)
		return post.LikeCount, appErrors.ErrLikeFailed.Wrap(err)
	}
	if count != optimistic {
		s.push(userID, Update{PostID: postID, LikeCount: &count, LikedByMe: &liked})
	}

	if liked && post.AuthorID != userID {
		s.notify(ctx, model.Notification{
			UserID:  post.AuthorID,
			ActorID: userID,
			Kind:    model.NotifyPostLiked,
			Title:   "有人赞了你的动态",
			Meta:    map[string]string{"post_id": postID},
		})
	}
	return count, nil
}

// AddComment 先推送临时评论，成功后替换，失败后移除
func (s *Service) AddComment(ctx context.Context, userID, postID, content string) (*model.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, appErrors.ErrInvalidParams.WithMessage("评论内容不能为空")
	}
	post, err := s.getPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}

	temp := &model.Comment{
		ID:        model.TempIDPrefix + uuid.NewString(),
		PostID:    postID,
		AuthorID:  userID,
		Content:   content,
		Pending:   true,
		CreatedAt: s.now(),
	}
	s.push(userID, Update{PostID: postID, Comment: temp})

	c := &model.Comment{PostID: postID, AuthorID: userID, Content: content}
	if err := s.store.AddComment(ctx, c); err != nil {
		s.logger.Warn("Comment failed, removing temp", "post_id", postID, "user_id", userID, "error", err)
		s.metrics.Rollback("comment")
		s.push(userID, Update{PostID: postID, RemovedID: temp.ID})
		s.notice(userID, appErrors.ErrCommentFailed)
		return nil, appErrors.ErrCommentFailed.Wrap(err)
	}
	s.push(userID, Update{PostID: postID, Comment: c, ReplacesID: temp.ID})

	if post.AuthorID != userID {
		s.notify(ctx, model.Notification{
			UserID:  post.AuthorID,
			ActorID: userID,
			Kind:    model.NotifyPostComment,
			Title:   "有人评论了你的动态",
			Body:    content,
			Meta:    map[string]string{"post_id": postID, "comment_id": c.ID},
		})
	}
	return c, nil
}

// Comments 评论列表，按时间正序
func (s *Service) Comments(ctx context.Context, viewerID, postID string) ([]model.Comment, error) {
	if _, err := s.getPost(ctx, viewerID, postID); err != nil {
		return nil, err
	}
	list, err := s.store.ListComments(ctx, postID)
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	return list, nil
}

func promotedOnly(posts []model.Post) []model.Post {
	var out []model.Post
	for _, p := range posts {
		if p.PromotionID != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) getPost(ctx context.Context, viewerID, postID string) (*model.Post, error) {
	post, err := s.store.GetPost(ctx, viewerID, postID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, appErrors.ErrPostNotFound
		}
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	return post, nil
}

func (s *Service) push(userID string, u Update) {
	if s.pusher == nil {
		return
	}
	s.pusher.Push(userID, event.Event{Kind: event.KindFeed, Data: u, At: s.now()})
}

func (s *Service) notice(userID string, err error) {
	if s.pusher == nil {
		return
	}
	s.pusher.Push(userID, event.NewNotice("", err))
}

func (s *Service) notify(ctx context.Context, n model.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("Failed to send notification", "kind", n.Kind, "userId", n.UserID, "error", err)
	}
}
