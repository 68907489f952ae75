// Package promotion 付费推广：创建校验、投放穿插和曝光计费
package promotion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sudooom.planverse/internal/metrics"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/repository"
	appErrors "sudooom.planverse/shared/errors"
)

// flushEvery 每累计多少次曝光回写一次数据库
const flushEvery = 50

// Store 推广持久化
type Store interface {
	CreatePromotion(ctx context.Context, p *model.Promotion) error
	GetPromotion(ctx context.Context, id string) (*model.Promotion, error)
	ListPromotions(ctx context.Context, ownerID string) ([]model.Promotion, error)
	ActivePromotions(ctx context.Context, now time.Time) ([]model.Promotion, error)
	UpdateImpressions(ctx context.Context, id string, impressions int64, status model.PromotionStatus) error
}

// Posts 读取被推广的动态
type Posts interface {
	GetPost(ctx context.Context, viewerID, id string) (*model.Post, error)
	PostsByIDs(ctx context.Context, viewerID string, ids []string) ([]model.Post, error)
}

// Counter 曝光计数，返回累加后的总数
type Counter interface {
	Incr(ctx context.Context, promotionID string) (int64, error)
}

// CreateInput 创建参数
type CreateInput struct {
	PostID      string    `json:"post_id" binding:"required"`
	BudgetCents int64     `json:"budget_cents"`
	CPMCents    int64     `json:"cpm_cents"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at" binding:"required"`
}

// Service 推广服务
type Service struct {
	store   Store
	posts   Posts
	counter Counter
	// defaultCPM 未指定单价时使用
	defaultCPM int64
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Options 构造参数
type Options struct {
	Store      Store
	Posts      Posts
	Counter    Counter
	DefaultCPM int64
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewService 创建
func NewService(o Options) *Service {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.DefaultCPM <= 0 {
		o.DefaultCPM = 1000
	}
	return &Service{
		store:      o.Store,
		posts:      o.Posts,
		counter:    o.Counter,
		defaultCPM: o.DefaultCPM,
		metrics:    o.Metrics,
		logger:     o.Logger,
		now:        o.Now,
	}
}

// Create 推广自己的动态，开始时间为空表示立即开始
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*model.Promotion, error) {
	if in.BudgetCents <= 0 {
		return nil, appErrors.ErrInvalidBudget
	}
	if in.CPMCents < 0 {
		return nil, appErrors.ErrInvalidParams
	}
	if in.CPMCents == 0 {
		in.CPMCents = s.defaultCPM
	}
	if in.StartsAt.IsZero() {
		in.StartsAt = s.now()
	}
	if !in.EndsAt.After(in.StartsAt) {
		return nil, appErrors.ErrInvalidWindow
	}

	post, err := s.posts.GetPost(ctx, ownerID, in.PostID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, appErrors.ErrPostNotFound
		}
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	if post.AuthorID != ownerID {
		return nil, appErrors.ErrNotPostOwner
	}

	p := &model.Promotion{
		PostID:      in.PostID,
		OwnerID:     ownerID,
		BudgetCents: in.BudgetCents,
		CPMCents:    in.CPMCents,
		Status:      model.PromotionActive,
		StartsAt:    in.StartsAt,
		EndsAt:      in.EndsAt,
	}
	if err := s.store.CreatePromotion(ctx, p); err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	s.logger.Info("Promotion created", "promotion_id", p.ID, "post_id", p.PostID, "budget_cents", p.BudgetCents)
	return p, nil
}

// List 用户自己的推广
func (s *Service) List(ctx context.Context, ownerID string) ([]model.Promotion, error) {
	list, err := s.store.ListPromotions(ctx, ownerID)
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	return list, nil
}

// Active 当前可投放的推广
func (s *Service) Active(ctx context.Context, now time.Time) ([]model.Promotion, error) {
	list, err := s.store.ActivePromotions(ctx, now)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, p := range list {
		if p.Servable(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Candidates 给某个用户的推广位，排除本人的推广，最多 limit 条
func (s *Service) Candidates(ctx context.Context, viewerID string, limit int) ([]model.Post, error) {
	if limit <= 0 {
		return nil, nil
	}
	active, err := s.Active(ctx, s.now())
	if err != nil {
		return nil, err
	}

	byPost := make(map[string]string)
	var ids []string
	for _, p := range active {
		if p.OwnerID == viewerID {
			continue
		}
		if _, dup := byPost[p.PostID]; dup {
			continue
		}
		byPost[p.PostID] = p.ID
		ids = append(ids, p.PostID)
		if len(ids) == limit {
			break
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	posts, err := s.posts.PostsByIDs(ctx, viewerID, ids)
	if err != nil {
		return nil, err
	}
	for i := range posts {
		posts[i].PromotionID = byPost[posts[i].ID]
	}
	return posts, nil
}

// Interleave 每 every 条普通动态后插入一条推广
// 同一页内同一条动态只出现一次，推广位不够时按原样返回
func Interleave(posts, promos []model.Post, every int) []model.Post {
	if every <= 0 || len(promos) == 0 {
		return posts
	}
	seen := make(map[string]bool, len(posts)+len(promos))
	for _, p := range posts {
		seen[p.ID] = true
	}

	out := make([]model.Post, 0, len(posts)+len(promos))
	next := 0
	pickPromo := func() (model.Post, bool) {
		for next < len(promos) {
			p := promos[next]
			next++
			if !seen[p.ID] {
				seen[p.ID] = true
				return p, true
			}
		}
		return model.Post{}, false
	}

	for i, p := range posts {
		out = append(out, p)
		if (i+1)%every == 0 {
			if promo, ok := pickPromo(); ok {
				out = append(out, promo)
			}
		}
	}
	return out
}

// RecordImpressions 计数实际下发的推广位，预算耗尽的推广标记为 exhausted
func (s *Service) RecordImpressions(ctx context.Context, served []model.Post) {
	n := 0
	for _, p := range served {
		if p.PromotionID == "" {
			continue
		}
		n++
		if err := s.recordOne(ctx, p.PromotionID); err != nil {
			s.logger.Warn("Record impression failed", "promotion_id", p.PromotionID, "error", err)
		}
	}
	s.metrics.PromotionImpression(n)
}

func (s *Service) recordOne(ctx context.Context, promotionID string) error {
	count, err := s.counter.Incr(ctx, promotionID)
	if err != nil {
		return err
	}
	promo, err := s.store.GetPromotion(ctx, promotionID)
	if err != nil {
		return err
	}
	if count < promo.Impressions {
		// 计数器丢失后从数据库的值继续累加
		count = promo.Impressions + 1
	}
	promo.Impressions = count

	if promo.SpentCents() >= promo.BudgetCents {
		s.logger.Info("Promotion budget exhausted", "promotion_id", promotionID, "impressions", count)
		return s.store.UpdateImpressions(ctx, promotionID, count, model.PromotionExhausted)
	}
	if count%flushEvery == 0 {
		return s.store.UpdateImpressions(ctx, promotionID, count, model.PromotionActive)
	}
	return nil
}
