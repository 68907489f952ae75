package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.planverse/internal/model"
)

// PromotionRepository 推广
type PromotionRepository struct {
	base
}

// NewPromotionRepository 创建推广仓库
func NewPromotionRepository(db *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{base: newBase(db, nil)}
}

const promotionColumns = `id, post_id, owner_id, budget_cents, cpm_cents, impressions, status, starts_at, ends_at, created_at`

func scanPromotion(row pgx.Row) (model.Promotion, error) {
	var p model.Promotion
	err := row.Scan(
		&p.ID,
		&p.PostID,
		&p.OwnerID,
		&p.BudgetCents,
		&p.CPMCents,
		&p.Impressions,
		&p.Status,
		&p.StartsAt,
		&p.EndsAt,
		&p.CreatedAt,
	)
	return p, err
}

func collectPromotions(rows pgx.Rows) ([]model.Promotion, error) {
	defer rows.Close()
	var out []model.Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePromotion 创建推广
func (r *PromotionRepository) CreatePromotion(ctx context.Context, p *model.Promotion) error {
	query := `
		INSERT INTO promotions (post_id, owner_id, budget_cents, cpm_cents, status, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return r.db.QueryRow(ctx, query,
		p.PostID,
		p.OwnerID,
		p.BudgetCents,
		p.CPMCents,
		p.Status,
		p.StartsAt,
		p.EndsAt,
	).Scan(&p.ID, &p.CreatedAt)
}

// GetPromotion 单条推广
func (r *PromotionRepository) GetPromotion(ctx context.Context, id string) (*model.Promotion, error) {
	p, err := scanPromotion(r.db.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ListPromotions 用户创建的推广
func (r *PromotionRepository) ListPromotions(ctx context.Context, ownerID string) ([]model.Promotion, error) {
	rows, err := r.db.Query(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectPromotions(rows)
}

// ActivePromotions 当前时刻处于投放窗口的推广
func (r *PromotionRepository) ActivePromotions(ctx context.Context, now time.Time) ([]model.Promotion, error) {
	query := `SELECT ` + promotionColumns + ` FROM promotions
		WHERE status = $1 AND starts_at <= $2 AND ends_at > $2
		ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, model.PromotionActive, now)
	if err != nil {
		return nil, err
	}
	return collectPromotions(rows)
}

// UpdateImpressions 同步展示数和状态
func (r *PromotionRepository) UpdateImpressions(ctx context.Context, id string, impressions int64, status model.PromotionStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE promotions SET impressions = GREATEST(impressions, $2), status = $3 WHERE id = $1`,
		id, impressions, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
