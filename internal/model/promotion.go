package model

import "time"

// PromotionStatus 推广状态
type PromotionStatus string

const (
	PromotionActive    PromotionStatus = "active"
	PromotionExhausted PromotionStatus = "exhausted"
	PromotionEnded     PromotionStatus = "ended"
)

// Promotion 付费推广的动态
// 预算和千次展示单价以分为单位
type Promotion struct {
	ID          string          `json:"id"`
	PostID      string          `json:"post_id"`
	OwnerID     string          `json:"owner_id"`
	BudgetCents int64           `json:"budget_cents"`
	CPMCents    int64           `json:"cpm_cents"`
	Impressions int64           `json:"impressions"`
	Status      PromotionStatus `json:"status"`
	StartsAt    time.Time       `json:"starts_at"`
	EndsAt      time.Time       `json:"ends_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SpentCents 已消耗金额
func (p *Promotion) SpentCents() int64 {
	return p.Impressions * p.CPMCents / 1000
}

// Servable 当前时刻能否投放
func (p *Promotion) Servable(now time.Time) bool {
	return p.Status == PromotionActive &&
		!now.Before(p.StartsAt) && now.Before(p.EndsAt) &&
		p.SpentCents() < p.BudgetCents
}
