package model

import "time"

// Post 校园动态
type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	AuthorName   string    `json:"author_name,omitempty"`
	Content      string    `json:"content"`
	ImageURL     string    `json:"image_url,omitempty"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
	LikedByMe    bool      `json:"liked_by_me"`
	CreatedAt    time.Time `json:"created_at"`
	// PromotionID 非空表示这是一条推广位
	PromotionID string `json:"promotion_id,omitempty"`
}

// Comment 动态评论
type Comment struct {
	ID         string    `json:"id"`
	PostID     string    `json:"post_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Content    string    `json:"content"`
	Pending    bool      `json:"pending,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
