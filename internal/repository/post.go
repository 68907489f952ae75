package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.planverse/internal/model"
)

// PostRepository 动态、点赞和评论
type PostRepository struct {
	base
}

// NewPostRepository 创建动态仓库
func NewPostRepository(db *pgxpool.Pool) *PostRepository {
	return &PostRepository{base: newBase(db, nil)}
}

// $1 为当前查看者
const postQuery = `
	SELECT p.id, p.author_id, u.display_name, p.content, p.image_url, p.like_count, p.comment_count,
	       EXISTS(SELECT 1 FROM post_likes l WHERE l.post_id = p.id AND l.user_id = $1), p.created_at
	FROM posts p
	JOIN users u ON u.id = p.author_id
`

func scanPost(row pgx.Row) (model.Post, error) {
	var p model.Post
	err := row.Scan(
		&p.ID,
		&p.AuthorID,
		&p.AuthorName,
		&p.Content,
		&p.ImageURL,
		&p.LikeCount,
		&p.CommentCount,
		&p.LikedByMe,
		&p.CreatedAt,
	)
	return p, err
}

func collectPosts(rows pgx.Rows) ([]model.Post, error) {
	defer rows.Close()
	var out []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPosts 早于 before 的 limit 条动态，按时间倒序
func (r *PostRepository) ListPosts(ctx context.Context, viewerID string, before time.Time, limit int) ([]model.Post, error) {
	rows, err := r.db.Query(ctx, postQuery+` WHERE p.created_at < $2 ORDER BY p.created_at DESC LIMIT $3`, viewerID, before, limit)
	if err != nil {
		return nil, err
	}
	return collectPosts(rows)
}

// PostsByIDs 批量获取
func (r *PostRepository) PostsByIDs(ctx context.Context, viewerID string, ids []string) ([]model.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, postQuery+` WHERE p.id = ANY($2::uuid[])`, viewerID, ids)
	if err != nil {
		return nil, err
	}
	return collectPosts(rows)
}

// GetPost 单条动态
func (r *PostRepository) GetPost(ctx context.Context, viewerID, id string) (*model.Post, error) {
	p, err := scanPost(r.db.QueryRow(ctx, postQuery+` WHERE p.id = $2`, viewerID, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// CreatePost 发布动态
func (r *PostRepository) CreatePost(ctx context.Context, p *model.Post) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO posts (author_id, content, image_url) VALUES ($1, $2, $3) RETURNING id, created_at`,
		p.AuthorID, p.Content, p.ImageURL,
	).Scan(&p.ID, &p.CreatedAt)
}

// SetLike 点赞或取消，返回最新点赞数
func (r *PostRepository) SetLike(ctx context.Context, postID, userID string, liked bool) (int, error) {
	var count int
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		query := `DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`
		if liked {
			query = `INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
		}
		tag, err := tx.Exec(ctx, query, postID, userID)
		if err != nil {
			return err
		}
		delta := int(tag.RowsAffected())
		if !liked {
			delta = -delta
		}
		err = tx.QueryRow(ctx,
			`UPDATE posts SET like_count = like_count + $2 WHERE id = $1 RETURNING like_count`,
			postID, delta).Scan(&count)
		return notFound(err)
	})
	return count, err
}

// ListComments 动态的评论，按时间升序
func (r *PostRepository) ListComments(ctx context.Context, postID string) ([]model.Comment, error) {
	query := `
		SELECT c.id, c.post_id, c.author_id, u.display_name, c.content, c.created_at
		FROM post_comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.post_id = $1
		ORDER BY c.created_at
	`
	rows, err := r.db.Query(ctx, query, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Comment
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.AuthorName, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddComment 写入评论并累加评论数
func (r *PostRepository) AddComment(ctx context.Context, c *model.Comment) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE posts SET comment_count = comment_count + 1 WHERE id = $1`, c.PostID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return tx.QueryRow(ctx,
			`INSERT INTO post_comments (post_id, author_id, content) VALUES ($1, $2, $3) RETURNING id, created_at`,
			c.PostID, c.AuthorID, c.Content,
		).Scan(&c.ID, &c.CreatedAt)
	})
}
