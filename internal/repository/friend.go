package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.planverse/internal/model"
)

// FriendRepository 好友数据访问
type FriendRepository struct {
	base
}

// NewFriendRepository 创建好友仓库
func NewFriendRepository(db *pgxpool.Pool) *FriendRepository {
	return &FriendRepository{base: newBase(db, nil)}
}

const requestColumns = `fr.id, fr.from_user_id, fr.to_user_id, u.username, fr.message, fr.status, fr.created_at`

func scanRequest(row pgx.Row) (*model.FriendRequest, error) {
	req := &model.FriendRequest{}
	err := row.Scan(
		&req.ID,
		&req.FromUserID,
		&req.ToUserID,
		&req.FromUsername,
		&req.Message,
		&req.Status,
		&req.CreatedAt,
	)
	return req, err
}

// CreateRequest 创建好友请求
func (r *FriendRepository) CreateRequest(ctx context.Context, req *model.FriendRequest) error {
	query := `
		INSERT INTO friend_requests (from_user_id, to_user_id, message, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	return r.db.QueryRow(ctx, query,
		req.FromUserID,
		req.ToUserID,
		req.Message,
		req.Status,
	).Scan(&req.ID, &req.CreatedAt)
}

// GetRequest 通过 ID 获取好友请求
func (r *FriendRepository) GetRequest(ctx context.Context, id string) (*model.FriendRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM friend_requests fr JOIN users u ON u.id = fr.from_user_id
		WHERE fr.id = $1`
	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return req, nil
}

// PendingRequest 获取待处理的好友请求，没有时返回 nil
func (r *FriendRepository) PendingRequest(ctx context.Context, fromUserID, toUserID string) (*model.FriendRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM friend_requests fr JOIN users u ON u.id = fr.from_user_id
		WHERE fr.from_user_id = $1 AND fr.to_user_id = $2 AND fr.status = $3`
	req, err := scanRequest(r.db.QueryRow(ctx, query, fromUserID, toUserID, model.FriendRequestPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return req, nil
}

// UpdateRequestStatus 更新好友请求状态
func (r *FriendRepository) UpdateRequestStatus(ctx context.Context, id string, status model.FriendRequestStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE friend_requests SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingRequestsFor 发给用户的待处理请求
func (r *FriendRepository) PendingRequestsFor(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM friend_requests fr JOIN users u ON u.id = fr.from_user_id
		WHERE fr.to_user_id = $1 AND fr.status = $2
		ORDER BY fr.created_at DESC`
	rows, err := r.db.Query(ctx, query, userID, model.FriendRequestPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FriendRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// CreateFriendship 创建好友关系（双向）
func (r *FriendRepository) CreateFriendship(ctx context.Context, userID, friendID string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		query := `INSERT INTO friends (user_id, friend_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
		if _, err := tx.Exec(ctx, query, userID, friendID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, query, friendID, userID)
		return err
	})
}

// DeleteFriendship 删除好友关系（双向）
func (r *FriendRepository) DeleteFriendship(ctx context.Context, userID, friendID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM friends WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)`,
		userID, friendID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsFriend 检查是否为好友
func (r *FriendRepository) IsFriend(ctx context.Context, userID, friendID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM friends WHERE user_id = $1 AND friend_id = $2)`,
		userID, friendID).Scan(&exists)
	return exists, err
}

// ListFriends 好友列表，附带与对方的会话ID
func (r *FriendRepository) ListFriends(ctx context.Context, userID string) ([]model.Friend, error) {
	query := `
		SELECT f.friend_id, u.username, u.display_name, u.avatar_url,
		       COALESCE(m.conversation_id::text, ''), f.created_at
		FROM friends f
		JOIN users u ON u.id = f.friend_id
		LEFT JOIN conversation_members m ON m.user_id = f.user_id AND m.peer_id = f.friend_id
		WHERE f.user_id = $1
		ORDER BY u.display_name
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Friend
	for rows.Next() {
		var f model.Friend
		if err := rows.Scan(&f.UserID, &f.Username, &f.DisplayName, &f.AvatarURL, &f.ConversationID, &f.Since); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
