package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/realtime"
)

// ConversationRepository 会话成员行，主题为用户ID
type ConversationRepository struct {
	base
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *pgxpool.Pool, bus Publisher) *ConversationRepository {
	return &ConversationRepository{base: newBase(db, bus)}
}

const memberQuery = `
	SELECT m.conversation_id, m.user_id, m.peer_id, u.display_name, u.avatar_url,
	       m.last_message, m.last_message_at, m.pinned, m.muted, m.unread_count, m.display_order
	FROM conversation_members m
	JOIN users u ON u.id = m.peer_id
`

func scanMember(row pgx.Row) (model.Conversation, error) {
	var c model.Conversation
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.PeerID,
		&c.PeerName,
		&c.PeerAvatar,
		&c.LastMessage,
		&c.LastMessageAt,
		&c.Pinned,
		&c.Muted,
		&c.UnreadCount,
		&c.DisplayOrder,
	)
	return c, err
}

func loadMember(ctx context.Context, q DB, conversationID, userID string) (model.Conversation, error) {
	c, err := scanMember(q.QueryRow(ctx, memberQuery+` WHERE m.conversation_id = $1 AND m.user_id = $2`, conversationID, userID))
	return c, notFound(err)
}

// CreateConversation 创建两人会话，已存在时返回已有ID
func (r *ConversationRepository) CreateConversation(ctx context.Context, a, b string) (string, error) {
	var (
		id      string
		created []model.Conversation
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT conversation_id FROM conversation_members WHERE user_id = $1 AND peer_id = $2`, a, b,
		).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		if err := tx.QueryRow(ctx, `INSERT INTO conversations DEFAULT VALUES RETURNING id`).Scan(&id); err != nil {
			return err
		}
		insert := `INSERT INTO conversation_members (conversation_id, user_id, peer_id) VALUES ($1, $2, $3)`
		for _, pair := range [][2]string{{a, b}, {b, a}} {
			if _, err := tx.Exec(ctx, insert, id, pair[0], pair[1]); err != nil {
				return err
			}
		}
		for _, user := range []string{a, b} {
			c, err := loadMember(ctx, tx, id, user)
			if err != nil {
				return err
			}
			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	for _, c := range created {
		r.publish(realtime.Insert, realtime.TableConversations, c.UserID, c)
	}
	return id, nil
}

// ListConversations 用户的全部会话
func (r *ConversationRepository) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := r.db.Query(ctx, memberQuery+` WHERE m.user_id = $1 ORDER BY m.last_message_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		c, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateDisplayOrders 在一个事务里写入全部排序值
func (r *ConversationRepository) UpdateDisplayOrders(ctx context.Context, userID string, updates []model.OrderUpdate) error {
	var changed []model.Conversation
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		// 先清空再写入，避免与同分区其他行的中间状态冲突
		for _, u := range updates {
			tag, err := tx.Exec(ctx,
				`UPDATE conversation_members SET display_order = NULL WHERE conversation_id = $1 AND user_id = $2 AND pinned = $3`,
				u.ConversationID, userID, u.Pinned)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return ErrNotFound
			}
		}
		for _, u := range updates {
			if _, err := tx.Exec(ctx,
				`UPDATE conversation_members SET display_order = $3 WHERE conversation_id = $1 AND user_id = $2`,
				u.ConversationID, userID, u.DisplayOrder); err != nil {
				return err
			}
		}
		for _, u := range updates {
			c, err := loadMember(ctx, tx, u.ConversationID, userID)
			if err != nil {
				return err
			}
			changed = append(changed, c)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, c := range changed {
		r.publish(realtime.Update, realtime.TableConversations, userID, c)
	}
	return nil
}

// SetConversationPinned 切换置顶，排序值清空
func (r *ConversationRepository) SetConversationPinned(ctx context.Context, userID, conversationID string, pinned bool) error {
	return r.updateMember(ctx, userID, conversationID,
		`UPDATE conversation_members SET pinned = $3, display_order = NULL WHERE conversation_id = $1 AND user_id = $2`, pinned)
}

// SetConversationMuted 切换免打扰
func (r *ConversationRepository) SetConversationMuted(ctx context.Context, userID, conversationID string, muted bool) error {
	return r.updateMember(ctx, userID, conversationID,
		`UPDATE conversation_members SET muted = $3 WHERE conversation_id = $1 AND user_id = $2`, muted)
}

// ResetUnread 未读清零
func (r *ConversationRepository) ResetUnread(ctx context.Context, userID, conversationID string) error {
	return r.updateMember(ctx, userID, conversationID,
		`UPDATE conversation_members SET unread_count = 0 WHERE conversation_id = $1 AND user_id = $2`)
}

func (r *ConversationRepository) updateMember(ctx context.Context, userID, conversationID, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, append([]any{conversationID, userID}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	c, err := loadMember(ctx, r.db, conversationID, userID)
	if err != nil {
		return err
	}
	r.publish(realtime.Update, realtime.TableConversations, userID, c)
	return nil
}
