package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/realtime"
)

// MessageRepository 消息、回应和置顶，主题为会话ID
type MessageRepository struct {
	base
}

// NewMessageRepository 创建消息仓库
func NewMessageRepository(db *pgxpool.Pool, bus Publisher) *MessageRepository {
	return &MessageRepository{base: newBase(db, bus)}
}

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, image_url, status, is_read,
	COALESCE(reply_to_id::text, ''), client_id, created_at`

func scanMessage(row pgx.Row) (model.Message, error) {
	var m model.Message
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Content,
		&m.ImageURL,
		&m.Status,
		&m.IsRead,
		&m.ReplyToID,
		&m.ClientID,
		&m.CreatedAt,
	)
	return m, err
}

func collectMessages(rows pgx.Rows) ([]model.Message, error) {
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func previewOf(m *model.Message) string {
	if m.HasImage() {
		return "[图片]"
	}
	return m.Content
}

// InsertMessage 写入消息并更新双方的会话行
func (r *MessageRepository) InsertMessage(ctx context.Context, in *model.Message) (*model.Message, error) {
	var (
		saved   model.Message
		members []model.Conversation
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		status := in.Status
		if !status.Persistable() {
			status = model.StatusSent
		}
		query := `
			INSERT INTO messages (conversation_id, sender_id, receiver_id, content, image_url, status, reply_to_id, client_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING ` + messageColumns
		var err error
		saved, err = scanMessage(tx.QueryRow(ctx, query,
			in.ConversationID,
			in.SenderID,
			in.ReceiverID,
			in.Content,
			in.ImageURL,
			status,
			nullable(in.ReplyToID),
			in.ClientID,
		))
		if err != nil {
			return err
		}

		update := `
			UPDATE conversation_members
			SET last_message = $2, last_message_at = $3,
			    unread_count = unread_count + CASE WHEN user_id = $4 THEN 1 ELSE 0 END
			WHERE conversation_id = $1
			RETURNING user_id
		`
		rows, err := tx.Query(ctx, update, saved.ConversationID, previewOf(&saved), saved.CreatedAt, saved.ReceiverID)
		if err != nil {
			return err
		}
		var users []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			users = append(users, id)
		}
		rows.Close()
		if len(users) == 0 {
			return ErrNotFound
		}
		for _, id := range users {
			c, err := loadMember(ctx, tx, saved.ConversationID, id)
			if err != nil {
				return err
			}
			members = append(members, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.publish(realtime.Insert, realtime.TableMessages, saved.ConversationID, saved)
	for _, c := range members {
		r.publish(realtime.Update, realtime.TableConversations, c.UserID, c)
	}
	return &saved, nil
}

// RecentMessages 最近 limit 条，按时间升序
func (r *MessageRepository) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	query := `
		SELECT * FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// MessagesSince 不早于 since 的消息
func (r *MessageRepository) MessagesSince(ctx context.Context, conversationID string, since time.Time, limit int) ([]model.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, conversationID, since, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// statusRankSQL 数据库里同样只允许状态前进
const statusRankSQL = `CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'seen' THEN 3 ELSE 0 END`

// UpdateMessageStatus 推进状态，已经更靠后的不会被回退
func (r *MessageRepository) UpdateMessageStatus(ctx context.Context, conversationID string, ids []string, status model.MessageStatus) error {
	query := `
		UPDATE messages SET status = $3
		WHERE conversation_id = $1 AND id = ANY($2::uuid[]) AND ` + statusRankSQL + ` < $4
		RETURNING ` + messageColumns
	rows, err := r.db.Query(ctx, query, conversationID, ids, status, status.Rank())
	if err != nil {
		return err
	}
	changed, err := collectMessages(rows)
	if err != nil {
		return err
	}
	for _, m := range changed {
		r.publish(realtime.Update, realtime.TableMessages, conversationID, m)
	}
	return nil
}

// MarkMessagesRead 对方发给 readerID 的未读消息置为已读，同时清零未读数
func (r *MessageRepository) MarkMessagesRead(ctx context.Context, conversationID, readerID string) ([]string, error) {
	var (
		changed []model.Message
		member  model.Conversation
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE messages SET is_read = TRUE, status = 'seen'
			WHERE conversation_id = $1 AND receiver_id = $2 AND NOT is_read
			RETURNING ` + messageColumns
		rows, err := tx.Query(ctx, query, conversationID, readerID)
		if err != nil {
			return err
		}
		if changed, err = collectMessages(rows); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE conversation_members SET unread_count = 0 WHERE conversation_id = $1 AND user_id = $2`,
			conversationID, readerID); err != nil {
			return err
		}
		member, err = loadMember(ctx, tx, conversationID, readerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(changed))
	for _, m := range changed {
		ids = append(ids, m.ID)
		r.publish(realtime.Update, realtime.TableMessages, conversationID, m)
	}
	r.publish(realtime.Update, realtime.TableConversations, readerID, member)
	return ids, nil
}

// ============== 回应 ==============

// ListReactions 会话内全部回应
func (r *MessageRepository) ListReactions(ctx context.Context, conversationID string) ([]model.Reaction, error) {
	query := `
		SELECT mr.message_id, mr.user_id, mr.emoji, mr.created_at
		FROM message_reactions mr
		JOIN messages m ON m.id = mr.message_id
		WHERE m.conversation_id = $1
		ORDER BY mr.created_at
	`
	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reaction
	for rows.Next() {
		var x model.Reaction
		if err := rows.Scan(&x.MessageID, &x.UserID, &x.Emoji, &x.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

// AddReaction 添加回应，重复添加不报错
func (r *MessageRepository) AddReaction(ctx context.Context, conversationID string, x model.Reaction) error {
	query := `
		INSERT INTO message_reactions (message_id, user_id, emoji)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, x.MessageID, x.UserID, x.Emoji).Scan(&x.CreatedAt)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return nil
		}
		return err
	}
	r.publish(realtime.Insert, realtime.TableReactions, conversationID, x)
	return nil
}

// RemoveReaction 移除回应
func (r *MessageRepository) RemoveReaction(ctx context.Context, conversationID string, x model.Reaction) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		x.MessageID, x.UserID, x.Emoji)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		r.publish(realtime.Delete, realtime.TableReactions, conversationID, x)
	}
	return nil
}

// ============== 置顶 ==============

// ListPins 会话内置顶的消息
func (r *MessageRepository) ListPins(ctx context.Context, conversationID string) ([]model.Pin, error) {
	rows, err := r.db.Query(ctx,
		`SELECT message_id, conversation_id, pinned_by, pinned_at FROM message_pins WHERE conversation_id = $1 ORDER BY pinned_at`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Pin
	for rows.Next() {
		var p model.Pin
		if err := rows.Scan(&p.MessageID, &p.ConversationID, &p.PinnedBy, &p.PinnedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PinMessage 置顶消息
func (r *MessageRepository) PinMessage(ctx context.Context, p model.Pin) error {
	query := `
		INSERT INTO message_pins (message_id, conversation_id, pinned_by, pinned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, p.MessageID, p.ConversationID, p.PinnedBy, p.PinnedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		r.publish(realtime.Insert, realtime.TablePins, p.ConversationID, p)
	}
	return nil
}

// UnpinMessage 取消置顶
func (r *MessageRepository) UnpinMessage(ctx context.Context, conversationID, messageID string) error {
	var p model.Pin
	err := r.db.QueryRow(ctx, `
		DELETE FROM message_pins WHERE conversation_id = $1 AND message_id = $2
		RETURNING message_id, conversation_id, pinned_by, pinned_at
	`, conversationID, messageID).Scan(&p.MessageID, &p.ConversationID, &p.PinnedBy, &p.PinnedAt)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return nil
		}
		return err
	}
	r.publish(realtime.Delete, realtime.TablePins, conversationID, p)
	return nil
}
