package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.planverse/internal/model"
)

// UserRepository 用户与设置
type UserRepository struct {
	base
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{base: newBase(db, nil)}
}

// CreateUser 创建用户和默认设置
func (r *UserRepository) CreateUser(ctx context.Context, u *model.User) error {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO users (username, display_name, avatar_url, campus, password_hash)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`
		if err := tx.QueryRow(ctx, query,
			u.Username,
			u.DisplayName,
			u.AvatarURL,
			u.Campus,
			u.PasswordHash,
		).Scan(&u.ID, &u.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO user_settings (user_id) VALUES ($1)`, u.ID)
		return err
	})
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

const userColumns = `id, username, display_name, avatar_url, campus, password_hash, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.DisplayName,
		&u.AvatarURL,
		&u.Campus,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// GetUserByUsername 通过用户名获取
func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// GetUserByID 通过 ID 获取
func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetSettings 获取设置，没有记录时返回默认值
func (r *UserRepository) GetSettings(ctx context.Context, userID string) (model.Settings, error) {
	s := model.DefaultSettings(userID)
	err := r.db.QueryRow(ctx, `SELECT read_receipts FROM user_settings WHERE user_id = $1`, userID).Scan(&s.ReadReceipts)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return s, err
	}
	return s, nil
}

// UpdateSettings 保存设置
func (r *UserRepository) UpdateSettings(ctx context.Context, s model.Settings) error {
	query := `
		INSERT INTO user_settings (user_id, read_receipts, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET read_receipts = EXCLUDED.read_receipts, updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, s.UserID, s.ReadReceipts)
	return err
}
