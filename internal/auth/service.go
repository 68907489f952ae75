// Package auth 注册登录、Token 刷新和隐私设置
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/repository"
	appErrors "sudooom.planverse/shared/errors"
	"sudooom.planverse/shared/jwt"
)

// Users 用户数据访问
type Users interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetSettings(ctx context.Context, userID string) (model.Settings, error)
	UpdateSettings(ctx context.Context, s model.Settings) error
}

// SettingsApplier 设置变更后同步到在线会话
type SettingsApplier interface {
	ApplySettings(settings model.Settings)
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=50"`
	Password    string `json:"password" binding:"required,min=6,max=50"`
	DisplayName string `json:"display_name" binding:"required,min=1,max=50"`
	Campus      string `json:"campus" binding:"max=100"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	User         *model.User `json:"user"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresAt    int64       `json:"expires_at"`
}

// SettingsRequest 设置更新，字段为空表示不修改
type SettingsRequest struct {
	ReadReceipts *bool `json:"read_receipts"`
}

// Service 认证服务
type Service struct {
	users   Users
	jwt     *jwt.Service
	applier SettingsApplier
	cost    int
	logger  *slog.Logger
}

// NewService 创建认证服务
func NewService(users Users, jwtService *jwt.Service) *Service {
	return &Service{
		users:  users,
		jwt:    jwtService,
		cost:   bcrypt.DefaultCost,
		logger: slog.Default(),
	}
}

// SetSettingsApplier 会话管理器创建之后再接上
func (s *Service) SetSettingsApplier(a SettingsApplier) {
	s.applier = a
}

// Register 用户注册
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*model.User, error) {
	// 密码加密
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, appErrors.ErrServerError.Wrap(err)
	}

	user := &model.User{
		Username:     strings.ToLower(strings.TrimSpace(req.Username)),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Campus:       strings.TrimSpace(req.Campus),
		PasswordHash: string(passwordHash),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.ErrUsernameExists
		}
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	s.logger.Info("User registered", "userId", user.ID, "username", user.Username)
	return user, nil
}

// Login 用户登录
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	// 查询用户
	user, err := s.users.GetUserByUsername(ctx, strings.ToLower(strings.TrimSpace(req.Username)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	// 验证密码
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}

	return s.issue(user)
}

// RefreshToken 刷新 Token
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*LoginResponse, error) {
	claims, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.ErrTokenExpired
		}
		return nil, appErrors.ErrTokenInvalid
	}

	// 检查用户是否存在
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, appErrors.ErrTokenInvalid
		}
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	return s.issue(user)
}

// ValidateAccessToken 供中间件使用
func (s *Service) ValidateAccessToken(token string) (*jwt.Claims, error) {
	claims, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.ErrTokenExpired
		}
		return nil, appErrors.ErrTokenInvalid
	}
	return claims, nil
}

func (s *Service) issue(user *model.User) (*LoginResponse, error) {
	pair, err := s.jwt.GenerateTokenPair(user.ID, user.Username)
	if err != nil {
		return nil, appErrors.ErrServerError.Wrap(err)
	}
	return &LoginResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	}, nil
}

// Me 当前用户
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, appErrors.ErrUserNotFound
		}
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	return user, nil
}

// Settings 读取隐私设置
func (s *Service) Settings(ctx context.Context, userID string) (model.Settings, error) {
	settings, err := s.users.GetSettings(ctx, userID)
	if err != nil {
		return model.Settings{}, appErrors.ErrDBError.Wrap(err)
	}
	return settings, nil
}

// UpdateSettings 更新隐私设置并立即作用于在线会话
func (s *Service) UpdateSettings(ctx context.Context, userID string, req *SettingsRequest) (model.Settings, error) {
	settings, err := s.Settings(ctx, userID)
	if err != nil {
		return model.Settings{}, err
	}
	if req.ReadReceipts != nil {
		settings.ReadReceipts = *req.ReadReceipts
	}
	settings.UserID = userID

	if err := s.users.UpdateSettings(ctx, settings); err != nil {
		return model.Settings{}, appErrors.ErrDBError.Wrap(err)
	}
	if s.applier != nil {
		s.applier.ApplySettings(settings)
	}
	return settings, nil
}
