// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"marketai-go/internal/model"
	"marketai-go/internal/repository"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/hash"
	"marketai-go/pkg/log"
	"marketai-go/pkg/token"
)

// TokenPair 是一次登录或刷新签发的 token 对。
type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// AuthResult 是注册与登录的返回值。
type AuthResult struct {
	TokenPair
	User *model.User `json:"user"`
}

// MaxDisplayNameLength 与 users.display_name 列宽一致。
const MaxDisplayNameLength = 100

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(ctx context.Context, email, password, displayName string) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error)
	GetProfile(ctx context.Context, userID uint) (*model.User, error)
	UpdateProfile(ctx context.Context, userID uint, displayName string) (*model.User, error)
	Logout(ctx context.Context, tokenString string) error
	IsTokenRevoked(ctx context.Context, tokenString string) (bool, error)
	ChangePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	// AllowLogin 对 clientKey（通常是客户端 IP）计数，超过阈值返回 RateLimited。
	AllowLogin(ctx context.Context, clientKey string) error
}

// ResetNotifier 负责把密码重置 token 送达用户。
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, user *model.User, resetToken string) error
}

// LogResetNotifier 只把重置 token 写进日志，适用于本地运行。
type LogResetNotifier struct{}

// NotifyPasswordReset 实现 ResetNotifier。
func (LogResetNotifier) NotifyPasswordReset(_ context.Context, user *model.User, resetToken string) error {
	log.Infow("password reset requested", "userId", user.ID, "email", user.Email, "resetToken", resetToken)
	return nil
}

// AuthPolicy 汇总登录限流与密码重置的参数。
type AuthPolicy struct {
	LoginRateLimit  int
	LoginRateWindow time.Duration
	ResetTokenTTL   time.Duration
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	tokenRepo  repository.TokenRepository
	jwtManager *token.JWTManager
	notifier   ResetNotifier
	policy     AuthPolicy
}

// NewUserService 创建一个新的 UserService 实例。notifier 为 nil 时使用 LogResetNotifier。
func NewUserService(userRepo repository.UserRepository, tokenRepo repository.TokenRepository, jwtManager *token.JWTManager, notifier ResetNotifier, policy AuthPolicy) UserService {
	if notifier == nil {
		notifier = LogResetNotifier{}
	}
	if policy.ResetTokenTTL <= 0 {
		policy.ResetTokenTTL = 30 * time.Minute
	}
	if policy.LoginRateWindow <= 0 {
		policy.LoginRateWindow = time.Minute
	}
	return &userService{
		userRepo:   userRepo,
		tokenRepo:  tokenRepo,
		jwtManager: jwtManager,
		notifier:   notifier,
		policy:     policy,
	}
}

var errInvalidCredentials = apperr.New(apperr.KindInvalidCredentials, "Invalid email or password")

// Register 处理用户注册的业务逻辑，成功后直接登录。
func (s *userService) Register(ctx context.Context, email, password, displayName string) (*AuthResult, error) {
	email = model.NormalizeEmail(email)
	if err := model.ValidateEmail(email); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	if err := model.ValidatePassword(password); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = model.DefaultDisplayName(email)
	}
	if len([]rune(displayName)) > MaxDisplayNameLength {
		return nil, apperr.Newf(apperr.KindValidation, "display name must be at most %d characters", MaxDisplayNameLength)
	}

	// 1. 检查邮箱是否已存在
	_, err := s.userRepo.FindByEmail(ctx, email)
	if err == nil {
		return nil, apperr.New(apperr.KindConflict, "An account with this email already exists")
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to look up user", err)
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to hash password", err)
	}

	// 3. 写入数据库；并发注册同一邮箱时由唯一索引兜底
	user := &model.User{Email: email, DisplayName: displayName, Password: hashedPassword}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.New(apperr.KindConflict, "An account with this email already exists")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create user", err)
	}
	log.Infof("[UserService] user registered, id: %d", user.ID)

	return s.issue(user)
}

// Login 处理用户登录的业务逻辑。未知邮箱与错误密码返回同一个错误。
func (s *userService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.userRepo.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to look up user", err)
	}
	if !hash.CheckPasswordHash(password, user.Password) {
		return nil, errInvalidCredentials
	}
	return s.issue(user)
}

func (s *userService) issue(user *model.User) (*AuthResult, error) {
	pair, err := s.pair(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{TokenPair: *pair, User: user}, nil
}

func (s *userService) pair(userID uint, email string) (*TokenPair, error) {
	access, err := s.jwtManager.GenerateToken(userID, email)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to sign access token", err)
	}
	refresh, err := s.jwtManager.GenerateRefreshToken(userID, email)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to sign refresh token", err)
	}
	return &TokenPair{Token: access, RefreshToken: refresh}, nil
}

// RefreshToken 校验 refresh token 并签发新的 token 对。
func (s *userService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.jwtManager.VerifyTokenOfType(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "Invalid or expired refresh token", err)
	}
	// 用户可能已被删除
	if _, err := s.GetProfile(ctx, claims.UserID); err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "User no longer exists", err)
	}
	// 旧 refresh token 一次性使用：并发请求中只有一个能抢到
	claimed, err := s.tokenRepo.ClaimToken(ctx, refreshToken, time.Until(claims.ExpiresAt.Time))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to check refresh token", err)
	}
	if !claimed {
		return nil, apperr.New(apperr.KindUnauthorized, "Refresh token has been revoked")
	}
	return s.pair(claims.UserID, claims.Email)
}

// GetProfile 根据用户 ID 获取用户详细信息。
func (s *userService) GetProfile(ctx context.Context, userID uint) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "User not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load user", err)
	}
	return user, nil
}

// UpdateProfile 修改显示名。
func (s *userService) UpdateProfile(ctx context.Context, userID uint, displayName string) (*model.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, apperr.New(apperr.KindValidation, "display name must not be empty")
	}
	if len([]rune(displayName)) > MaxDisplayNameLength {
		return nil, apperr.Newf(apperr.KindValidation, "display name must be at most %d characters", MaxDisplayNameLength)
	}
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.DisplayName = displayName
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to update user", err)
	}
	return user, nil
}

// Logout 处理用户登出逻辑，将 token 加入 Redis 黑名单。
// token 的剩余有效期将作为 Redis key 的过期时间。
func (s *userService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return apperr.Wrap(apperr.KindUnauthorized, "Invalid or expired token", err)
	}
	if err := s.tokenRepo.Blacklist(ctx, tokenString, time.Until(claims.ExpiresAt.Time)); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to revoke token", err)
	}
	return nil
}

// IsTokenRevoked 查询黑名单。
func (s *userService) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	revoked, err := s.tokenRepo.IsBlacklisted(ctx, tokenString)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "failed to check token", err)
	}
	return revoked, nil
}

// ChangePassword 校验当前密码后设置新密码。
func (s *userService) ChangePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if !hash.CheckPasswordHash(currentPassword, user.Password) {
		return apperr.New(apperr.KindInvalidCredentials, "Current password is incorrect")
	}
	return s.setPassword(ctx, user, newPassword)
}

func (s *userService) setPassword(ctx context.Context, user *model.User, newPassword string) error {
	if err := model.ValidatePassword(newPassword); err != nil {
		return apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	hashed, err := hash.HashPassword(newPassword)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to hash password", err)
	}
	user.Password = hashed
	if err := s.userRepo.Update(ctx, user); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to update password", err)
	}
	return nil
}

// ForgotPassword 为已存在的用户生成重置 token。
// 邮箱不存在时同样返回 nil，避免泄露账号是否存在。
func (s *userService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return apperr.Wrap(apperr.KindInternal, "failed to look up user", err)
	}

	resetToken := token.GenerateRandomString(32)
	if err := s.tokenRepo.SaveResetToken(ctx, resetToken, user.ID, s.policy.ResetTokenTTL); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to store reset token", err)
	}
	if err := s.notifier.NotifyPasswordReset(ctx, user, resetToken); err != nil {
		log.Error("[UserService] failed to deliver password reset", err)
	}
	return nil
}

// ResetPassword 消费重置 token 并设置新密码。token 只能使用一次。
func (s *userService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	// 先校验密码，避免弱密码白白消耗 token
	if err := model.ValidatePassword(newPassword); err != nil {
		return apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	userID, err := s.tokenRepo.ConsumeResetToken(ctx, strings.TrimSpace(resetToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.KindValidation, "Reset link is invalid or has expired")
		}
		return apperr.Wrap(apperr.KindInternal, "failed to read reset token", err)
	}
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, user, newPassword)
}

// AllowLogin 在 Redis 不可用时放行。
func (s *userService) AllowLogin(ctx context.Context, clientKey string) error {
	if s.policy.LoginRateLimit <= 0 {
		return nil
	}
	n, err := s.tokenRepo.IncrLoginAttempts(ctx, clientKey, s.policy.LoginRateWindow)
	if err != nil {
		log.Warnf("[UserService] login rate limiter unavailable: %v", err)
		return nil
	}
	if n > int64(s.policy.LoginRateLimit) {
		return apperr.New(apperr.KindRateLimited, "Too many login attempts. Please try again later.")
	}
	return nil
}
