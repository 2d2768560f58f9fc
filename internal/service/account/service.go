// Package account implements user registration and login.
package account

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/nexusvoice/backend/internal/apperr"
	"github.com/nexusvoice/backend/internal/auth"
	"github.com/nexusvoice/backend/internal/config"
	"github.com/nexusvoice/backend/internal/model/user"
	"github.com/nexusvoice/backend/internal/store"
)

const minPasswordLength = 8

// Credentials 注册与登录共用的请求体。
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse 登录成功后的令牌响应。
type AuthResponse struct {
	AccessToken string     `json:"accessToken"`
	User        *user.User `json:"user"`
}

// Service 用户账户服务。
type Service struct {
	store store.Store
	cfg   config.AuthConfig
}

// NewService wires the account service.
func NewService(st store.Store, cfg config.AuthConfig) *Service {
	return &Service{store: st, cfg: cfg}
}

// Register creates a user with a hashed password.
func (s *Service) Register(ctx context.Context, creds Credentials) (*user.User, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Validation("邮箱格式无效")
	}
	if len(creds.Password) < minPasswordLength {
		return nil, apperr.Validation("密码长度至少8位")
	}

	hashed, err := auth.HashPassword(creds.Password)
	if err != nil {
		return nil, err
	}

	u := user.User{Email: email, HashedPassword: hashed}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Validation("该邮箱已注册")
		}
		return nil, err
	}

	created, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	log.Printf("[account] registered user=%s", created.ID)
	return created, nil
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Authorization("邮箱或密码错误")
		}
		return nil, err
	}

	if !auth.CheckPasswordHash(creds.Password, u.HashedPassword) {
		return nil, apperr.Authorization("邮箱或密码错误")
	}

	token, err := auth.NewAccessToken(u.ID, s.cfg.JWTSecret, s.cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	log.Printf("[account] login user=%s", u.ID)
	return &AuthResponse{AccessToken: token, User: u}, nil
}
