package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"storyhub/internal/model"
	"storyhub/internal/repository"
	"storyhub/pkg/jwt"
	"storyhub/pkg/password"
)

type UserService struct {
	repo       *repository.UserRepository
	jwtService *jwt.JWTService
}

func NewUserService(repo *repository.UserRepository, jwtService *jwt.JWTService) *UserService {
	return &UserService{repo: repo, jwtService: jwtService}
}

// Register 注册
func (s *UserService) Register(ctx context.Context, username, email, nickname, plainPassword string) (*model.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || plainPassword == "" {
		return nil, "", validationf("username, email and password are required")
	}
	// 密码哈希
	hash, err := password.Hash(plainPassword)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) {
			return nil, "", validationf("%v", err)
		}
		return nil, "", err
	}
	user := &model.User{
		Username:     username,
		Email:        email,
		Nickname:     strings.TrimSpace(nickname),
		PasswordHash: hash,
		LastSeen:     time.Now(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrStale) {
			return nil, "", conflictf("username or email already taken")
		}
		return nil, "", err
	}
	// 默认签发 token
	token, err := s.issue(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login 登录
func (s *UserService) Login(ctx context.Context, identifier, plainPassword string) (*model.User, string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || plainPassword == "" {
		return nil, "", validationf("identifier and password are required")
	}
	u, err := s.repo.GetByUsernameOrEmail(ctx, identifier)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if !password.Verify(plainPassword, u.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.issue(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Profile 读取用户资料
func (s *UserService) Profile(ctx context.Context, id uint) (*model.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundf("user %d not found", id)
	}
	return u, err
}

// ErrInvalidCredentials 用户名或密码错误
var ErrInvalidCredentials = errors.New("invalid credentials")

func (s *UserService) issue(u *model.User) (string, error) {
	return s.jwtService.GenerateToken(u.ID, map[string]interface{}{"username": u.Username})
}
