package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/visualml/visualml_go_server/config"
	"github.com/visualml/visualml_go_server/internal/model"
	"github.com/visualml/visualml_go_server/internal/model/dto"
	"github.com/visualml/visualml_go_server/internal/pkg/jwt"
	"github.com/visualml/visualml_go_server/internal/pkg/oauth"
	"github.com/visualml/visualml_go_server/internal/repository"
)

var (
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
)

type AuthService struct {
	userRepo    *repository.UserRepository
	githubOAuth *oauth.GithubOAuth
	stateStore  *oauth.StateStore
	cfg         *config.Config
}

func NewAuthService(
	userRepo *repository.UserRepository,
	githubOAuth *oauth.GithubOAuth,
	stateStore *oauth.StateStore,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		githubOAuth: githubOAuth,
		stateStore:  stateStore,
		cfg:         cfg,
	}
}

// Register 邮箱注册
func (s *AuthService) Register(req *dto.RegisterRequest) (*dto.LoginResponse, error) {
	exists, err := s.userRepo.ExistsByEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	email := req.Email
	hashStr := string(hash)
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        &email,
		Name:         req.Name,
		Role:         model.RoleUser,
		PasswordHash: &hashStr,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}

	return s.issueToken(user)
}

// Login 邮箱登录
func (s *AuthService) Login(req *dto.LoginRequest) (*dto.LoginResponse, error) {
	user, err := s.userRepo.GetByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issueToken(user)
}

// GetUser 当前用户信息
func (s *AuthService) GetUser(userID string) (*dto.UserInfo, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return userInfo(user), nil
}

// GithubAuthURL 生成 GitHub 授权跳转地址
func (s *AuthService) GithubAuthURL(ctx context.Context, redirectURI string) (string, error) {
	state, err := s.stateStore.GenerateState(ctx, redirectURI)
	if err != nil {
		return "", err
	}
	return s.githubOAuth.GetAuthURL(state), nil
}

// GithubCallback 处理 OAuth 回调，首次登录自动建号
func (s *AuthService) GithubCallback(ctx context.Context, code, state string) (*dto.LoginResponse, string, error) {
	redirectURI, err := s.stateStore.ValidateState(ctx, state)
	if err != nil {
		return nil, "", fmt.Errorf("invalid oauth state: %w", err)
	}

	token, err := s.githubOAuth.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("failed to exchange code: %w", err)
	}

	ghUser, err := s.githubOAuth.GetUser(ctx, token)
	if err != nil {
		return nil, "", err
	}

	githubID := fmt.Sprintf("%d", ghUser.ID)
	user, err := s.userRepo.GetByGithubID(githubID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		name := ghUser.Name
		if name == "" {
			name = ghUser.Login
		}
		user = &model.User{
			ID:       uuid.NewString(),
			Name:     name,
			Role:     model.RoleUser,
			GithubID: &githubID,
		}
		if ghUser.Email != "" {
			email := ghUser.Email
			user.Email = &email
		}
		if err := s.userRepo.Create(user); err != nil {
			return nil, "", err
		}
	} else if err != nil {
		return nil, "", err
	}

	resp, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	return resp, redirectURI, nil
}

func (s *AuthService) issueToken(user *model.User) (*dto.LoginResponse, error) {
	email := ""
	if user.Email != nil {
		email = *user.Email
	}

	token, err := jwt.GenerateToken(user.ID, email, user.Name, user.Role,
		s.cfg.JWT.Secret, s.cfg.JWT.ExpireHours)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &dto.LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        userInfo(user),
	}, nil
}

func userInfo(user *model.User) *dto.UserInfo {
	info := &dto.UserInfo{
		ID:   user.ID,
		Name: user.Name,
		Role: user.Role,
	}
	if user.Email != nil {
		info.Email = *user.Email
	}
	return info
}
