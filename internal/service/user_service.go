package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockroom/internal/apperror"
	"stockroom/internal/model"
	"stockroom/internal/repository"
	"stockroom/pkg/pagination"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DTOs for Request validation
type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	FullName string `json:"full_name" binding:"required"`
	Role     string `json:"role" binding:"required"`
	Company  string `json:"company"`
}

// UpdateUserRequest changes only the fields that are present
type UpdateUserRequest struct {
	FullName *string `json:"full_name"`
	Role     *string `json:"role"`
	Company  *string `json:"company"`
	Password *string `json:"password" binding:"omitempty,min=6"`
}

type LoginUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginMeta is the client context recorded with every login attempt
type LoginMeta struct {
	IP        string
	UserAgent string
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	FullName    string  `json:"full_name"`
	Role        string  `json:"role"`
	Company     string  `json:"company"`
	CreatedAt   string  `json:"created_at"`
	LastLoginAt *string `json:"last_login_at"`
}

// UserService defines the interface for business logic related to User
type UserService interface {
	Login(ctx context.Context, req LoginUserRequest, meta LoginMeta) (*LoginResponse, error)
	Current(ctx context.Context, caller Caller) (*UserResponse, error)
	CreateUser(ctx context.Context, caller Caller, req CreateUserRequest) (*UserResponse, error)
	ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error)
	UpdateUser(ctx context.Context, caller Caller, id string, req UpdateUserRequest) (*UserResponse, error)
	DeleteUser(ctx context.Context, caller Caller, id string) error
}

type userService struct {
	repo        repository.UserRepository
	requestRepo repository.RequestRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	jwtSecret   []byte
	tokenTTL    time.Duration
	log         *zap.Logger
	now         func() time.Time
}

// NewUserService returns a new instance of UserService
func NewUserService(
	repo repository.UserRepository,
	requestRepo repository.RequestRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	jwtSecret string,
	tokenTTL time.Duration,
	log *zap.Logger,
) UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &userService{
		repo:        repo,
		requestRepo: requestRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		jwtSecret:   []byte(jwtSecret),
		tokenTTL:    tokenTTL,
		log:         log.Named("users"),
		now:         time.Now,
	}
}

// Helper: parse model to standard json API response
func mapToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:          user.ID.String(),
		Username:    user.Username,
		FullName:    user.FullName,
		Role:        user.Role.String(),
		Company:     user.Company,
		CreatedAt:   formatTime(user.CreatedAt),
		LastLoginAt: formatTimePtr(user.LastLoginAt),
	}
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest, meta LoginMeta) (*LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, apperror.Validation("username and password required")
	}

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		s.recordLogin(ctx, model.ActionLoginFailed, user, username, meta)
		s.log.Warn("login failed", zap.String("username", username), zap.String("ip", meta.IP))
		return nil, apperror.Unauthorized("invalid username or password")
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.Role.String(),
		"iat":  now.Unix(),
		"exp":  expiresAt.Unix(),
	})
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.repo.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to record last login: %w", err)
	}
	user.LastLoginAt = &now
	s.recordLogin(ctx, model.ActionLoginSuccess, user, username, meta)
	s.log.Info("login succeeded", zap.String("user_id", user.ID.String()), zap.String("ip", meta.IP))

	return &LoginResponse{
		Token:     tokenString,
		ExpiresAt: formatTime(expiresAt),
		User:      *mapToResponse(user),
	}, nil
}

// recordLogin writes the security trail outside any transaction so failed attempts persist
func (s *userService) recordLogin(ctx context.Context, action string, user *model.User, username string, meta LoginMeta) {
	entry := &model.AuditLog{
		Action:     action,
		EntityName: username,
		IPAddress:  meta.IP,
		Details:    marshalDetails(map[string]string{"username": username, "user_agent": meta.UserAgent}),
	}
	if user != nil {
		id := user.ID
		entry.UserID = &id
		entry.EntityID = user.ID.String()
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		s.log.Error("failed to write login audit", zap.Error(err))
	}
}

func (s *userService) Current(ctx context.Context, caller Caller) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, caller.ID)
	if err != nil {
		return nil, notFoundOr(err, "user not found")
	}
	return mapToResponse(user), nil
}

func (s *userService) CreateUser(ctx context.Context, caller Caller, req CreateUserRequest) (*UserResponse, error) {
	role, err := model.ParseRole(req.Role)
	if err != nil {
		return nil, apperror.Validation("invalid role: must be %q or %q", model.RoleAdmin, model.RoleUser)
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || strings.TrimSpace(req.FullName) == "" {
		return nil, apperror.Validation("username and full_name are required")
	}
	if len(req.Password) < 6 {
		return nil, apperror.Validation("password must be at least 6 characters")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username:     username,
		PasswordHash: string(hashedPassword),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         role,
		Company:      req.Company,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.repo.GetByUsername(txCtx, username); err == nil {
			return apperror.Conflict("username already exists")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("database error: %w", err)
		}

		if err := s.repo.Create(txCtx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return s.audit(txCtx, caller, model.ActionCreateUser, user, map[string]string{
			"username": user.Username,
			"role":     user.Role.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	return mapToResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error) {
	p := pagination.Normalize(page, limit)

	users, total, err := s.repo.List(ctx, p.Page, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}

	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapToResponse(&users[i]))
	}

	return responses, total, nil
}

func (s *userService) UpdateUser(ctx context.Context, caller Caller, id string, req UpdateUserRequest) (*UserResponse, error) {
	userID, err := parseID(id, "user")
	if err != nil {
		return nil, err
	}

	var user *model.User
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		user, err = s.repo.GetByID(txCtx, userID)
		if err != nil {
			return notFoundOr(err, "user not found")
		}

		changed := make([]string, 0, 4)
		if req.FullName != nil {
			user.FullName = strings.TrimSpace(*req.FullName)
			changed = append(changed, "full_name")
		}
		if req.Role != nil {
			role, err := model.ParseRole(*req.Role)
			if err != nil {
				return apperror.Validation("invalid role: must be %q or %q", model.RoleAdmin, model.RoleUser)
			}
			user.Role = role
			changed = append(changed, "role")
		}
		if req.Company != nil {
			user.Company = *req.Company
			changed = append(changed, "company")
		}
		if req.Password != nil && *req.Password != "" {
			if len(*req.Password) < 6 {
				return apperror.Validation("password must be at least 6 characters")
			}
			hashed, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			user.PasswordHash = string(hashed)
			changed = append(changed, "password")
		}

		if err := s.repo.Update(txCtx, user); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		return s.audit(txCtx, caller, model.ActionUpdateUser, user, map[string]interface{}{"fields": changed})
	})
	if err != nil {
		return nil, err
	}

	return mapToResponse(user), nil
}

func (s *userService) DeleteUser(ctx context.Context, caller Caller, id string) error {
	userID, err := parseID(id, "user")
	if err != nil {
		return err
	}
	if userID == caller.ID {
		return apperror.Validation("cannot delete your own account")
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.repo.GetByID(txCtx, userID)
		if err != nil {
			return notFoundOr(err, "user not found")
		}

		refs, err := s.requestRepo.CountByUser(txCtx, userID)
		if err != nil {
			return fmt.Errorf("failed to check user requests: %w", err)
		}
		if refs > 0 {
			return apperror.Conflict("user is referenced by %d material requests", refs)
		}

		if err := s.repo.Delete(txCtx, userID); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return s.audit(txCtx, caller, model.ActionDeleteUser, user, map[string]string{"username": user.Username})
	})
}

func (s *userService) audit(ctx context.Context, caller Caller, action string, user *model.User, details interface{}) error {
	entry := &model.AuditLog{
		UserID:     caller.auditUserID(),
		Action:     action,
		EntityID:   user.ID.String(),
		EntityName: user.Username,
		IPAddress:  caller.IP,
		Details:    marshalDetails(details),
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
