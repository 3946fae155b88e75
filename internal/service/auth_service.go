package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/attendnet/attendnet-api/internal/models"
	"github.com/attendnet/attendnet-api/internal/repository"
	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
)

type coordinatorRepository interface {
	Create(ctx context.Context, coordinator *models.Coordinator) error
	FindByEmail(ctx context.Context, email string) (*models.Coordinator, error)
	FindByID(ctx context.Context, id string) (*models.Coordinator, error)
}

// AuthConfig defines token issuance parameters.
type AuthConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

// RegisterCoordinatorRequest holds the signup payload.
type RegisterCoordinatorRequest struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=8"`
	Department string `json:"department" validate:"required"`
}

// AuthService authenticates coordinators and issues access tokens.
type AuthService struct {
	repo      coordinatorRepository
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs the service.
func NewAuthService(repo coordinatorRepository, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Expiration <= 0 {
		config.Expiration = 24 * time.Hour
	}
	return &AuthService{repo: repo, validator: validate, logger: logger, config: config}
}

// Register creates a coordinator account with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, req RegisterCoordinatorRequest) (*models.CoordinatorInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	coordinator := &models.Coordinator{
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		Department:   strings.TrimSpace(req.Department),
	}
	if err := s.repo.Create(ctx, coordinator); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create coordinator")
	}

	s.logger.Info("coordinator registered", zap.String("coordinator_id", coordinator.ID))
	return &models.CoordinatorInfo{
		ID:         coordinator.ID,
		Email:      coordinator.Email,
		Name:       coordinator.Name,
		Department: coordinator.Department,
	}, nil
}

// Login verifies credentials and issues a signed access token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	coordinator, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch coordinator")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(coordinator.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	now := time.Now().UTC()
	token, err := s.generateAccessToken(coordinator, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign access token")
	}

	return &models.LoginResponse{
		AccessToken: token,
		ExpiresIn:   int64(s.config.Expiration.Seconds()),
		IssuedAt:    now,
		Coordinator: models.CoordinatorInfo{
			ID:         coordinator.ID,
			Email:      coordinator.Email,
			Name:       coordinator.Name,
			Department: coordinator.Department,
		},
	}, nil
}

// ValidateToken parses and verifies an access token, returning its claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token")
	}
	return claims, nil
}

// Profile returns the authenticated coordinator's account details.
func (s *AuthService) Profile(ctx context.Context, coordinatorID string) (*models.CoordinatorInfo, error) {
	coordinator, err := s.repo.FindByID(ctx, coordinatorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "coordinator not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch coordinator")
	}
	return &models.CoordinatorInfo{
		ID:         coordinator.ID,
		Email:      coordinator.Email,
		Name:       coordinator.Name,
		Department: coordinator.Department,
	}, nil
}

func (s *AuthService) generateAccessToken(coordinator *models.Coordinator, now time.Time) (string, error) {
	claims := models.JWTClaims{
		CoordinatorID: coordinator.ID,
		Email:         coordinator.Email,
		Name:          coordinator.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   coordinator.ID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.Expiration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}
