// internal/services/auth_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keyhaven/licensing-backend/internal/config"
	"github.com/keyhaven/licensing-backend/internal/models"
	"github.com/keyhaven/licensing-backend/internal/utils"
)

type AuthService struct {
	db  *gorm.DB
	cfg *config.Config
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=100"`
	Password string `json:"password" validate:"required,min=8"`
}

type AuthResponse struct {
	Customer    *models.Customer `json:"customer"`
	AccessToken string           `json:"access_token"`
	TokenType   string           `json:"token_type"`
	ExpiresIn   int              `json:"expires_in"` // in seconds
}

func NewAuthService(db *gorm.DB, cfg *config.Config) *AuthService {
	return &AuthService{
		db:  db,
		cfg: cfg,
	}
}

func (s *AuthService) Register(req *RegisterRequest) (*AuthResponse, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	// Check if customer already exists
	var existing models.Customer
	if err := s.db.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		return nil, errors.New("customer with this email already exists")
	}

	customer := &models.Customer{
		Email:  req.Email,
		Name:   req.Name,
		OrgID:  uuid.New(),
		Status: models.CustomerStatusActive,
	}

	if err := customer.SetPassword(req.Password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.db.Create(customer).Error; err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	return s.issueToken(customer)
}

func (s *AuthService) Login(req *LoginRequest) (*AuthResponse, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var customer models.Customer
	if err := s.db.Where("email = ?", req.Email).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("invalid email or password")
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if err := customer.CheckPassword(req.Password); err != nil {
		return nil, errors.New("invalid email or password")
	}

	if customer.Status != models.CustomerStatusActive {
		return nil, errors.New("customer account is not active")
	}

	now := time.Now()
	s.db.Model(&customer).Update("last_login_at", now)

	return s.issueToken(&customer)
}

func (s *AuthService) issueToken(customer *models.Customer) (*AuthResponse, error) {
	accessToken, err := utils.GenerateJWT(
		customer.ID,
		customer.Email,
		"customer",
		s.cfg.JWT.AccessTokenTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &AuthResponse{
		Customer:    customer,
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   s.cfg.JWT.AccessTokenTTL * 3600, // Convert hours to seconds
	}, nil
}
