package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/validation"
)

const MinPasswordLength = 8

type AccountService struct {
	db   *gorm.DB
	cost int
	now  func() time.Time
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{db: db, cost: bcrypt.DefaultCost, now: time.Now}
}

// WithHashCost lowers bcrypt cost in tests.
func (s *AccountService) WithHashCost(cost int) *AccountService {
	s.cost = cost
	return s
}

type SignupInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func validateCredentials(email, password string, v validation.Violations) {
	validation.Email("email", email, v)
	if len(password) < MinPasswordLength {
		v.Add("password", "too_short")
	}
}

func hashPassword(password string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// emailTaken is a point query; soft-deleted accounts keep their address.
func emailTaken(ctx context.Context, tx *gorm.DB, email string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Unscoped().Model(&models.User{}).
		Where("email = ?", models.NormalizeEmail(email)).Count(&count).Error
	return count > 0, err
}

// Signup creates a consumer account.
func (s *AccountService) Signup(ctx context.Context, in SignupInput) (*models.User, error) {
	v := validation.Violations{}
	validateCredentials(in.Email, in.Password, v)
	validation.Required("first_name", in.FirstName, v)
	validation.Length("first_name", in.FirstName, 1, 100, v)
	validation.Length("last_name", in.LastName, 0, 100, v)
	if err := check(v); err != nil {
		return nil, err
	}
	taken, err := emailTaken(ctx, s.db, in.Email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}
	hash, err := hashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         models.RoleUser,
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Authenticate checks credentials and stamps last_login_at.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Keep timing close to the found case.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z5Ejcw8tS4yYQm9YQF1Ze2xK"), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	now := s.now().UTC()
	u.LastLoginAt = &now
	if err := s.db.WithContext(ctx).Model(&u).Update("last_login_at", now).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *AccountService) Get(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Exists backs auth.UserVerifier. A failed lookup answers true so a
// database hiccup does not end valid sessions.
func (s *AccountService) Exists(ctx context.Context, id uint) bool {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return true
	}
	return count > 0
}

type UserFilter struct {
	Role  string
	Query string
	Page  int
	Limit int
}

func (s *AccountService) List(ctx context.Context, f UserFilter) (httpx.Page[models.User], error) {
	f.Page, f.Limit = pageBounds(f.Page, f.Limit, 100)
	q := s.db.WithContext(ctx).Model(&models.User{})
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	if f.Query != "" {
		like := "%" + strings.ToLower(f.Query) + "%"
		q = q.Where("LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?", like, like, like)
	}
	q = q.Session(&gorm.Session{})
	page := httpx.Page[models.User]{Page: f.Page, Limit: f.Limit, Items: []models.User{}}
	if err := q.Count(&page.Total).Error; err != nil {
		return page, err
	}
	err := q.Order("id DESC").Offset((f.Page - 1) * f.Limit).Limit(f.Limit).Find(&page.Items).Error
	return page, err
}

// SetRole changes the role of a user; the role must exist.
func (s *AccountService) SetRole(ctx context.Context, userID uint, role string) (*models.User, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Role{}).Where("name = ?", role).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, invalidField("role", "unknown_value")
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(u).Update("role", role).Error; err != nil {
		return nil, err
	}
	u.Role = role
	return u, nil
}

// Roles lists the roles with their permissions.
func (s *AccountService) Roles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	err := s.db.WithContext(ctx).Preload("Permissions").Order("id").Find(&roles).Error
	return roles, err
}
