package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Role names seeded by internal/db.
const (
	RoleUser  = "user"
	RolePro   = "pro"
	RoleAdmin = "admin"
)

// User is an account of any role: consumer, professional or admin.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	Email        string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string         `gorm:"size:255;not null" json:"-"`
	FirstName    string         `gorm:"size:100" json:"first_name"`
	LastName     string         `gorm:"size:100" json:"last_name"`
	// Role names a row of roles; the session token carries a copy.
	Role        string     `gorm:"size:20;not null;default:user;index" json:"role"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// NormalizeEmail is the canonical stored form of an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *User) BeforeSave(*gorm.DB) error {
	u.Email = NormalizeEmail(u.Email)
	return nil
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
