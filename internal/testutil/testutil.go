// Package testutil provides throwaway databases and fixtures for tests.
package testutil

import (
	"testing"
	"time"

	"github.com/envie2sortir/envie2sortir/internal/db"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated and seeded in-memory sqlite database private to t.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Seed(conn); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return conn
}

// CreateUser inserts a user with password "password123".
func CreateUser(t testing.TB, conn *gorm.DB, email, role string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	u := &models.User{Email: email, PasswordHash: string(hash), FirstName: "Test", LastName: "User", Role: role}
	if err := conn.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// CreatePro inserts a pro user, its professional account and one approved
// establishment.
func CreatePro(t testing.TB, conn *gorm.DB, email, siret, slug string) (*models.User, *models.Professional, *models.Establishment) {
	t.Helper()
	u := CreateUser(t, conn, email, "pro")
	pro := &models.Professional{UserID: u.ID, SIRET: siret, CompanyName: "Société " + slug, SubscriptionTier: models.TierFree}
	if err := conn.Create(pro).Error; err != nil {
		t.Fatalf("create professional: %v", err)
	}
	est := &models.Establishment{
		ProfessionalID:   pro.ID,
		Name:             "Établissement " + slug,
		Slug:             slug,
		Address:          "1 rue de la Paix",
		City:             "Lyon",
		Status:           models.StatusApproved,
		SubscriptionTier: models.TierFree,
	}
	if err := conn.Create(est).Error; err != nil {
		t.Fatalf("create establishment: %v", err)
	}
	est.Professional = pro
	return u, pro, est
}

// CreateDeal inserts an active deal running from one hour ago for a day.
func CreateDeal(t testing.TB, conn *gorm.DB, establishmentID uint, title string) *models.Deal {
	t.Helper()
	now := time.Now().UTC()
	d := &models.Deal{
		EstablishmentID: establishmentID,
		Title:           title,
		StartsAt:        now.Add(-time.Hour),
		EndsAt:          now.Add(23 * time.Hour),
		IsActive:        true,
	}
	if err := conn.Create(d).Error; err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return d
}
