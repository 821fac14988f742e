package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/events"
	"github.com/envie2sortir/envie2sortir/internal/models"
)

type WaitlistService struct {
	db     *gorm.DB
	events events.Publisher
}

func NewWaitlistService(db *gorm.DB, pub events.Publisher) *WaitlistService {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &WaitlistService{db: db, events: pub}
}

type WaitlistFilter struct {
	Query string
	Page  int
	Limit int
}

// List returns professionals still in the beta waitlist, oldest first.
func (s *WaitlistService) List(ctx context.Context, f WaitlistFilter) (httpx.Page[models.Professional], error) {
	f.Page, f.Limit = pageBounds(f.Page, f.Limit, 100)
	q := s.db.WithContext(ctx).Model(&models.Professional{}).Where("subscription_tier = ?", models.TierWaitlistBeta)
	if term := strings.TrimSpace(f.Query); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(company_name) LIKE ? OR siret LIKE ?", like, like)
	}
	q = q.Session(&gorm.Session{})
	page := httpx.Page[models.Professional]{Page: f.Page, Limit: f.Limit, Items: []models.Professional{}}
	if err := q.Count(&page.Total).Error; err != nil {
		return page, err
	}
	err := q.Preload("User").Preload("Establishments").
		Order("created_at ASC, id ASC").
		Offset((f.Page - 1) * f.Limit).Limit(f.Limit).
		Find(&page.Items).Error
	return page, err
}

type WaitlistStats struct {
	Waitlist               int64            `json:"waitlist"`
	Converted              int64            `json:"converted"`
	EstablishmentsByStatus map[string]int64 `json:"establishments_by_status"`
}

func (s *WaitlistService) Stats(ctx context.Context) (*WaitlistStats, error) {
	tiers, err := countBy(ctx, s.db, &models.Professional{}, "subscription_tier")
	if err != nil {
		return nil, err
	}
	st := &WaitlistStats{Waitlist: tiers[models.TierWaitlistBeta]}
	for tier, n := range tiers {
		if tier != models.TierWaitlistBeta {
			st.Converted += n
		}
	}
	if st.EstablishmentsByStatus, err = countBy(ctx, s.db, &models.Establishment{}, "status"); err != nil {
		return nil, err
	}
	return st, nil
}

// Activate moves one waitlisted professional and its establishments to tier.
func (s *WaitlistService) Activate(ctx context.Context, professionalID uint, tier string) (*models.Professional, error) {
	if !models.ValidTier(tier) {
		return nil, invalidField("tier", "unknown_value")
	}
	var pro models.Professional
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND subscription_tier = ?", professionalID, models.TierWaitlistBeta).First(&pro).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Model(&pro).Update("subscription_tier", tier).Error; err != nil {
			return err
		}
		return tx.Model(&models.Establishment{}).Where("professional_id = ?", pro.ID).
			Update("subscription_tier", tier).Error
	})
	if err != nil {
		return nil, err
	}
	pro.SubscriptionTier = tier
	_ = s.events.Publish(ctx, events.New(events.WaitlistActivated, pro.SIRET, map[string]any{
		"professional_id": pro.ID,
		"tier":            tier,
	}))
	return &pro, nil
}

// Launch converts the whole waitlist at once and returns how many
// professionals moved.
func (s *WaitlistService) Launch(ctx context.Context, tier string) (int64, error) {
	if !models.ValidTier(tier) {
		return 0, invalidField("tier", "unknown_value")
	}
	var moved int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		waitlisted := tx.Model(&models.Professional{}).Select("id").Where("subscription_tier = ?", models.TierWaitlistBeta)
		if err := tx.Model(&models.Establishment{}).
			Where("professional_id IN (?)", waitlisted).
			Update("subscription_tier", tier).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Professional{}).Where("subscription_tier = ?", models.TierWaitlistBeta).
			Update("subscription_tier", tier)
		moved = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("launch waitlist: %w", err)
	}
	if moved > 0 {
		_ = s.events.Publish(ctx, events.New(events.WaitlistActivated, "launch", map[string]any{
			"count": moved,
			"tier":  tier,
		}))
	}
	return moved, nil
}
