package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/envie2sortir/envie2sortir/internal/events"
	"github.com/envie2sortir/envie2sortir/internal/metrics"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/validation"
)

type DealInput struct {
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	ImageURL      string              `json:"image_url"`
	OriginalPrice decimal.NullDecimal `json:"original_price"`
	DealPrice     decimal.NullDecimal `json:"deal_price"`
	StartsAt      time.Time           `json:"starts_at"`
	EndsAt        time.Time           `json:"ends_at"`
	IsActive      *bool               `json:"is_active"`
	Conditions    string              `json:"conditions"`
}

func (in DealInput) validate() validation.Violations {
	v := validation.Violations{}
	validation.Required("title", in.Title, v)
	validation.Length("title", in.Title, 0, 200, v)
	validation.Length("description", in.Description, 0, 2000, v)
	validation.URL("image_url", in.ImageURL, v)
	validation.Length("conditions", in.Conditions, 0, 500, v)
	if in.StartsAt.IsZero() {
		v.Add("starts_at", "required")
	}
	if in.EndsAt.IsZero() {
		v.Add("ends_at", "required")
	} else if !in.EndsAt.After(in.StartsAt) {
		v.Add("ends_at", "out_of_range")
	}
	if in.OriginalPrice.Valid && !in.OriginalPrice.Decimal.IsPositive() {
		v.Add("original_price", "must_be_positive")
	}
	if in.DealPrice.Valid {
		switch {
		case in.DealPrice.Decimal.IsNegative():
			v.Add("deal_price", "must_be_positive")
		case in.OriginalPrice.Valid && !in.DealPrice.Decimal.LessThan(in.OriginalPrice.Decimal):
			v.Add("deal_price", "out_of_range")
		}
	}
	return v
}

func (in DealInput) apply(d *models.Deal) {
	d.Title = strings.TrimSpace(in.Title)
	d.Description = strings.TrimSpace(in.Description)
	d.ImageURL = in.ImageURL
	d.OriginalPrice = roundPrice(in.OriginalPrice)
	d.DealPrice = roundPrice(in.DealPrice)
	d.StartsAt = in.StartsAt.UTC()
	d.EndsAt = in.EndsAt.UTC()
	d.Conditions = strings.TrimSpace(in.Conditions)
	if in.IsActive != nil {
		d.IsActive = *in.IsActive
	}
}

func roundPrice(p decimal.NullDecimal) decimal.NullDecimal {
	if !p.Valid {
		return p
	}
	return decimal.NewNullDecimal(p.Decimal.Round(2))
}

type DealService struct {
	db     *gorm.DB
	events events.Publisher
	now    func() time.Time
}

func NewDealService(db *gorm.DB, pub events.Publisher) *DealService {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &DealService{db: db, events: pub, now: time.Now}
}

// Get loads a deal with its establishment and owner.
func (s *DealService) Get(ctx context.Context, id uint) (*models.Deal, error) {
	var d models.Deal
	err := s.db.WithContext(ctx).Preload("Establishment.Professional").First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (s *DealService) Create(ctx context.Context, establishmentID uint, in DealInput) (*models.Deal, error) {
	if err := check(in.validate()); err != nil {
		return nil, err
	}
	d := &models.Deal{EstablishmentID: establishmentID, IsActive: true}
	in.apply(d)
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}
	// A false IsActive is the zero value and would be skipped by Create.
	if !d.IsActive {
		if err := s.db.WithContext(ctx).Model(d).Update("is_active", false).Error; err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, d.ID)
}

func (s *DealService) Update(ctx context.Context, id uint, in DealInput) (*models.Deal, error) {
	if err := check(in.validate()); err != nil {
		return nil, err
	}
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(d)
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(d).Error; err != nil {
		return nil, fmt.Errorf("update deal: %w", err)
	}
	return d, nil
}

func (s *DealService) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("deal_id = ?", id).Delete(&models.DealEngagement{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Deal{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListByEstablishment lists every deal of an establishment, newest first.
func (s *DealService) ListByEstablishment(ctx context.Context, establishmentID uint) ([]models.Deal, error) {
	out := []models.Deal{}
	err := s.db.WithContext(ctx).Where("establishment_id = ?", establishmentID).
		Order("starts_at DESC, id DESC").Find(&out).Error
	return out, err
}

// ActiveDeal is a carousel entry.
type ActiveDeal struct {
	models.Deal
	DiscountPercent int `json:"discount_percent"`
}

// ListActive returns deals live at now on approved establishments, ending
// soonest first. An empty slug lists every establishment.
func (s *DealService) ListActive(ctx context.Context, now time.Time, establishmentSlug string) ([]ActiveDeal, error) {
	q := s.db.WithContext(ctx).
		Select("deals.*").
		Preload("Establishment").
		Joins("JOIN establishments ON establishments.id = deals.establishment_id AND establishments.deleted_at IS NULL").
		Where("deals.is_active = ? AND deals.starts_at <= ? AND deals.ends_at > ?", true, now.UTC(), now.UTC()).
		Where("establishments.status = ?", models.StatusApproved)
	if establishmentSlug != "" {
		q = q.Where("establishments.slug = ?", establishmentSlug)
	}
	var deals []models.Deal
	if err := q.Order("deals.ends_at ASC, deals.id ASC").Find(&deals).Error; err != nil {
		return nil, err
	}
	out := make([]ActiveDeal, 0, len(deals))
	for _, d := range deals {
		out = append(out, ActiveDeal{Deal: d, DiscountPercent: d.DiscountPercent()})
	}
	return out, nil
}

type EngageInput struct {
	Kind      string `json:"kind" validate:"oneof=like dislike"`
	SessionID string `json:"session_id" validate:"required,max=64"`
	UserID    *uint  `json:"-"`
}

// Engage records the session's vote on a live deal; voting again replaces
// the previous vote.
func (s *DealService) Engage(ctx context.Context, dealID uint, in EngageInput) (*DealStats, error) {
	v := validation.Violations{}
	if err := validation.Struct(in, v); err != nil {
		return nil, err
	}
	if err := check(v); err != nil {
		return nil, err
	}
	d, err := s.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !d.LiveAt(s.now()) || d.Establishment == nil || !d.Establishment.IsApproved() {
		return nil, ErrNotFound
	}
	vote := models.DealEngagement{DealID: dealID, SessionID: in.SessionID, Kind: in.Kind, UserID: in.UserID}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "deal_id"}, {Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "user_id", "updated_at"}),
	}).Create(&vote).Error
	if err != nil {
		return nil, fmt.Errorf("record vote: %w", err)
	}
	metrics.DealEngaged(in.Kind)
	_ = s.events.Publish(ctx, events.New(events.DealEngaged, fmt.Sprint(dealID), map[string]any{
		"deal_id":          dealID,
		"establishment_id": d.EstablishmentID,
		"kind":             in.Kind,
	}))
	return s.Stats(ctx, dealID)
}

type DealStats struct {
	DealID    uint    `json:"deal_id"`
	Likes     int64   `json:"likes"`
	Dislikes  int64   `json:"dislikes"`
	LikeRatio float64 `json:"like_ratio"`
}

// Stats counts votes; the ratio is likes over all votes, rounded to 0.01.
func (s *DealService) Stats(ctx context.Context, dealID uint) (*DealStats, error) {
	var rows []struct {
		Kind string
		N    int64
	}
	err := s.db.WithContext(ctx).Model(&models.DealEngagement{}).
		Select("kind, COUNT(*) AS n").Where("deal_id = ?", dealID).Group("kind").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	st := &DealStats{DealID: dealID}
	for _, r := range rows {
		switch r.Kind {
		case models.VoteLike:
			st.Likes = r.N
		case models.VoteDislike:
			st.Dislikes = r.N
		}
	}
	if total := st.Likes + st.Dislikes; total > 0 {
		st.LikeRatio = math.Round(float64(st.Likes)*100/float64(total)) / 100
	}
	return st, nil
}

// DeactivateEnded switches off deals whose end date has passed.
func (s *DealService) DeactivateEnded(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Deal{}).
		Where("is_active = ? AND ends_at <= ?", true, now.UTC()).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}
