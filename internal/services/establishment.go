package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/events"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/validation"
)

const MaxSearchLimit = 100

type HourInput struct {
	DayOfWeek int    `json:"day_of_week"`
	Opens     string `json:"opens"`
	Closes    string `json:"closes"`
	Closed    bool   `json:"closed"`
}

// EstablishmentInput is the editable part of an establishment.
type EstablishmentInput struct {
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Address        string      `json:"address"`
	City           string      `json:"city"`
	PostalCode     string      `json:"postal_code"`
	Country        string      `json:"country"`
	Latitude       *float64    `json:"latitude"`
	Longitude      *float64    `json:"longitude"`
	Phone          string      `json:"phone"`
	Email          string      `json:"email"`
	Website        string      `json:"website"`
	Instagram      string      `json:"instagram"`
	Facebook       string      `json:"facebook"`
	PriceRange     int         `json:"price_range"`
	Activities     []string    `json:"activities"`
	PaymentMethods []string    `json:"payment_methods"`
	Tags           []string    `json:"tags"`
	Hours          []HourInput `json:"hours"`
}

// Validate adds violations for in, prefixing field names with prefix.
func (in EstablishmentInput) Validate(prefix string, v validation.Violations) {
	f := func(name string) string { return prefix + name }
	validation.Required(f("name"), in.Name, v)
	validation.Length(f("name"), in.Name, 2, 255, v)
	validation.Required(f("address"), in.Address, v)
	validation.Length(f("description"), in.Description, 0, 5000, v)
	validation.Length(f("city"), in.City, 0, 100, v)
	validation.Phone(f("phone"), in.Phone, v)
	if in.Email != "" {
		validation.Email(f("email"), in.Email, v)
	}
	validation.URL(f("website"), in.Website, v)
	validation.URL(f("instagram"), in.Instagram, v)
	validation.URL(f("facebook"), in.Facebook, v)
	if in.PriceRange != 0 {
		validation.RangeInt(f("price_range"), in.PriceRange, 1, 4, v)
	}
	if in.Latitude != nil {
		validation.RangeFloat(f("latitude"), *in.Latitude, -90, 90, v)
	}
	if in.Longitude != nil {
		validation.RangeFloat(f("longitude"), *in.Longitude, -180, 180, v)
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		v.Add(f("latitude"), "required")
	}
	for _, m := range in.PaymentMethods {
		validation.OneOf(f("payment_methods"), m, models.PaymentMethods, v)
	}
	for i, h := range in.Hours {
		field := f("hours." + strconv.Itoa(i))
		validation.RangeInt(field, h.DayOfWeek, 0, 6, v)
		if h.Closed {
			continue
		}
		validation.TimeOfDay(field, h.Opens, v)
		validation.TimeOfDay(field, h.Closes, v)
	}
}

func (in EstablishmentInput) apply(e *models.Establishment) {
	e.Name = strings.TrimSpace(in.Name)
	e.Description = strings.TrimSpace(in.Description)
	e.Address = strings.TrimSpace(in.Address)
	e.City = strings.TrimSpace(in.City)
	e.PostalCode = strings.TrimSpace(in.PostalCode)
	e.Country = strings.ToUpper(strings.TrimSpace(in.Country))
	if e.Country == "" {
		e.Country = "FR"
	}
	e.Latitude, e.Longitude = in.Latitude, in.Longitude
	e.Phone = strings.TrimSpace(in.Phone)
	e.Email = strings.TrimSpace(strings.ToLower(in.Email))
	e.Website = in.Website
	e.Instagram = in.Instagram
	e.Facebook = in.Facebook
	e.PriceRange = in.PriceRange
	e.Activities = nonNil(in.Activities)
	e.PaymentMethods = nonNil(in.PaymentMethods)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (in EstablishmentInput) openingHours() []models.OpeningHour {
	out := make([]models.OpeningHour, 0, len(in.Hours))
	for _, h := range in.Hours {
		oh := models.OpeningHour{DayOfWeek: h.DayOfWeek, Closed: h.Closed}
		if !h.Closed {
			oh.Opens, oh.Closes = h.Opens, h.Closes
		}
		out = append(out, oh)
	}
	return out
}

// resolveTags loads tags by slug; unknown slugs are a violation.
func resolveTags(ctx context.Context, tx *gorm.DB, slugs []string, field string) ([]models.Tag, error) {
	if len(slugs) == 0 {
		return []models.Tag{}, nil
	}
	var tags []models.Tag
	if err := tx.WithContext(ctx).Where("slug IN ?", slugs).Find(&tags).Error; err != nil {
		return nil, err
	}
	found := make(map[string]bool, len(tags))
	for _, t := range tags {
		found[t.Slug] = true
	}
	for _, s := range slugs {
		if !found[s] {
			return nil, invalidField(field, "unknown_value")
		}
	}
	return tags, nil
}

type EstablishmentService struct {
	db     *gorm.DB
	events events.Publisher
	now    func() time.Time
}

func NewEstablishmentService(db *gorm.DB, pub events.Publisher) *EstablishmentService {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &EstablishmentService{db: db, events: pub, now: time.Now}
}

func (s *EstablishmentService) professionalFor(ctx context.Context, userID uint) (*models.Professional, error) {
	var pro models.Professional
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&pro).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrForbidden
	}
	return &pro, err
}

// Create adds a pending establishment to the professional account of userID.
func (s *EstablishmentService) Create(ctx context.Context, userID uint, in EstablishmentInput) (*models.Establishment, error) {
	v := validation.Violations{}
	in.Validate("", v)
	if err := check(v); err != nil {
		return nil, err
	}
	pro, err := s.professionalFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	var est *models.Establishment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		est, err = createEstablishment(ctx, tx, pro, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, est.ID)
}

// createEstablishment runs inside a transaction; onboarding shares it.
func createEstablishment(ctx context.Context, tx *gorm.DB, pro *models.Professional, in EstablishmentInput) (*models.Establishment, error) {
	tags, err := resolveTags(ctx, tx, in.Tags, "tags")
	if err != nil {
		return nil, err
	}
	slug, err := uniqueSlug(ctx, tx, Slugify(in.Name), 0)
	if err != nil {
		return nil, err
	}
	est := &models.Establishment{
		ProfessionalID:   pro.ID,
		Slug:             slug,
		Status:           models.StatusPending,
		SubscriptionTier: pro.SubscriptionTier,
	}
	in.apply(est)
	est.Hours = in.openingHours()
	if err := tx.WithContext(ctx).Create(est).Error; err != nil {
		return nil, fmt.Errorf("create establishment: %w", err)
	}
	if len(tags) > 0 {
		if err := tx.WithContext(ctx).Model(est).Association("Tags").Replace(tags); err != nil {
			return nil, fmt.Errorf("attach tags: %w", err)
		}
	}
	est.Tags = tags
	return est, nil
}

// Get loads an establishment with owner, tags and hours, whatever its status.
func (s *EstablishmentService) Get(ctx context.Context, id uint) (*models.Establishment, error) {
	var est models.Establishment
	err := s.preloaded(ctx).First(&est, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &est, err
}

func (s *EstablishmentService) preloaded(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("Professional").
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("tags.name") }).
		Preload("Hours", func(db *gorm.DB) *gorm.DB { return db.Order("day_of_week, opens") })
}

// GetBySlug is the public lookup: approved only, and each call counts a view.
func (s *EstablishmentService) GetBySlug(ctx context.Context, slug string) (*models.Establishment, error) {
	var est models.Establishment
	err := s.preloaded(ctx).Where("slug = ? AND status = ?", slug, models.StatusApproved).First(&est).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&models.Establishment{}).Where("id = ?", est.ID).
		UpdateColumn("views_count", gorm.Expr("views_count + 1")).Error; err != nil {
		return nil, err
	}
	est.ViewsCount++
	return &est, nil
}

// Update replaces the editable fields. A rejected establishment goes back
// to moderation.
func (s *EstablishmentService) Update(ctx context.Context, id uint, in EstablishmentInput) (*models.Establishment, error) {
	v := validation.Violations{}
	in.Validate("", v)
	if err := check(v); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var est models.Establishment
		if err := tx.First(&est, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		tags, err := resolveTags(ctx, tx, in.Tags, "tags")
		if err != nil {
			return err
		}
		if Slugify(in.Name) != Slugify(est.Name) {
			if est.Slug, err = uniqueSlug(ctx, tx, Slugify(in.Name), est.ID); err != nil {
				return err
			}
		}
		in.apply(&est)
		if est.Status == models.StatusRejected {
			est.Status = models.StatusPending
			est.RejectionReason = ""
		}
		if err := tx.Omit(clause.Associations).Save(&est).Error; err != nil {
			return fmt.Errorf("update establishment: %w", err)
		}
		if err := tx.Model(&est).Association("Tags").Replace(tags); err != nil {
			return fmt.Errorf("replace tags: %w", err)
		}
		return replaceHours(tx, est.ID, in.openingHours())
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func replaceHours(tx *gorm.DB, establishmentID uint, hours []models.OpeningHour) error {
	if err := tx.Where("establishment_id = ?", establishmentID).Delete(&models.OpeningHour{}).Error; err != nil {
		return err
	}
	if len(hours) == 0 {
		return nil
	}
	for i := range hours {
		hours[i].ID = 0
		hours[i].EstablishmentID = establishmentID
	}
	return tx.Create(&hours).Error
}

// SetSlug lets an owner pick a custom slug.
func (s *EstablishmentService) SetSlug(ctx context.Context, id uint, slug string) error {
	v := validation.Violations{}
	validation.Slug("slug", slug, v)
	if err := check(v); err != nil {
		return err
	}
	var count int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&models.Establishment{}).
		Where("slug = ? AND id <> ?", slug, id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrSlugTaken
	}
	res := s.db.WithContext(ctx).Model(&models.Establishment{}).Where("id = ?", id).Update("slug", slug)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *EstablishmentService) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Establishment{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("establishment_id = ?", id).Delete(&models.Favorite{}).Error
	})
}

type SearchFilter struct {
	Query      string
	City       string
	Tags       []string
	PriceRange int
	Page       int
	Limit      int
}

// Search lists approved establishments, PREMIUM first then by name.
func (s *EstablishmentService) Search(ctx context.Context, f SearchFilter) (httpx.Page[models.Establishment], error) {
	f.Page, f.Limit = pageBounds(f.Page, f.Limit, MaxSearchLimit)
	q := s.db.WithContext(ctx).Model(&models.Establishment{}).Where("status = ?", models.StatusApproved)
	if term := strings.TrimSpace(f.Query); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(city) LIKE ?", like, like, like)
	}
	if city := strings.TrimSpace(f.City); city != "" {
		q = q.Where("LOWER(city) = ?", strings.ToLower(city))
	}
	if f.PriceRange > 0 {
		q = q.Where("price_range = ?", f.PriceRange)
	}
	if slugs := dedupe(f.Tags); len(slugs) > 0 {
		sub := s.db.WithContext(ctx).Table("establishment_tags").
			Select("establishment_tags.establishment_id").
			Joins("JOIN tags ON tags.id = establishment_tags.tag_id").
			Where("tags.slug IN ?", slugs).
			Group("establishment_tags.establishment_id").
			Having("COUNT(DISTINCT tags.slug) = ?", len(slugs))
		q = q.Where("id IN (?)", sub)
	}
	q = q.Session(&gorm.Session{})
	page := httpx.Page[models.Establishment]{Page: f.Page, Limit: f.Limit, Items: []models.Establishment{}}
	if err := q.Count(&page.Total).Error; err != nil {
		return page, err
	}
	err := q.Preload("Tags").
		Order("CASE WHEN subscription_tier = '" + models.TierPremium + "' THEN 0 ELSE 1 END").
		Order("name, id").
		Offset((f.Page - 1) * f.Limit).Limit(f.Limit).
		Find(&page.Items).Error
	return page, err
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// ListByOwner lists every establishment of the user's professional account.
func (s *EstablishmentService) ListByOwner(ctx context.Context, userID uint) ([]models.Establishment, error) {
	out := []models.Establishment{}
	err := s.preloaded(ctx).
		Where("professional_id IN (?)", s.db.WithContext(ctx).Model(&models.Professional{}).Select("id").Where("user_id = ?", userID)).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// ListForModeration lists establishments of a status (all when empty).
func (s *EstablishmentService) ListForModeration(ctx context.Context, status string, page, limit int) (httpx.Page[models.Establishment], error) {
	page, limit = pageBounds(page, limit, MaxSearchLimit)
	out := httpx.Page[models.Establishment]{Page: page, Limit: limit, Items: []models.Establishment{}}
	if status != "" && status != models.StatusPending && status != models.StatusApproved && status != models.StatusRejected {
		return out, invalidField("status", "unknown_value")
	}
	q := s.db.WithContext(ctx).Model(&models.Establishment{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	q = q.Session(&gorm.Session{})
	if err := q.Count(&out.Total).Error; err != nil {
		return out, err
	}
	err := q.Preload("Professional.User").Preload("Tags").
		Order("created_at ASC, id ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&out.Items).Error
	return out, err
}

func (s *EstablishmentService) Approve(ctx context.Context, id uint) (*models.Establishment, error) {
	return s.moderate(ctx, id, models.StatusApproved, "", events.EstablishmentApproved)
}

func (s *EstablishmentService) Reject(ctx context.Context, id uint, reason string) (*models.Establishment, error) {
	v := validation.Violations{}
	validation.Required("reason", reason, v)
	validation.Length("reason", reason, 0, 500, v)
	if err := check(v); err != nil {
		return nil, err
	}
	return s.moderate(ctx, id, models.StatusRejected, strings.TrimSpace(reason), events.EstablishmentRejected)
}

func (s *EstablishmentService) moderate(ctx context.Context, id uint, status, reason, eventType string) (*models.Establishment, error) {
	res := s.db.WithContext(ctx).Model(&models.Establishment{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "rejection_reason": reason})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	est, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	_ = s.events.Publish(ctx, events.New(eventType, est.Slug, map[string]any{
		"establishment_id": est.ID,
		"owner_user_id":    est.OwnerUserID(),
		"reason":           reason,
	}))
	return est, nil
}

func (s *EstablishmentService) ListTags(ctx context.Context) ([]models.Tag, error) {
	var tags []models.Tag
	err := s.db.WithContext(ctx).Order("category, name").Find(&tags).Error
	return tags, err
}

// AddFavorite bookmarks an approved establishment; repeating is a no-op.
func (s *EstablishmentService) AddFavorite(ctx context.Context, userID, establishmentID uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Establishment{}).
		Where("id = ? AND status = ?", establishmentID, models.StatusApproved).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	fav := models.Favorite{UserID: userID, EstablishmentID: establishmentID, CreatedAt: s.now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&fav).Error
}

func (s *EstablishmentService) RemoveFavorite(ctx context.Context, userID, establishmentID uint) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND establishment_id = ?", userID, establishmentID).
		Delete(&models.Favorite{}).Error
}

// Favorites lists the user's bookmarks, newest first, skipping
// establishments no longer public.
func (s *EstablishmentService) Favorites(ctx context.Context, userID uint) ([]models.Favorite, error) {
	var favs []models.Favorite
	err := s.db.WithContext(ctx).
		Select("favorites.*").
		Preload("Establishment.Tags").
		Joins("JOIN establishments ON establishments.id = favorites.establishment_id AND establishments.deleted_at IS NULL").
		Where("favorites.user_id = ? AND establishments.status = ?", userID, models.StatusApproved).
		Order("favorites.created_at DESC").
		Find(&favs).Error
	if favs == nil {
		favs = []models.Favorite{}
	}
	return favs, err
}
