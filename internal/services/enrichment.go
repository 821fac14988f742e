package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/internal/places"
)

// googleTypeTags maps Google place types onto seeded tag slugs.
var googleTypeTags = map[string]string{
	"restaurant":    "restaurant",
	"meal_takeaway": "restaurant",
	"bar":           "bar",
	"cafe":          "cafe",
	"night_club":    "boite-de-nuit",
	"bakery":        "boulangerie",
	"bowling_alley": "bowling",
	"movie_theater": "cinema",
	"museum":        "musee",
	"art_gallery":   "musee",
	"park":          "parc",
	"spa":           "spa",
	"gym":           "salle-de-sport",
}

// TagSlugsForTypes returns the distinct tag slugs matching Google types.
func TagSlugsForTypes(types []string) []string {
	var out []string
	for _, t := range types {
		if slug, ok := googleTypeTags[t]; ok && !slices.Contains(out, slug) {
			out = append(out, slug)
		}
	}
	return out
}

// Enrich merges Google data into est without overwriting what the
// professional entered. Rating and review count are always refreshed, tags
// are only added, and hours are taken only when est has none. New tags are
// appended with just their slug set. It returns the changed fields.
func Enrich(est *models.Establishment, d *places.Details, at time.Time) []string {
	var changed []string
	mark := func(field string) { changed = append(changed, field) }

	if d.PlaceID != "" && est.GooglePlaceID != d.PlaceID {
		est.GooglePlaceID = d.PlaceID
		mark("google_place_id")
	}
	if est.Phone == "" && d.Phone != "" {
		est.Phone = d.Phone
		mark("phone")
	}
	if est.Website == "" && d.Website != "" {
		est.Website = d.Website
		mark("website")
	}
	if est.Latitude == nil && est.Longitude == nil && d.Latitude != nil && d.Longitude != nil {
		est.Latitude, est.Longitude = d.Latitude, d.Longitude
		mark("location")
	}
	if est.PriceRange == 0 && d.PriceLevel >= 0 {
		est.PriceRange = max(1, min(4, d.PriceLevel))
		mark("price_range")
	}
	if d.Rating != nil {
		est.GoogleRating = d.Rating
		mark("google_rating")
	}
	if d.ReviewCount != est.GoogleReviewCount {
		est.GoogleReviewCount = d.ReviewCount
		mark("google_review_count")
	}
	have := est.TagSlugs()
	added := false
	for _, slug := range TagSlugsForTypes(d.Types) {
		if !slices.Contains(have, slug) {
			est.Tags = append(est.Tags, models.Tag{Slug: slug})
			added = true
		}
	}
	if added {
		mark("tags")
	}
	if len(est.Hours) == 0 && len(d.Periods) > 0 {
		for _, p := range d.Periods {
			est.Hours = append(est.Hours, models.OpeningHour{EstablishmentID: est.ID, DayOfWeek: p.Day, Opens: p.Opens, Closes: p.Closes})
		}
		mark("hours")
	}
	t := at.UTC()
	est.EnrichedAt = &t
	return changed
}

type PlacesClient interface {
	FindPlace(ctx context.Context, query string) (string, error)
	Details(ctx context.Context, placeID string) (*places.Details, error)
}

type EnrichmentResult struct {
	Establishment *models.Establishment `json:"establishment"`
	Changed       []string              `json:"changed"`
}

type EnrichmentService struct {
	db     *gorm.DB
	places PlacesClient
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewEnrichmentService accepts a nil client; every call then fails with
// ErrIntegrationOff.
func NewEnrichmentService(db *gorm.DB, client PlacesClient, log logrus.FieldLogger) *EnrichmentService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EnrichmentService{db: db, places: client, log: log, now: time.Now}
}

func (s *EnrichmentService) Enabled() bool { return s != nil && s.places != nil }

func (s *EnrichmentService) lookup(ctx context.Context, est *models.Establishment) (*places.Details, error) {
	placeID := est.GooglePlaceID
	if placeID == "" {
		query := strings.Join(nonBlank(est.Name, est.Address, est.PostalCode, est.City), " ")
		id, err := s.places.FindPlace(ctx, query)
		if err != nil {
			return nil, err
		}
		placeID = id
	}
	return s.places.Details(ctx, placeID)
}

func nonBlank(parts ...string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EnrichEstablishment fetches Google data for one establishment and saves
// the merged result.
func (s *EnrichmentService) EnrichEstablishment(ctx context.Context, id uint) (*EnrichmentResult, error) {
	if !s.Enabled() {
		return nil, ErrIntegrationOff
	}
	var est models.Establishment
	err := s.db.WithContext(ctx).Preload("Professional").Preload("Tags").Preload("Hours").First(&est, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d, err := s.lookup(ctx, &est)
	if err != nil {
		if errors.Is(err, places.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("places lookup: %w", err)
	}
	hadHours := len(est.Hours) > 0
	changed := Enrich(&est, d, s.now())

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(&est).Error; err != nil {
			return err
		}
		if slices.Contains(changed, "tags") {
			var tags []models.Tag
			if err := tx.Where("slug IN ?", est.TagSlugs()).Find(&tags).Error; err != nil {
				return err
			}
			if err := tx.Model(&est).Association("Tags").Replace(tags); err != nil {
				return err
			}
			est.Tags = tags
		}
		if !hadHours && slices.Contains(changed, "hours") {
			return replaceHours(tx, est.ID, est.Hours)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save enrichment: %w", err)
	}
	s.log.WithFields(logrus.Fields{"establishment_id": est.ID, "changed": changed}).Info("establishment enriched")
	return &EnrichmentResult{Establishment: &est, Changed: changed}, nil
}

// EnrichBestEffort is used after onboarding: failures are only logged.
func (s *EnrichmentService) EnrichBestEffort(ctx context.Context, id uint) {
	if !s.Enabled() {
		return
	}
	if _, err := s.EnrichEstablishment(ctx, id); err != nil {
		s.log.WithError(err).WithField("establishment_id", id).Warn("smart enrichment skipped")
	}
}
