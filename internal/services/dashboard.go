package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/internal/cloudflare"
	"github.com/envie2sortir/envie2sortir/internal/models"
)

// TrafficSource reports site traffic; *cloudflare.Client satisfies it.
type TrafficSource interface {
	Enabled() bool
	Traffic(ctx context.Context, from, to time.Time) (*cloudflare.Traffic, error)
}

type Dashboard struct {
	Days                   int                   `json:"days"`
	UsersByRole            map[string]int64      `json:"users_by_role"`
	ProfessionalsByTier    map[string]int64      `json:"professionals_by_tier"`
	EstablishmentsByStatus map[string]int64      `json:"establishments_by_status"`
	Newsletter             map[string]int64      `json:"newsletter"`
	OpenConversations      int64                 `json:"open_conversations"`
	UnreadMessages         int64                 `json:"unread_messages"`
	ActiveDeals            int64                 `json:"active_deals"`
	Registrations          []DayCount            `json:"registrations"`
	TopEstablishments      []EstablishmentClicks `json:"top_establishments"`
}

type DashboardService struct {
	db        *gorm.DB
	analytics *AnalyticsService
	traffic   TrafficSource
	now       func() time.Time
}

func NewDashboardService(db *gorm.DB, analytics *AnalyticsService, traffic TrafficSource) *DashboardService {
	return &DashboardService{db: db, analytics: analytics, traffic: traffic, now: time.Now}
}

// Dashboard gathers the admin home counters; series and rankings cover the
// last days days, today included.
func (s *DashboardService) Dashboard(ctx context.Context, days int) (*Dashboard, error) {
	if days < 1 || days > MaxAnalyticsDays {
		return nil, ErrInvalidRange
	}
	now := s.now().UTC()
	to := startOfDay(now)
	from := to.AddDate(0, 0, -(days - 1))
	d := &Dashboard{Days: days}

	var err error
	if d.UsersByRole, err = countBy(ctx, s.db, &models.User{}, "role"); err != nil {
		return nil, err
	}
	if d.ProfessionalsByTier, err = countBy(ctx, s.db, &models.Professional{}, "subscription_tier"); err != nil {
		return nil, err
	}
	if d.EstablishmentsByStatus, err = countBy(ctx, s.db, &models.Establishment{}, "status"); err != nil {
		return nil, err
	}
	if d.Newsletter, err = countBy(ctx, s.db, &models.NewsletterSubscriber{}, "status"); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Conversation{}).Where("status = ?", models.ConversationOpen).
		Count(&d.OpenConversations).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Message{}).Where("sender_role = ? AND read_at IS NULL", models.RolePro).
		Count(&d.UnreadMessages).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Deal{}).Where("is_active = ? AND starts_at <= ? AND ends_at > ?", true, now, now).
		Count(&d.ActiveDeals).Error; err != nil {
		return nil, err
	}

	var created []time.Time
	if err := db.Model(&models.User{}).Where("created_at >= ?", from).Pluck("created_at", &created).Error; err != nil {
		return nil, err
	}
	d.Registrations = dailySeries(created, from, to)

	if d.TopEstablishments, err = s.analytics.TopEstablishments(ctx, from, 5); err != nil {
		return nil, err
	}
	return d, nil
}

// Traffic returns zone traffic for the last days days.
func (s *DashboardService) Traffic(ctx context.Context, days int) (*cloudflare.Traffic, error) {
	if s.traffic == nil || !s.traffic.Enabled() {
		return nil, ErrIntegrationOff
	}
	if days < 1 || days > MaxAnalyticsDays {
		return nil, ErrInvalidRange
	}
	to := startOfDay(s.now())
	return s.traffic.Traffic(ctx, to.AddDate(0, 0, -(days-1)), to)
}
