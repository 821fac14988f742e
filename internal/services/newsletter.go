package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/events"
	"github.com/envie2sortir/envie2sortir/internal/metrics"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/validation"
)

// NewsletterTopics are the preferences a subscriber can pick.
var NewsletterTopics = []string{"deals", "events", "new_places", "weekend"}

type SubscribeInput struct {
	Email       string   `json:"email"`
	Source      string   `json:"source"`
	Preferences []string `json:"preferences"`
	Consent     bool     `json:"consent"`
}

type NewsletterService struct {
	db     *gorm.DB
	events events.Publisher
	now    func() time.Time
}

func NewNewsletterService(db *gorm.DB, pub events.Publisher) *NewsletterService {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &NewsletterService{db: db, events: pub, now: time.Now}
}

// Subscribe registers a pending subscription. Pending or active addresses
// get ErrAlreadySubscribed; an unsubscribed one starts over with a new token.
func (s *NewsletterService) Subscribe(ctx context.Context, in SubscribeInput) (*models.NewsletterSubscriber, error) {
	sub, err := s.subscribe(ctx, in)
	switch {
	case err == nil:
		metrics.NewsletterResult("subscribed")
	case errors.Is(err, ErrAlreadySubscribed):
		metrics.NewsletterResult("duplicate")
	default:
		if _, ok := AsValidation(err); ok {
			metrics.NewsletterResult("invalid")
		}
	}
	return sub, err
}

func (s *NewsletterService) subscribe(ctx context.Context, in SubscribeInput) (*models.NewsletterSubscriber, error) {
	email := models.NormalizeEmail(in.Email)
	v := validation.Violations{}
	validation.Email("email", email, v)
	validation.Length("source", in.Source, 0, 50, v)
	if !in.Consent {
		v.Add("consent", "required")
	}
	prefs := dedupe(in.Preferences)
	for _, p := range prefs {
		validation.OneOf("preferences", p, NewsletterTopics, v)
	}
	if err := check(v); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var sub models.NewsletterSubscriber
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&sub).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sub = models.NewsletterSubscriber{
			CreatedAt:   now,
			Email:       email,
			Status:      models.SubscriberPending,
			Token:       uuid.NewString(),
			Source:      strings.TrimSpace(in.Source),
			Preferences: prefs,
			ConsentAt:   now,
		}
		if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
			return nil, fmt.Errorf("create subscriber: %w", err)
		}
	case err != nil:
		return nil, err
	case sub.Status != models.SubscriberUnsubscribed:
		return nil, ErrAlreadySubscribed
	default:
		sub.Status = models.SubscriberPending
		sub.Token = uuid.NewString()
		sub.Source = strings.TrimSpace(in.Source)
		sub.Preferences = prefs
		sub.ConsentAt = now
		sub.ConfirmedAt = nil
		sub.UnsubscribedAt = nil
		if err := s.db.WithContext(ctx).Save(&sub).Error; err != nil {
			return nil, fmt.Errorf("resubscribe: %w", err)
		}
	}
	_ = s.events.Publish(ctx, events.New(events.NewsletterSubscribed, sub.Email, map[string]any{
		"email":  sub.Email,
		"token":  sub.Token,
		"source": sub.Source,
	}))
	return &sub, nil
}

func (s *NewsletterService) byToken(ctx context.Context, token string) (*models.NewsletterSubscriber, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, ErrInvalidToken
	}
	var sub models.NewsletterSubscriber
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	return &sub, err
}

// Confirm activates a pending subscription; confirming twice is harmless.
func (s *NewsletterService) Confirm(ctx context.Context, token string) (*models.NewsletterSubscriber, error) {
	sub, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case models.SubscriberActive:
		return sub, nil
	case models.SubscriberUnsubscribed:
		return nil, ErrInvalidToken
	}
	now := s.now().UTC()
	sub.Status = models.SubscriberActive
	sub.ConfirmedAt = &now
	if err := s.db.WithContext(ctx).Model(sub).Updates(map[string]any{"status": sub.Status, "confirmed_at": now}).Error; err != nil {
		return nil, err
	}
	metrics.NewsletterResult("confirmed")
	_ = s.events.Publish(ctx, events.New(events.NewsletterConfirmed, sub.Email, map[string]any{"email": sub.Email}))
	return sub, nil
}

// Unsubscribe is idempotent for a known token.
func (s *NewsletterService) Unsubscribe(ctx context.Context, token string) (*models.NewsletterSubscriber, error) {
	sub, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return sub, s.unsubscribe(ctx, sub)
}

// UnsubscribeEmail answers the same whether or not the address is known.
func (s *NewsletterService) UnsubscribeEmail(ctx context.Context, email string) error {
	v := validation.Violations{}
	validation.Email("email", email, v)
	if err := check(v); err != nil {
		return err
	}
	var sub models.NewsletterSubscriber
	err := s.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.unsubscribe(ctx, &sub)
}

func (s *NewsletterService) unsubscribe(ctx context.Context, sub *models.NewsletterSubscriber) error {
	if sub.Status == models.SubscriberUnsubscribed {
		return nil
	}
	now := s.now().UTC()
	sub.Status = models.SubscriberUnsubscribed
	sub.UnsubscribedAt = &now
	metrics.NewsletterResult("unsubscribed")
	return s.db.WithContext(ctx).Model(sub).Updates(map[string]any{"status": sub.Status, "unsubscribed_at": now}).Error
}

type SubscriberFilter struct {
	Status string
	Query  string
	Page   int
	Limit  int
}

func (s *NewsletterService) List(ctx context.Context, f SubscriberFilter) (httpx.Page[models.NewsletterSubscriber], error) {
	f.Page, f.Limit = pageBounds(f.Page, f.Limit, 200)
	q := s.db.WithContext(ctx).Model(&models.NewsletterSubscriber{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Query != "" {
		q = q.Where("email LIKE ?", "%"+strings.ToLower(f.Query)+"%")
	}
	q = q.Session(&gorm.Session{})
	page := httpx.Page[models.NewsletterSubscriber]{Page: f.Page, Limit: f.Limit, Items: []models.NewsletterSubscriber{}}
	if err := q.Count(&page.Total).Error; err != nil {
		return page, err
	}
	err := q.Order("created_at DESC, id DESC").Offset((f.Page - 1) * f.Limit).Limit(f.Limit).Find(&page.Items).Error
	return page, err
}

type NewsletterStats struct {
	Total        int64      `json:"total"`
	Pending      int64      `json:"pending"`
	Active       int64      `json:"active"`
	Unsubscribed int64      `json:"unsubscribed"`
	Daily        []DayCount `json:"daily"`
}

// Stats counts subscribers per status and signups per day over the last
// days days (today included).
func (s *NewsletterService) Stats(ctx context.Context, days int) (*NewsletterStats, error) {
	if days < 1 || days > MaxAnalyticsDays {
		return nil, ErrInvalidRange
	}
	counts, err := countBy(ctx, s.db, &models.NewsletterSubscriber{}, "status")
	if err != nil {
		return nil, err
	}
	st := &NewsletterStats{
		Pending:      counts[models.SubscriberPending],
		Active:       counts[models.SubscriberActive],
		Unsubscribed: counts[models.SubscriberUnsubscribed],
	}
	st.Total = st.Pending + st.Active + st.Unsubscribed

	to := startOfDay(s.now())
	from := to.AddDate(0, 0, -(days - 1))
	var created []time.Time
	if err := s.db.WithContext(ctx).Model(&models.NewsletterSubscriber{}).
		Where("created_at >= ?", from).Pluck("created_at", &created).Error; err != nil {
		return nil, err
	}
	st.Daily = dailySeries(created, from, to)
	return st, nil
}

// countBy groups a table by one column.
func countBy(ctx context.Context, db *gorm.DB, model any, column string) (map[string]int64, error) {
	var rows []struct {
		Bucket string
		N      int64
	}
	err := db.WithContext(ctx).Model(model).Select(column + " AS bucket, COUNT(*) AS n").Group(column).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Bucket] = r.N
	}
	return out, nil
}

// dailySeries buckets timestamps per UTC day over [from, to], zero-filled.
func dailySeries(ts []time.Time, from, to time.Time) []DayCount {
	byDay := map[string]int{}
	for _, t := range ts {
		byDay[t.UTC().Format(time.DateOnly)]++
	}
	var out []DayCount
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		out = append(out, DayCount{Date: key, Count: byDay[key]})
	}
	return out
}

// Export writes every subscriber as CSV, oldest first.
func (s *NewsletterService) Export(ctx context.Context, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"email", "status", "source", "preferences", "consent_at", "confirmed_at", "unsubscribed_at"}); err != nil {
		return err
	}
	var batch []models.NewsletterSubscriber
	err := s.db.WithContext(ctx).Order("id").FindInBatches(&batch, 500, func(*gorm.DB, int) error {
		for _, sub := range batch {
			if err := cw.Write([]string{
				sub.Email,
				sub.Status,
				sub.Source,
				strings.Join(sub.Preferences, ";"),
				sub.ConsentAt.UTC().Format(time.RFC3339),
				formatOptional(sub.ConfirmedAt),
				formatOptional(sub.UnsubscribedAt),
			}); err != nil {
				return err
			}
		}
		return nil
	}).Error
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *NewsletterService) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.NewsletterSubscriber{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgePending removes subscriptions never confirmed since before cutoff.
func (s *NewsletterService) PurgePending(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.SubscriberPending, cutoff).
		Delete(&models.NewsletterSubscriber{})
	return res.RowsAffected, res.Error
}
