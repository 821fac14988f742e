package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/internal/events"
	"github.com/envie2sortir/envie2sortir/internal/metrics"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/validation"
)

const (
	DefaultAnalyticsDays = 30
	MaxAnalyticsDays     = 366
)

type TrackInput struct {
	EstablishmentID uint   `json:"establishment_id"`
	ElementType     string `json:"element_type"`
	ElementID       string `json:"element_id"`
	ElementText     string `json:"element_text"`
	Section         string `json:"section"`
	Action          string `json:"action"`
	SessionID       string `json:"session_id"`
	UserID          *uint  `json:"-"`
	UserAgent       string `json:"-"`
	Referrer        string `json:"-"`
}

func (in TrackInput) validate() validation.Violations {
	v := validation.Violations{}
	if in.EstablishmentID == 0 {
		v.Add("establishment_id", "required")
	}
	validation.OneOf("element_type", in.ElementType, models.ElementTypes, v)
	validation.Required("element_id", in.ElementID, v)
	validation.Length("element_id", in.ElementID, 0, 100, v)
	validation.Length("element_text", in.ElementText, 0, 255, v)
	validation.Required("section", in.Section, v)
	validation.Length("section", in.Section, 0, 50, v)
	validation.Length("action", in.Action, 0, 20, v)
	validation.Length("session_id", in.SessionID, 0, 64, v)
	return v
}

type AnalyticsService struct {
	db     *gorm.DB
	events events.Publisher
	now    func() time.Time
}

func NewAnalyticsService(db *gorm.DB, pub events.Publisher) *AnalyticsService {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &AnalyticsService{db: db, events: pub, now: time.Now}
}

// Track records one click on an establishment page.
func (s *AnalyticsService) Track(ctx context.Context, in TrackInput) error {
	if in.Action == "" {
		in.Action = "click"
	}
	if err := check(in.validate()); err != nil {
		return err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Establishment{}).Where("id = ?", in.EstablishmentID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	ev := models.ClickEvent{
		CreatedAt:       s.now().UTC(),
		EstablishmentID: in.EstablishmentID,
		ElementType:     in.ElementType,
		ElementID:       strings.TrimSpace(in.ElementID),
		ElementText:     strings.TrimSpace(in.ElementText),
		Section:         strings.TrimSpace(in.Section),
		Action:          in.Action,
		SessionID:       in.SessionID,
		UserID:          in.UserID,
		UserAgent:       truncate(in.UserAgent, 500),
		Referrer:        truncate(in.Referrer, 500),
	}
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return fmt.Errorf("insert click: %w", err)
	}
	metrics.ClickTracked(ev.ElementType)
	_ = s.events.Publish(ctx, events.New(events.ClickTracked, fmt.Sprint(ev.EstablishmentID), map[string]any{
		"establishment_id": ev.EstablishmentID,
		"element_type":     ev.ElementType,
		"element_id":       ev.ElementID,
		"section":          ev.Section,
	}))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ResolveRange applies the default window and bounds. Both ends are
// inclusive days in UTC; to defaults to today.
func ResolveRange(from, to *time.Time, now time.Time) (time.Time, time.Time, error) {
	end := startOfDay(now)
	if to != nil {
		end = startOfDay(*to)
	}
	start := end.AddDate(0, 0, -(DefaultAnalyticsDays - 1))
	if from != nil {
		start = startOfDay(*from)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	if int(end.Sub(start).Hours()/24)+1 > MaxAnalyticsDays {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	return start, end, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type Breakdown struct {
	Name       string  `json:"name"`
	Label      string  `json:"label,omitempty"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Summary struct {
	EstablishmentID uint        `json:"establishment_id,omitempty"`
	From            string      `json:"from"`
	To              string      `json:"to"`
	TotalClicks     int         `json:"total_clicks"`
	UniqueSessions  int         `json:"unique_sessions"`
	ByHour          [24]int     `json:"by_hour"`
	ByElement       []Breakdown `json:"by_element"`
	BySection       []Breakdown `json:"by_section"`
	ByDay           []DayCount  `json:"by_day"`
	TopElement      *Breakdown  `json:"top_element"`
}

// Summary reduces the clicks of [from, to] (whole days) in memory. An
// establishmentID of 0 covers every establishment.
func (s *AnalyticsService) Summary(ctx context.Context, establishmentID uint, from, to time.Time) (*Summary, error) {
	q := s.db.WithContext(ctx).Model(&models.ClickEvent{}).
		Where("created_at >= ? AND created_at < ?", from, to.AddDate(0, 0, 1))
	if establishmentID != 0 {
		q = q.Where("establishment_id = ?", establishmentID)
	}
	var rows []models.ClickEvent
	if err := q.Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	sum := Aggregate(rows, from, to)
	sum.EstablishmentID = establishmentID
	return sum, nil
}

// Aggregate builds a Summary from raw rows. Days with no click are present
// with a zero count.
func Aggregate(rows []models.ClickEvent, from, to time.Time) *Summary {
	from, to = startOfDay(from), startOfDay(to)
	sum := &Summary{From: from.Format(time.DateOnly), To: to.Format(time.DateOnly), TotalClicks: len(rows)}

	sessions := map[string]struct{}{}
	elements := map[string]int{}
	labels := map[string]string{}
	sections := map[string]int{}
	days := map[string]int{}
	for _, r := range rows {
		if r.SessionID != "" {
			sessions[r.SessionID] = struct{}{}
		}
		at := r.CreatedAt.UTC()
		sum.ByHour[at.Hour()]++
		elements[r.ElementID]++
		if labels[r.ElementID] == "" {
			labels[r.ElementID] = r.ElementText
		}
		sections[r.Section]++
		days[at.Format(time.DateOnly)]++
	}
	sum.UniqueSessions = len(sessions)
	sum.ByElement = breakdown(elements, labels, len(rows))
	sum.BySection = breakdown(sections, nil, len(rows))
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		sum.ByDay = append(sum.ByDay, DayCount{Date: key, Count: days[key]})
	}
	if len(sum.ByElement) > 0 {
		top := sum.ByElement[0]
		sum.TopElement = &top
	}
	return sum
}

// breakdown sorts by count desc then name, percentages rounded to 0.1.
func breakdown(counts map[string]int, labels map[string]string, total int) []Breakdown {
	out := make([]Breakdown, 0, len(counts))
	for name, n := range counts {
		b := Breakdown{Name: name, Count: n, Label: labels[name]}
		if total > 0 {
			b.Percentage = math.Round(float64(n)*1000/float64(total)) / 10
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

type EstablishmentClicks struct {
	EstablishmentID uint   `json:"establishment_id"`
	Name            string `json:"name"`
	Slug            string `json:"slug"`
	Clicks          int64  `json:"clicks"`
}

// TopEstablishments ranks establishments by clicks since from.
func (s *AnalyticsService) TopEstablishments(ctx context.Context, from time.Time, limit int) ([]EstablishmentClicks, error) {
	out := []EstablishmentClicks{}
	err := s.db.WithContext(ctx).Table("click_events").
		Select("click_events.establishment_id, establishments.name, establishments.slug, COUNT(*) AS clicks").
		Joins("JOIN establishments ON establishments.id = click_events.establishment_id").
		Where("click_events.created_at >= ?", from).
		Group("click_events.establishment_id, establishments.name, establishments.slug").
		Order("clicks DESC, establishments.name").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// PurgeBefore deletes clicks older than cutoff.
func (s *AnalyticsService) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, errors.New("purge cutoff required")
	}
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ClickEvent{})
	return res.RowsAffected, res.Error
}
