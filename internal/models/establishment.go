package models

import (
	"strconv"
	"time"

	"gorm.io/gorm"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// PaymentMethods is the closed set accepted on establishments.
var PaymentMethods = []string{"cash", "card", "contactless", "cheque", "meal_voucher", "holiday_voucher", "mobile"}

type Establishment struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
	ProfessionalID    uint           `gorm:"index;not null" json:"professional_id"`
	Professional      *Professional  `json:"professional,omitempty"`
	Name              string         `gorm:"size:255;not null" json:"name"`
	Slug              string         `gorm:"uniqueIndex;size:255;not null" json:"slug"`
	Description       string         `gorm:"type:text" json:"description"`
	Address           string         `gorm:"size:255;not null" json:"address"`
	City              string         `gorm:"size:100;index" json:"city"`
	PostalCode        string         `gorm:"size:10" json:"postal_code"`
	Country           string         `gorm:"size:2;default:FR" json:"country"`
	Latitude          *float64       `json:"latitude,omitempty"`
	Longitude         *float64       `json:"longitude,omitempty"`
	Phone             string         `gorm:"size:30" json:"phone,omitempty"`
	Email             string         `gorm:"size:255" json:"email,omitempty"`
	Website           string         `gorm:"size:255" json:"website,omitempty"`
	Instagram         string         `gorm:"size:255" json:"instagram,omitempty"`
	Facebook          string         `gorm:"size:255" json:"facebook,omitempty"`
	PriceRange        int            `gorm:"not null;default:0" json:"price_range,omitempty"`
	Activities        []string       `gorm:"serializer:json;type:text" json:"activities"`
	PaymentMethods    []string       `gorm:"serializer:json;type:text" json:"payment_methods"`
	Tags              []Tag          `gorm:"many2many:establishment_tags;" json:"tags"`
	Hours             []OpeningHour  `gorm:"constraint:OnDelete:CASCADE" json:"hours"`
	Status            string         `gorm:"size:20;not null;default:pending;index" json:"status"`
	RejectionReason   string         `gorm:"size:500" json:"rejection_reason,omitempty"`
	SubscriptionTier  string         `gorm:"size:20;not null;default:FREE;index" json:"subscription_tier"`
	GooglePlaceID     string         `gorm:"size:255" json:"google_place_id,omitempty"`
	GoogleRating      *float64       `json:"google_rating,omitempty"`
	GoogleReviewCount int            `gorm:"not null;default:0" json:"google_review_count"`
	EnrichedAt        *time.Time     `json:"enriched_at,omitempty"`
	ViewsCount        int64          `gorm:"not null;default:0" json:"views_count"`
}

// OwnerUserID needs Professional preloaded; it is 0 otherwise.
func (e *Establishment) OwnerUserID() uint {
	if e.Professional == nil {
		return 0
	}
	return e.Professional.UserID
}

func (e *Establishment) IsApproved() bool { return e.Status == StatusApproved }

// TagSlugs lists the slugs of the loaded tags.
func (e *Establishment) TagSlugs() []string {
	out := make([]string, 0, len(e.Tags))
	for _, t := range e.Tags {
		out = append(out, t.Slug)
	}
	return out
}

// IsOpenAt checks t (in the establishment's local time) against the weekly
// hours. A closing time at or before the opening time runs past midnight.
func (e *Establishment) IsOpenAt(t time.Time) bool {
	day := int(t.Weekday())
	minute := t.Hour()*60 + t.Minute()
	for _, h := range e.Hours {
		if h.Closed {
			continue
		}
		opens, ok1 := ParseClock(h.Opens)
		closes, ok2 := ParseClock(h.Closes)
		if !ok1 || !ok2 {
			continue
		}
		if closes > opens {
			if h.DayOfWeek == day && minute >= opens && minute < closes {
				return true
			}
			continue
		}
		if h.DayOfWeek == day && minute >= opens {
			return true
		}
		if (h.DayOfWeek+1)%7 == day && minute < closes {
			return true
		}
	}
	return false
}

// OpeningHour is one weekly slot; DayOfWeek follows time.Weekday (0 = Sunday).
type OpeningHour struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	EstablishmentID uint   `gorm:"index;not null" json:"-"`
	DayOfWeek       int    `gorm:"not null" json:"day_of_week"`
	Opens           string `gorm:"size:5" json:"opens"`
	Closes          string `gorm:"size:5" json:"closes"`
	Closed          bool   `gorm:"not null;default:false" json:"closed"`
}

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h, err1 := strconv.Atoi(s[:2])
	m, err2 := strconv.Atoi(s[3:])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

type Tag struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"size:100;not null" json:"name"`
	Slug     string `gorm:"uniqueIndex;size:100;not null" json:"slug"`
	Category string `gorm:"size:50;index" json:"category"`
}

// Favorite is a consumer bookmark.
type Favorite struct {
	UserID          uint           `gorm:"primaryKey" json:"user_id"`
	EstablishmentID uint           `gorm:"primaryKey" json:"establishment_id"`
	CreatedAt       time.Time      `json:"created_at"`
	Establishment   *Establishment `json:"establishment,omitempty"`
}
