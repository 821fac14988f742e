package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Element types accepted by the click tracker.
var ElementTypes = []string{"button", "link", "phone", "email", "website", "social", "menu", "gallery", "map", "deal", "other"}

type ClickEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
	EstablishmentID uint      `gorm:"index;not null" json:"establishment_id"`
	ElementType     string    `gorm:"size:20;not null" json:"element_type"`
	ElementID       string    `gorm:"size:100;not null" json:"element_id"`
	ElementText     string    `gorm:"size:255" json:"element_text,omitempty"`
	Section         string    `gorm:"size:50;not null" json:"section"`
	Action          string    `gorm:"size:20;not null;default:click" json:"action"`
	SessionID       string    `gorm:"size:64;index" json:"session_id,omitempty"`
	UserID          *uint     `gorm:"index" json:"user_id,omitempty"`
	UserAgent       string    `gorm:"size:500" json:"-"`
	Referrer        string    `gorm:"size:500" json:"referrer,omitempty"`
}

const (
	ConversationOpen   = "open"
	ConversationClosed = "closed"
)

// Conversation is a support thread between a professional and the admins.
type Conversation struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ProfessionalID uint          `gorm:"index;not null" json:"professional_id"`
	Professional   *Professional `json:"professional,omitempty"`
	Subject        string        `gorm:"size:200;not null" json:"subject"`
	Status         string        `gorm:"size:10;not null;default:open;index" json:"status"`
	LastMessageAt  time.Time     `gorm:"index" json:"last_message_at"`
	ClosedAt       *time.Time    `json:"closed_at,omitempty"`
	Messages       []Message     `gorm:"constraint:OnDelete:CASCADE" json:"messages,omitempty"`
	UnreadCount    int64         `gorm:"-" json:"unread_count"`
}

func (c *Conversation) OwnerUserID() uint {
	if c.Professional == nil {
		return 0
	}
	return c.Professional.UserID
}

func (c *Conversation) IsClosed() bool { return c.Status == ConversationClosed }

type Message struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	ConversationID uint       `gorm:"index;not null" json:"conversation_id"`
	SenderID       uint       `gorm:"not null" json:"sender_id"`
	SenderRole     string     `gorm:"size:10;not null" json:"sender_role"`
	Body           string     `gorm:"type:text;not null" json:"body"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

const (
	VoteLike    = "like"
	VoteDislike = "dislike"
)

// Deal is a time-boxed offer shown in the carousel.
type Deal struct {
	ID              uint                `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	EstablishmentID uint                `gorm:"index;not null" json:"establishment_id"`
	Establishment   *Establishment      `json:"establishment,omitempty"`
	Title           string              `gorm:"size:200;not null" json:"title"`
	Description     string              `gorm:"type:text" json:"description"`
	ImageURL        string              `gorm:"size:500" json:"image_url,omitempty"`
	OriginalPrice   decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"original_price"`
	DealPrice       decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"deal_price"`
	StartsAt        time.Time           `gorm:"not null;index" json:"starts_at"`
	EndsAt          time.Time           `gorm:"not null;index" json:"ends_at"`
	IsActive        bool                `gorm:"not null;default:true;index" json:"is_active"`
	Conditions      string              `gorm:"size:500" json:"conditions,omitempty"`
}

func (d *Deal) OwnerUserID() uint {
	if d.Establishment == nil {
		return 0
	}
	return d.Establishment.OwnerUserID()
}

// LiveAt reports whether the deal is shown at t.
func (d *Deal) LiveAt(t time.Time) bool {
	return d.IsActive && !t.Before(d.StartsAt) && t.Before(d.EndsAt)
}

// DiscountPercent is the whole-number reduction, 0 without both prices.
func (d *Deal) DiscountPercent() int {
	if !d.OriginalPrice.Valid || !d.DealPrice.Valid || !d.OriginalPrice.Decimal.IsPositive() {
		return 0
	}
	off := d.OriginalPrice.Decimal.Sub(d.DealPrice.Decimal).
		Div(d.OriginalPrice.Decimal).
		Mul(decimal.NewFromInt(100)).
		Round(0)
	if off.IsNegative() {
		return 0
	}
	return int(off.IntPart())
}

// DealEngagement is one vote; a session votes at most once per deal.
type DealEngagement struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	DealID    uint      `gorm:"not null;uniqueIndex:idx_deal_session" json:"deal_id"`
	SessionID string    `gorm:"size:64;not null;uniqueIndex:idx_deal_session" json:"session_id"`
	Kind      string    `gorm:"size:10;not null" json:"kind"`
	UserID    *uint     `json:"user_id,omitempty"`
}

const (
	SubscriberPending      = "pending"
	SubscriberActive       = "active"
	SubscriberUnsubscribed = "unsubscribed"
)

type NewsletterSubscriber struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Email          string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Status         string     `gorm:"size:20;not null;default:pending;index" json:"status"`
	Token          string     `gorm:"uniqueIndex;size:36;not null" json:"-"`
	Source         string     `gorm:"size:50" json:"source,omitempty"`
	Preferences    []string   `gorm:"serializer:json;type:text" json:"preferences"`
	ConsentAt      time.Time  `json:"consent_at"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
}

// All lists every model for AutoMigrate, parents first.
func All() []any {
	return []any{
		&Permission{}, &Role{}, &User{},
		&Professional{}, &Tag{}, &Establishment{}, &OpeningHour{}, &Favorite{},
		&ClickEvent{},
		&Conversation{}, &Message{},
		&Deal{}, &DealEngagement{},
		&NewsletterSubscriber{},
	}
}
