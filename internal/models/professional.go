package models

import "time"

const (
	TierFree         = "FREE"
	TierPremium      = "PREMIUM"
	TierWaitlistBeta = "WAITLIST_BETA"
)

// Professional is the business account behind one or more establishments.
type Professional struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	UserID           uint            `gorm:"uniqueIndex;not null" json:"user_id"`
	User             *User           `json:"user,omitempty"`
	SIRET            string          `gorm:"column:siret;uniqueIndex;size:14;not null" json:"siret"`
	CompanyName      string          `gorm:"size:255;not null" json:"company_name"`
	LegalForm        string          `gorm:"size:100" json:"legal_form,omitempty"`
	Phone            string          `gorm:"size:30" json:"phone,omitempty"`
	SubscriptionTier string          `gorm:"size:20;not null;default:FREE;index" json:"subscription_tier"`
	SiretVerified    bool            `gorm:"not null;default:false" json:"siret_verified"`
	SiretVerifiedAt  *time.Time      `json:"siret_verified_at,omitempty"`
	Establishments   []Establishment `gorm:"constraint:OnDelete:CASCADE" json:"establishments,omitempty"`
}

func (p *Professional) OwnerUserID() uint { return p.UserID }

// ValidTier reports whether tier is a paid or free plan an admin may grant.
func ValidTier(tier string) bool {
	return tier == TierFree || tier == TierPremium
}
