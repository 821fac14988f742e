package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/internal/events"
	"github.com/envie2sortir/envie2sortir/internal/metrics"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/internal/sirene"
	"github.com/envie2sortir/envie2sortir/validation"
)

type SireneClient interface {
	Lookup(ctx context.Context, siret string) (*sirene.Company, error)
}

// RegistrationInput is the professional sign-up wizard payload.
type RegistrationInput struct {
	Email         string             `json:"email"`
	Password      string             `json:"password"`
	FirstName     string             `json:"first_name"`
	LastName      string             `json:"last_name"`
	Phone         string             `json:"phone"`
	SIRET         string             `json:"siret"`
	CompanyName   string             `json:"company_name"`
	LegalForm     string             `json:"legal_form"`
	Establishment EstablishmentInput `json:"establishment"`
}

type Registration struct {
	User          *models.User          `json:"user"`
	Professional  *models.Professional  `json:"professional"`
	Establishment *models.Establishment `json:"establishment"`
}

type OnboardingOptions struct {
	// Launched switches new accounts from the beta waitlist to FREE.
	Launched bool
	HashCost int
}

type OnboardingService struct {
	db         *gorm.DB
	sirene     SireneClient
	enrichment *EnrichmentService
	events     events.Publisher
	log        logrus.FieldLogger
	opts       OnboardingOptions
	now        func() time.Time
}

func NewOnboardingService(db *gorm.DB, registry SireneClient, enrichment *EnrichmentService, pub events.Publisher, log logrus.FieldLogger, opts OnboardingOptions) *OnboardingService {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	return &OnboardingService{db: db, sirene: registry, enrichment: enrichment, events: pub, log: log, opts: opts, now: time.Now}
}

func (in *RegistrationInput) normalize() {
	in.Email = models.NormalizeEmail(in.Email)
	in.SIRET = validation.NormalizeSIRET(in.SIRET)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.LegalForm = strings.TrimSpace(in.LegalForm)
	in.Phone = strings.TrimSpace(in.Phone)
}

func (in RegistrationInput) validate() validation.Violations {
	v := validation.Violations{}
	validateCredentials(in.Email, in.Password, v)
	validation.Required("first_name", in.FirstName, v)
	validation.Required("last_name", in.LastName, v)
	validation.Phone("phone", in.Phone, v)
	validation.SIRET("siret", in.SIRET, v)
	validation.Required("company_name", in.CompanyName, v)
	validation.Length("company_name", in.CompanyName, 2, 255, v)
	in.Establishment.Validate("establishment.", v)
	return v
}

func (s *OnboardingService) tier() string {
	if s.opts.Launched {
		return models.TierFree
	}
	return models.TierWaitlistBeta
}

// Register creates the user, professional account and first establishment
// in one transaction.
func (s *OnboardingService) Register(ctx context.Context, in RegistrationInput) (*Registration, error) {
	reg, err := s.register(ctx, in)
	metrics.OnboardingResult(onboardingResult(err))
	return reg, err
}

func onboardingResult(err error) string {
	if _, ok := AsValidation(err); ok {
		return "invalid"
	}
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrEmailTaken):
		return "email_taken"
	case errors.Is(err, ErrSiretTaken):
		return "siret_taken"
	case errors.Is(err, ErrSiretInactive):
		return "siret_inactive"
	default:
		return "error"
	}
}

func (s *OnboardingService) register(ctx context.Context, in RegistrationInput) (*Registration, error) {
	in.normalize()
	if err := check(in.validate()); err != nil {
		return nil, err
	}
	taken, err := emailTaken(ctx, s.db, in.Email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}
	if taken, err = s.siretTaken(ctx, in.SIRET); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrSiretTaken
	}

	company, err := s.verify(ctx, in.SIRET)
	if err != nil {
		return nil, err
	}

	hash, err := hashPassword(in.Password, s.opts.HashCost)
	if err != nil {
		return nil, err
	}
	reg := &Registration{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := &models.User{
			Email:        in.Email,
			PasswordHash: hash,
			FirstName:    in.FirstName,
			LastName:     in.LastName,
			Role:         models.RolePro,
		}
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		pro := &models.Professional{
			UserID:           user.ID,
			SIRET:            in.SIRET,
			CompanyName:      in.CompanyName,
			LegalForm:        in.LegalForm,
			Phone:            in.Phone,
			SubscriptionTier: s.tier(),
		}
		if company != nil {
			now := s.now().UTC()
			pro.SiretVerified = true
			pro.SiretVerifiedAt = &now
			if pro.LegalForm == "" {
				pro.LegalForm = company.LegalForm
			}
		}
		if err := tx.Create(pro).Error; err != nil {
			return fmt.Errorf("create professional: %w", err)
		}
		est, err := createEstablishment(ctx, tx, pro, in.Establishment)
		if err != nil {
			return prefixViolations(err, "establishment.")
		}
		est.Professional = pro
		reg.User, reg.Professional, reg.Establishment = user, pro, est
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":          reg.User.ID,
		"professional_id":  reg.Professional.ID,
		"establishment_id": reg.Establishment.ID,
		"tier":             reg.Professional.SubscriptionTier,
		"siret_verified":   reg.Professional.SiretVerified,
	}).Info("professional registered")

	if s.enrichment.Enabled() {
		s.enrichment.EnrichBestEffort(ctx, reg.Establishment.ID)
	}
	_ = s.events.Publish(ctx, events.New(events.ProfessionalRegistered, in.SIRET, map[string]any{
		"user_id":          reg.User.ID,
		"professional_id":  reg.Professional.ID,
		"establishment_id": reg.Establishment.ID,
		"tier":             reg.Professional.SubscriptionTier,
	}))
	return reg, nil
}

func prefixViolations(err error, prefix string) error {
	ve, ok := AsValidation(err)
	if !ok {
		return err
	}
	out := validation.Violations{}
	for field, code := range ve.Violations {
		out[prefix+field] = code
	}
	return &ValidationError{Violations: out}
}

func (s *OnboardingService) siretTaken(ctx context.Context, siret string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Professional{}).Where("siret = ?", siret).Count(&count).Error
	return count > 0, err
}

// verify consults the registry when configured. Only a confirmed closed
// company blocks registration; lookup failures are logged.
func (s *OnboardingService) verify(ctx context.Context, siret string) (*sirene.Company, error) {
	if s.sirene == nil {
		return nil, nil
	}
	company, err := s.sirene.Lookup(ctx, siret)
	if err != nil {
		s.log.WithError(err).WithField("siret", siret).Warn("sirene lookup failed, continuing unverified")
		return nil, nil
	}
	if !company.Active {
		return nil, ErrSiretInactive
	}
	return company, nil
}

// SiretCheck answers the wizard's live SIRET field.
type SiretCheck struct {
	SIRET     string          `json:"siret"`
	Valid     bool            `json:"valid"`
	Available bool            `json:"available"`
	Verified  bool            `json:"verified"`
	Company   *sirene.Company `json:"company,omitempty"`
}

// CheckSiret validates the format, checks it is not registered yet and,
// when the registry is configured, looks the company up.
func (s *OnboardingService) CheckSiret(ctx context.Context, raw string) (*SiretCheck, error) {
	siret := validation.NormalizeSIRET(raw)
	res := &SiretCheck{SIRET: siret, Valid: validation.ValidSIRET(siret)}
	if !res.Valid {
		return res, nil
	}
	taken, err := s.siretTaken(ctx, siret)
	if err != nil {
		return nil, err
	}
	res.Available = !taken
	if s.sirene == nil {
		return res, nil
	}
	company, err := s.sirene.Lookup(ctx, siret)
	switch {
	case errors.Is(err, sirene.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		s.log.WithError(err).WithField("siret", siret).Warn("sirene lookup failed")
		return res, nil
	}
	res.Verified = company.Active
	res.Company = company
	return res, nil
}
