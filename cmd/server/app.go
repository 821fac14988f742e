package main

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/gate"
	"github.com/envie2sortir/envie2sortir/internal/config"
	"github.com/envie2sortir/envie2sortir/internal/events"
	"github.com/envie2sortir/envie2sortir/internal/handlers"
	"github.com/envie2sortir/envie2sortir/internal/jobs"
	"github.com/envie2sortir/envie2sortir/internal/logging"
	"github.com/envie2sortir/envie2sortir/internal/metrics"
	"github.com/envie2sortir/envie2sortir/internal/middleware"
	"github.com/envie2sortir/envie2sortir/internal/policy"
	"github.com/envie2sortir/envie2sortir/internal/realtime"
	"github.com/envie2sortir/envie2sortir/internal/services"
	"github.com/envie2sortir/envie2sortir/view"
)

const profileCacheTTL = 5 * time.Minute

// Integrations are the optional outbound clients. A nil field disables the
// matching feature.
type Integrations struct {
	Events  events.Publisher
	Places  services.PlacesClient
	Sirene  services.SireneClient
	Traffic services.TrafficSource
}

// App is the main application handler that sets up all routes.
type App struct {
	mux     *http.ServeMux
	handler http.Handler
	cfg     *config.Config
	log     logrus.FieldLogger
	gate    *policy.AuthGate
	limiter *middleware.RateLimiter
	hub     *realtime.Hub

	accounts       *services.AccountService
	establishments *services.EstablishmentService
	enrichment     *services.EnrichmentService
	onboarding     *services.OnboardingService
	analytics      *services.AnalyticsService
	messaging      *services.MessagingService
	deals          *services.DealService
	newsletter     *services.NewsletterService
	waitlist       *services.WaitlistService
	dashboard      *services.DashboardService
	health         *handlers.HealthHandler
}

// NewApp wires the services and routes on top of an open database.
func NewApp(cfg *config.Config, conn *gorm.DB, log *logrus.Logger, in Integrations) *App {
	pub := in.Events
	if pub == nil {
		pub = events.NopPublisher{}
	}
	a := &App{
		mux:     http.NewServeMux(),
		cfg:     cfg,
		log:     log,
		gate:    policy.NewPlatformGate(conn, profileCacheTTL),
		limiter: middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		hub:     realtime.NewHub(log, cfg.App.CORSOrigin),
		health:  handlers.NewHealthHandler(conn, version),
	}
	a.accounts = services.NewAccountService(conn)
	a.establishments = services.NewEstablishmentService(conn, pub)
	a.enrichment = services.NewEnrichmentService(conn, in.Places, log)
	a.onboarding = services.NewOnboardingService(conn, in.Sirene, a.enrichment, pub, log, services.OnboardingOptions{Launched: cfg.App.Launched})
	a.analytics = services.NewAnalyticsService(conn, pub)
	a.messaging = services.NewMessagingService(conn, pub, a.hub)
	a.deals = services.NewDealService(conn, pub)
	a.newsletter = services.NewNewsletterService(conn, pub)
	a.waitlist = services.NewWaitlistService(conn, pub)
	a.dashboard = services.NewDashboardService(conn, a.analytics, in.Traffic)

	if err := a.limiter.TrustProxies(cfg.RateLimit.TrustedProxies); err != nil {
		log.WithError(err).Warn("ignoring TRUSTED_PROXIES")
	}
	auth.SetUserVerifier(a.accounts.Exists)
	view.SetSiteURL(cfg.Server.PublicURL)

	a.setupRoutes()
	a.handler = middleware.Chain(a.mux,
		middleware.Recover,
		logging.Middleware(log),
		metrics.InstrumentHandler,
		auth.Middleware,
		middleware.Lang,
		middleware.CORS(cfg.App.CORSOrigin),
	)
	return a
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// Scheduler builds the maintenance jobs over the app services.
func (a *App) Scheduler() *jobs.Scheduler {
	return jobs.New(a.deals, a.analytics, a.newsletter, a.log, jobs.Options{RetentionDays: a.cfg.App.AnalyticsRetentionDays})
}

// RateLimiter is exposed so main can sweep idle buckets.
func (a *App) RateLimiter() *middleware.RateLimiter { return a.limiter }

// setupRoutes configures all application routes.
func (a *App) setupRoutes() {
	var (
		ah  = handlers.NewAuthHandler(a.accounts)
		ph  = handlers.NewProfessionalHandler(a.onboarding)
		eh  = handlers.NewEstablishmentHandler(a.establishments, a.enrichment, a.gate)
		anh = handlers.NewAnalyticsHandler(a.analytics, a.establishments, a.gate)
		mh  = handlers.NewMessagingHandler(a.messaging, a.hub)
		dh  = handlers.NewDealHandler(a.deals, a.establishments, a.gate)
		nh  = handlers.NewNewsletterHandler(a.newsletter)
		adh = handlers.NewAdminHandler(a.accounts, a.gate, a.waitlist, a.dashboard)
	)

	// ─────────────────────────────────────────────────────────────────────
	// Public routes
	// ─────────────────────────────────────────────────────────────────────
	a.mux.HandleFunc("GET /health", a.health.Health)
	a.mux.HandleFunc("GET /healthz", a.health.Health)
	a.mux.Handle("GET /metrics", metrics.Handler())

	a.mux.Handle("POST /api/auth/signup", a.limited(ah.Signup))
	a.mux.Handle("POST /api/auth/login", a.limited(ah.Login))
	a.mux.HandleFunc("POST /api/auth/logout", ah.Logout)
	a.mux.HandleFunc("GET /api/auth/me", ah.Me)

	a.mux.Handle("POST /api/professionals/register", a.limited(ph.Register))
	a.mux.Handle("GET /api/professionals/siret/{siret}", a.limited(ph.CheckSiret))

	a.mux.HandleFunc("GET /api/establishments", eh.Search)
	a.mux.HandleFunc("GET /api/establishments/{slug}", eh.BySlug)
	a.mux.HandleFunc("GET /api/tags", eh.Tags)

	a.mux.Handle("POST /api/analytics/track", a.limited(anh.Track))

	a.mux.HandleFunc("GET /api/deals/active", dh.Active)
	a.mux.Handle("POST /api/deals/{id}/engagement", a.limited(dh.Engage))

	a.mux.Handle("POST /api/newsletter/subscribe", a.limited(nh.Subscribe))
	a.mux.HandleFunc("POST /api/newsletter/unsubscribe", nh.Unsubscribe)
	a.mux.HandleFunc("GET /newsletter/confirm", nh.ConfirmPage)
	a.mux.HandleFunc("GET /newsletter/unsubscribe", nh.UnsubscribePage)

	// ─────────────────────────────────────────────────────────────────────
	// Signed-in users
	// ─────────────────────────────────────────────────────────────────────
	a.mux.Handle("GET /api/me/favorites",
		a.requirePermission(gate.ResourceFavorite, gate.ActionList, eh.Favorites))
	a.mux.Handle("PUT /api/me/favorites/{establishmentID}",
		a.requirePermission(gate.ResourceFavorite, gate.ActionCreate, eh.AddFavorite))
	a.mux.Handle("DELETE /api/me/favorites/{establishmentID}",
		a.requirePermission(gate.ResourceFavorite, gate.ActionDelete, eh.RemoveFavorite))

	// ─────────────────────────────────────────────────────────────────────
	// Professional space
	// ─────────────────────────────────────────────────────────────────────
	a.mux.Handle("GET /api/pro/establishments",
		a.requirePermission(gate.ResourceEstablishment, gate.ActionList, eh.Mine))
	a.mux.Handle("POST /api/pro/establishments",
		a.requirePermission(gate.ResourceEstablishment, gate.ActionCreate, eh.Create))
	a.mux.Handle("GET /api/pro/establishments/{id}",
		a.requirePermission(gate.ResourceEstablishment, gate.ActionView, eh.Get))
	a.mux.Handle("PUT /api/pro/establishments/{id}",
		a.requirePermission(gate.ResourceEstablishment, gate.ActionUpdate, eh.Update))
	a.mux.Handle("DELETE /api/pro/establishments/{id}",
		a.requirePermission(gate.ResourceEstablishment, gate.ActionDelete, eh.Delete))
	a.mux.Handle("POST /api/pro/establishments/{id}/enrich",
		a.requirePermission(gate.ResourceEstablishment, gate.ActionUpdate, eh.Enrich))
	a.mux.Handle("GET /api/pro/establishments/{id}/analytics",
		a.requirePermission(gate.ResourceAnalytics, gate.ActionView, anh.Establishment))

	a.mux.Handle("GET /api/pro/establishments/{id}/deals",
		a.requirePermission(gate.ResourceDeal, gate.ActionList, dh.List))
	a.mux.Handle("POST /api/pro/establishments/{id}/deals",
		a.requirePermission(gate.ResourceDeal, gate.ActionCreate, dh.Create))
	a.mux.Handle("PUT /api/pro/deals/{id}",
		a.requirePermission(gate.ResourceDeal, gate.ActionUpdate, dh.Update))
	a.mux.Handle("DELETE /api/pro/deals/{id}",
		a.requirePermission(gate.ResourceDeal, gate.ActionDelete, dh.Delete))
	a.mux.Handle("GET /api/pro/deals/{id}/stats",
		a.requirePermission(gate.ResourceDeal, gate.ActionView, dh.Stats))

	// ─────────────────────────────────────────────────────────────────────
	// Messaging (pros and admins)
	// ─────────────────────────────────────────────────────────────────────
	a.mux.Handle("GET /api/messaging/conversations",
		a.requirePermission(gate.ResourceConversation, gate.ActionList, mh.List))
	a.mux.Handle("POST /api/messaging/conversations",
		a.requirePermission(gate.ResourceConversation, gate.ActionCreate, mh.Create))
	a.mux.Handle("GET /api/messaging/conversations/{id}",
		a.requirePermission(gate.ResourceConversation, gate.ActionView, mh.Get))
	a.mux.Handle("POST /api/messaging/conversations/{id}/messages",
		a.requirePermission(gate.ResourceConversation, gate.ActionReply, mh.Send))
	a.mux.Handle("PATCH /api/messaging/conversations/{id}/status",
		a.requirePermission(gate.ResourceConversation, gate.ActionUpdate, mh.SetStatus))
	a.mux.Handle("POST /api/messaging/conversations/{id}/read",
		a.requirePermission(gate.ResourceConversation, gate.ActionView, mh.MarkRead))
	a.mux.Handle("GET /api/messaging/conversations/{id}/ws",
		a.requirePermission(gate.ResourceConversation, gate.ActionView, mh.Stream))
	a.mux.Handle("GET /api/messaging/unread",
		a.requirePermission(gate.ResourceConversation, gate.ActionList, mh.Unread))

	// ─────────────────────────────────────────────────────────────────────
	// Admin
	// ─────────────────────────────────────────────────────────────────────
	a.mux.Handle("GET /api/admin/dashboard", a.requireAdmin(adh.Dashboard))
	a.mux.Handle("GET /api/admin/traffic", a.requireAdmin(adh.Traffic))
	a.mux.Handle("GET /api/admin/users", a.requireAdmin(adh.Users))
	a.mux.Handle("GET /api/admin/roles", a.requireAdmin(adh.Roles))
	a.mux.Handle("POST /api/admin/users/{id}/role", a.requireAdmin(adh.SetRole))

	a.mux.Handle("GET /api/admin/establishments", a.requireAdmin(eh.Moderation))
	a.mux.Handle("POST /api/admin/establishments/{id}/approve", a.requireAdmin(eh.Approve))
	a.mux.Handle("POST /api/admin/establishments/{id}/reject", a.requireAdmin(eh.Reject))
	a.mux.Handle("PUT /api/admin/establishments/{id}/slug", a.requireAdmin(eh.SetSlug))
	a.mux.Handle("GET /api/admin/analytics", a.requireAdmin(anh.Platform))

	a.mux.Handle("GET /api/admin/waitlist", a.requireAdmin(adh.Waitlist))
	a.mux.Handle("GET /api/admin/waitlist/stats", a.requireAdmin(adh.WaitlistStats))
	a.mux.Handle("POST /api/admin/waitlist/{id}/activate", a.requireAdmin(adh.Activate))
	a.mux.Handle("POST /api/admin/waitlist/launch", a.requireAdmin(adh.Launch))

	a.mux.Handle("GET /api/admin/newsletter", a.requireAdmin(nh.List))
	a.mux.Handle("GET /api/admin/newsletter/stats", a.requireAdmin(nh.Stats))
	a.mux.Handle("GET /api/admin/newsletter/export", a.requireAdmin(nh.Export))
	a.mux.Handle("DELETE /api/admin/newsletter/{id}", a.requireAdmin(nh.Delete))
}

// ─────────────────────────────────────────────────────────────────────────
// Middleware
// ─────────────────────────────────────────────────────────────────────────

func (a *App) limited(h http.HandlerFunc) http.Handler {
	return a.limiter.Wrap(h)
}

// requirePermission wraps a handler to require a session and a role permission.
func (a *App) requirePermission(resource string, action gate.Action, h http.HandlerFunc) http.Handler {
	return auth.RequireAuth(a.gate.RequirePermission(resource, action)(h))
}

// requireAdmin wraps a handler to require the superadmin permission.
func (a *App) requireAdmin(h http.HandlerFunc) http.Handler {
	return auth.RequireAuth(a.gate.RequireAdmin()(h))
}
