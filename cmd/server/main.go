package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/internal/cloudflare"
	"github.com/envie2sortir/envie2sortir/internal/config"
	"github.com/envie2sortir/envie2sortir/internal/db"
	"github.com/envie2sortir/envie2sortir/internal/events"
	"github.com/envie2sortir/envie2sortir/internal/logging"
	"github.com/envie2sortir/envie2sortir/internal/places"
	"github.com/envie2sortir/envie2sortir/internal/sirene"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")
	seedOnlyFlag    = flag.Bool("seed-only", false, "Run DB seed and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load configuration")
	}

	log, closer := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.LogFormat(),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer closer.Close()

	ctx := context.Background()
	conn, err := db.Connect(ctx, db.Options{DSN: cfg.Database.DSN(), Attempts: 10, Delay: 2 * time.Second, Debug: cfg.App.Dev}, log)
	if err != nil {
		log.WithError(err).Fatal("connect to database")
	}

	if *migrateOnlyFlag {
		if err := db.Migrate(conn, !cfg.App.Dev, cfg.Database.URL()); err != nil {
			log.WithError(err).Fatal("migration failed")
		}
		log.Info("migrations completed")
		return
	}
	if *seedOnlyFlag {
		if err := db.Seed(conn); err != nil {
			log.WithError(err).Fatal("seeding failed")
		}
		log.Info("seeding completed")
		return
	}

	if cfg.App.Migrations {
		if err := db.Migrate(conn, !cfg.App.Dev, cfg.Database.URL()); err != nil {
			log.WithError(err).Fatal("migration failed")
		}
		log.Info("migrations completed")
	}
	if cfg.App.Seed {
		if err := db.Seed(conn); err != nil {
			log.WithError(err).Fatal("seeding failed")
		}
	}

	auth.SetSecret(cfg.App.SessionSecret)

	in, shutdownEvents := integrations(cfg, log)
	app := NewApp(cfg, conn, log, in)

	scheduler := app.Scheduler()
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("start cron scheduler")
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	go sweepRateLimiter(sweepCtx, app, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Server.Port, "dev": cfg.App.Dev, "version": version}).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	stopSweep()
	scheduler.Stop(shutdownCtx)
	shutdownEvents(shutdownCtx)
	log.Info("server stopped gracefully")
}

// integrations builds the outbound clients that have credentials. The
// returned func flushes the event pipeline.
func integrations(cfg *config.Config, log *logrus.Logger) (Integrations, func(context.Context)) {
	var in Integrations
	ic := cfg.Integrations

	shutdown := func(context.Context) {}
	if ic.KafkaEnabled() {
		kafka := events.NewKafkaPublisher(ic.KafkaBrokers, ic.KafkaTopicPrefix)
		async := events.NewAsyncPublisher(kafka, 1024, log)
		in.Events = async
		shutdown = func(ctx context.Context) {
			if err := async.Close(ctx); err != nil {
				log.WithError(err).Warn("flush events")
			}
			if err := kafka.Close(); err != nil {
				log.WithError(err).Warn("close kafka writer")
			}
		}
		log.WithField("brokers", ic.KafkaBrokers).Info("kafka events enabled")
	}
	if ic.PlacesEnabled() {
		in.Places = places.New(ic.GooglePlacesBaseURL, ic.GooglePlacesKey)
	}
	if ic.SireneEnabled() {
		in.Sirene = sirene.New(ic.SireneBaseURL, ic.SireneToken)
	}
	if ic.CloudflareEnabled() {
		in.Traffic = cloudflare.New(ic.CloudflareURL, ic.CloudflareToken, ic.CloudflareZoneID)
	}
	log.WithFields(logrus.Fields{
		"places":     ic.PlacesEnabled(),
		"sirene":     ic.SireneEnabled(),
		"cloudflare": ic.CloudflareEnabled(),
		"kafka":      ic.KafkaEnabled(),
	}).Info("integrations")
	return in, shutdown
}

func sweepRateLimiter(ctx context.Context, app *App, log logrus.FieldLogger) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := app.RateLimiter().Cleanup(); n > 0 {
				log.WithField("removed", n).Debug("rate limiter sweep")
			}
		}
	}
}
