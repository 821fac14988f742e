// Package db opens the database, migrates the schema and seeds reference data.
package db

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Options struct {
	DSN      string
	Attempts int
	Delay    time.Duration
	Debug    bool
}

var passwordRe = regexp.MustCompile(`(password=)(\S+)|(://[^:/]+:)([^@]+)(@)`)

// MaskDSN hides the password of a key=value or URL DSN.
func MaskDSN(dsn string) string {
	return passwordRe.ReplaceAllString(dsn, "${1}${3}***${5}")
}

// Connect opens PostgreSQL, retrying while the server starts up.
func Connect(ctx context.Context, opts Options, log logrus.FieldLogger) (*gorm.DB, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = 10
	}
	if opts.Delay <= 0 {
		opts.Delay = 2 * time.Second
	}
	level := logger.Silent
	if opts.Debug {
		level = logger.Info
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(level)}

	var (
		conn *gorm.DB
		err  error
	)
	for i := 1; i <= opts.Attempts; i++ {
		conn, err = gorm.Open(postgres.Open(opts.DSN), cfg)
		if err == nil {
			if err = Ping(ctx, conn); err == nil {
				break
			}
		}
		log.WithError(err).WithField("attempt", i).Warn("database not ready, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.Delay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect database after %d attempts: %w", opts.Attempts, err)
	}
	log.WithField("dsn", MaskDSN(opts.DSN)).Info("database connected")
	return conn, nil
}

// Ping runs SELECT 1; /healthz uses it.
func Ping(ctx context.Context, conn *gorm.DB) error {
	return conn.WithContext(ctx).Exec("SELECT 1").Error
}

// AutoMigrate creates or updates every table from the models.
func AutoMigrate(conn *gorm.DB) error {
	for _, m := range models.All() {
		if err := conn.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	return nil
}

// Migrate picks SQL migrations when useSQL is set, else AutoMigrate, and
// checks the core tables exist afterwards.
func Migrate(conn *gorm.DB, useSQL bool, databaseURL string) error {
	if useSQL {
		if err := RunSQLMigrations(databaseURL); err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
	} else if err := AutoMigrate(conn); err != nil {
		return err
	}
	for _, table := range []string{"roles", "users", "establishments"} {
		if !conn.Migrator().HasTable(table) {
			return fmt.Errorf("missing table after migration: %s", table)
		}
	}
	return nil
}
