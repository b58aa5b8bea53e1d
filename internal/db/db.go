package db

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hostel-allocation-backend/config"
	"hostel-allocation-backend/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// activeStudentIndex backs the "one ACTIVE allocation per student" invariant.
const activeStudentIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_active_student ` +
	`ON allocations (student_id) WHERE status = 'ACTIVE'`

// Open connects to the configured database without touching the schema.
func Open(cfg *config.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel(logLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	return db, nil
}

// Init opens the database and brings the schema up to date.
func Init(cfg *config.DatabaseConfig, logLevel string, log *zap.Logger) (*gorm.DB, error) {
	db, err := Open(cfg, logLevel)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, cfg.Driver, log); err != nil {
		return nil, err
	}
	log.Info("database initialization complete", zap.String("driver", cfg.Driver))
	return db, nil
}

// Migrate applies the schema. Postgres runs the embedded SQL migrations;
// sqlite, used for development and tests, is built with AutoMigrate plus the
// partial unique index gorm cannot express.
func Migrate(db *gorm.DB, driver string, log *zap.Logger) error {
	switch driver {
	case "postgres":
		return runMigrations(db, log)
	case "sqlite":
		log.Info("running sqlite automigrate")
		if err := db.AutoMigrate(
			&model.Hostel{},
			&model.Room{},
			&model.Student{},
			&model.Allocation{},
			&model.PushSubscription{},
		); err != nil {
			return fmt.Errorf("automigrate failed: %w", err)
		}
		if err := db.Exec(activeStudentIndex).Error; err != nil {
			return fmt.Errorf("failed to create active student index: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}
}

func runMigrations(db *gorm.DB, log *zap.Logger) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	if dirty {
		log.Warn("database migrations are dirty", zap.Uint("version", version))
	} else {
		log.Info("database migrations complete", zap.Uint("version", version))
	}
	return nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "info", "warn":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}
