package store

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/NASA-0007/Rosaiq-Trial/internal/config"
	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrDeviceNotFound   = fmt.Errorf("%w: device not found", apperr.ErrNotFound)
	ErrUserNotFound     = fmt.Errorf("%w: user not found", apperr.ErrNotFound)
	ErrFirmwareNotFound = fmt.Errorf("%w: firmware not found", apperr.ErrNotFound)

	ErrDuplicateSerial   = fmt.Errorf("%w: serial number already registered to another device", apperr.ErrConflict)
	ErrDuplicateVersion  = fmt.Errorf("%w: firmware version already exists", apperr.ErrConflict)
	ErrDuplicateUsername = fmt.Errorf("%w: username already exists", apperr.ErrConflict)
	ErrAlreadyOwned      = fmt.Errorf("%w: device is already owned by another user", apperr.ErrConflict)
)

type Repo struct {
	db       *gorm.DB
	defaults config.DeviceDefaults
	now      func() time.Time
}

type Options struct {
	// Defaults seeds a device's configuration the first time it is read.
	Defaults config.DeviceDefaults
	// Now overrides the clock; tests use it to pin timestamps.
	Now func() time.Time
}

// GormLogger logs slow queries and errors but not expected record-not-found lookups.
func GormLogger() logger.Interface {
	return gormLoggerTo(os.Stdout)
}

func gormLoggerTo(w io.Writer) logger.Interface {
	return logger.New(
		log.New(w, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	return gorm.Open(
		postgres.New(postgres.Config{DSN: dsn}),
		&gorm.Config{Logger: GormLogger(), TranslateError: true},
	)
}

// OpenSQLite opens the single-file store. Foreign keys are off by default in
// sqlite and must be enabled per connection.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: GormLogger(), TranslateError: true})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One writer at a time; callers inside a transaction must only use tx.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func Open(cfg config.Database) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		p := cfg.Postgres
		return OpenPostgres(p.User, p.Password, p.DBName, p.Host, p.Port, p.SSLMode)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func New(db *gorm.DB, opts Options) (*Repo, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Repo{db: db, defaults: opts.Defaults, now: now}, nil
}

// Migrate creates or updates every table. Order matters for foreign keys.
func Migrate(db *gorm.DB) error {
	for _, model := range []any{&User{}, &Device{}, &DeviceConfig{}, &Measurement{}, &Event{}, &Firmware{}} {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	return nil
}

// Ping reports whether the database answers.
func (r *Repo) Ping() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (r *Repo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repo) clock() time.Time {
	return r.now().UTC()
}

func notFound(err, kind error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return kind
	}
	return err
}
