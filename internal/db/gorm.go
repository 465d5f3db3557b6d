package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/RiiPPeR/chiclana-records-back/internal/config"
)

type (
	// User is registered through the auth endpoints; ID comes from uuid, not
	// from an autoincrement, so it stays stable across stores.
	User struct {
		ID           string   `gorm:"primaryKey"`
		Email        string   `gorm:"unique;not null"`
		Username     string   `gorm:"unique;not null"`
		PasswordHash string   `gorm:"not null"`
		Token        string   `gorm:"index"`
		Friends      []string `gorm:"serializer:json"`
		CreatedAt    time.Time
	}

	// Record is the shared catalog row, keyed by the Discogs release id.
	// A row exists only while at least one UserRecord references it.
	Record struct {
		DiscogsID uint64 `gorm:"primaryKey;autoIncrement:false"`
		Title     string `gorm:"not null"`
		Artist    string `gorm:"not null"`
		ImageURL  string
		Country   string
		Year      int
		Label     string
		Catno     string
		CreatedAt time.Time
	}

	// UserRecord marks that a user holds a catalog record in their
	// collection. The composite unique index makes membership a set, so a
	// racing duplicate insert loses at the store.
	UserRecord struct {
		ID        string `gorm:"primaryKey"`
		UserID    string `gorm:"not null;uniqueIndex:uidx_user_discogs"`
		DiscogsID uint64 `gorm:"not null;uniqueIndex:uidx_user_discogs"`
		AddedAt   time.Time
	}
)

var Module = fx.Provide(NewGormClient)

func NewGormClient(cfg *config.Config) (*gorm.DB, error) {
	newLogger := logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Info,
		Colorful:                  true,
		IgnoreRecordNotFoundError: false,
	})

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         newLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate is shared with the test suites, which run it against sqlite.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}); err != nil {
		return errors.Wrap(err, "migrate user")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return errors.Wrap(err, "migrate record")
	}
	if err := db.AutoMigrate(&UserRecord{}); err != nil {
		return errors.Wrap(err, "migrate user record")
	}
	return nil
}
