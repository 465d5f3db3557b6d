// Package collection keeps a user's record collection and the shared catalog
// in sync: a catalog row exists while at least one user holds the record, and
// each (user, record) pair is held at most once.
package collection

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/RiiPPeR/chiclana-records-back/internal/db"
)

// ErrAlreadyInCollection is the business rejection for a duplicate add. It is
// not a fault: the collection already looks the way the caller asked for.
var ErrAlreadyInCollection = errors.New("record already in collection")

// AlreadyInCollectionMessage is the user-facing text for ErrAlreadyInCollection.
const AlreadyInCollectionMessage = "Ya has añadido ese disco."

var Module = fx.Provide(
	NewService,
	NewReconciler,
)

type (
	Service struct {
		db     *gorm.DB
		logger *zap.SugaredLogger
	}

	// AddInput carries the catalog attributes supplied by the first holder.
	// Later adds of the same release never update them.
	AddInput struct {
		Title    string
		Artist   string
		ImageURL string
		Country  string
		Year     int
		Label    string
		Catno    string
	}
)

func NewService(db *gorm.DB, l *zap.SugaredLogger) *Service {
	return &Service{
		db:     db,
		logger: l,
	}
}

// Add puts the record into the user's collection, creating the shared catalog
// row when this user is the first holder. Both writes run in one transaction
// so a failed membership insert cannot leave an orphaned catalog row behind.
// A duplicate hold is rejected with ErrAlreadyInCollection.
func (s *Service) Add(ctx context.Context, userID string, discogsID uint64, in AddInput) error {
	s.logger.Infow("adding record to collection", "user_id", userID, "discogs_id", discogsID)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := db.Record{
			DiscogsID: discogsID,
			Title:     in.Title,
			Artist:    in.Artist,
			ImageURL:  in.ImageURL,
			Country:   in.Country,
			Year:      in.Year,
			Label:     in.Label,
			Catno:     in.Catno,
		}
		// ON CONFLICT DO NOTHING: an existing catalog row keeps its first
		// writer's attributes, and a concurrent first add never turns into a
		// constraint error that would abort the transaction.
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if res.Error != nil {
			return errors.Wrap(res.Error, "create catalog record")
		}

		var count int64
		res = tx.Model(&db.UserRecord{}).
			Where("user_id = ? AND discogs_id = ?", userID, discogsID).
			Count(&count)
		if res.Error != nil {
			return errors.Wrap(res.Error, "check membership")
		}
		if count > 0 {
			return ErrAlreadyInCollection
		}

		membership := db.UserRecord{
			ID:        uuid.New().String(),
			UserID:    userID,
			DiscogsID: discogsID,
			AddedAt:   time.Now(),
		}
		if err := tx.Create(&membership).Error; err != nil {
			// A concurrent add for the same pair won the race between the
			// count above and this insert; the store's unique index settles it.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyInCollection
			}
			return errors.Wrap(err, "create membership")
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyInCollection) {
			s.logger.Infow("record already in collection", "user_id", userID, "discogs_id", discogsID)
		} else {
			s.logger.Errorw("add record failed", "user_id", userID, "discogs_id", discogsID, "error", err)
		}
		return err
	}

	s.logger.Infow("record added to collection", "user_id", userID, "discogs_id", discogsID)
	return nil
}

// Remove drops the membership and garbage-collects the catalog row when the
// last holder lets go. Removing an absent membership is a no-op success.
func (s *Service) Remove(ctx context.Context, userID string, discogsID uint64) error {
	s.logger.Infow("removing record from collection", "user_id", userID, "discogs_id", discogsID)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND discogs_id = ?", userID, discogsID).
			Delete(&db.UserRecord{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "delete membership")
		}

		var remaining int64
		res = tx.Model(&db.UserRecord{}).
			Where("discogs_id = ?", discogsID).
			Count(&remaining)
		if res.Error != nil {
			return errors.Wrap(res.Error, "count remaining holders")
		}

		if remaining == 0 {
			res = tx.Where("discogs_id = ?", discogsID).Delete(&db.Record{})
			if res.Error != nil {
				return errors.Wrap(res.Error, "delete orphaned catalog record")
			}
			s.logger.Infow("catalog record garbage-collected", "discogs_id", discogsID)
		}

		return nil
	})
	if err != nil {
		s.logger.Errorw("remove record failed", "user_id", userID, "discogs_id", discogsID, "error", err)
		return err
	}

	return nil
}

// HasRecord reports whether the user holds the record. It never fails: a
// store fault is logged and reported as "not held", which only costs the UI
// an add button where a remove button belongs.
func (s *Service) HasRecord(ctx context.Context, userID string, discogsID uint64) bool {
	var count int64
	res := s.db.WithContext(ctx).Model(&db.UserRecord{}).
		Where("user_id = ? AND discogs_id = ?", userID, discogsID).
		Count(&count)
	if res.Error != nil {
		s.logger.Errorw("membership check failed", "user_id", userID, "discogs_id", discogsID, "error", res.Error)
		return false
	}
	return count > 0
}

// UserRecords lists the catalog rows held by the user, oldest hold first.
func (s *Service) UserRecords(ctx context.Context, userID string) ([]db.Record, error) {
	sql, args, err := squirrel.
		Select("r.discogs_id", "r.title", "r.artist", "r.image_url", "r.country", "r.year", "r.label", "r.catno", "r.created_at").
		From("records r").
		Join("user_records ur ON ur.discogs_id = r.discogs_id").
		Where(squirrel.Eq{"ur.user_id": userID}).
		OrderBy("ur.added_at").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	records := make([]db.Record, 0)
	res := s.db.WithContext(ctx).Raw(sql, args...).Scan(&records)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan user records")
	}

	return records, nil
}

// Record fetches a single catalog row. Absence is (nil, nil), not an error.
func (s *Service) Record(ctx context.Context, discogsID uint64) (*db.Record, error) {
	record := db.Record{}
	res := s.db.WithContext(ctx).Where("discogs_id = ?", discogsID).First(&record)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(res.Error, "lookup catalog record")
	}
	return &record, nil
}

// SearchRecords matches catalog titles case-insensitively against term.
func (s *Service) SearchRecords(ctx context.Context, term string) ([]db.Record, error) {
	records := make([]db.Record, 0)
	res := s.db.WithContext(ctx).
		Where("LOWER(title) LIKE LOWER(?)", "%"+term+"%").
		Find(&records)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "search catalog records")
	}
	return records, nil
}
