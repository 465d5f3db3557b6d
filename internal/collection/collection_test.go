package collection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/RiiPPeR/chiclana-records-back/internal/db"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	return gdb
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	gdb := newTestDB(t)
	return NewService(gdb, zap.NewNop().Sugar()), gdb
}

func moonSafari() AddInput {
	return AddInput{
		Title:    "Moon Safari",
		Artist:   "Air",
		ImageURL: "",
		Country:  "FR",
		Year:     1998,
		Label:    "Source",
		Catno:    "SRC01",
	}
}

func countRows(t *testing.T, gdb *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()

	var count int64
	require.NoError(t, gdb.Model(model).Where(query, args...).Count(&count).Error)
	return count
}

func TestAddCreatesCatalogRowAndMembership(t *testing.T) {
	s, gdb := newTestService(t)
	ctx := context.Background()

	err := s.Add(ctx, "u1", 999, moonSafari())
	require.NoError(t, err)

	record := db.Record{}
	require.NoError(t, gdb.Where("discogs_id = ?", 999).First(&record).Error)
	assert.Equal(t, "Moon Safari", record.Title)
	assert.Equal(t, "Air", record.Artist)
	assert.Equal(t, 1998, record.Year)

	membership := db.UserRecord{}
	require.NoError(t, gdb.Where("user_id = ? AND discogs_id = ?", "u1", 999).First(&membership).Error)
	assert.NotEmpty(t, membership.ID)
	assert.False(t, membership.AddedAt.IsZero())
}

func TestAddRejectsDuplicate(t *testing.T) {
	s, gdb := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", 999, moonSafari()))

	err := s.Add(ctx, "u1", 999, moonSafari())
	assert.ErrorIs(t, err, ErrAlreadyInCollection)

	assert.EqualValues(t, 1, countRows(t, gdb, &db.UserRecord{}, "user_id = ? AND discogs_id = ?", "u1", 999))
	assert.EqualValues(t, 1, countRows(t, gdb, &db.Record{}, "discogs_id = ?", 999))
}

func TestAddRemoveGarbageCollectsCatalogRow(t *testing.T) {
	s, gdb := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "userA", 123, moonSafari()))
	require.NoError(t, s.Remove(ctx, "userA", 123))

	assert.EqualValues(t, 0, countRows(t, gdb, &db.UserRecord{}, "discogs_id = ?", 123))
	assert.EqualValues(t, 0, countRows(t, gdb, &db.Record{}, "discogs_id = ?", 123))
}

func TestRemoveIsIdempotent(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", 123, moonSafari()))
	require.NoError(t, s.Remove(ctx, "u1", 123))

	// Second removal is already achieved, not a failure.
	assert.NoError(t, s.Remove(ctx, "u1", 123))

	// Removing something never held is a no-op success too.
	assert.NoError(t, s.Remove(ctx, "u1", 456))
}

func TestMultiHolderRetention(t *testing.T) {
	s, gdb := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "userA", 123, moonSafari()))
	require.NoError(t, s.Add(ctx, "userB", 123, moonSafari()))
	require.NoError(t, s.Remove(ctx, "userA", 123))

	assert.EqualValues(t, 1, countRows(t, gdb, &db.Record{}, "discogs_id = ?", 123))
	assert.EqualValues(t, 0, countRows(t, gdb, &db.UserRecord{}, "user_id = ? AND discogs_id = ?", "userA", 123))
	assert.EqualValues(t, 1, countRows(t, gdb, &db.UserRecord{}, "user_id = ? AND discogs_id = ?", "userB", 123))
}

func TestCatalogMetadataIsFirstWriterWins(t *testing.T) {
	s, gdb := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "userA", 123, moonSafari()))

	other := moonSafari()
	other.Title = "Moon Safari (Reissue)"
	other.Year = 2015
	require.NoError(t, s.Add(ctx, "userB", 123, other))

	record := db.Record{}
	require.NoError(t, gdb.Where("discogs_id = ?", 123).First(&record).Error)
	assert.Equal(t, "Moon Safari", record.Title)
	assert.Equal(t, 1998, record.Year)
}

func TestAddAdoptsExistingCatalogRow(t *testing.T) {
	s, gdb := newTestService(t)
	ctx := context.Background()

	// Catalog row without any membership, as left by a writer that committed
	// the row but never got to its membership insert.
	require.NoError(t, gdb.Create(&db.Record{DiscogsID: 999, Title: "Moon Safari", Artist: "Air", Year: 1998}).Error)

	in := moonSafari()
	in.Title = "Moon Safari (Repress)"
	require.NoError(t, s.Add(ctx, "u1", 999, in))

	record := db.Record{}
	require.NoError(t, gdb.Where("discogs_id = ?", 999).First(&record).Error)
	assert.Equal(t, "Moon Safari", record.Title)
	assert.EqualValues(t, 1, countRows(t, gdb, &db.UserRecord{}, "user_id = ? AND discogs_id = ?", "u1", 999))
}

func TestAddMapsMembershipRaceToAlreadyInCollection(t *testing.T) {
	s, gdb := newTestService(t)
	ctx := context.Background()

	// A competing add for the same pair commits between Add's existence check
	// and its membership insert; the trigger plays the competitor, so the
	// insert hits the unique index instead of the check.
	require.NoError(t, gdb.Exec(`
		CREATE TRIGGER competing_add BEFORE INSERT ON user_records
		WHEN NOT EXISTS (SELECT 1 FROM user_records WHERE user_id = NEW.user_id AND discogs_id = NEW.discogs_id)
		BEGIN
			INSERT INTO user_records (id, user_id, discogs_id, added_at)
			VALUES ('competitor-' || NEW.id, NEW.user_id, NEW.discogs_id, NEW.added_at);
		END`).Error)

	err := s.Add(ctx, "u1", 999, moonSafari())
	assert.ErrorIs(t, err, ErrAlreadyInCollection)
}

func TestMembershipDuplicatesSurfaceAsDuplicatedKey(t *testing.T) {
	s, gdb := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", 999, moonSafari()))

	dup := db.UserRecord{
		ID:        uuid.New().String(),
		UserID:    "u1",
		DiscogsID: 999,
		AddedAt:   time.Now(),
	}
	assert.ErrorIs(t, gdb.Create(&dup).Error, gorm.ErrDuplicatedKey)
}

func TestHasRecordReportsNotHeldOnStoreFault(t *testing.T) {
	s, gdb := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", 999, moonSafari()))
	require.NoError(t, gdb.Migrator().DropTable(&db.UserRecord{}))

	assert.False(t, s.HasRecord(ctx, "u1", 999))
}

func TestHasRecord(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	assert.False(t, s.HasRecord(ctx, "u1", 999))

	require.NoError(t, s.Add(ctx, "u1", 999, moonSafari()))
	assert.True(t, s.HasRecord(ctx, "u1", 999))
	assert.False(t, s.HasRecord(ctx, "u2", 999))

	require.NoError(t, s.Remove(ctx, "u1", 999))
	assert.False(t, s.HasRecord(ctx, "u1", 999))
}

func TestUserRecordsListsHeldRecordsInAddOrder(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	first := moonSafari()
	second := AddInput{Title: "Discovery", Artist: "Daft Punk", Year: 2001}
	require.NoError(t, s.Add(ctx, "u1", 999, first))
	require.NoError(t, s.Add(ctx, "u1", 111, second))
	require.NoError(t, s.Add(ctx, "u2", 222, AddInput{Title: "Homework", Artist: "Daft Punk"}))

	records, err := s.UserRecords(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.EqualValues(t, 999, records[0].DiscogsID)
	assert.EqualValues(t, 111, records[1].DiscogsID)

	records, err = s.UserRecords(ctx, "u3")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordLookup(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	record, err := s.Record(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, record)

	require.NoError(t, s.Add(ctx, "u1", 999, moonSafari()))

	record, err = s.Record(ctx, 999)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "Moon Safari", record.Title)
}

func TestSearchRecordsIsCaseInsensitive(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", 999, moonSafari()))
	require.NoError(t, s.Add(ctx, "u1", 111, AddInput{Title: "Discovery", Artist: "Daft Punk"}))

	records, err := s.SearchRecords(ctx, "moon")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Moon Safari", records[0].Title)

	records, err = s.SearchRecords(ctx, "nothing like this")
	require.NoError(t, err)
	assert.Empty(t, records)
}
