package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/fieldpipe/internal/fielderr"
	"github.com/tphakala/fieldpipe/internal/logging"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store is component H: the detection store.
type Store struct {
	DB     *gorm.DB
	logger *slog.Logger
}

// Open creates (or reuses) the SQLite file at path, applies the teacher's
// WAL pragmas for write throughput, and runs migrations.
func Open(path string) (*Store, error) {
	logger := logging.ForService("datastore")
	if logger == nil {
		logger = slog.Default().With("service", "datastore")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fielderr.New(err).
				Component("datastore").
				Category(fielderr.CategoryPermanent).
				Context("operation", "create_database_directory").
				Context("directory", dir).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fielderr.New(err).
			Component("datastore").
			Category(fielderr.CategoryPermanent).
			Context("operation", "open_sqlite_database").
			Context("db_path", path).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fielderr.New(err).Component("datastore").Category(fielderr.CategoryPermanent).Build()
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-4000",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			logger.Warn("failed to set pragma", "pragma", pragma, "error", err)
		}
	}

	if err := db.AutoMigrate(&Detection{}, &AudioFile{}, &Weather{}); err != nil {
		return nil, fielderr.New(err).Component("datastore").Category(fielderr.CategoryPermanent).
			Context("operation", "automigrate").Build()
	}
	// AutoMigrate doesn't let us tag a lone single-column index alongside
	// the composite ones above without a name clash, so add it explicitly.
	if err := db.Exec(fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON detections(confidence)", confidenceIndexName)).Error; err != nil {
		logger.Warn("failed to create confidence index", "error", err)
	}

	return &Store{DB: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertWithAudio atomically inserts an AudioFile (if non-nil) and the
// Detection referencing it in a single transaction (spec.md §4.F step 3,
// §4.H "writes use a single transaction per detection").
func (s *Store) InsertWithAudio(ctx context.Context, det *Detection, audio *AudioFile) error {
	if det.ID == "" {
		det.ID = uuid.NewString()
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if audio != nil {
			if audio.ID == "" {
				audio.ID = uuid.NewString()
			}
			if err := tx.Create(audio).Error; err != nil {
				return fielderr.New(err).Component("datastore").Category(fielderr.CategoryPermanent).
					Context("operation", "insert_audio_file").Build()
			}
			det.AudioFileID = &audio.ID
		}
		if err := tx.Create(det).Error; err != nil {
			return fielderr.New(err).Component("datastore").Category(fielderr.CategoryPermanent).
				Context("operation", "insert_detection").Build()
		}
		return nil
	})
}

// Get retrieves a Detection by id.
func (s *Store) Get(ctx context.Context, id string) (*Detection, error) {
	var d Detection
	if err := s.DB.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, fielderr.New(err).Component("datastore").Category(fielderr.CategoryPermanent).
			Context("operation", "get_detection").Context("id", id).Build()
	}
	return &d, nil
}

// Delete removes a Detection by explicit operator request (spec.md §3 lifecycle).
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Delete(&Detection{}, "id = ?", id).Error
}

// UpdateLocation applies a manual lat/lon correction, the only permitted
// mutation of a persisted Detection (spec.md §3 lifecycle).
func (s *Store) UpdateLocation(ctx context.Context, id string, lat, lon float64) error {
	return s.DB.WithContext(ctx).Model(&Detection{}).Where("id = ?", id).
		Updates(map[string]any{"latitude": lat, "longitude": lon}).Error
}

// DetectionsInRange returns all detections with timestamp in [start, end).
func (s *Store) DetectionsInRange(ctx context.Context, start, end time.Time) ([]Detection, error) {
	var dets []Detection
	err := s.withRepeatableRead(ctx, func(tx *gorm.DB) error {
		return tx.Where("timestamp >= ? AND timestamp < ?", start, end).
			Order("timestamp asc").Find(&dets).Error
	})
	return dets, err
}

// DetectionCount returns the total number of detections in [start, end).
func (s *Store) DetectionCount(ctx context.Context, start, end time.Time) (int64, error) {
	var n int64
	err := s.withRepeatableRead(ctx, func(tx *gorm.DB) error {
		return tx.Model(&Detection{}).Where("timestamp >= ? AND timestamp < ?", start, end).Count(&n).Error
	})
	return n, err
}

// UniqueSpeciesCount returns the number of distinct scientific names in [start, end).
func (s *Store) UniqueSpeciesCount(ctx context.Context, start, end time.Time) (int64, error) {
	var n int64
	err := s.withRepeatableRead(ctx, func(tx *gorm.DB) error {
		return tx.Model(&Detection{}).
			Where("timestamp >= ? AND timestamp < ?", start, end).
			Distinct("scientific_name").Count(&n).Error
	})
	return n, err
}

// SpeciesCounts returns per-species counts in [start, end), descending by count.
func (s *Store) SpeciesCounts(ctx context.Context, start, end time.Time) ([]SpeciesCount, error) {
	var rows []SpeciesCount
	err := s.withRepeatableRead(ctx, func(tx *gorm.DB) error {
		return tx.Model(&Detection{}).
			Select("scientific_name, MAX(common_name) as common_name, COUNT(*) as count").
			Where("timestamp >= ? AND timestamp < ?", start, end).
			Group("scientific_name").
			Order("count DESC").
			Scan(&rows).Error
	})
	return rows, err
}

// HourlyCounts returns per-hour-of-day counts for the given calendar date (local day boundary).
func (s *Store) HourlyCounts(ctx context.Context, date time.Time) ([]HourlyCount, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	end := start.Add(24 * time.Hour)

	var rows []HourlyCount
	err := s.withRepeatableRead(ctx, func(tx *gorm.DB) error {
		return tx.Model(&Detection{}).
			Select("CAST(strftime('%H', timestamp) AS INTEGER) as hour, COUNT(*) as count").
			Where("timestamp >= ? AND timestamp < ?", start, end).
			Group("hour").
			Order("hour").
			Scan(&rows).Error
	})
	return rows, err
}

// CountByDate returns detection counts per calendar date, optionally
// restricted to a single species.
func (s *Store) CountByDate(ctx context.Context, species string) (map[string]int64, error) {
	type row struct {
		Date  string
		Count int64
	}
	var rows []row
	err := s.withRepeatableRead(ctx, func(tx *gorm.DB) error {
		q := tx.Model(&Detection{}).
			Select("date(timestamp) as date, COUNT(*) as count").
			Group("date")
		if species != "" {
			q = q.Where("scientific_name = ?", species)
		}
		return q.Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Date] = r.Count
	}
	return out, nil
}

// StorageMetrics reports total bytes and duration across all AudioFiles.
func (s *Store) StorageMetrics(ctx context.Context) (StorageMetrics, error) {
	var m StorageMetrics
	err := s.withRepeatableRead(ctx, func(tx *gorm.DB) error {
		return tx.Model(&AudioFile{}).
			Select("COALESCE(SUM(size_bytes),0) as total_bytes, COALESCE(SUM(duration_seconds),0) as total_duration").
			Scan(&m).Error
	})
	return m, err
}

// UpsertWeather inserts or replaces the hourly observation for w.HourEpoch,
// the join key Detection uses to correlate with weather (spec.md §3
// Weather, consumed by component L's correlation analysis).
func (s *Store) UpsertWeather(ctx context.Context, w *Weather) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hour_epoch"}},
		UpdateAll: true,
	}).Create(w).Error
}

// WeatherForHours returns observations for the given hour_epoch values,
// keyed by hour_epoch, omitting hours with no observation.
func (s *Store) WeatherForHours(ctx context.Context, hourEpochs []int64) (map[int64]Weather, error) {
	if len(hourEpochs) == 0 {
		return map[int64]Weather{}, nil
	}
	var rows []Weather
	err := s.withRepeatableRead(ctx, func(tx *gorm.DB) error {
		return tx.Where("hour_epoch IN ?", hourEpochs).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Weather, len(rows))
	for _, r := range rows {
		out[r.HourEpoch] = r
	}
	return out, nil
}

// withRepeatableRead runs fn inside a read-only transaction so aggregates
// never observe a half-inserted AudioFile/Detection pair (spec.md §4.H
// consistency requirement).
func (s *Store) withRepeatableRead(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	}, &sql.TxOptions{ReadOnly: true})
}
