// Package datastore is component H, the detection store: CRUD plus the
// aggregates consumed by the query engine (component K) and the
// analytics engine (component L).
//
// Grounded on the teacher project's internal/datastore (model.go,
// detection_repository.go, analytics.go): GORM over mattn/go-sqlite3,
// with AudioFile owning its bytes/metadata and Detection holding only
// audio_file_id — no bidirectional ORM relationship, per spec.md §9
// "Cycles & ownership".
package datastore

import "time"

// Detection is one classification event above threshold (spec.md §3).
type Detection struct {
	ID                         string `gorm:"primaryKey;size:36"` // opaque 128-bit id, stored as a UUID string
	SpeciesTensor              string `gorm:"size:200;not null"`
	ScientificName             string `gorm:"size:150;index:idx_detections_sciname_ts,priority:1"`
	CommonName                 string `gorm:"size:150"`
	Confidence                 float64
	Timestamp                  time.Time `gorm:"index:idx_detections_timestamp;index:idx_detections_sciname_ts,priority:2"`
	AudioFileID                *string   `gorm:"size:36;index"`
	Latitude                   *float64
	Longitude                  *float64
	SpeciesConfidenceThreshold float64
	Week                       int
	SensitivitySetting         float64
	Overlap                    float64
	HourEpoch                  *int64 `gorm:"index:idx_detections_hour_epoch"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// confidenceIndexName documents the required index named in spec.md §6;
// Open (store.go) creates it explicitly because a
// bare field tag can't express a single-column index on Confidence
// alongside the composite ones above without duplicate index names.
const confidenceIndexName = "idx_detections_confidence"

// AudioFile is the persisted clip backing a Detection (spec.md §3).
// Detection references AudioFile by ID only; AudioFile never references
// a Detection back.
type AudioFile struct {
	ID              string `gorm:"primaryKey;size:36"`
	Path            string `gorm:"size:500;uniqueIndex"` // relative under the configured data root
	DurationSeconds float64
	SizeBytes       int64
	RecordingStart  time.Time

	CreatedAt time.Time
}

// Weather is an hourly observation joined to Detection by HourEpoch (spec.md §3).
type Weather struct {
	HourEpoch     int64 `gorm:"primaryKey"`
	Temperature   float64
	Humidity      float64
	Pressure      float64
	WindSpeed     float64
	Precipitation float64

	CreatedAt time.Time
}

// SpeciesCount is one row of the species_counts aggregate (spec.md §4.H).
type SpeciesCount struct {
	ScientificName string
	CommonName     string
	Count          int64
}

// HourlyCount is one row of the hourly_counts aggregate (spec.md §4.H).
type HourlyCount struct {
	Hour  int
	Count int64
}

// StorageMetrics summarizes disk usage across all AudioFiles (spec.md §4.H).
type StorageMetrics struct {
	TotalBytes    int64
	TotalDuration float64
}
