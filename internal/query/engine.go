package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/tphakala/fieldpipe/internal/analytics"
	"github.com/tphakala/fieldpipe/internal/refdb"
)

// weatherVariableColumns maps the public WeatherVariable vocabulary to the
// weather table's actual column names, so WeatherCorrelation never
// interpolates caller input directly into SQL.
var weatherVariableColumns = map[analytics.WeatherVariable]string{
	analytics.WeatherTemperature:   "temperature",
	analytics.WeatherHumidity:      "humidity",
	analytics.WeatherPressure:      "pressure",
	analytics.WeatherWindSpeed:     "wind_speed",
	analytics.WeatherPrecipitation: "precipitation",
}

// Engine implements component K over a detection store and the reference
// databases component J attaches. All statements for one call run inside a
// single transaction, so ATTACH/DETACH and the query itself share one
// SQLite connection — attaching on one pooled connection and querying on
// another would make the attached aliases invisible.
type Engine struct {
	db     *gorm.DB
	refs   *refdb.Manager
	logger *slog.Logger
	cache  *gocache.Cache // optional; nil disables species_summary caching
}

// New builds an Engine. db is the detection store's *gorm.DB handle.
func New(db *gorm.DB, refs *refdb.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, refs: refs, logger: logger.With("component", "query")}
}

// EnableSpeciesSummaryCache turns on a short-lived in-memory cache for
// SpeciesSummary results, keyed by its filters. species_summary is
// recomputed from the full detections table on every call and is the
// query path most often polled by a dashboard, so a few minutes of
// staleness trades well against repeatedly re-scanning the table.
func (e *Engine) EnableSpeciesSummaryCache(ttl time.Duration) {
	e.cache = gocache.New(ttl, 2*ttl)
}

// Query implements spec.md §4.K's primary query.
func (e *Engine) Query(ctx context.Context, f Filters) ([]DetectionEnvelope, error) {
	var envelopes []DetectionEnvelope
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return e.refs.WithAttached(ctx, tx, func(a *refdb.Attached) error {
			hasIOC := a.Has(refdb.AliasIOC)
			hasWiki := a.Has(refdb.AliasWiki)

			rankedCTE, rankArgs := firstEverCTE(f.IncludeFirstDetections)
			periodCTE, periodArgs := firstInPeriodCTE(f.IncludeFirstDetections, f)

			cols := selectColumns(hasIOC, hasWiki)
			join, joinArgs := joinClause(hasIOC, hasWiki, f.language())
			where, whereArgs := whereClause(f)

			sql := rankedCTE + periodCTE + "SELECT " + cols
			if f.IncludeFirstDetections {
				sql += ", fe.rank = 1 as is_first_ever, fp.min_ts = d.timestamp as is_first_in_period"
			}
			sql += " FROM detections d" + join
			if f.IncludeFirstDetections {
				sql += " LEFT JOIN first_ever fe ON fe.id = d.id"
				sql += " LEFT JOIN first_in_period fp ON fp.scientific_name = d.scientific_name"
			}
			sql += where + orderClause(f)
			if f.Limit > 0 {
				sql += " LIMIT ?"
				whereArgs = append(whereArgs, f.Limit)
			}
			if f.Offset > 0 {
				sql += " OFFSET ?"
				whereArgs = append(whereArgs, f.Offset)
			}

			args := append(append(append(rankArgs, periodArgs...), joinArgs...), whereArgs...)

			rows := []rawEnvelope{}
			if err := tx.Raw(sql, args...).Scan(&rows).Error; err != nil {
				return err
			}
			envelopes = make([]DetectionEnvelope, len(rows))
			for i, r := range rows {
				envelopes[i] = r.toEnvelope(f.IncludeFirstDetections)
			}
			return nil
		})
	})
	return envelopes, err
}

// SpeciesSummaryFilters parameterizes species_summary (spec.md §4.K).
type SpeciesSummaryFilters struct {
	Since               *time.Time
	Family              string
	IncludeFirstPeriods bool
}

// SpeciesSummary implements spec.md §4.K's species_summary query: per-species
// aggregate ordered by detection_count DESC.
func (e *Engine) SpeciesSummary(ctx context.Context, f SpeciesSummaryFilters) ([]SpeciesSummaryRow, error) {
	if e.cache != nil {
		key := speciesSummaryCacheKey(f)
		if cached, found := e.cache.Get(key); found {
			return cached.([]SpeciesSummaryRow), nil
		}
		rows, err := e.speciesSummaryUncached(ctx, f)
		if err == nil {
			e.cache.Set(key, rows, gocache.DefaultExpiration)
		}
		return rows, err
	}
	return e.speciesSummaryUncached(ctx, f)
}

func speciesSummaryCacheKey(f SpeciesSummaryFilters) string {
	since := "nil"
	if f.Since != nil {
		since = f.Since.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s|%s|%t", since, f.Family, f.IncludeFirstPeriods)
}

func (e *Engine) speciesSummaryUncached(ctx context.Context, f SpeciesSummaryFilters) ([]SpeciesSummaryRow, error) {
	var rows []SpeciesSummaryRow
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return e.refs.WithAttached(ctx, tx, func(a *refdb.Attached) error {
			hasIOC := a.Has(refdb.AliasIOC)
			hasWiki := a.Has(refdb.AliasWiki)

			iocEnglish, translated, family, genus, order := "d.common_name", "d.common_name", "''", "''", "''"
			if hasIOC {
				iocEnglish = "COALESCE(s.english_name, d.common_name)"
				family, genus, order = "COALESCE(s.family,'')", "COALESCE(s.genus,'')", "COALESCE(s.order_name,'')"
				translated = "COALESCE(t.common_name, s.english_name, d.common_name)"
			}
			if hasWiki {
				translated = "COALESCE(t.common_name, w.common_name, s.english_name, d.common_name)"
			}

			join, joinArgs := joinClause(hasIOC, hasWiki, defaultLanguage)

			sql := "SELECT d.scientific_name, MAX(d.common_name) as common_name, " +
				"COUNT(*) as detection_count, ROUND(AVG(d.confidence), 3) as avg_confidence, " +
				"MAX(d.timestamp) as latest_detection, " +
				fmt.Sprintf("%s as ioc_english_name, %s as translated_name, %s as family, %s as genus, %s as order_name",
					iocEnglish, translated, family, genus, order)
			if f.IncludeFirstPeriods {
				sql += ", MIN(d.timestamp) OVER (PARTITION BY d.scientific_name) as first_ever_detection"
				sql += ", fp.min_ts as first_period_detection"
			}
			sql += " FROM detections d" + join

			var args []any
			args = append(args, joinArgs...)

			if f.IncludeFirstPeriods {
				periodClause := ""
				if f.Since != nil {
					periodClause = " WHERE timestamp >= ?"
					args = append(args, *f.Since)
				}
				sql = "WITH first_in_period AS (SELECT scientific_name, MIN(timestamp) as min_ts FROM detections" +
					periodClause + " GROUP BY scientific_name) " + sql
				sql += " LEFT JOIN first_in_period fp ON fp.scientific_name = d.scientific_name"
			}

			if f.Family != "" {
				sql += " WHERE family = ?"
				args = append(args, f.Family)
			}
			sql += " GROUP BY d.scientific_name ORDER BY detection_count DESC"

			return tx.Raw(sql, args...).Scan(&rows).Error
		})
	})
	return rows, err
}

// BestRecordings implements spec.md §4.K's best-recordings-per-species query.
func (e *Engine) BestRecordings(ctx context.Context, f BestRecordingFilters) ([]DetectionEnvelope, error) {
	limit := f.PerSpeciesLimit
	if f.Species != "" {
		limit = nil // "per_species_limit must be treated as no limit" when a specific species is requested
	}

	var envelopes []DetectionEnvelope
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return e.refs.WithAttached(ctx, tx, func(a *refdb.Attached) error {
			hasIOC := a.Has(refdb.AliasIOC)
			hasWiki := a.Has(refdb.AliasWiki)
			cols := selectColumns(hasIOC, hasWiki)
			join, joinArgs := joinClause(hasIOC, hasWiki, defaultLanguage)

			where, whereArgs := whereClause(Filters{
				Species:       nonEmptySlice(f.Species),
				Family:        f.Family,
				Genus:         f.Genus,
				MinConfidence: &f.MinConfidence,
			})

			sql := "SELECT " + cols + ", ROW_NUMBER() OVER (PARTITION BY d.scientific_name ORDER BY d.confidence DESC, d.timestamp DESC) as rn" +
				" FROM detections d" + join + where

			outer := "SELECT * FROM (" + sql + ") ranked"
			var args []any
			args = append(args, joinArgs...)
			args = append(args, whereArgs...)

			if limit != nil {
				outer += " WHERE rn <= ?"
				args = append(args, *limit)
			}
			outer += " ORDER BY scientific_name, rn"

			rows := []rawEnvelope{}
			if err := tx.Raw(outer, args...).Scan(&rows).Error; err != nil {
				return err
			}
			envelopes = make([]DetectionEnvelope, len(rows))
			for i, r := range rows {
				envelopes[i] = r.toEnvelope(false)
			}
			return nil
		})
	})
	return envelopes, err
}

// WeatherCorrelation implements spec.md §4.L's weather-correlation query:
// Pearson's r between species' per-hour detection counts and a weather
// variable over [start, end). Hours with no weather observation are
// dropped by analytics.PearsonCorrelation rather than treated as zero.
func (e *Engine) WeatherCorrelation(ctx context.Context, species string, variable analytics.WeatherVariable, start, end time.Time) (float64, error) {
	column, ok := weatherVariableColumns[variable]
	if !ok {
		return 0, fmt.Errorf("query: unknown weather variable %q", variable)
	}

	var counts []struct {
		HourEpoch int64
		Count     int64
	}
	err := e.db.WithContext(ctx).Raw(
		"SELECT hour_epoch, COUNT(*) as count FROM detections "+
			"WHERE scientific_name = ? AND hour_epoch IS NOT NULL AND timestamp >= ? AND timestamp < ? "+
			"GROUP BY hour_epoch",
		species, start, end,
	).Scan(&counts).Error
	if err != nil {
		return 0, fmt.Errorf("query: weather correlation detection counts: %w", err)
	}
	if len(counts) == 0 {
		return 0, nil
	}

	hourEpochs := make([]int64, len(counts))
	for i, c := range counts {
		hourEpochs[i] = c.HourEpoch
	}

	var readings []struct {
		HourEpoch int64
		Value     float64
	}
	err = e.db.WithContext(ctx).Raw(
		fmt.Sprintf("SELECT hour_epoch, %s as value FROM weather WHERE hour_epoch IN ?", column),
		hourEpochs,
	).Scan(&readings).Error
	if err != nil {
		return 0, fmt.Errorf("query: weather correlation readings: %w", err)
	}

	valueByHour := make(map[int64]float64, len(readings))
	for _, r := range readings {
		valueByHour[r.HourEpoch] = r.Value
	}

	obs := make([]analytics.HourlyObservation, len(counts))
	for i, c := range counts {
		o := analytics.HourlyObservation{HourEpoch: c.HourEpoch, DetectionCount: float64(c.Count)}
		if v, ok := valueByHour[c.HourEpoch]; ok {
			v := v
			o.Value = &v
		}
		obs[i] = o
	}

	return analytics.PearsonCorrelation(obs), nil
}

func nonEmptySlice(species string) []string {
	if species == "" {
		return nil
	}
	return []string{species}
}

// rawEnvelope mirrors the SELECT column list; is_first_ever/is_first_in_period
// are scanned as *bool since SQLite returns them only when requested.
type rawEnvelope struct {
	ID                         string
	SpeciesTensor              string
	ScientificName             string
	CommonName                 string
	Confidence                 float64
	Timestamp                  time.Time
	Latitude                   *float64
	Longitude                  *float64
	SpeciesConfidenceThreshold float64
	Week                       int
	SensitivitySetting         float64
	Overlap                    float64
	IOCEnglishName             string
	TranslatedName             string
	Family                     string
	Genus                      string
	OrderName                  string
	IsFirstEver                *bool
	IsFirstInPeriod            *bool
}

func (r rawEnvelope) toEnvelope(includeFirst bool) DetectionEnvelope {
	env := DetectionEnvelope{
		ID:                         r.ID,
		SpeciesTensor:              r.SpeciesTensor,
		ScientificName:             r.ScientificName,
		CommonName:                 r.CommonName,
		Confidence:                 r.Confidence,
		Timestamp:                  r.Timestamp,
		Latitude:                   r.Latitude,
		Longitude:                  r.Longitude,
		SpeciesConfidenceThreshold: r.SpeciesConfidenceThreshold,
		Week:                       r.Week,
		SensitivitySetting:         r.SensitivitySetting,
		Overlap:                    r.Overlap,
		IOCEnglishName:             r.IOCEnglishName,
		TranslatedName:             r.TranslatedName,
		Family:                     r.Family,
		Genus:                      r.Genus,
		OrderName:                  r.OrderName,
	}
	if includeFirst {
		env.IsFirstEver = boolOrFalse(r.IsFirstEver)
		env.IsFirstInPeriod = boolOrFalse(r.IsFirstInPeriod)
	}
	return env
}

func boolOrFalse(b *bool) *bool {
	if b == nil {
		v := false
		return &v
	}
	return b
}

// firstEverCTE ranks ALL detections globally per scientific_name before any
// other filter is applied (spec.md §4.K "MUST be computed before applying
// non-time filters").
func firstEverCTE(include bool) (string, []any) {
	if !include {
		return "", nil
	}
	return "WITH first_ever AS (" +
		"SELECT id, ROW_NUMBER() OVER (PARTITION BY scientific_name ORDER BY timestamp) as rank " +
		"FROM detections), ", nil
}

// firstInPeriodCTE computes MIN(timestamp) per scientific_name re-applying
// only the time filters, per spec.md §9 Open Question: confidence/taxonomy
// filters must not affect first-in-period classification.
func firstInPeriodCTE(include bool, f Filters) (string, []any) {
	if !include {
		return "", nil
	}
	var args []any
	clause := ""
	if f.StartDate != nil {
		clause += " AND timestamp >= ?"
		args = append(args, *f.StartDate)
	}
	if f.EndDate != nil {
		clause += " AND timestamp < ?"
		args = append(args, *f.EndDate)
	}
	sql := "first_in_period AS (" +
		"SELECT scientific_name, MIN(timestamp) as min_ts FROM detections WHERE 1=1" + clause +
		" GROUP BY scientific_name) "
	return sql, args
}
