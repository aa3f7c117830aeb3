// Package query is component K: the enriched query engine (spec.md §4.K).
//
// Grounded on the teacher project's internal/datastore/analytics.go
// (dialect-aware raw SQL built with strftime/ROW_NUMBER, the
// GetSpeciesSummaryData style) and new_species_tracker.go (first-ever /
// first-in-period semantics). Joins reference databases attached by
// component J; never issues SQL directly from component L.
package query

import (
	"fmt"
	"strings"
	"time"
)

// OrderBy enumerates the sort keys spec.md §4.K allows.
type OrderBy string

const (
	OrderByTimestamp      OrderBy = "timestamp"
	OrderByConfidence     OrderBy = "confidence"
	OrderByScientificName OrderBy = "scientific_name"
	OrderByFamily         OrderBy = "family"
)

// Filters is query(filters) → []DetectionEnvelope's input (spec.md §4.K).
type Filters struct {
	Species                []string
	Family                 string
	Genus                  string
	StartDate              *time.Time
	EndDate                *time.Time
	MinConfidence          *float64
	MaxConfidence          *float64
	Limit                  int
	Offset                 int
	OrderBy                OrderBy
	OrderDesc              bool
	IncludeFirstDetections bool
	Language               string
}

// DetectionEnvelope is a Detection augmented with taxonomic/translation
// enrichment and optional first-ever/first-in-period flags (spec.md §3).
type DetectionEnvelope struct {
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

	IOCEnglishName string
	TranslatedName string
	Family         string
	Genus          string
	OrderName      string

	IsFirstEver     *bool
	IsFirstInPeriod *bool
}

// SpeciesSummaryRow is one row of species_summary (spec.md §4.K).
type SpeciesSummaryRow struct {
	ScientificName       string
	CommonName           string
	DetectionCount       int64
	AvgConfidence        float64
	LatestDetection      time.Time
	IOCEnglishName       string
	TranslatedName       string
	Family               string
	Genus                string
	OrderName            string
	FirstEverDetection   *time.Time
	FirstPeriodDetection *time.Time
}

// BestRecordingFilters parameterizes the best-recordings-per-species query.
type BestRecordingFilters struct {
	PerSpeciesLimit *int // nil means unlimited
	MinConfidence   float64
	Species         string // when set, PerSpeciesLimit is treated as unlimited
	Family          string
	Genus           string
}

const defaultLanguage = "en"

func (f Filters) language() string {
	if f.Language == "" {
		return defaultLanguage
	}
	return f.Language
}

// joinClause builds the LEFT JOIN chain from spec.md §4.K's literal join
// plan, conditionally including ioc/wiki joins only when those aliases
// were actually attached.
func joinClause(hasIOC, hasWiki bool, lang string) (string, []any) {
	var sb strings.Builder
	var args []any

	if hasIOC {
		sb.WriteString(" LEFT JOIN ioc.species s ON d.scientific_name = s.scientific_name")
		sb.WriteString(" LEFT JOIN ioc.translations t ON s.avibase_id = t.avibase_id AND t.language_code = ?")
		args = append(args, lang)
	}
	if hasWiki {
		sb.WriteString(" LEFT JOIN wiki.translations w ON w.avibase_id = s.avibase_id AND w.language_code = ?")
		args = append(args, lang)
	}
	return sb.String(), args
}

func selectColumns(hasIOC, hasWiki bool) string {
	iocEnglish := "d.common_name"
	translated := "d.common_name"
	family, genus, order := "''", "''", "''"
	if hasIOC {
		iocEnglish = "COALESCE(s.english_name, d.common_name)"
		family, genus, order = "COALESCE(s.family,'')", "COALESCE(s.genus,'')", "COALESCE(s.order_name,'')"
		translated = "COALESCE(t.common_name, s.english_name, d.common_name)"
	}
	if hasWiki {
		translated = "COALESCE(t.common_name, w.common_name, s.english_name, d.common_name)"
	}
	return fmt.Sprintf(
		"d.id, d.species_tensor, d.scientific_name, d.common_name, d.confidence, d.timestamp, "+
			"d.latitude, d.longitude, d.species_confidence_threshold, d.week, d.sensitivity_setting, d.overlap, "+
			"%s as ioc_english_name, %s as translated_name, %s as family, %s as genus, %s as order_name",
		iocEnglish, translated, family, genus, order,
	)
}

func whereClause(f Filters) (string, []any) {
	var clauses []string
	var args []any

	if len(f.Species) == 1 {
		clauses = append(clauses, "d.scientific_name = ?")
		args = append(args, f.Species[0])
	} else if len(f.Species) > 1 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Species)), ",")
		clauses = append(clauses, fmt.Sprintf("d.scientific_name IN (%s)", placeholders))
		for _, sp := range f.Species {
			args = append(args, sp)
		}
	}
	if f.Family != "" {
		clauses = append(clauses, "family = ?")
		args = append(args, f.Family)
	}
	if f.Genus != "" {
		clauses = append(clauses, "genus = ?")
		args = append(args, f.Genus)
	}
	if f.StartDate != nil {
		clauses = append(clauses, "d.timestamp >= ?")
		args = append(args, *f.StartDate)
	}
	if f.EndDate != nil {
		clauses = append(clauses, "d.timestamp < ?")
		args = append(args, *f.EndDate)
	}
	if f.MinConfidence != nil {
		clauses = append(clauses, "d.confidence >= ?")
		args = append(args, *f.MinConfidence)
	}
	if f.MaxConfidence != nil {
		clauses = append(clauses, "d.confidence <= ?")
		args = append(args, *f.MaxConfidence)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func orderClause(f Filters) string {
	col := "d.timestamp"
	switch f.OrderBy {
	case OrderByConfidence:
		col = "d.confidence"
	case OrderByScientificName:
		col = "d.scientific_name"
	case OrderByFamily:
		col = "family"
	case OrderByTimestamp, "":
		col = "d.timestamp"
	}
	dir := "ASC"
	if f.OrderDesc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", col, dir)
}
