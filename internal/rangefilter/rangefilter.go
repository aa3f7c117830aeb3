// Package rangefilter is component G: the eBird regional occurrence
// filter (spec.md §4.G).
//
// Structurally grounded on the teacher project's internal/birdnet/range_filter.go
// (a Config struct driving a strictness matrix, fail-open error handling,
// species label matching) but with the teacher's embedded-TFLite
// occurrence model swapped for an H3-indexed SQLite regional pack, opened
// directly per lookup rather than ATTACHed to a shared session — the teacher's range filter predicts
// occurrence from a neural model, whereas this one looks up a
// pre-computed tier from a per-region SQLite pack keyed by H3 cell
// (github.com/uber/h3-go/v4), an out-of-pack dependency justified in
// SPEC_FULL.md because no example repo in the corpus touches geospatial
// indexing.
package rangefilter

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uber/h3-go/v4"

	"github.com/tphakala/fieldpipe/internal/config"
)

// Decision is the outcome of filter().
type Decision string

const (
	Allow Decision = "allow"
	Block Decision = "block"
)

// Tier is a species' occurrence rarity in a region, as stored in a pack.
type Tier string

const (
	TierVagrant  Tier = "vagrant"
	TierRare     Tier = "rare"
	TierUncommon Tier = "uncommon"
	TierCommon   Tier = "common"
)

// strictnessBlockSet maps each configured strictness to the set of tiers
// it blocks (spec.md §4.G step 6).
var strictnessBlockSet = map[string]map[Tier]bool{
	"vagrant":  {TierVagrant: true},
	"rare":     {TierVagrant: true, TierRare: true},
	"uncommon": {TierVagrant: true, TierRare: true, TierUncommon: true},
	"common":   {TierVagrant: true, TierRare: true, TierUncommon: true, TierCommon: true},
}

// Pack is one installed regional occurrence database: a bounding box and
// the SQLite file backing (scientific_name, h3_cell) → tier lookups.
type Pack struct {
	Path                             string
	MinLat, MaxLat, MinLon, MaxLon float64
}

func (p Pack) contains(lat, lon float64) bool {
	return lat >= p.MinLat && lat <= p.MaxLat && lon >= p.MinLon && lon <= p.MaxLon
}

// PackRegistry locates the installed Pack covering a coordinate.
type PackRegistry interface {
	PackFor(lat, lon float64) (Pack, bool)
}

// StaticRegistry is a PackRegistry backed by an in-memory list, populated
// at startup by scanning pack_root_dir for pack manifests.
type StaticRegistry struct {
	Packs []Pack
}

func (r StaticRegistry) PackFor(lat, lon float64) (Pack, bool) {
	for _, p := range r.Packs {
		if p.contains(lat, lon) {
			return p, true
		}
	}
	return Pack{}, false
}

// Filter is component G's public contract.
type Filter interface {
	Filter(scientificName string, lat, lon *float64) Decision
}

// H3Filter implements Filter against H3-indexed SQLite regional packs,
// each opened on demand with its own connection for a single lookup.
type H3Filter struct {
	cfg      config.EBirdFilterConfig
	registry PackRegistry
	logger   *slog.Logger
}

// New builds an H3Filter from the configured settings and pack registry.
func New(cfg config.EBirdFilterConfig, registry PackRegistry, logger *slog.Logger) *H3Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &H3Filter{cfg: cfg, registry: registry, logger: logger.With("component", "rangefilter")}
}

// Filter implements spec.md §4.G's algorithm. Any internal error (missing
// pack file, query failure, malformed config) resolves to Allow: the
// filter must never silently lose a real detection.
func (f *H3Filter) Filter(scientificName string, lat, lon *float64) Decision {
	if !f.cfg.Enabled || f.cfg.DetectionMode == "off" || lat == nil || lon == nil {
		return Allow
	}

	pack, ok := f.registry.PackFor(*lat, *lon)
	if !ok {
		return Allow
	}

	tier, found, err := lookupTier(pack.Path, scientificName, *lat, *lon, f.cfg.H3Resolution)
	if err != nil {
		f.logger.Warn("rangefilter lookup failed, allowing detection", "error", err, "species", scientificName)
		return Allow
	}

	if !found {
		if f.cfg.UnknownSpeciesBehavior == "block" && f.cfg.DetectionMode == "filter" {
			return Block
		}
		return Allow
	}

	blockSet, ok := strictnessBlockSet[f.cfg.DetectionStrictness]
	if !ok {
		f.logger.Warn("unknown detection_strictness, allowing detection", "strictness", f.cfg.DetectionStrictness)
		return Allow
	}

	blocked := blockSet[tier]
	if f.cfg.DetectionMode == "warn" {
		if blocked {
			f.logger.Info("rangefilter would block (warn mode)", "species", scientificName, "tier", tier)
		}
		return Allow
	}
	if blocked {
		return Block
	}
	return Allow
}

// lookupTier opens the regional pack file directly, computes the H3 cell
// for (lat, lon), and queries the (scientific_name, h3_cell) → tier table.
// Each call opens and closes its own connection: packs are small,
// infrequently queried files, and this scopes the pack connection to this
// one lookup. The pack is never ATTACHed to another session, so there is
// nothing to detach.
func lookupTier(packPath, scientificName string, lat, lon float64, resolution int) (Tier, bool, error) {
	cell := h3.LatLngToCell(h3.NewLatLng(lat, lon), resolution)

	db, err := sql.Open("sqlite3", packPath)
	if err != nil {
		return "", false, fmt.Errorf("rangefilter: open pack %s: %w", packPath, err)
	}
	defer db.Close()

	var tier string
	row := db.QueryRow(
		"SELECT tier FROM species_cells WHERE scientific_name = ? AND h3_cell = ?",
		scientificName, cell.String(),
	)
	if err := row.Scan(&tier); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("rangefilter: query pack %s: %w", packPath, err)
	}
	return Tier(tier), true, nil
}
