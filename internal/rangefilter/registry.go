package rangefilter

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// manifestEntry is one row of manifest.json, the on-disk index LoadRegistry
// reads and BuildManifest writes.
type manifestEntry struct {
	Path   string  `json:"path"`
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

const manifestFilename = "manifest.json"

// LoadRegistry reads packRootDir's manifest.json into a StaticRegistry. A
// missing manifest yields an empty registry rather than an error, so a
// fresh deployment with no packs installed yet still starts and simply
// fail-opens every detection (spec.md §4.G).
func LoadRegistry(packRootDir string) (StaticRegistry, error) {
	data, err := os.ReadFile(filepath.Join(packRootDir, manifestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return StaticRegistry{}, nil
		}
		return StaticRegistry{}, fmt.Errorf("rangefilter: read manifest: %w", err)
	}

	var entries []manifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return StaticRegistry{}, fmt.Errorf("rangefilter: parse manifest: %w", err)
	}

	packs := make([]Pack, len(entries))
	for i, e := range entries {
		packs[i] = Pack{
			Path:   filepath.Join(packRootDir, e.Path),
			MinLat: e.MinLat,
			MaxLat: e.MaxLat,
			MinLon: e.MinLon,
			MaxLon: e.MaxLon,
		}
	}
	return StaticRegistry{Packs: packs}, nil
}

// BuildManifest scans packRootDir for *.sqlite pack files, reads each
// pack's self-describing meta table for its bounding box, and (re)writes
// manifest.json. Downloading the pack files themselves is out of scope
// (spec.md §1: "Downloaders for reference databases"); this only indexes
// files already present on disk. Returns the number of packs indexed.
func BuildManifest(packRootDir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(packRootDir, "*.sqlite"))
	if err != nil {
		return 0, fmt.Errorf("rangefilter: glob pack files: %w", err)
	}
	sort.Strings(matches)

	entries := make([]manifestEntry, 0, len(matches))
	for _, path := range matches {
		bbox, err := readPackBBox(path)
		if err != nil {
			return 0, fmt.Errorf("rangefilter: reading %s: %w", path, err)
		}
		entries = append(entries, manifestEntry{
			Path:   filepath.Base(path),
			MinLat: bbox.MinLat,
			MaxLat: bbox.MaxLat,
			MinLon: bbox.MinLon,
			MaxLon: bbox.MaxLon,
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("rangefilter: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(packRootDir, manifestFilename), data, 0o644); err != nil {
		return 0, fmt.Errorf("rangefilter: write manifest: %w", err)
	}
	return len(entries), nil
}

func readPackBBox(path string) (Pack, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return Pack{}, err
	}
	defer db.Close()

	rows, err := db.Query("SELECT key, value FROM meta WHERE key IN ('min_lat','max_lat','min_lon','max_lon')")
	if err != nil {
		return Pack{}, err
	}
	defer rows.Close()

	values := map[string]float64{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Pack{}, err
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Pack{}, fmt.Errorf("meta value %q for %s is not numeric", value, key)
		}
		values[key] = f
	}
	if err := rows.Err(); err != nil {
		return Pack{}, err
	}

	for _, key := range []string{"min_lat", "max_lat", "min_lon", "max_lon"} {
		if _, ok := values[key]; !ok {
			return Pack{}, fmt.Errorf("pack missing meta key %q", key)
		}
	}
	return Pack{
		MinLat: values["min_lat"],
		MaxLat: values["max_lat"],
		MinLon: values["min_lon"],
		MaxLon: values["max_lon"],
	}, nil
}
