// Package refdb is component J: attach/detach reference databases to a
// query session (spec.md §4.J).
//
// Grounded on the teacher project's internal/datastore raw-SQL execution
// pattern (ds.DB.Exec(...) used throughout analytics.go); ATTACH/DETACH are
// issued as raw SQL against the *gorm.DB session handed to the query
// engine (component K).
package refdb

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gorm.io/gorm"
)

// Alias names the reference databases the query engine (component K) can
// join against. Order matters only for detach, which runs in reverse.
// "wiki" is the alias spec.md's join plan uses for the Avibase-derived
// translation table; PatLevin attaches alongside it for translation
// priority (IOC > PatLevin > Avibase) even though the literal join plan
// in §4.K only names ioc and wiki explicitly.
const (
	AliasIOC       = "ioc"
	AliasPatLevin  = "patlevin"
	AliasWiki      = "wiki"
	AliasEBirdPack = "ebird"
)

// Source is one (alias, path) pair the manager may attach. Path is
// resolved by the caller (config loader, component P); a missing file is
// skipped rather than treated as an error (spec.md §4.J "capability-set
// degrades gracefully").
type Source struct {
	Alias string
	Path  string
}

// Manager attaches a fixed, ordered set of reference databases to a GORM
// session for the lifetime of one query, then detaches them.
type Manager struct {
	sources []Source
	exists  func(path string) bool
	logger  *slog.Logger
}

// New builds a Manager over sources, in attach order. exists is injectable
// for tests; pass nil to use os.Stat.
func New(sources []Source, exists func(path string) bool, logger *slog.Logger) *Manager {
	if exists == nil {
		exists = defaultExists
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{sources: sources, exists: exists, logger: logger.With("component", "refdb")}
}

// Attached records which sources were actually attached, so Detach only
// issues DETACH for aliases that succeeded.
type Attached struct {
	aliases []string
}

// Attach issues ATTACH DATABASE for every source whose file exists,
// skipping the rest. It never returns an error: a reference DB that fails
// to attach degrades enrichment to nulls rather than failing the query
// (spec.md §7 "Reference-DB missing/corrupt").
func (m *Manager) Attach(ctx context.Context, db *gorm.DB) *Attached {
	a := &Attached{}
	for _, src := range m.sources {
		if !m.exists(src.Path) {
			m.logger.Debug("reference database not present, skipping attach", "alias", src.Alias, "path", src.Path)
			continue
		}
		stmt := fmt.Sprintf("ATTACH DATABASE ? AS %s", src.Alias)
		if err := db.WithContext(ctx).Exec(stmt, src.Path).Error; err != nil {
			m.logger.Warn("failed to attach reference database", "alias", src.Alias, "path", src.Path, "error", err)
			continue
		}
		a.aliases = append(a.aliases, src.Alias)
	}
	return a
}

// Detach issues DETACH DATABASE in reverse attach order. Errors are
// logged, never raised, so cleanup always completes (spec.md §4.J).
func (m *Manager) Detach(ctx context.Context, db *gorm.DB, a *Attached) {
	for i := len(a.aliases) - 1; i >= 0; i-- {
		alias := a.aliases[i]
		stmt := fmt.Sprintf("DETACH DATABASE %s", alias)
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			m.logger.Warn("failed to detach reference database", "alias", alias, "error", err)
		}
	}
}

// Has reports whether alias was successfully attached, so the query
// engine can conditionally include a JOIN clause.
func (a *Attached) Has(alias string) bool {
	for _, got := range a.aliases {
		if got == alias {
			return true
		}
	}
	return false
}

// WithAttached runs fn with sources attached, guaranteeing Detach runs on
// every exit path including a panic in fn (spec.md §4.J "scoped: every
// code path that attaches also detaches on all exits, including errors").
func (m *Manager) WithAttached(ctx context.Context, db *gorm.DB, fn func(a *Attached) error) error {
	attached := m.Attach(ctx, db)
	defer m.Detach(ctx, db, attached)
	return fn(attached)
}

func defaultExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
