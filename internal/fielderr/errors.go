// Package fielderr provides the structured, component/category-tagged
// error type used across the pipeline (spec.md §7 error taxonomy).
//
// Grounded on the teacher project's internal/errors package: a fluent
// builder produces an EnhancedError carrying a component name, a
// category drawn from a fixed enum, free-form context, and a timestamp.
// Trimmed to the categories spec.md's error taxonomy actually needs and
// with the telemetry hook kept optional (see telemetry.go) rather than
// wired to a specific SaaS by default.
package fielderr

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// Category groups errors for logging and metrics per spec.md §7.
type Category string

const (
	CategoryValidation  Category = "validation"   // malformed event, bad base64
	CategoryFiltered    Category = "filtered"     // blocked by eBird regional filter
	CategoryTransient   Category = "transient"    // DB timeout, disk full, remote ingest unreachable
	CategoryPermanent   Category = "permanent"    // schema error, integrity violation
	CategoryReference   Category = "reference-db" // missing/corrupt reference database
	CategoryClassifier  Category = "classifier"   // classifier call failed
	CategoryTemplate    Category = "template"     // notification template render failed
	CategoryConfig      Category = "configuration"
	CategoryUnknown     Category = "unknown"
)

// Error wraps an underlying error with component/category/context metadata.
type Error struct {
	Err       error
	Component string
	Category  Category
	Context   map[string]any
	Timestamp time.Time

	mu       sync.RWMutex
	reported bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Component, e.Category)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// GetContext returns a defensive copy of the error's context map.
func (e *Error) GetContext() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.Context == nil {
		return nil
	}
	cp := make(map[string]any, len(e.Context))
	maps.Copy(cp, e.Context)
	return cp
}

// MarkReported records that telemetry has already seen this error.
func (e *Error) MarkReported() {
	e.mu.Lock()
	e.reported = true
	e.mu.Unlock()
}

// IsReported reports whether MarkReported has been called.
func (e *Error) IsReported() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reported
}

// Builder is the fluent constructor for Error, mirroring the teacher's
// ErrorBuilder so call sites read `fielderr.New(err).Component(...).Category(...).Build()`.
type Builder struct {
	err       error
	component string
	category  Category
	context   map[string]any
}

// New starts a Builder wrapping err (which may be nil for a synthetic error).
func New(err error) *Builder {
	return &Builder{err: err}
}

// Newf is New(fmt.Errorf(format, args...)).
func Newf(format string, args ...any) *Builder {
	return New(fmt.Errorf(format, args...))
}

func (b *Builder) Component(component string) *Builder {
	b.component = component
	return b
}

func (b *Builder) Category(category Category) *Builder {
	b.category = category
	return b
}

func (b *Builder) Context(key string, value any) *Builder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the Error and reports it to telemetry if a reporter is registered.
func (b *Builder) Build() *Error {
	e := &Error{
		Err:       b.err,
		Component: b.component,
		Category:  b.category,
		Context:   b.context,
		Timestamp: time.Now(),
	}
	if e.Component == "" {
		e.Component = "unknown"
	}
	if e.Category == "" {
		e.Category = CategoryUnknown
	}
	report(e)
	return e
}
