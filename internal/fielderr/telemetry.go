package fielderr

import "sync/atomic"

// Reporter receives every built Error for optional external reporting.
// Mirrors the teacher's TelemetryReporter interface but without binding
// to a specific backend — operators wire in whatever they use.
type Reporter interface {
	ReportError(err *Error)
}

var (
	activeReporter   atomic.Value // stores Reporter
	hasActiveReporter atomic.Bool
)

// SetReporter installs (or clears, with nil) the global error reporter.
func SetReporter(r Reporter) {
	if r == nil {
		hasActiveReporter.Store(false)
		return
	}
	activeReporter.Store(r)
	hasActiveReporter.Store(true)
}

func report(e *Error) {
	if !hasActiveReporter.Load() {
		return
	}
	if r, ok := activeReporter.Load().(Reporter); ok && r != nil {
		r.ReportError(e)
	}
}
