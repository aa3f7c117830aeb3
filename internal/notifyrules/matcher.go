package notifyrules

import (
	"time"

	"github.com/tphakala/fieldpipe/internal/query"
)

// MatchInput carries the facts a Rule is evaluated against. IsFirstEver,
// IsFirstToday and IsFirstThisWeek are computed by the caller (the
// pipeline's notifier uses two component-K queries, windowed at the start
// of the day and at the start of the ISO week) rather
// than recomputed here, keeping this package free of any store dependency.
type MatchInput struct {
	Detection       query.DetectionEnvelope
	IsFirstEver     bool
	IsFirstToday    bool
	IsFirstThisWeek bool
	Now             time.Time
}

// Decision is the outcome of evaluating a rule against a detection.
type Decision struct {
	Matched   bool
	Suppressed bool // matched the rule but fell inside quiet hours
	Reason    string
}

// Evaluate reports whether rule fires for in, and why not when it doesn't.
func Evaluate(rule Rule, in MatchInput) (Decision, error) {
	if !rule.Enabled {
		return Decision{Reason: "rule disabled"}, nil
	}
	if !rule.matchesScope(in) {
		return Decision{Reason: "scope mismatch"}, nil
	}
	if !rule.matchesTaxa(in) {
		return Decision{Reason: "taxa exclude/include mismatch"}, nil
	}
	if in.Detection.Confidence*100 < rule.MinConfidence {
		return Decision{Reason: "below minimum confidence"}, nil
	}
	if rule.QuietHours != nil {
		quiet, err := rule.QuietHours.Contains(in.Now)
		if err != nil {
			return Decision{}, err
		}
		if quiet {
			return Decision{Matched: true, Suppressed: true, Reason: "quiet hours"}, nil
		}
	}
	return Decision{Matched: true}, nil
}
