// Package notifyrules is the expansion component that decides whether a
// detection should raise a notification and renders the message body. It
// never delivers anything — transports (webhook, Apprise, push) are out of
// scope (spec.md §1) and live entirely downstream of this package.
//
// Grounded on the shape implied by the teacher project's
// internal/notification test suite (rule matching, quiet hours, template
// rendering) and on internal/imageprovider/wikipedia.go's use of
// github.com/k3a/html2text to derive a plain-text fallback from rendered
// HTML.
package notifyrules

// Scope controls which detections a rule considers, resolved against the
// facts the caller supplies in MatchInput rather than recomputed here —
// "first ever" and "first in period" are query-layer concepts (component K).
type Scope string

const (
	ScopeAll         Scope = "all"
	ScopeNewEver     Scope = "new_ever"
	ScopeNewToday    Scope = "new_today"
	ScopeNewThisWeek Scope = "new_this_week"
)

// Rule is one notification rule: a filter plus a template.
//
// MinConfidence is on the same 0-100 scale as config's minimum_confidence
// (spec.md §4.M: "confidence·100 ≥ minimum_confidence"), not the detection's
// own [0,1] Confidence.
type Rule struct {
	ID            string
	Enabled       bool
	Scope         Scope
	TaxaInclude   []string // empty means "any taxon"; matched against species/genus/family/order
	TaxaExclude   []string // checked before TaxaInclude; any match blocks the rule regardless of include
	MinConfidence float64
	QuietHours    *QuietHours
	Template      string // text/template source; empty uses DefaultTemplate
}

// DefaultTemplate mirrors the fixed context spec.md documents for
// notification templates.
const DefaultTemplate = `{{.CommonName}} ({{.ScientificName}}) detected at {{.ConfidencePct}} confidence, {{.Date}} {{.Time}}`

// matchesTaxa implements spec.md §4.M's taxa include/exclude rule: exclude
// takes precedence over include, and both are checked against every rank
// the detection carries (species, genus, family, order), not just species.
func (r Rule) matchesTaxa(d MatchInput) bool {
	taxa := taxaOf(d)
	if anyTaxonIn(taxa, r.TaxaExclude) {
		return false
	}
	if len(r.TaxaInclude) == 0 {
		return true
	}
	return anyTaxonIn(taxa, r.TaxaInclude)
}

func taxaOf(in MatchInput) []string {
	d := in.Detection
	return []string{d.ScientificName, d.Genus, d.Family, d.OrderName}
}

func anyTaxonIn(taxa, list []string) bool {
	for _, candidate := range taxa {
		if candidate == "" {
			continue
		}
		for _, entry := range list {
			if candidate == entry {
				return true
			}
		}
	}
	return false
}

func (r Rule) matchesScope(in MatchInput) bool {
	switch r.Scope {
	case ScopeNewEver:
		return in.IsFirstEver
	case ScopeNewToday:
		return in.IsFirstToday
	case ScopeNewThisWeek:
		return in.IsFirstThisWeek
	case ScopeAll, "":
		return true
	default:
		return false
	}
}
