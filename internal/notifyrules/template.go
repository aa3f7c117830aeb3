package notifyrules

import (
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/k3a/html2text"

	"github.com/tphakala/fieldpipe/internal/fielderr"
)

// TemplateContext is the fixed set of fields a rule's template may
// reference. Unknown fields are a template-execution error, not a silent
// empty string, so typos in a user-authored template surface immediately.
type TemplateContext struct {
	ScientificName string
	CommonName     string
	ConfidencePct  string
	Date           string
	Time           string
	Timestamp      string
	Latitude       *float64
	Longitude      *float64
}

func buildContext(in MatchInput) TemplateContext {
	d := in.Detection
	return TemplateContext{
		ScientificName: d.ScientificName,
		CommonName:     d.CommonName,
		ConfidencePct:  formatConfidencePct(d.Confidence),
		Date:           d.Timestamp.Format("2006-01-02"),
		Time:           d.Timestamp.Format("15:04:05"),
		Timestamp:      d.Timestamp.Format(time.RFC3339),
		Latitude:       d.Latitude,
		Longitude:      d.Longitude,
	}
}

// formatConfidencePct renders confidence (0..1) as a human percentage,
// dropping a trailing ".0" the way a hand-authored template would.
func formatConfidencePct(confidence float64) string {
	s := strconv.FormatFloat(confidence*100, 'f', 1, 64)
	s = strings.TrimSuffix(s, ".0")
	return s + "%"
}

// Render expands rule's template (or DefaultTemplate if unset) against in.
// A template parse or execute error does not propagate to the caller as a
// hard failure: it renders a diagnostic string instead, so one broken rule
// never blocks the notifications of the rest.
func Render(rule Rule, in MatchInput) string {
	src := rule.Template
	if src == "" {
		src = DefaultTemplate
	}

	tmpl, err := template.New(rule.ID).Option("missingkey=error").Parse(src)
	if err != nil {
		return diagnosticString(rule.ID, err)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, buildContext(in)); err != nil {
		return diagnosticString(rule.ID, err)
	}
	return sb.String()
}

func diagnosticString(ruleID string, err error) string {
	return fielderr.New(err).
		Component("notifyrules").
		Category(fielderr.CategoryTemplate).
		Context("rule_id", ruleID).
		Build().
		Error()
}

// PlainText strips any HTML a custom template emitted, giving transports
// that need a plain-text body (e.g. a push notification) a safe fallback
// regardless of what the rule author wrote.
func PlainText(rendered string) string {
	return html2text.HTML2Text(rendered)
}
