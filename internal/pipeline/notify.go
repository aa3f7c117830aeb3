package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/tphakala/fieldpipe/internal/config"
	"github.com/tphakala/fieldpipe/internal/detectionbus"
	"github.com/tphakala/fieldpipe/internal/notifyrules"
	"github.com/tphakala/fieldpipe/internal/query"
)

// notifier is component M wired against a running pipeline: it subscribes
// to the detection bus, resolves the taxonomic and first-ever/first-in-
// period facts a Rule needs from the query engine, and logs the rendered
// message of every rule that matches and isn't quiet-hours suppressed.
//
// Grounded on the same subscribe-a-bus-handle-and-run-until-stopped shape
// retrybuffer.Buffer and weather.Poller use: a stop channel closed by Stop,
// a done channel the goroutine closes on exit, Start/Stop idempotent and
// safe to call even when no rules are configured.
type notifier struct {
	rules  []notifyrules.Rule
	query  *query.Engine
	bus    *detectionbus.Bus
	logger *slog.Logger

	handle *detectionbus.Handle
	stopCh chan struct{}
	doneCh chan struct{}
}

// newNotifier builds a notifier from the configured notification rules.
// Returns nil when no rules are configured, so Pipeline can skip
// subscribing to the bus entirely.
func newNotifier(s *config.Settings, bus *detectionbus.Bus, qe *query.Engine, logger *slog.Logger) *notifier {
	if len(s.NotificationRules) == 0 {
		return nil
	}

	quietHours := &notifyrules.QuietHours{Start: s.QuietHoursStart, End: s.QuietHoursEnd}
	rules := make([]notifyrules.Rule, len(s.NotificationRules))
	for i, rc := range s.NotificationRules {
		rules[i] = notifyrules.Rule{
			ID:            rc.Name,
			Enabled:       rc.Enabled && (rc.Frequency == "" || rc.Frequency == "immediate"),
			Scope:         notifyrules.Scope(rc.Scope),
			TaxaInclude:   rc.TaxaInclude,
			TaxaExclude:   rc.TaxaExclude,
			MinConfidence: rc.MinimumConfidence,
			QuietHours:    quietHours,
			Template:      rc.Template,
		}
	}

	return &notifier{
		rules:  rules,
		query:  qe,
		bus:    bus,
		logger: logger.With("component", "notifier"),
	}
}

// Start subscribes to the bus and begins evaluating rules against every
// published detection. A second call while running is a no-op, as is a
// call on a nil notifier.
func (n *notifier) Start(ctx context.Context) {
	if n == nil || n.stopCh != nil {
		return
	}
	n.handle = n.bus.Subscribe()
	n.stopCh = make(chan struct{})
	n.doneCh = make(chan struct{})

	go n.run(ctx)
}

// Stop unsubscribes from the bus and waits for the evaluation loop to
// drain. Safe to call on a nil notifier or one that was never started.
func (n *notifier) Stop() {
	if n == nil || n.stopCh == nil {
		return
	}
	close(n.stopCh)
	<-n.doneCh
	n.handle.Close()
	n.stopCh = nil
}

func (n *notifier) run(ctx context.Context) {
	defer close(n.doneCh)

	for {
		select {
		case <-n.stopCh:
			return
		case <-ctx.Done():
			return
		case env, ok := <-n.handle.C():
			if !ok {
				return
			}
			n.evaluate(ctx, env)
		}
	}
}

func (n *notifier) evaluate(ctx context.Context, env detectionbus.Envelope) {
	in, ok := n.buildMatchInput(ctx, env)
	if !ok {
		return
	}

	for _, rule := range n.rules {
		decision, err := notifyrules.Evaluate(rule, in)
		if err != nil {
			n.logger.Warn("rule evaluation failed", "rule", rule.ID, "error", err)
			continue
		}
		if !decision.Matched || decision.Suppressed {
			continue
		}
		message := notifyrules.Render(rule, in)
		n.logger.Info("notification", "rule", rule.ID, "scientific_name", in.Detection.ScientificName, "message", message)
	}
}

// buildMatchInput enriches env with the taxonomy and first-ever/first-in-
// period facts notifyrules.Rule needs but detectionbus.Envelope doesn't
// carry, via two component-K queries scoped to this detection's species
// and timestamp: one with StartDate at the start of its day (IsFirstToday)
// and one at the start of its ISO week (IsFirstThisWeek). IsFirstEver is
// the same in either window, since the ranked CTE behind it ignores StartDate.
func (n *notifier) buildMatchInput(ctx context.Context, env detectionbus.Envelope) (notifyrules.MatchInput, bool) {
	ts, err := time.Parse("2006-01-02T15:04:05.000Z", env.Timestamp)
	if err != nil {
		n.logger.Warn("dropping notification: unparseable timestamp", "id", env.ID, "timestamp", env.Timestamp, "error", err)
		return notifyrules.MatchInput{}, false
	}

	today, err := n.lookup(ctx, env, startOfDay(ts))
	if err != nil {
		n.logger.Warn("dropping notification: first-today lookup failed", "id", env.ID, "error", err)
		return notifyrules.MatchInput{}, false
	}
	week, err := n.lookup(ctx, env, startOfWeek(ts))
	if err != nil {
		n.logger.Warn("dropping notification: first-this-week lookup failed", "id", env.ID, "error", err)
		return notifyrules.MatchInput{}, false
	}

	detection := today
	if detection.ID == "" {
		detection = week
	}
	if detection.ID == "" {
		// Neither window's query found this detection (e.g. it was deleted
		// between publish and evaluation); fall back to the bus envelope's
		// own fields so the rule can still fire on species/confidence.
		detection = query.DetectionEnvelope{
			ID:             env.ID,
			ScientificName: env.ScientificName,
			CommonName:     env.CommonName,
			Confidence:     env.Confidence,
			Timestamp:      ts,
			Latitude:       env.Latitude,
			Longitude:      env.Longitude,
		}
	}

	return notifyrules.MatchInput{
		Detection:       detection,
		IsFirstEver:     boolValue(today.IsFirstEver) || boolValue(week.IsFirstEver),
		IsFirstToday:    boolValue(today.IsFirstInPeriod),
		IsFirstThisWeek: boolValue(week.IsFirstInPeriod),
		Now:             ts,
	}, true
}

// lookup runs a component-K query scoped to env's species from windowStart
// onward and returns the row matching env.ID, or a zero DetectionEnvelope
// if this detection fell out of the window (e.g. already superseded by a
// later one with the same timestamp resolution).
func (n *notifier) lookup(ctx context.Context, env detectionbus.Envelope, windowStart time.Time) (query.DetectionEnvelope, error) {
	rows, err := n.query.Query(ctx, query.Filters{
		Species:                []string{env.ScientificName},
		StartDate:              &windowStart,
		IncludeFirstDetections: true,
		OrderBy:                query.OrderByTimestamp,
	})
	if err != nil {
		return query.DetectionEnvelope{}, err
	}
	for _, row := range rows {
		if row.ID == env.ID {
			return row, nil
		}
	}
	return query.DetectionEnvelope{}, nil
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := int(day.Weekday())
	if offset == 0 {
		offset = 7 // Sunday counts as the end of the ISO week, not its start
	}
	return day.AddDate(0, 0, -(offset - 1))
}
