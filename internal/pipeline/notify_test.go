package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldpipe/internal/classifier"
	"github.com/tphakala/fieldpipe/internal/config"
	"github.com/tphakala/fieldpipe/internal/detectionbus"
)

func TestNewNotifier_NilWhenNoRulesConfigured(t *testing.T) {
	t.Parallel()
	s := config.Defaults()
	n := newNotifier(s, detectionbus.New(0, nil), nil, slog.Default())
	assert.Nil(t, n)
}

func TestNewNotifier_ConvertsConfigRulesOntoDomainRules(t *testing.T) {
	t.Parallel()
	s := config.Defaults()
	s.QuietHoursStart = "22:00"
	s.QuietHoursEnd = "06:00"
	s.NotificationRules = []config.NotificationRuleConfig{
		{
			Name:              "rare-species",
			Enabled:           true,
			MinimumConfidence: 70,
			TaxaInclude:       []string{"Turdus merula"},
			TaxaExclude:       []string{"Passer domesticus"},
			Scope:             "new_today",
			Template:          "{{.CommonName}}",
		},
	}

	n := newNotifier(s, detectionbus.New(0, nil), nil, slog.Default())
	require.NotNil(t, n)
	require.Len(t, n.rules, 1)

	r := n.rules[0]
	assert.Equal(t, "rare-species", r.ID)
	assert.True(t, r.Enabled)
	assert.EqualValues(t, "new_today", r.Scope)
	assert.Equal(t, []string{"Turdus merula"}, r.TaxaInclude)
	assert.Equal(t, []string{"Passer domesticus"}, r.TaxaExclude)
	assert.Equal(t, 70.0, r.MinConfidence)
	assert.Equal(t, "{{.CommonName}}", r.Template)
	require.NotNil(t, r.QuietHours)
	assert.Equal(t, "22:00", r.QuietHours.Start)
	assert.Equal(t, "06:00", r.QuietHours.End)
}

func TestNotifierStartStop_NilReceiverIsNoOp(t *testing.T) {
	t.Parallel()
	var n *notifier
	n.Start(context.Background())
	n.Stop() // must not panic despite never having started
}

func TestStartOfDay_TruncatesToMidnightLocal(t *testing.T) {
	t.Parallel()
	ts := time.Date(2026, 3, 15, 14, 32, 9, 0, time.UTC)
	got := startOfDay(ts)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestStartOfWeek_MondayIsTheWeekStartRegardlessOfWeekday(t *testing.T) {
	t.Parallel()
	monday := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	cases := []time.Time{
		time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC), // Monday
		time.Date(2026, 3, 18, 9, 0, 0, 0, time.UTC), // Wednesday
		time.Date(2026, 3, 22, 23, 0, 0, 0, time.UTC), // Sunday
	}
	for _, c := range cases {
		assert.Equal(t, monday, startOfWeek(c), "input %v", c)
	}
}

func TestNotifierEndToEnd_LogsRenderedNotificationForMatchingDetection(t *testing.T) {
	t.Parallel()
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	s := testSettings(t)
	s.Audio.BufferSizeSeconds = 1.0
	s.NotificationRules = []config.NotificationRuleConfig{
		{
			Name:              "any-detection",
			Enabled:           true,
			MinimumConfidence: 50,
			Scope:             "all",
			Template:          "{{.CommonName}} seen",
		},
	}

	stub := &classifier.Stub{Results: []classifier.Result{
		{SpeciesTensor: "Corvus corax_Common Raven", Confidence: 0.95},
	}}

	p, err := New(Options{Settings: s, Registerer: prometheus.NewRegistry(), Classifier: stub, Logger: logger})
	require.NoError(t, err)
	defer p.Close()
	require.NotNil(t, p.Notifier)

	handle := p.Bus.Subscribe()
	defer handle.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	p.ProcessChunk(make([]byte, s.Audio.SampleRate*2))

	select {
	case <-handle.C():
	case <-time.After(2 * time.Second):
		t.Fatal("expected detection was not published through the wired pipeline")
	}

	require.Eventually(t, func() bool {
		return bytes.Contains(logBuf.Bytes(), []byte("Common Raven seen"))
	}, 2*time.Second, 10*time.Millisecond, "notifier log output: %s", logBuf.String())
}
