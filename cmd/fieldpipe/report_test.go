package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldpipe/internal/config"
)

func TestReportCommand_RegistersWeatherCorrelationSubcommand(t *testing.T) {
	t.Parallel()
	cmd := ReportCommand(config.Defaults())

	sub, _, err := cmd.Find([]string{"weather-correlation"})
	require.NoError(t, err)
	assert.Equal(t, "weather-correlation", sub.Name())
}

func TestOpenQueryEngine_OpensStoreUnderDataRoot(t *testing.T) {
	t.Parallel()
	s := config.Defaults()
	s.DataRoot = t.TempDir()

	engine, store, err := openQueryEngine(s)
	require.NoError(t, err)
	defer store.Close()

	assert.NotNil(t, engine)
}
