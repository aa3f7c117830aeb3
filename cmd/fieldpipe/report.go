package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldpipe/internal/analytics"
	"github.com/tphakala/fieldpipe/internal/config"
	"github.com/tphakala/fieldpipe/internal/datastore"
	"github.com/tphakala/fieldpipe/internal/query"
	"github.com/tphakala/fieldpipe/internal/refdb"
)

// ReportCommand is the parent command for read-only queries against an
// already-populated detection store; unlike serve/analyze-file it never
// builds a classifier.
func ReportCommand(settings *config.Settings) *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Run read-only queries against the detection store",
	}

	reportCmd.AddCommand(weatherCorrelationCommand(settings))
	return reportCmd
}

func weatherCorrelationCommand(settings *config.Settings) *cobra.Command {
	var species, variable string
	var sinceDays int

	cmd := &cobra.Command{
		Use:   "weather-correlation",
		Short: "Report Pearson's r between a species' detection counts and a weather variable",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, store, err := openQueryEngine(settings)
			if err != nil {
				return err
			}
			defer store.Close()

			end := time.Now()
			start := end.AddDate(0, 0, -sinceDays)

			r, err := engine.WeatherCorrelation(cmd.Context(), species, analytics.WeatherVariable(variable), start, end)
			if err != nil {
				return err
			}
			fmt.Printf("%s vs %s over the last %d day(s): r = %.4f\n", species, variable, sinceDays, r)
			return nil
		},
	}

	cmd.Flags().StringVar(&species, "species", "", "Scientific name to correlate")
	cmd.Flags().StringVar(&variable, "variable", string(analytics.WeatherTemperature), "Weather variable: temperature, humidity, pressure, wind_speed, precipitation")
	cmd.Flags().IntVar(&sinceDays, "since-days", 30, "How many days of history to include")
	_ = cmd.MarkFlagRequired("species")

	return cmd
}

func openQueryEngine(settings *config.Settings) (*query.Engine, *datastore.Store, error) {
	dbPath := filepath.Join(settings.DataRoot, "detections.db")
	store, err := datastore.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}

	refs := refdb.New([]refdb.Source{
		{Alias: refdb.AliasIOC, Path: settings.ReferenceDB.IOCPath},
		{Alias: refdb.AliasPatLevin, Path: settings.ReferenceDB.PatLevinPath},
		{Alias: refdb.AliasWiki, Path: settings.ReferenceDB.AvibasePath},
	}, nil, nil)

	return query.New(store.DB, refs, nil), store, nil
}
