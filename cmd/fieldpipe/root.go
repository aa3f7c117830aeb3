// Package cmd assembles fieldpipe's command-line surface: serve,
// analyze-file (one WAV file through the full pipeline), report, and the
// rangefilter pack-management subcommand.
//
// Grounded on the teacher project's cmd/root.go: a single RootCommand
// factory taking *Settings, binding global flags onto it via viper, and
// registering subcommands built by their own per-command factories.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/fieldpipe/internal/config"
	"github.com/tphakala/fieldpipe/internal/logging"
)

// RootCommand builds fieldpipe's root cobra command over settings.
func RootCommand(settings *config.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fieldpipe",
		Short: "Field-deployed bird acoustic monitoring pipeline",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		ServeCommand(settings),
		AnalyzeFileCommand(settings),
		RangefilterCommand(settings),
		ReportCommand(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Init()
		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
		} else {
			logging.SetLevel(slog.LevelInfo)
		}
		config.Set(settings)
		return nil
	}

	return rootCmd
}

func setupFlags(rootCmd *cobra.Command, settings *config.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&settings.Classifier.Locale, "locale", settings.Classifier.Locale, "Locale for species common names")
	rootCmd.PersistentFlags().IntVarP(&settings.Classifier.Threads, "threads", "j", settings.Classifier.Threads, "Classifier threads (0 = autodetect)")
	rootCmd.PersistentFlags().Float64VarP(&settings.Audio.Sensitivity, "sensitivity", "s", settings.Audio.Sensitivity, "Sigmoid sensitivity")
	rootCmd.PersistentFlags().Float64VarP(&settings.Audio.SpeciesConfidenceThreshold, "threshold", "t", settings.Audio.SpeciesConfidenceThreshold, "Species confidence threshold")
	rootCmd.PersistentFlags().Float64Var(&settings.Audio.Overlap, "overlap", settings.Audio.Overlap, "Analysis window overlap in seconds")
	rootCmd.PersistentFlags().Float64Var(&settings.Location.Latitude, "latitude", settings.Location.Latitude, "Observer latitude")
	rootCmd.PersistentFlags().Float64Var(&settings.Location.Longitude, "longitude", settings.Location.Longitude, "Observer longitude")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
