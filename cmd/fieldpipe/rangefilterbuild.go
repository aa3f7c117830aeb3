package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldpipe/internal/config"
	"github.com/tphakala/fieldpipe/internal/rangefilter"
)

// RangefilterCommand is the parent command for regional-pack management,
// mirroring the teacher project's "range" parent command.
func RangefilterCommand(settings *config.Settings) *cobra.Command {
	rangeCmd := &cobra.Command{
		Use:   "rangefilter",
		Short: "Manage eBird regional occurrence packs",
	}

	rangeCmd.AddCommand(rangefilterBuildCommand(settings))
	return rangeCmd
}

func rangefilterBuildCommand(settings *config.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Rebuild manifest.json from the SQLite packs under the pack root directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := rangefilter.BuildManifest(settings.EBirdFiltering.PackRootDir)
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d pack(s) under %s\n", count, settings.EBirdFiltering.PackRootDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&settings.EBirdFiltering.PackRootDir, "pack-root", settings.EBirdFiltering.PackRootDir, "Directory containing regional SQLite packs")
	return cmd
}
