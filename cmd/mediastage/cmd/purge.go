package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/mediastage/internal/storage"
)

var purgeCmd = &cobra.Command{
	Use:   "purge [DIR]",
	Short: "Delete staged files",
	Long: `Delete every regular file directly inside DIR, or inside the staging
directory when DIR is omitted. Subdirectories are left alone.

With --older-than only staged files older than the given age are removed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPurge,
}

func init() {
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().Duration("older-than", 0, "only purge staged files older than this (staging directory only)")
}

func runPurge(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	olderThan, _ := cmd.Flags().GetDuration("older-than")
	var dir string
	if len(args) == 1 {
		dir = args[0]
	}
	if olderThan > 0 && dir != "" {
		return fmt.Errorf("--older-than only applies to the staging directory")
	}

	var result storage.PurgeResult
	if olderThan > 0 {
		result = a.Staging().PurgeOlderThan(olderThan)
	} else {
		result = a.Purge(dir)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "removed %d files (%s)\n", result.Removed, humanize.IBytes(uint64(result.Bytes)))
	for _, err := range result.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	return nil
}
