package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/mediastage/internal/app"
)

var batchCmd = &cobra.Command{
	Use:   "batch MANIFEST",
	Short: "Run the jobs listed in a YAML manifest",
	Long: `Run every job in a YAML manifest, a few at a time.

Example manifest:

  jobs:
    - operation: trim
      input: clip.mov
      start: "00:00:05"
      end: "00:00:10"
    - operation: transcode
      input: talk.mkv
      format: mp3
      encoding: mp3

Relative paths are resolved against the manifest's directory. A failing job
does not stop the others; the command exits non-zero if any job failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntP("jobs", "j", 0, "maximum concurrent jobs (default jobs.max_concurrent)")
	mustBindPFlag("jobs.max_concurrent", batchCmd.Flags().Lookup("jobs"))
}

func runBatch(cmd *cobra.Command, args []string) error {
	manifestPath := args[0]
	f, err := os.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("opening manifest: %w", err)
	}
	manifest, err := app.ParseManifest(f)
	f.Close()
	if err != nil {
		return err
	}

	base, err := filepath.Abs(filepath.Dir(manifestPath))
	if err != nil {
		return fmt.Errorf("resolving manifest directory: %w", err)
	}
	manifest.ResolvePaths(base)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, stop, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer stop()

	results, err := a.RunBatch(ctx, manifest)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s %s: %v\n", r.Request.Operation, r.Request.Input, r.Err)
			continue
		}
		fmt.Fprintf(out, "ok   %s %s -> %s\n", r.Request.Operation, r.Request.Input, r.Output)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(results))
	}
	return nil
}
