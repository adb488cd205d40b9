package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/mediastage/internal/acquire"
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Make sure an ffmpeg binary is available",
	Long: `Probe for an existing ffmpeg and download a static build when none is found.

The search order is --ffmpeg / ffmpeg.binary_path, MEDIASTAGE_FFMPEG_BINARY,
the PATH, and finally a previous download in the destination directory.
Downloads go next to the mediastage executable unless --destination is set;
relative destinations are resolved against the executable's directory.`,
	RunE: runAcquire,
}

func init() {
	rootCmd.AddCommand(acquireCmd)

	acquireCmd.Flags().String("destination", "", "install directory for the downloaded binary")
	acquireCmd.Flags().Bool("check-latest", false, "look up the latest upstream release before downloading")

	mustBindPFlag("acquire.check_latest", acquireCmd.Flags().Lookup("check-latest"))
}

func runAcquire(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, stop, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer stop()

	destination, _ := cmd.Flags().GetString("destination")
	result, err := a.Acquire(ctx, destination)
	if err != nil {
		var stepErr *acquire.StepError
		if errors.As(err, &stepErr) {
			return fmt.Errorf("acquisition failed at %s: %w", stepErr.Step, err)
		}
		return err
	}

	printAcquireResult(cmd.OutOrStdout(), result)
	return nil
}

func printAcquireResult(w io.Writer, result *acquire.Result) {
	switch {
	case result.Archive == nil:
		fmt.Fprintf(w, "ffmpeg already installed: %s\n", result.Binary.Path)
	default:
		fmt.Fprintf(w, "ffmpeg installed: %s\n", result.Binary.Path)
	}
	if result.Binary.Version != "" {
		fmt.Fprintf(w, "version: %s\n", result.Binary.Version)
	}
	if result.LatestVersion != "" {
		fmt.Fprintf(w, "latest release: %s\n", result.LatestVersion)
	}
	if result.Degraded() {
		fmt.Fprintf(w, "warning: binary could not be verified: %v\n", result.Binary.VersionErr)
	}
}
