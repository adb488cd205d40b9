package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/mediastage/internal/app"
	"github.com/jmylchreest/mediastage/internal/ffmpeg"
)

var remuxCmd = &cobra.Command{
	Use:   "remux INPUT",
	Short: "Copy all streams into a different container",
	Long: `Copy every stream of INPUT into a new container without re-encoding.

The container is taken from --format, or from the extension of --output.
Without --output the result is written beside INPUT as <name>_converted.<format>.`,
	Args: cobra.ExactArgs(1),
	RunE: runJob(ffmpeg.OperationRemux),
}

var transcodeCmd = &cobra.Command{
	Use:   "transcode INPUT",
	Short: "Re-encode into a different format",
	Long: `Re-encode INPUT. Video outputs use libx264 (preset fast, crf 22); audio-only
outputs (mp3, wav, m4a, aac, flac, ogg, opus) carry no video stream.

--encoding selects the audio codec: mp3, wav, m4a, aac, flac, ogg, or opus.
It defaults to the target format; anything unrecognised falls back to aac.`,
	Args: cobra.ExactArgs(1),
	RunE: runJob(ffmpeg.OperationTranscode),
}

var trimCmd = &cobra.Command{
	Use:   "trim INPUT",
	Short: "Cut a time range without re-encoding",
	Long: `Cut INPUT between --start and --end, copying the streams.

Timestamps are HH:MM:SS or HH:MM:SS.mmm and --end must be after --start.
Without --output the result is written beside INPUT as <name>_trimmed.<ext>.`,
	Args: cobra.ExactArgs(1),
	RunE: runJob(ffmpeg.OperationTrim),
}

func init() {
	for _, c := range []*cobra.Command{remuxCmd, transcodeCmd, trimCmd} {
		c.Flags().StringP("output", "o", "", "final output path")
		rootCmd.AddCommand(c)
	}

	remuxCmd.Flags().StringP("format", "f", "", "target container (mp4, mkv, ...)")
	transcodeCmd.Flags().StringP("format", "f", "", "target format (mp4, mp3, ...)")
	transcodeCmd.Flags().StringP("encoding", "e", "", "audio encoding (default: the target format)")

	trimCmd.Flags().String("start", "", "start timestamp (HH:MM:SS[.mmm])")
	trimCmd.Flags().String("end", "", "end timestamp (HH:MM:SS[.mmm])")
	_ = trimCmd.MarkFlagRequired("start")
	_ = trimCmd.MarkFlagRequired("end")
}

func runJob(op ffmpeg.Operation) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		req := app.Request{Operation: op, Input: args[0]}
		req.Output, _ = cmd.Flags().GetString("output")
		if cmd.Flags().Lookup("format") != nil {
			req.Format, _ = cmd.Flags().GetString("format")
		}
		if cmd.Flags().Lookup("encoding") != nil {
			req.Encoding, _ = cmd.Flags().GetString("encoding")
		}
		if op == ffmpeg.OperationTrim {
			req.Start, _ = cmd.Flags().GetString("start")
			req.End, _ = cmd.Flags().GetString("end")
		}

		if err := req.Validate(); err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, stop, err := startApp(ctx)
		if err != nil {
			return err
		}
		defer stop()

		final, err := a.Process(ctx, req)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), final)
		return nil
	}
}
