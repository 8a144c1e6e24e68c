package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tvplay/internal/ffmpeg"
	"github.com/jmylchreest/tvplay/internal/version"
)

var (
	versionJSON   bool
	versionFFmpeg bool
)

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit and build date of tvplay, and the ffmpeg it would decode with.

With --ffmpeg the detected ffmpeg binary is printed as JSON, including the
codecs and formats it can decode and demux.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if versionJSON {
			fmt.Fprintln(cmd.OutOrStdout(), version.JSON())
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		info, err := ffmpeg.NewBinaryDetector(appConfig.Decoder.BinaryPath).Detect(ctx)

		if versionFFmpeg {
			if err != nil {
				return fmt.Errorf("detecting ffmpeg: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.JSON())
			return nil
		}

		ffmpegVersion := "not found"
		if err == nil {
			ffmpegVersion = info.Version
		}
		printVersion(cmd.OutOrStdout(), ffmpegVersion)
		return nil
	},
}

func printVersion(w io.Writer, ffmpegVersion string) {
	fmt.Fprintln(w, version.String())
	if version.IsSnapshot() {
		fmt.Fprintln(w, "snapshot build")
	}
	fmt.Fprintln(w, "ffmpeg", ffmpegVersion)
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output version information as JSON")
	versionCmd.Flags().BoolVar(&versionFFmpeg, "ffmpeg", false, "output the detected ffmpeg binary and its capabilities as JSON")
	versionCmd.MarkFlagsMutuallyExclusive("json", "ffmpeg")
	rootCmd.AddCommand(versionCmd)
}
