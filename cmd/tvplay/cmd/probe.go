package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tvplay/internal/demux"
	"github.com/jmylchreest/tvplay/internal/media"
	"github.com/jmylchreest/tvplay/internal/observability"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:   "probe <locator>",
	Short: "List the streams of an input",
	Long: `Open an input and list the streams the demuxer found, with their codecs
and parameters. For MPEG-TS inputs the program map table entries are listed
as well, including streams tvplay cannot decode.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(probeCmd)
}

// probeStream is one demuxed stream in probe output.
type probeStream struct {
	Index      int    `json:"index"`
	Type       string `json:"type"`
	Codec      string `json:"codec"`
	ID         uint64 `json:"id"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// probeResult is the probe output.
type probeResult struct {
	Format  string            `json:"format"`
	Streams []probeStream     `json:"streams"`
	Program []demux.PMTStream `json:"program,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := probe(ctx, args[0], slog.Default())
	if err != nil {
		return err
	}
	if probeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return printProbe(os.Stdout, res)
}

func probe(ctx context.Context, locator string, logger *slog.Logger) (*probeResult, error) {
	opts := demux.OptionsFromConfig(appConfig.Input, observability.WithComponent(logger, "demux"))

	d, err := demux.Open(ctx, locator, opts)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", observability.RedactURL(locator), err)
	}
	res := &probeResult{Format: string(d.Format()), Streams: probeStreams(d.Streams())}
	_ = d.Close()

	// The demuxer consumed the input, so the program table needs a second read.
	if d.Format() == demux.FormatMPEGTS && locator != "-" {
		program, err := demux.ProbeTSLocator(ctx, locator, opts)
		if err != nil {
			logger.Warn("reading program map table", slog.String("error", err.Error()))
		}
		res.Program = program
	}
	return res, nil
}

func probeStreams(streams []media.StreamInfo) []probeStream {
	out := make([]probeStream, 0, len(streams))
	for _, s := range streams {
		out = append(out, probeStream{
			Index:      s.Index,
			Type:       s.Type.String(),
			Codec:      s.Codec.String(),
			ID:         s.ID,
			Width:      s.Width,
			Height:     s.Height,
			SampleRate: s.SampleRate,
			Channels:   s.Channels,
		})
	}
	return out
}

func printProbe(w io.Writer, res *probeResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "format: %s\n\n", res.Format)
	fmt.Fprintln(tw, "INDEX\tTYPE\tCODEC\tID\tPARAMETERS")
	for _, s := range res.Streams {
		params := ""
		switch {
		case s.Width > 0:
			params = fmt.Sprintf("%dx%d", s.Width, s.Height)
		case s.SampleRate > 0:
			params = fmt.Sprintf("%d Hz, %d ch", s.SampleRate, s.Channels)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", s.Index, s.Type, s.Codec, s.ID, params)
	}
	if len(res.Program) > 0 {
		fmt.Fprintln(tw, "\nPROGRAM\tPID\tSTREAM TYPE\tDESCRIPTION")
		for _, es := range res.Program {
			fmt.Fprintf(tw, "%d\t%d\t0x%02x\t%s\n", es.ProgramNumber, es.PID, es.StreamType, es.Description)
		}
	}
	return tw.Flush()
}
