// cmd/replay.go
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/fatiguedetector/internal/config"
	"github.com/ColonelBlimp/fatiguedetector/internal/fatigue"
	"github.com/ColonelBlimp/fatiguedetector/internal/ingest"
	"github.com/ColonelBlimp/fatiguedetector/internal/stream"
)

// Input formats
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

var replayCmd = &cobra.Command{
	Use:   "replay [file|-]",
	Short: "Run the detector over a recorded set",
	Long: `Replays a recorded set through the detector and writes one JSON envelope
per state transition to stdout. Reads stdin when no file (or "-") is given.

CSV rows are t,amplitude[,spectral] with an optional header line.
JSON lines are {"t":..,"amplitude":..,"spectral":..}.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringP("format", "F", FormatCSV, "input format (csv or jsonl)")
	replayCmd.Flags().Bool("debug-frames", false, "also write a debug envelope for every accepted sample")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	debugFrames, _ := cmd.Flags().GetBool("debug-frames")
	if format != FormatCSV && format != FormatJSONL {
		return fmt.Errorf("unsupported format %q (use %s or %s)", format, FormatCSV, FormatJSONL)
	}

	settings, err := config.Get()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := settings.NewLogger(cmd.ErrOrStderr())

	det, err := fatigue.New(settings.Detector(), fatigue.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("config: detector: %w", err)
	}

	in := cmd.InOrStdin()
	name := "stdin"
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in, name = f, args[0]
	}

	setID := uuid.NewString()
	enc := json.NewEncoder(cmd.OutOrStdout())
	var writeErr error
	write := func(env stream.Envelope) {
		if writeErr == nil {
			writeErr = enc.Encode(env)
		}
	}
	det.SubscribeState(func(e fatigue.StateEvent) {
		write(stream.Envelope{SetID: setID, Type: stream.TypeState, State: &e})
	})
	if debugFrames {
		det.SubscribeDebug(func(e fatigue.DebugEvent) {
			write(stream.Envelope{SetID: setID, Type: stream.TypeDebug, Debug: &e})
		})
	}

	n, err := replay(det, in, format, func() error { return writeErr })
	if err != nil {
		return fmt.Errorf("replay %s: %w", name, err)
	}

	last, _ := det.LastTimestamp()
	logger.Info("replay complete",
		"input", name,
		"samples", n,
		"state", det.State(),
		"time_in_state", det.TimeInState(last))
	return nil
}

// replay feeds every sample from r into det, stopping at the first read or
// output error. It returns the number of samples read.
func replay(det *fatigue.Detector, r io.Reader, format string, outErr func() error) (int, error) {
	if format == FormatCSV {
		samples, err := ingest.ParseCSV(r)
		if err != nil {
			return 0, err
		}
		for i, s := range samples {
			det.Update(s)
			if err := outErr(); err != nil {
				return i + 1, fmt.Errorf("write output: %w", err)
			}
		}
		return len(samples), nil
	}

	reader := ingest.NewReader(r)
	n := 0
	for {
		s, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
		det.Update(s)
		if err := outErr(); err != nil {
			return n, fmt.Errorf("write output: %w", err)
		}
	}
}
