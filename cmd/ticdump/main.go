// ticdump decodes recorded TIC captures offline: raw binary dumps or
// .ticlog files written by ticd's recorder.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ticd/internal/meter"
	"ticd/internal/replay"
	"ticd/internal/tic"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ticdump",
		Short:         "Decode recorded TIC captures",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(framesCmd(), datasetsCmd(), valuesCmd())
	return root
}

// loadChunks flattens a capture into its chunk sequence, timing ignored.
func loadChunks(path string) ([][]byte, error) {
	records, err := replay.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load capture: %w", err)
	}
	chunks := make([][]byte, 0, len(records))
	for _, r := range records {
		if r.Chunk != nil {
			chunks = append(chunks, r.Chunk)
		}
	}
	return chunks, nil
}

func framesCmd() *cobra.Command {
	var hexDump bool
	cmd := &cobra.Command{
		Use:   "frames <capture>",
		Short: "List frame payloads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunks, err := loadChunks(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			n := 0
			var current []byte
			u := tic.NewStreamUnframer(
				func(p []byte) { current = append(current, p...) },
				func() {
					n++
					if hexDump {
						fmt.Fprintf(out, "frame %d (%d bytes): % X\n", n, len(current), current)
					} else {
						fmt.Fprintf(out, "frame %d: %d bytes\n", n, len(current))
					}
					current = current[:0]
				},
			)
			for _, chunk := range chunks {
				u.PushBytes(chunk)
			}
			fmt.Fprintf(out, "%d frame(s), max payload %d bytes\n", n, u.MaxFrameSizeFromRecentHistory())
			return nil
		},
	}
	cmd.Flags().BoolVar(&hexDump, "hex", false, "dump full frame payload as hex")
	return cmd
}

func datasetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets <capture>",
		Short: "List datasets with their parse outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunks, err := loadChunks(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			frame := 1
			extractor := tic.NewDatasetExtractor(tic.EndOnCR, func(ds []byte) {
				v := tic.ParseDataset(ds)
				switch {
				case v.Valid():
					horodate := ""
					if v.HasHorodate {
						horodate = fmt.Sprintf(" horodate=%02d/%02d/%04d %02d:%02d:%02d",
							v.Horodate.Day, v.Horodate.Month, v.Horodate.Year,
							v.Horodate.Hour, v.Horodate.Minute, v.Horodate.Second)
					}
					fmt.Fprintf(out, "frame %d %s %s=%q%s\n", frame, v.Kind, v.Label, v.Data, horodate)
				default:
					fmt.Fprintf(out, "frame %d %s (% X)\n", frame, v.Kind, ds)
				}
			})
			u := tic.NewStreamUnframer(
				func(p []byte) { extractor.PushBytes(p) },
				func() {
					frame++
					extractor.Reset()
				},
			)
			for _, chunk := range chunks {
				u.PushBytes(chunk)
			}
			return nil
		},
	}
	return cmd
}

func valuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "values <capture>",
		Short: "Print the folded meter snapshot after decoding the capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunks, err := loadChunks(args[0])
			if err != nil {
				return err
			}

			p := meter.NewPipeline(meter.Options{})
			for _, chunk := range chunks {
				p.PushBytes(chunk)
			}

			b, err := json.MarshalIndent(p.Snapshot(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	return cmd
}
