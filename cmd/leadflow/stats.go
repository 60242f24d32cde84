package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rafaeljc/leadflow/internal/stats"
)

func NewStatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Analyze view and conversion counts the way a running test would",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "variant",
				Usage:    "Counts as name:views:conversions; the first is the control; repeatable",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "confidence",
				Usage: "Confidence level: 90, 95 or 99",
				Value: 95,
			},
			&cli.Int64Flag{
				Name:  "min-sample",
				Usage: "Minimum views per variant before a winner can be called",
				Value: 100,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			counts, err := parseCounts(cmd.StringSlice("variant"))
			if err != nil {
				return err
			}

			conf := int(cmd.Int("confidence"))
			switch conf {
			case 90, 95, 99:
			default:
				return fmt.Errorf("confidence must be 90, 95 or 99, got %d", conf)
			}

			res := stats.Calculate("cli", counts, stats.Settings{
				ConfidenceLevel: conf,
				MinSampleSize:   cmd.Int64("min-sample"),
			}, time.Now().UTC())
			if res == nil {
				return fmt.Errorf("no views recorded, nothing to analyze")
			}
			return writeJSON(cmd.Root().Writer, res)
		},
	}
}

// parseCounts reads "name:views:conversions" triples. The first one is the control.
func parseCounts(specs []string) ([]stats.Counts, error) {
	counts := make([]stats.Counts, 0, len(specs))
	for i, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("variant %q: expected name:views:conversions", spec)
		}
		views, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || views < 0 {
			return nil, fmt.Errorf("variant %q: views must be a non-negative integer", spec)
		}
		conv, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || conv < 0 {
			return nil, fmt.Errorf("variant %q: conversions must be a non-negative integer", spec)
		}
		if conv > views {
			return nil, fmt.Errorf("variant %q: conversions exceed views", spec)
		}
		counts = append(counts, stats.Counts{
			VariantID:   fmt.Sprintf("v%d", i),
			Name:        strings.TrimSpace(parts[0]),
			IsControl:   i == 0,
			Views:       views,
			Conversions: conv,
		})
	}
	return counts, nil
}
