package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/rafaeljc/leadflow/internal/experiment"
)

// allocation is one line of allocate output.
type allocation struct {
	VisitorID string `json:"visitorId"`
	TestID    string `json:"testId"`
	Bucket    int    `json:"bucket"`
	Variant   string `json:"variant,omitempty"`
	Allocated bool   `json:"allocated"`
}

func NewAllocateCommand() *cli.Command {
	return &cli.Command{
		Name:  "allocate",
		Usage: "Show which variant the allocator assigns to visitors",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "test-id",
				Usage:    "A/B test id",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:     "visitor",
				Aliases:  []string{"v"},
				Usage:    "Visitor id; repeatable",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "variant",
				Usage: "Variant as name=allocation, in test order; repeatable. Defaults to control=50 variant=50",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			specs := cmd.StringSlice("variant")
			if len(specs) == 0 {
				specs = []string{"control=50", "variant=50"}
			}
			variants, err := parseAllocations(specs)
			if err != nil {
				return err
			}

			testID := cmd.String("test-id")
			out := make([]allocation, 0, len(cmd.StringSlice("visitor")))
			for _, visitor := range cmd.StringSlice("visitor") {
				a := allocation{VisitorID: visitor, TestID: testID, Bucket: experiment.Bucket(visitor, testID)}
				if v, ok := experiment.Allocate(variants, visitor, testID); ok {
					a.Variant, a.Allocated = v.Name, true
				}
				out = append(out, a)
			}
			return writeJSON(cmd.Root().Writer, out)
		},
	}
}

// parseAllocations reads "name=percent" pairs. The first one is the control.
func parseAllocations(specs []string) ([]experiment.Variant, error) {
	variants := make([]experiment.Variant, 0, len(specs))
	sum := 0
	for i, spec := range specs {
		name, pct, ok := strings.Cut(spec, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("variant %q: expected name=allocation", spec)
		}
		n, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil || n < 0 || n > 100 {
			return nil, fmt.Errorf("variant %q: allocation must be an integer between 0 and 100", spec)
		}
		sum += n
		variants = append(variants, experiment.Variant{
			Name:              strings.TrimSpace(name),
			IsControl:         i == 0,
			TrafficAllocation: n,
			Position:          i,
		})
	}
	if sum > 100 {
		return nil, fmt.Errorf("allocations sum to %d, more than 100", sum)
	}
	return variants, nil
}
