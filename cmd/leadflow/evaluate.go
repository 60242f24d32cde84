package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/rafaeljc/leadflow/internal/ruleengine"
)

// ruleFile is the on-disk shape accepted by evaluate: either a bare array
// of rules or an object with rules and profiles.
type ruleFile struct {
	Rules    []ruleengine.LogicRule              `json:"rules"`
	Profiles []ruleengine.PersonalizationProfile `json:"profiles"`
}

func NewEvaluateCommand() *cli.Command {
	return &cli.Command{
		Name:    "evaluate",
		Aliases: []string{"eval"},
		Usage:   "Run a rule file against a session state and print the actions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "rules",
				Usage:    "Path to a JSON file with rules (array, or {\"rules\":[],\"profiles\":[]})",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Path to a JSON object with the session state; - reads stdin",
				Value: "-",
			},
			&cli.StringFlag{
				Name:  "event",
				Usage: "Fired trigger event",
				Value: string(ruleengine.EventFlowStart),
			},
			&cli.StringFlag{
				Name:  "step",
				Usage: "Step id of the fired event",
			},
			&cli.StringFlag{
				Name:  "field",
				Usage: "Field id of the fired event",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			raw, err := os.ReadFile(cmd.String("rules"))
			if err != nil {
				return fmt.Errorf("failed to read rules: %w", err)
			}
			rf, err := parseRuleFile(raw)
			if err != nil {
				return err
			}

			stateRaw, err := readInput(cmd.String("state"), os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read state: %w", err)
			}
			var state ruleengine.State
			if err := json.Unmarshal(stateRaw, &state); err != nil {
				return fmt.Errorf("invalid session state: %w", err)
			}

			fired := ruleengine.Trigger{
				Event:   ruleengine.TriggerEvent(cmd.String("event")),
				StepID:  cmd.String("step"),
				FieldID: cmd.String("field"),
			}
			if !fired.Event.IsValid() {
				return fmt.Errorf("unknown trigger event %q", fired.Event)
			}

			set := ruleengine.Compile("cli", rf.Rules, rf.Profiles)
			for _, msg := range set.Broken() {
				slog.Warn("rule skipped", slog.String("reason", msg))
			}

			result := ruleengine.New(slog.Default(), nil).Execute(set, state, fired)
			return writeJSON(cmd.Root().Writer, result)
		},
	}
}

func parseRuleFile(raw []byte) (ruleFile, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var rules []ruleengine.LogicRule
		if err := json.Unmarshal(raw, &rules); err != nil {
			return ruleFile{}, fmt.Errorf("invalid rules file: %w", err)
		}
		return ruleFile{Rules: rules}, nil
	}

	var rf ruleFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		return ruleFile{}, fmt.Errorf("invalid rules file: %w", err)
	}
	return rf, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func writeJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
