package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nids-dash/nids-go/internal/artifacts"
	"github.com/nids-dash/nids-go/internal/detect"
	"github.com/nids-dash/nids-go/internal/features"
	"github.com/nids-dash/nids-go/internal/result"
	"github.com/nids-dash/nids-go/internal/server"
)

var (
	predictSets []string
	predictJSON bool
	defaultJSON bool
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Classify one record from the command line",
	Long: `Classify one record. Every feature starts at its dataset mean; override
individual features with --set, quoting names that contain spaces:

  nids predict --set "Port Number=80" --set " Delta Packets Tx Dropped=12"`,
	Args: cobra.NoArgs,
	RunE: runPredict,
}

var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the dataset mean of every feature",
	Args:  cobra.NoArgs,
	RunE:  runDefaults,
}

func init() {
	predictCmd.Flags().StringArrayVar(&predictSets, "set", nil, "feature override as name=value (repeatable)")
	predictCmd.Flags().BoolVar(&predictJSON, "json", false, "print the verdict as JSON")
	defaultsCmd.Flags().BoolVar(&defaultJSON, "json", false, "print the means as JSON")
}

// oneShot is the prediction slot of a single CLI invocation.
type oneShot struct {
	label *features.Label
}

func (o *oneShot) ID() string { return "cli" }

func (o *oneShot) SetPrediction(_ context.Context, l features.Label) error {
	o.label = &l
	return nil
}

func runPredict(cmd *cobra.Command, _ []string) error {
	overrides, err := parseSets(predictSets)
	if err != nil {
		return err
	}

	logger := server.SetupLogger(cfg.LogLevel, os.Stderr)
	p, table, err := artifacts.New(artifactPaths(cfg), logger).LoadAll(cmd.Context())
	if err != nil {
		return err
	}
	ctrl := detect.NewController(p, table, logger)
	rec, err := ctrl.ParseMap(overrides)
	if err != nil {
		return err
	}

	st := &oneShot{}
	if _, err := ctrl.Detect(cmd.Context(), st, rec); err != nil {
		return err
	}
	return printVerdict(cmd.OutOrStdout(), result.Present(st.label), predictJSON)
}

func runDefaults(cmd *cobra.Command, _ []string) error {
	logger := server.SetupLogger(cfg.LogLevel, os.Stderr)
	table, err := artifacts.New(artifactPaths(cfg), logger).LoadDataset(cmd.Context())
	if err != nil {
		return err
	}
	return printDefaults(cmd.OutOrStdout(), table.Defaults(), defaultJSON)
}

// parseSets splits name=value pairs on the last '=' so names keep any '='.
func parseSets(sets []string) (map[string]float64, error) {
	out := make(map[string]float64, len(sets))
	for _, s := range sets {
		i := strings.LastIndex(s, "=")
		if i <= 0 {
			return nil, fmt.Errorf("--set %q: want name=value", s)
		}
		name, raw := s[:i], strings.TrimSpace(s[i+1:])
		if _, ok := features.Index(name); !ok {
			return nil, fmt.Errorf("--set %q: unknown feature %q", s, name)
		}
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("--set %q: %w", s, err)
		}
		out[name] = val
	}
	return out, nil
}

func printVerdict(w io.Writer, view result.View, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	fmt.Fprintln(w, view.Category)
	fmt.Fprintln(w, view.Message)
	if len(view.Actions) > 0 {
		fmt.Fprintln(w, "\nRecommended Actions:")
		for i, a := range view.Actions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, a)
		}
	}
	return nil
}

func printDefaults(w io.Writer, rec features.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec.Map())
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, name := range features.Names {
		v, _ := rec.Get(name)
		fmt.Fprintf(tw, "%q\t%.2f\n", name, v)
	}
	return tw.Flush()
}
