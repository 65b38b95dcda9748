package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nids-dash/nids-go/internal/artifacts"
	"github.com/nids-dash/nids-go/internal/config"
	"github.com/nids-dash/nids-go/internal/model"
)

var (
	configPath string
	v          = config.New()
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "nids",
	Short: "Network intrusion detection dashboard",
	Long: `nids serves a dashboard that classifies SDN switch port statistics
with a trained intrusion detection model.

Settings come from an optional YAML file (--config) and NIDS_* environment
variables, e.g. NIDS_MODEL_PATH or NIDS_DATABASE_URL.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	if err := v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(serveCmd, predictCmd, defaultsCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func artifactPaths(c *config.Config) artifacts.Paths {
	return artifacts.Paths{
		Model: model.Options{
			Kind:    c.Model.Kind,
			Path:    c.Model.Path,
			URL:     c.Model.URL,
			ID:      c.Model.ID,
			Timeout: c.Model.Timeout,
		},
		Dataset: c.Dataset.Path,
		Logo:    c.Logo.Path,
	}
}
