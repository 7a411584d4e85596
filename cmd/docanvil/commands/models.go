package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docanvil/docanvil/cmd/docanvil/ui"
	"github.com/docanvil/docanvil/internal/artifact"
	"github.com/docanvil/docanvil/internal/config"
)

var modelsArtifacts string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect locally installed model artifacts",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List model artifacts and the capabilities they enable",
	RunE:  runModelsList,
}

var modelsVerifyCmd = &cobra.Command{
	Use:   "verify [capability]...",
	Short: "Verify that capabilities have their model artifacts installed",
	Long: `Verify that the named capabilities (or every known capability when none
are named) have usable model artifacts installed. Exits non-zero when
any are missing, which makes this suitable for setup scripts.`,
	RunE: runModelsVerify,
}

func init() {
	modelsCmd.PersistentFlags().StringVar(&modelsArtifacts, "artifacts", "", "model artifacts directory (default from config)")
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsVerifyCmd)
	rootCmd.AddCommand(modelsCmd)
}

// modelsBundle resolves the artifact bundle honoring the --artifacts
// override.
func modelsBundle(cfg *config.Config) *artifact.Bundle {
	dir := cfg.Artifacts.Dir
	if modelsArtifacts != "" {
		dir = modelsArtifacts
	}
	return artifact.NewResolver(newLogger(cfg)).Resolve(dir)
}

func runModelsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ui.Init(noColor, verbose)

	bundle := modelsBundle(cfg)

	ui.Section("Model Artifacts")
	ui.KeyValue("Root", bundle.Root())
	ui.Newline()

	rows := make([][]string, 0, len(bundle.Entries()))
	for _, e := range bundle.Entries() {
		status := "missing"
		weights := "-"
		size := "-"
		version := "-"
		if e.Available {
			status = "installed"
			weights = fmt.Sprintf("%d", e.WeightFiles)
			size = ui.FormatBytes(e.SizeBytes)
			if e.Version != "" {
				version = e.Version
			}
		}
		rows = append(rows, []string{string(e.Capability), status, weights, size, version, e.Path})
	}
	ui.Table([]string{"Capability", "Status", "Weights", "Size", "Version", "Path"}, rows)

	available := bundle.AvailableCapabilities()
	names := make([]string, len(available))
	for i, c := range available {
		names[i] = string(c)
	}
	ui.Newline()
	ui.Info("Enabled capabilities: %s", strings.Join(names, ", "))

	return nil
}

func runModelsVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ui.Init(noColor, verbose)

	var caps []artifact.Capability
	if len(args) == 0 {
		caps = artifact.Known()
	} else {
		for _, arg := range args {
			c, ok := artifact.ParseCapability(arg)
			if !ok {
				return fmt.Errorf("unknown capability %q", arg)
			}
			caps = append(caps, c)
		}
	}

	bundle := modelsBundle(cfg)

	var missing []string
	for _, c := range caps {
		if bundle.Available(c) {
			ui.Success("%s", c)
			continue
		}
		missing = append(missing, string(c))
		ui.Error("%s (expected at %s)", c, bundle.ExpectedPath(c))
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing model artifacts for: %s", strings.Join(missing, ", "))
	}

	ui.Newline()
	ui.Success("All requested capabilities are available")
	return nil
}
