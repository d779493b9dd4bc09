package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/failover/internal/core/config"
	"github.com/vietddude/failover/internal/infra/resilience"
)

var presetsCmd = &cobra.Command{
	Use:   "presets [name...]",
	Short: "Print the effective resilience presets",
	Run:   runPresets,
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}

func runPresets(cmd *cobra.Command, args []string) {
	presets := resilience.DefaultPresets()
	if cfg, err := config.Load(cfgPath); err == nil {
		presets = cfg.Presets
	} else {
		slog.Warn("Using built-in presets", "error", err)
	}

	if err := renderPresets(os.Stdout, presets, args); err != nil {
		slog.Error("Failed to render presets", "error", err)
		os.Exit(1)
	}
}

func renderPresets(out io.Writer, presets resilience.Presets, names []string) error {
	if len(names) == 0 {
		names = presets.Names()
	}

	header := color.New(color.FgCyan, color.Bold)
	for _, name := range names {
		preset, ok := presets[name]
		if !ok {
			return fmt.Errorf("unknown preset %q", name)
		}
		data, err := yaml.Marshal(preset)
		if err != nil {
			return fmt.Errorf("failed to marshal preset %s: %w", name, err)
		}
		_, _ = header.Fprintf(out, "# %s\n", name)
		_, _ = fmt.Fprintln(out, string(data))
	}
	return nil
}
