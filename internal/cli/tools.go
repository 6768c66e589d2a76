package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/harun/callcore/pkg/agent"
	"github.com/harun/callcore/pkg/manifest"
	"github.com/spf13/cobra"
)

var (
	toolsManifest string
	toolsJSON     bool
	toolsWatch    bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List and validate a tool manifest",
	Long: `Load a tool manifest (JSON or YAML), validate every tool and print them.
With --watch the manifest is re-validated and printed again whenever it changes.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsManifest, "manifest", "", "manifest file (default is tools.manifest_path from config)")
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print the manifest as JSON")
	toolsCmd.Flags().BoolVar(&toolsWatch, "watch", false, "reload and print on every change until interrupted")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	path := toolsManifest
	if path == "" {
		path = a.cfg.Tools.ManifestPath
	}
	if path == "" {
		return fmt.Errorf("no manifest given: use --manifest or set tools.manifest_path")
	}

	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err := printManifest(out, m, toolsJSON); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("manifest %s is invalid: %w", path, err)
	}
	if !toolsWatch {
		return nil
	}

	watcher, err := manifest.NewWatcher(manifest.WatcherConfig{
		Path:   path,
		Logger: a.log.GetZerolog(),
		OnChange: func(next *manifest.Manifest) {
			fmt.Fprintln(out, "---")
			if err := printManifest(out, next, toolsJSON); err != nil {
				a.log.Error().Err(err).Msg("Failed to print manifest")
			}
			if err := next.Validate(); err != nil {
				a.log.Warn().Err(err).Msg("Reloaded manifest is invalid")
			}
		},
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	<-cmd.Context().Done()
	return nil
}

func printManifest(w io.Writer, m *manifest.Manifest, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tFILLERS\tTARGET")
	for _, spec := range m.Tools {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", spec.Name, spec.Kind, fillerSummary(spec), target(spec))
	}
	for pool, phrases := range m.FillerPhrases {
		fmt.Fprintf(tw, "pool:%s\t\t%d phrases\t\n", pool, len(phrases))
	}
	return tw.Flush()
}

func fillerSummary(spec agent.ToolSpec) string {
	switch {
	case spec.SilentFillers:
		return "silent"
	case len(spec.Fillers) > 0:
		return fmt.Sprintf("%d phrases", len(spec.Fillers))
	default:
		return "session"
	}
}

func target(spec agent.ToolSpec) string {
	if spec.Endpoint == nil {
		return "-"
	}
	method := spec.Endpoint.Method
	if method == "" {
		method = "POST"
	}
	return strings.ToUpper(method) + " " + spec.Endpoint.URL
}
