package registry

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/teamsquad/eventbus-go/catalog"
)

// NewCompileCommand returns a `compile` command that compiles the catalog
// returned by catalogFn. Applications embed it in their own CLI so the
// catalog is linked in.
func NewCompileCommand(catalogFn func() *catalog.Catalog, logger *slog.Logger) *cobra.Command {
	var (
		configPath string
		outputDir  string
		eventMap   string
		whiteList  []string
		blackList  []string
		minSize    int
	)

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Generate consumer configuration from the type catalog",
		Long: `Compile inspects every consumer in the catalog that passes the white and
black lists and writes controller_map.json, routes.json and consumer_config.json.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("output") {
				cfg.OutputDir = outputDir
			}
			if flags.Changed("event-map") {
				cfg.EventMapPath = eventMap
			}
			if flags.Changed("white-list") {
				cfg.WhiteList = whiteList
			}
			if flags.Changed("black-list") {
				cfg.BlackList = blackList
			}
			if flags.Changed("min-catalog-size") {
				cfg.MinCatalogSize = minSize
			}

			var cat *catalog.Catalog
			if catalogFn != nil {
				cat = catalogFn()
			}

			compiler := NewCompiler(cfg, WithCompilerLogger(logger), WithProgress(cmd.OutOrStdout()))
			if _, err := compiler.Compile(cat); err != nil {
				return fmt.Errorf("compile failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (yaml, json or dotenv)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Artifact directory, overrides configuration_path")
	cmd.Flags().StringVar(&eventMap, "event-map", "", "Also write the event map to this file")
	cmd.Flags().StringSliceVar(&whiteList, "white-list", nil, "Type name prefixes to include")
	cmd.Flags().StringSliceVar(&blackList, "black-list", nil, "Type name prefixes to exclude")
	cmd.Flags().IntVar(&minSize, "min-catalog-size", DefaultMinCatalogSize, "Reject catalogs with fewer entries")

	return cmd
}
