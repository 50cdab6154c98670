package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/camara-sync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after applying the override chain:
defaults, config file, environment variables, then flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, cc.Cfg)
			}

			return config.RenderEffective(cc.Cfg, cc.Stdout)
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file with every default",
		Long: `Write the default configuration to --config, $CAMARA_SYNC_CONFIG or the
platform config path. An existing file is left untouched.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			path := cc.Flags.ConfigPath
			if path == "" {
				path = config.ReadEnvOverrides().ConfigPath
			}

			if path == "" {
				path = config.DefaultConfigPath()
			}

			if err := config.WriteDefault(path); err != nil {
				return err
			}

			cc.Statusf("Wrote %s\n", path)

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, struct {
					Path string `json:"path"`
				}{path})
			}

			return nil
		},
	}
}
