package cli

import (
	"encoding/json"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command, which prints the merged
// configuration.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after merging defaults, the config file, the
dotenv file and STOCKSCAN_* environment variables.

Text output is TOML and can be saved as a starting stockscan.toml.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(CLIResponse{Status: "ok", Data: cfg})
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}
}
