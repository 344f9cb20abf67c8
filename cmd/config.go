// cmd/config.go
package cmd

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/fatiguedetector/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Prints every setting after merging defaults, the config file and flags,
then validates the result.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().Bool("json", false, "print settings as JSON")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	if _, err := config.Get(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(viper.AllSettings())
	}

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# %s\n", used)
	}
	keys := viper.AllKeys()
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s: %v\n", k, viper.Get(k))
	}
	return nil
}
