// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/fatiguedetector/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "fatiguedetector",
	Short: "Real-time muscle fatigue state detector",
	Long: `Classifies a normalized muscle-activation signal as rising, plateaued or
falling (fatigue) during a resistance-training set. Samples can be replayed
from a recording or consumed live from NATS.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().StringP("nats", "n", "nats://127.0.0.1:4222", "NATS server URL")
	rootCmd.PersistentFlags().StringP("listen", "l", ":8080", "websocket hub listen address (empty to disable)")
	rootCmd.PersistentFlags().Float64P("alpha", "a", 0.25, "EWMA smoothing factor")
	rootCmd.PersistentFlags().Bool("publish-debug", false, "publish per-sample debug frames")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text or json)")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	bindFlags()
}

// bindFlags maps persistent flags onto their config keys.
func bindFlags() {
	flags := rootCmd.PersistentFlags()
	viper.BindPFlag("nats_url", flags.Lookup("nats"))
	viper.BindPFlag("listen_addr", flags.Lookup("listen"))
	viper.BindPFlag("ewma_alpha", flags.Lookup("alpha"))
	viper.BindPFlag("publish_debug", flags.Lookup("publish-debug"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("debug", flags.Lookup("debug"))
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}
