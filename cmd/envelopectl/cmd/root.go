package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	rawDSN     string
	timeout    time.Duration
	outputJSON bool
	debug      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "envelopectl",
	Short: "Ship envelopes to a collector and inspect DSNs",
	Long: `envelopectl sends serialized envelopes to the collector named by a DSN
through the same bounded transport the relay uses.

The DSN is read from --dsn, the SENTRY_DSN environment variable or the
"dsn" key of the config file, in that order.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.envelopectl.yaml)")
	rootCmd.PersistentFlags().StringVar(&rawDSN, "dsn", "", "collector DSN, scheme://public_key@host/project")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Second, "how long to wait for queued envelopes to flush")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "print transport debug logs to stderr")

	viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindEnv("dsn", "SENTRY_DSN")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".envelopectl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// flags win over the config file and environment
	if !rootCmd.PersistentFlags().Changed("dsn") {
		rawDSN = viper.GetString("dsn")
	}
	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
	if !rootCmd.PersistentFlags().Changed("debug") {
		debug = viper.GetBool("debug")
	}
}

// printOutput writes v as indented JSON when asJSON is set, otherwise human
// readable key/value lines.
func printOutput(w io.Writer, v any, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if lines, ok := v.(interface{ lines() [][2]string }); ok {
		for _, kv := range lines.lines() {
			fmt.Fprintf(w, "%-14s %s\n", kv[0]+":", kv[1])
		}
		return nil
	}
	_, err := fmt.Fprintf(w, "%+v\n", v)
	return err
}
