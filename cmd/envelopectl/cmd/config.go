package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/harbor_relay/internal/dsn"
)

type configView struct {
	DSN        string `json:"dsn"`
	Timeout    string `json:"timeout"`
	JSON       bool   `json:"json"`
	Debug      bool   `json:"debug"`
	ConfigFile string `json:"config_file,omitempty"`
}

func (c configView) lines() [][2]string {
	file := c.ConfigFile
	if file == "" {
		file = "none (using defaults)"
	}
	return [][2]string{
		{"DSN", c.DSN},
		{"Timeout", c.Timeout},
		{"JSON output", strconv.FormatBool(c.JSON)},
		{"Debug", strconv.FormatBool(c.Debug)},
		{"Config file", file},
	}
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage envelopectl configuration",
	Long:  `Manage envelopectl configuration settings.`,
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printOutput(cmd.OutOrStdout(), configView{
			DSN:        viper.GetString("dsn"),
			Timeout:    viper.GetDuration("timeout").String(),
			JSON:       viper.GetBool("json"),
			Debug:      viper.GetBool("debug"),
			ConfigFile: viper.ConfigFileUsed(),
		}, outputJSON)
	},
}

// configSetCmd represents the config set command
var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it to the config file.

Examples:
  envelopectl config set dsn https://abc123@o1.ingest.example.com/42
  envelopectl config set timeout 5s
  envelopectl config set json true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setConfigValue(viper.GetViper(), args[0], args[1]); err != nil {
			return err
		}

		configPath := cfgFile
		if configPath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get home directory: %w", err)
			}
			configPath = filepath.Join(home, ".envelopectl.yaml")
		}

		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", configPath)
		return nil
	},
}

// setConfigValue validates value for key and stores it in v
func setConfigValue(v *viper.Viper, key, value string) error {
	switch key {
	case "dsn":
		if _, err := dsn.Parse(value); err != nil {
			return fmt.Errorf("refusing to save dsn: %w", err)
		}
		v.Set(key, value)
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid timeout %q: use a positive duration such as 2s", value)
		}
		v.Set(key, d.String())
	case "json", "debug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
		}
		v.Set(key, b)
	default:
		return fmt.Errorf("invalid configuration key: %s. Valid keys are: dsn, timeout, json, debug", key)
	}
	return nil
}

func init() {
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
