package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_relay/internal/dsn"
)

var (
	// These will be set by ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

type versionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
	Client    string `json:"client"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func (v versionInfo) lines() [][2]string {
	return [][2]string{
		{"Version", v.Version},
		{"Git commit", v.GitCommit},
		{"Built", v.BuildTime},
		{"Client", v.Client},
		{"Go version", v.GoVersion},
		{"OS/Arch", v.Platform},
	}
}

func currentVersion() versionInfo {
	return versionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		Client:    dsn.AgentString,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version information for envelopectl.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printOutput(cmd.OutOrStdout(), currentVersion(), outputJSON)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
