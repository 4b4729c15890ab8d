package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_relay/internal/dsn"
)

type dsnInfo struct {
	DSN         string `json:"dsn"`
	Scheme      string `json:"scheme"`
	Host        string `json:"host"`
	Project     string `json:"project"`
	PublicKey   string `json:"public_key"`
	EnvelopeURL string `json:"envelope_url"`
	AuthHeader  string `json:"auth_header"`
}

func (d dsnInfo) lines() [][2]string {
	return [][2]string{
		{"DSN", d.DSN},
		{"Scheme", d.Scheme},
		{"Host", d.Host},
		{"Project", d.Project},
		{"Public key", d.PublicKey},
		{"Envelope URL", d.EnvelopeURL},
		{"Auth header", d.AuthHeader},
	}
}

// dsnCmd represents the dsn command
var dsnCmd = &cobra.Command{
	Use:   "dsn [dsn]",
	Short: "Validate a DSN and show where envelopes would be sent",
	Long: `Parse a DSN and print the collector endpoint and auth header derived from it.

Examples:
  envelopectl dsn https://abc123@o1.ingest.example.com/42
  SENTRY_DSN=https://abc123@o1.ingest.example.com/42 envelopectl dsn --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := rawDSN
		if len(args) == 1 {
			raw = args[0]
		}
		return describeDSN(cmd.OutOrStdout(), raw, outputJSON)
	},
}

func describeDSN(w io.Writer, raw string, asJSON bool) error {
	if raw == "" {
		return errors.New("no DSN given: pass one as an argument, with --dsn or via SENTRY_DSN")
	}

	d, err := dsn.Parse(raw)
	if err != nil {
		return fmt.Errorf("dsn rejected: %w", err)
	}

	return printOutput(w, dsnInfo{
		DSN:         d.String(),
		Scheme:      d.Scheme,
		Host:        d.Host,
		Project:     d.ProjectPath,
		PublicKey:   d.PublicKey,
		EnvelopeURL: d.EnvelopeURL(),
		AuthHeader:  d.AuthHeader(),
	}, asJSON)
}

func init() {
	rootCmd.AddCommand(dsnCmd)
}
