package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_relay/internal/envelope"
	"github.com/austindbirch/harbor_relay/internal/logging"
	"github.com/austindbirch/harbor_relay/internal/transport"
)

type sendSummary struct {
	Envelopes int    `json:"envelopes"`
	Bytes     int    `json:"bytes"`
	Result    string `json:"result"`
	Elapsed   string `json:"elapsed"`
}

func (s sendSummary) lines() [][2]string {
	return [][2]string{
		{"Envelopes", strconv.Itoa(s.Envelopes)},
		{"Bytes", strconv.Itoa(s.Bytes)},
		{"Flush", s.Result},
		{"Elapsed", s.Elapsed},
	}
}

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [file...]",
	Short: "Send serialized envelope files to the collector",
	Long: `Queue one envelope per file and wait up to --timeout for them to be delivered.
Use "-" to read a single envelope from stdin.

Delivery failures for individual envelopes are reported on stderr; the command
fails only when the DSN is invalid or the flush times out.

Examples:
  envelopectl send --dsn https://abc123@o1.ingest.example.com/42 event.envelope
  cat event.envelope | envelopectl send -`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.New("envelopectl")
		logger.SetOutput(cmd.ErrOrStderr())

		opts := transport.Options{
			Client: &http.Client{Timeout: timeout},
			Logger: logger,
		}
		summary, err := sendFiles(cmd.InOrStdin(), args, rawDSN, timeout, debug, opts)
		if err != nil {
			return err
		}
		return printOutput(cmd.OutOrStdout(), summary, outputJSON)
	},
}

// sendFiles reads every path into an envelope, pushes them through a fresh
// transport and waits up to wait for the queue to drain.
func sendFiles(stdin io.Reader, paths []string, raw string, wait time.Duration, debug bool, opts transport.Options) (sendSummary, error) {
	var summary sendSummary
	if raw == "" {
		return summary, errors.New("no DSN given: use --dsn or SENTRY_DSN")
	}

	envs := make([]envelope.Envelope, 0, len(paths))
	for _, p := range paths {
		b, err := readInput(stdin, p)
		if err != nil {
			return summary, err
		}
		envs = append(envs, envelope.New(b))
		summary.Bytes += len(b)
	}
	summary.Envelopes = len(envs)

	if opts.QueueSize < len(envs) {
		opts.QueueSize = len(envs)
	}
	tr := transport.New(opts)
	if err := tr.Startup(raw, debug); err != nil {
		return summary, err
	}

	start := time.Now()
	for _, env := range envs {
		tr.Send(env)
	}
	result := tr.Shutdown(wait)
	summary.Result = result.String()
	summary.Elapsed = time.Since(start).Round(time.Millisecond).String()

	if result == transport.ShutdownTimedOut {
		return summary, fmt.Errorf("envelopes still pending after %s", wait)
	}
	return summary, nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return b, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read envelope file: %w", err)
	}
	return b, nil
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
