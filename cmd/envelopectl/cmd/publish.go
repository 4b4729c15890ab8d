package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	nsqdAddr     string
	publishTopic string
)

// publisher is the part of *nsq.Producer publish needs
type publisher interface {
	Publish(topic string, body []byte) error
}

type publishSummary struct {
	Topic     string `json:"topic"`
	Envelopes int    `json:"envelopes"`
	Bytes     int    `json:"bytes"`
}

func (p publishSummary) lines() [][2]string {
	return [][2]string{
		{"Topic", p.Topic},
		{"Envelopes", strconv.Itoa(p.Envelopes)},
		{"Bytes", strconv.Itoa(p.Bytes)},
	}
}

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish [file...]",
	Short: "Publish envelope files to the relay's NSQ topic",
	Long: `Publish one NSQ message per envelope file. A running envelope-relay consumes
the topic and ships each message to its collector.

Examples:
  envelopectl publish --nsqd localhost:4150 event.envelope
  cat event.envelope | envelopectl publish --topic envelopes -`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := nsqdAddr
		if !cmd.Flags().Changed("nsqd") {
			if a := viper.GetString("nsqd_tcp_addr"); a != "" {
				addr = a
			}
		}
		topic := publishTopic
		if !cmd.Flags().Changed("topic") {
			if t := viper.GetString("nsq_envelope_topic"); t != "" {
				topic = t
			}
		}

		prod, err := nsq.NewProducer(addr, nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("nsq producer creation failed: %w", err)
		}
		defer prod.Stop()

		summary, err := publishFiles(prod, cmd.InOrStdin(), topic, args)
		if err != nil {
			return err
		}
		return printOutput(cmd.OutOrStdout(), summary, outputJSON)
	},
}

func publishFiles(prod publisher, stdin io.Reader, topic string, paths []string) (publishSummary, error) {
	summary := publishSummary{Topic: topic}
	for _, p := range paths {
		b, err := readInput(stdin, p)
		if err != nil {
			return summary, err
		}
		if len(b) == 0 {
			return summary, errors.New("refusing to publish an empty envelope: " + p)
		}
		if err := prod.Publish(topic, b); err != nil {
			return summary, fmt.Errorf("publish %s: %w", p, err)
		}
		summary.Envelopes++
		summary.Bytes += len(b)
	}
	return summary, nil
}

func init() {
	publishCmd.Flags().StringVar(&nsqdAddr, "nsqd", "localhost:4150", "nsqd TCP address")
	publishCmd.Flags().StringVar(&publishTopic, "topic", "envelopes", "NSQ topic the relay consumes")
	viper.BindEnv("nsqd_tcp_addr", "NSQD_TCP_ADDR")
	viper.BindEnv("nsq_envelope_topic", "NSQ_ENVELOPE_TOPIC")
	rootCmd.AddCommand(publishCmd)
}
