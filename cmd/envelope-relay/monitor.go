package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/austindbirch/harbor_relay/internal/config"
	"github.com/austindbirch/harbor_relay/internal/logging"
	"github.com/austindbirch/harbor_relay/internal/metrics"
)

// nsqStats is the subset of nsqd's /stats?format=json the monitor reads
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
	} `json:"topics"`
}

// backlogMonitor polls nsqd for the depth of the relay channel
type backlogMonitor struct {
	statsURL string
	topic    string
	channel  string
	client   *http.Client
	logger   *logging.Logger
}

func newBacklogMonitor(cfg config.NSQ, logger *logging.Logger) *backlogMonitor {
	return &backlogMonitor{
		statsURL: nsqdStatsURL(cfg.NsqdTCPAddr),
		topic:    cfg.EnvelopeTopic,
		channel:  cfg.RelayChannel,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// nsqdStatsURL derives the nsqd HTTP stats endpoint from its TCP address
func nsqdStatsURL(tcpAddr string) string {
	httpAddr := strings.Replace(tcpAddr, ":4150", ":4151", 1)
	return fmt.Sprintf("http://%s/stats?format=json", httpAddr)
}

func (b *backlogMonitor) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.poll(ctx); err != nil {
				b.logger.Plain().WithError(err).Warn("failed to update nsq backlog")
			}
		}
	}
}

func (b *backlogMonitor) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.statsURL, nil)
	if err != nil {
		return fmt.Errorf("build stats request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("get nsq stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get nsq stats: status %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode nsq stats: %w", err)
	}

	for _, topic := range stats.Topics {
		if topic.TopicName != b.topic {
			continue
		}
		for _, ch := range topic.Channels {
			if ch.ChannelName == b.channel {
				metrics.UpdateNSQChannel(b.topic, b.channel, ch.Depth, ch.InFlightCount)
			}
		}
	}
	return nil
}
