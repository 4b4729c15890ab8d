package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/harbor_relay/internal/config"
	"github.com/austindbirch/harbor_relay/internal/envelope"
	"github.com/austindbirch/harbor_relay/internal/health"
	"github.com/austindbirch/harbor_relay/internal/logging"
	"github.com/austindbirch/harbor_relay/internal/metrics"
	"github.com/austindbirch/harbor_relay/internal/tracing"
	"github.com/austindbirch/harbor_relay/internal/transport"
)

const serviceName = "harborrelay-relay"

// envelopeSender is the part of the transport the NSQ handler uses
type envelopeSender interface {
	Send(env envelope.Envelope)
}

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	logger := logging.New(serviceName)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Plain().WithError(err).Fatal("invalid config")
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.InitTracing(ctx, serviceName, cfg.Relay.OTLPEndpoint)
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdownTracing()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	tr := newTransport(cfg.Transport, os.Stdout)
	if err := tr.Startup(cfg.Transport.DSN, cfg.Transport.Debug); err != nil {
		// the transport stays inert; keep consuming so the channel does not back up
		logger.Plain().WithError(err).Error("transport disabled, envelopes will be discarded")
	}

	httpSrv := &http.Server{
		Addr:              cfg.Relay.HTTPPort,
		Handler:           newMux(reg, tr),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("relay HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("relay HTTP server failed")
		}
	}()

	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = cfg.NSQ.MaxInFlight
	consumer, err := nsq.NewConsumer(cfg.NSQ.EnvelopeTopic, cfg.NSQ.RelayChannel, nsqCfg)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}
	consumer.AddHandler(newEnvelopeHandler(tr, logger))

	// connecting to nsqd directly creates the channel before the first publish
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go newBacklogMonitor(cfg.NSQ, logger).run(monitorCtx, 15*time.Second)

	logger.Plain().WithFields(map[string]any{
		"topic":   cfg.NSQ.EnvelopeTopic,
		"channel": cfg.NSQ.RelayChannel,
	}).Info("relay service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down relay service")
	consumer.Stop()
	<-consumer.StopChan
	stopMonitor()

	result := tr.Shutdown(cfg.Transport.ShutdownTimeout)
	logger.Plain().WithField("result", result.String()).Info("transport flushed")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("relay service stopped")
}

// newTransport builds the transport around a logger of its own. The transport
// debug flag then never raises the relay's log level.
func newTransport(cfg config.Transport, out io.Writer) *transport.Transport {
	logger := logging.New(serviceName + "-transport")
	logger.SetOutput(out)
	return transport.New(transport.Options{
		Client:    &http.Client{Timeout: cfg.HTTPTimeout},
		QueueSize: cfg.QueueSize,
		Logger:    logger,
	})
}

func newMux(reg *prometheus.Registry, tr health.TransportReporter) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(tr))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// newEnvelopeHandler hands every NSQ message body to the transport as one
// envelope. Send never blocks, so messages are always finished; an envelope
// the transport drops is not requeued.
func newEnvelopeHandler(tr envelopeSender, logger *logging.Logger) nsq.Handler {
	return nsq.HandlerFunc(func(m *nsq.Message) error {
		if len(m.Body) == 0 {
			logger.Plain().
				WithField("nsq_message_id", string(m.ID[:])).
				Warn("empty nsq message, skipping")
			return nil
		}

		tr.Send(envelope.New(m.Body))
		return nil
	})
}
