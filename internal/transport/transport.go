package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/harbor_relay/internal/delivery"
	"github.com/austindbirch/harbor_relay/internal/dsn"
	"github.com/austindbirch/harbor_relay/internal/envelope"
	"github.com/austindbirch/harbor_relay/internal/logging"
	"github.com/austindbirch/harbor_relay/internal/metrics"
)

const (
	// DefaultQueueSize is the queue capacity used when Options.QueueSize is zero
	DefaultQueueSize = 1024
	// DefaultHTTPTimeout bounds a single POST made by the default client
	DefaultHTTPTimeout = 15 * time.Second
)

// Doer executes one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Transport. Zero values select defaults.
type Options struct {
	Client    Doer
	QueueSize int
	// Logger receives transport diagnostics. Startup sets its debug level
	// from the debug argument, so pass a logger owned by the transport.
	Logger *logging.Logger
}

// Transport accepts envelopes from any goroutine and ships them to the
// collector named by the DSN on a single background worker.
type Transport struct {
	client    Doer
	queueSize int
	logger    *logging.Logger

	mu     sync.RWMutex
	state  State
	desc   *dsn.Descriptor
	queue  chan queued
	worker *worker
	// abandoned is the worker left draining by the last timed out shutdown
	abandoned *worker
}

// New creates an uninitialized transport. Nothing is sent until Startup succeeds.
func New(opts Options) *Transport {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("harborrelay-transport")
	}

	return &Transport{
		client:    opts.Client,
		queueSize: opts.QueueSize,
		logger:    opts.Logger,
		state:     StateUninitialized,
	}
}

// Startup parses rawDSN and starts the delivery worker. A transport that is
// already running is left untouched. When the DSN is invalid the error is
// returned and the transport stays inert: Send drops everything. A worker
// abandoned by a timed out shutdown finishes before the new one sends.
func (t *Transport) Startup(rawDSN string, debug bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateRunning || t.state == StateDraining {
		t.logger.Plain().
			WithField("state", t.state.String()).
			Warn("transport already started, ignoring startup")
		return nil
	}

	t.logger.SetDebug(debug)

	desc, err := dsn.Parse(rawDSN)
	if err != nil {
		t.desc = nil
		t.logger.Plain().WithError(err).Error("invalid dsn, envelope delivery disabled")
		return fmt.Errorf("transport startup: %w", err)
	}

	queue := make(chan queued, t.queueSize)
	w := newWorker(queue, t.pendingWorker(), desc, t.client, t.logger)
	go w.run()

	t.desc = desc
	t.queue = queue
	t.worker = w
	t.state = StateRunning

	t.logger.Plain().
		WithProject(desc.ProjectPath).
		WithFields(map[string]any{
			"endpoint":   desc.EnvelopeURL(),
			"queue_size": t.queueSize,
			"debug":      debug,
		}).
		Info("transport started")
	return nil
}

// Send queues env for delivery without blocking. It is a no-op unless the
// transport is running; when the queue is full the envelope is dropped.
func (t *Transport) Send(env envelope.Envelope) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.state != StateRunning {
		metrics.RecordDropped(delivery.ReasonTransportInactive)
		t.logger.Plain().
			WithField("state", t.state.String()).
			Debug("transport not running, envelope discarded")
		return
	}

	item := queued{
		id:         uuid.NewString(),
		env:        env,
		enqueuedAt: time.Now(),
	}

	select {
	case t.queue <- item:
		metrics.RecordEnqueued(t.desc.ProjectPath)
		metrics.SetQueueDepth(len(t.queue))
		t.logger.Plain().
			WithEnvelope(item.id).
			WithProject(t.desc.ProjectPath).
			WithField("bytes", env.Len()).
			Debug("envelope queued")
	default:
		metrics.RecordDropped(delivery.ReasonQueueOverflow)
		t.logger.Plain().
			WithEnvelope(item.id).
			WithProject(t.desc.ProjectPath).
			WithField("queue_size", t.queueSize).
			Warn("transport queue full, dropping envelope")
	}
}

// Shutdown stops accepting envelopes and waits up to timeout for the worker
// to drain the queue. The transport ends Stopped either way; a worker that is
// still busy when the timeout fires keeps draining in the background.
func (t *Transport) Shutdown(timeout time.Duration) ShutdownResult {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return ShutdownSuccess
	}
	t.state = StateDraining
	close(t.queue)
	w := t.worker
	pending := len(t.queue)
	t.queue = nil
	t.worker = nil
	t.mu.Unlock()

	t.logger.Plain().
		WithFields(map[string]any{
			"pending": pending,
			"timeout": timeout.String(),
		}).
		Debug("draining transport queue")

	result := t.await(w, timeout)

	t.mu.Lock()
	t.state = StateStopped
	if result == ShutdownTimedOut {
		w.detach()
		t.abandoned = w
	}
	t.mu.Unlock()

	metrics.RecordShutdown(result.String())
	entry := t.logger.Plain().WithField("result", result.String())
	if result == ShutdownTimedOut {
		entry.Warn("transport shutdown timed out, abandoning delivery worker")
	} else {
		entry.Info("transport shut down")
	}
	return result
}

// pendingWorker returns the done channel of a worker abandoned by a timed out
// shutdown that is still delivering, or nil. Callers hold t.mu.
func (t *Transport) pendingWorker() <-chan struct{} {
	if t.abandoned == nil {
		return nil
	}
	select {
	case <-t.abandoned.Done():
		t.abandoned = nil
		return nil
	default:
	}

	t.logger.Plain().Warn("previous delivery worker still draining, new envelopes wait behind it")
	return t.abandoned.Done()
}

func (t *Transport) await(w *worker, timeout time.Duration) ShutdownResult {
	select {
	case <-w.Done():
		return ShutdownSuccess
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.Done():
		return ShutdownSuccess
	case <-timer.C:
		return ShutdownTimedOut
	}
}

// State returns the current lifecycle state
func (t *Transport) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// QueueLen returns the number of envelopes waiting for the worker
func (t *Transport) QueueLen() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.queue == nil {
		return 0
	}
	return len(t.queue)
}

// Descriptor returns the parsed DSN of a running transport, or nil
func (t *Transport) Descriptor() *dsn.Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state != StateRunning {
		return nil
	}
	return t.desc
}
