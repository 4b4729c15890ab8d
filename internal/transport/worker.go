package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/austindbirch/harbor_relay/internal/delivery"
	"github.com/austindbirch/harbor_relay/internal/dsn"
	"github.com/austindbirch/harbor_relay/internal/envelope"
	"github.com/austindbirch/harbor_relay/internal/logging"
	"github.com/austindbirch/harbor_relay/internal/metrics"
	"github.com/austindbirch/harbor_relay/internal/tracing"
)

// maxDrainBytes bounds how much of a response body is read before closing it
const maxDrainBytes = 64 << 10

var (
	errClientPanic = errors.New("http client panicked")
	errNoResponse  = errors.New("http client returned neither response nor error")
)

// queued is one envelope waiting for the worker
type queued struct {
	id         string
	env        envelope.Envelope
	enqueuedAt time.Time
}

// worker is the single consumer of one transport queue. It is the only reader
// of queue and closes done exactly once, after the queue is closed and empty.
// When after is non-nil the worker stays idle until it is closed, so a
// restarted transport never overlaps a worker abandoned by a timed out
// shutdown.
type worker struct {
	queue  <-chan queued
	after  <-chan struct{}
	desc   *dsn.Descriptor
	client Doer
	logger *logging.Logger

	state    atomic.Int32
	detached atomic.Bool // the queue depth gauge belongs to a newer worker
	done     chan struct{}
}

func newWorker(queue <-chan queued, after <-chan struct{}, desc *dsn.Descriptor, client Doer, logger *logging.Logger) *worker {
	return &worker{
		queue:  queue,
		after:  after,
		desc:   desc,
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// detach stops the worker from reporting queue depth
func (w *worker) detach() {
	w.detached.Store(true)
}

func (w *worker) setQueueDepth(depth int) {
	if !w.detached.Load() {
		metrics.SetQueueDepth(depth)
	}
}

// Done is closed when the worker has drained its queue and exited
func (w *worker) Done() <-chan struct{} {
	return w.done
}

func (w *worker) currentState() workerState {
	return workerState(w.state.Load())
}

func (w *worker) run() {
	defer func() {
		w.state.Store(int32(workerTerminated))
		w.setQueueDepth(0)
		close(w.done)
		w.logger.Plain().WithProject(w.desc.ProjectPath).Debug("delivery worker drained and stopped")
	}()

	if w.after != nil {
		<-w.after
	}

	w.state.Store(int32(workerRunning))
	for item := range w.queue {
		w.setQueueDepth(len(w.queue))
		w.deliver(item)
	}
}

// deliver makes one attempt to ship item. Every failure ends with the envelope
// dropped; nothing is retried or requeued.
func (w *worker) deliver(item queued) {
	ctx, span := tracing.StartDeliverySpan(context.Background(), tracing.Attempt{
		EnvelopeID: item.id,
		Project:    w.desc.ProjectPath,
		Bytes:      item.env.Len(),
		QueueWait:  time.Since(item.enqueuedAt),
	})
	defer span.End()
	log := w.logger.WithContext(ctx).WithEnvelope(item.id).WithProject(w.desc.ProjectPath)

	req, err := envelope.NewRequest(ctx, item.env, w.desc)
	if err != nil {
		tracing.RecordOutcome(ctx, delivery.Outcome{Reason: delivery.ReasonInternalError, Detail: "build_request"}, 0, 0, err)
		metrics.RecordDropped(delivery.ReasonInternalError)
		log.WithError(err).Error("failed to build envelope request, dropping envelope")
		return
	}

	tracing.MarkSent(ctx)
	start := time.Now()
	resp, doErr := w.do(req)
	latency := time.Since(start)

	status := 0
	if doErr == nil {
		status = resp.StatusCode
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
		metrics.RecordHTTPResponse(status)
	}

	outcome := delivery.Classify(doErr, status)
	if errors.Is(doErr, errClientPanic) {
		outcome.Reason = delivery.ReasonInternalError
	}

	if outcome.Delivered {
		tracing.RecordOutcome(ctx, outcome, status, latency, nil)
		metrics.RecordDelivered(w.desc.ProjectPath, latency)
		log.WithFields(map[string]any{
			"status":     status,
			"latency_ms": latency.Milliseconds(),
		}).Debug("envelope delivered")
		return
	}

	failErr := doErr
	if failErr == nil {
		failErr = fmt.Errorf("collector responded with status %d", status)
	}
	tracing.RecordOutcome(ctx, outcome, status, latency, failErr)
	metrics.RecordFailedAttempt(latency)
	metrics.RecordDropped(outcome.Reason)
	log.WithError(failErr).
		WithFields(map[string]any{
			"reason":     string(outcome.Reason),
			"detail":     outcome.Detail,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
		}).Error("failed to send envelope, dropping envelope")
}

// do calls the injected client, turning a panic or a nil response into an error
func (w *worker) do(req *http.Request) (resp *http.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("%w: %v", errClientPanic, r)
		}
	}()

	resp, err = w.client.Do(req)
	if err == nil && resp == nil {
		return nil, errNoResponse
	}
	return resp, err
}
