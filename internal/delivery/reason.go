package delivery

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Reason says why an envelope was discarded without reaching the collector
type Reason string

const (
	// ReasonQueueOverflow: the transport queue was full when Send was called
	ReasonQueueOverflow Reason = "queue_overflow"
	// ReasonNetworkError: the HTTP call failed before a response arrived
	ReasonNetworkError Reason = "network_error"
	// ReasonSendError: the collector answered with a non-2xx status
	ReasonSendError Reason = "send_error"
	// ReasonInternalError: the request could not be built or the client panicked
	ReasonInternalError Reason = "internal_sdk_error"
	// ReasonTransportInactive: Send was called while the transport was not running
	ReasonTransportInactive Reason = "transport_inactive"
)

// Outcome describes the result of one HTTP attempt
type Outcome struct {
	Delivered bool
	Reason    Reason // empty when Delivered
	Detail    string // finer grained label for logs and spans
}

// Classify maps the result of client.Do to an Outcome. status is ignored when
// err is non-nil.
func Classify(err error, status int) Outcome {
	if err != nil {
		return Outcome{Reason: ReasonNetworkError, Detail: networkDetail(err)}
	}
	if status >= 200 && status < 300 {
		return Outcome{Delivered: true}
	}
	return Outcome{Reason: ReasonSendError, Detail: statusDetail(status)}
}

func networkDetail(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns_error"
	}

	errLower := strings.ToLower(err.Error())
	if strings.Contains(errLower, "timeout") {
		return "timeout"
	}
	if strings.Contains(errLower, "connection refused") {
		return "connection_refused"
	}
	if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
		return "dns_error"
	}
	return "network"
}

func statusDetail(status int) string {
	switch {
	case status == 429:
		return "http_429"
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	case status >= 300:
		return "http_3xx"
	}
	return "other"
}
