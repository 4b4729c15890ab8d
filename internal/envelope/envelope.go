package envelope

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/austindbirch/harbor_relay/internal/dsn"
)

const (
	// MIMEType is the content type of a serialized envelope
	MIMEType = "application/x-sentry-envelope"
	// AuthHeader carries the public key, protocol version and client string
	AuthHeader = "X-Sentry-Auth"
)

var (
	ErrEmptyEnvelope = errors.New("envelope is empty")
	ErrNoDescriptor  = errors.New("no connection descriptor")
)

// Envelope is one serialized unit of telemetry. The payload is copied on
// construction and never modified afterwards.
type Envelope struct {
	data []byte
}

// New copies b into a new Envelope
func New(b []byte) Envelope {
	data := make([]byte, len(b))
	copy(data, b)
	return Envelope{data: data}
}

// Bytes returns the serialized payload. Callers must not modify it.
func (e Envelope) Bytes() []byte {
	return e.data
}

// Len returns the payload size in bytes
func (e Envelope) Len() int {
	return len(e.data)
}

// NewRequest builds the POST that delivers env to the collector described by d.
func NewRequest(ctx context.Context, env Envelope, d *dsn.Descriptor) (*http.Request, error) {
	if d == nil {
		return nil, ErrNoDescriptor
	}
	if env.Len() == 0 {
		return nil, ErrEmptyEnvelope
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.EnvelopeURL(), bytes.NewReader(env.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("build envelope request: %w", err)
	}
	req.Header.Set("User-Agent", dsn.AgentString)
	req.Header.Set("Content-Type", MIMEType)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Length", strconv.Itoa(env.Len()))
	req.Header.Set(AuthHeader, d.AuthHeader())
	req.ContentLength = int64(env.Len())

	return req, nil
}
