package envelope

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/austindbirch/harbor_relay/internal/dsn"
)

const sampleEnvelope = `{"event_id":"9ec79c33ec9942ab8353589fcb2e04dc","dsn":"https://abc123@o1.ingest.example.com/42"}
{"type":"event","length":41}
{"message":"hello","level":"error"}
`

func mustParse(t *testing.T, raw string) *dsn.Descriptor {
	t.Helper()
	d, err := dsn.Parse(raw)
	if err != nil {
		t.Fatalf("dsn.Parse(%q) error = %v", raw, err)
	}
	return d
}

func TestNew_CopiesPayload(t *testing.T) {
	src := []byte("payload")
	env := New(src)
	src[0] = 'X'

	if got := string(env.Bytes()); got != "payload" {
		t.Errorf("Bytes() = %q after mutating source, want %q", got, "payload")
	}
	if env.Len() != len("payload") {
		t.Errorf("Len() = %d, want %d", env.Len(), len("payload"))
	}
}

func TestNewRequest(t *testing.T) {
	d := mustParse(t, "https://abc123@o1.ingest.example.com/42")
	env := New([]byte(sampleEnvelope))

	req, err := NewRequest(context.Background(), env, d)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	if req.Method != http.MethodPost {
		t.Errorf("Method = %q, want POST", req.Method)
	}
	if got := req.URL.String(); got != "https://o1.ingest.example.com/api/42/envelope/" {
		t.Errorf("URL = %q, want %q", got, "https://o1.ingest.example.com/api/42/envelope/")
	}

	headers := []struct {
		name string
		want string
	}{
		{"User-Agent", dsn.AgentString},
		{"Content-Type", MIMEType},
		{"Accept", "*/*"},
		{"Content-Length", strconv.Itoa(len(sampleEnvelope))},
		{AuthHeader, d.AuthHeader()},
	}
	for _, h := range headers {
		if got := req.Header.Get(h.name); got != h.want {
			t.Errorf("header %s = %q, want %q", h.name, got, h.want)
		}
	}
	if !strings.Contains(req.Header.Get(AuthHeader), "sentry_key=abc123") {
		t.Errorf("auth header %q does not carry the public key", req.Header.Get(AuthHeader))
	}
	if req.ContentLength != int64(len(sampleEnvelope)) {
		t.Errorf("ContentLength = %d, want %d", req.ContentLength, len(sampleEnvelope))
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != sampleEnvelope {
		t.Errorf("body = %q, want envelope bytes verbatim", body)
	}
}

func TestNewRequest_Errors(t *testing.T) {
	d := mustParse(t, "https://abc123@o1.ingest.example.com/42")

	tests := []struct {
		name    string
		env     Envelope
		d       *dsn.Descriptor
		wantErr error
	}{
		{name: "empty envelope", env: New(nil), d: d, wantErr: ErrEmptyEnvelope},
		{name: "zero value envelope", env: Envelope{}, d: d, wantErr: ErrEmptyEnvelope},
		{name: "nil descriptor", env: New([]byte("x")), d: nil, wantErr: ErrNoDescriptor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest(context.Background(), tt.env, tt.d)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewRequest() error = %v, want %v", err, tt.wantErr)
			}
			if req != nil {
				t.Error("NewRequest() returned a request alongside an error")
			}
		})
	}
}

func TestNewRequest_FreshPerCall(t *testing.T) {
	d := mustParse(t, "http://key@localhost:9000/7")
	env := New([]byte("body"))

	first, err := NewRequest(context.Background(), env, d)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	second, err := NewRequest(context.Background(), env, d)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if first == second {
		t.Fatal("NewRequest() reused a request")
	}

	// draining one body must not affect the other
	_, _ = io.ReadAll(first.Body)
	b, _ := io.ReadAll(second.Body)
	if string(b) != "body" {
		t.Errorf("second body = %q, want %q", b, "body")
	}
}
