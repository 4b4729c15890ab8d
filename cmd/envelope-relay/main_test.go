package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/austindbirch/harbor_relay/internal/config"
	"github.com/austindbirch/harbor_relay/internal/envelope"
	"github.com/austindbirch/harbor_relay/internal/logging"
	"github.com/austindbirch/harbor_relay/internal/metrics"
	"github.com/austindbirch/harbor_relay/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	sent []envelope.Envelope
}

func (c *captureSender) Send(env envelope.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
}

type stubReporter struct{ state transport.State }

func (s stubReporter) State() transport.State { return s.state }
func (s stubReporter) QueueLen() int          { return 0 }

func quietLogger() *logging.Logger {
	l := logging.New("relay-test")
	l.SetOutput(io.Discard)
	return l
}

func TestEnvelopeHandler(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		wantSent int
	}{
		{name: "envelope body", body: []byte("{\"event_id\":\"abc\"}\n{\"type\":\"event\"}\n{}"), wantSent: 1},
		{name: "empty body skipped", body: nil, wantSent: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &captureSender{}
			handler := newEnvelopeHandler(sender, quietLogger())

			var id nsq.MessageID
			copy(id[:], "0123456789abcdef")
			if err := handler.HandleMessage(nsq.NewMessage(id, tt.body)); err != nil {
				t.Fatalf("HandleMessage() error = %v", err)
			}

			if len(sender.sent) != tt.wantSent {
				t.Fatalf("sent %d envelopes, want %d", len(sender.sent), tt.wantSent)
			}
			if tt.wantSent == 1 && string(sender.sent[0].Bytes()) != string(tt.body) {
				t.Errorf("envelope body = %q, want %q", sender.sent[0].Bytes(), tt.body)
			}
		})
	}
}

func TestNewMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	metrics.SetQueueDepth(0)

	tests := []struct {
		name     string
		state    transport.State
		path     string
		wantCode int
		wantBody string
	}{
		{name: "healthz running", state: transport.StateRunning, path: "/healthz", wantCode: http.StatusOK, wantBody: `"transport":"running"`},
		{name: "healthz stopped", state: transport.StateStopped, path: "/healthz", wantCode: http.StatusServiceUnavailable, wantBody: `"ok":false`},
		{name: "metrics", state: transport.StateRunning, path: "/metrics", wantCode: http.StatusOK, wantBody: "harborrelay_queue_depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newMux(reg, stubReporter{state: tt.state})
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))

			if w.Code != tt.wantCode {
				t.Errorf("GET %s status = %d, want %d", tt.path, w.Code, tt.wantCode)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("GET %s body = %q, want it to contain %q", tt.path, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestNsqdStatsURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"nsqd:4150", "http://nsqd:4151/stats?format=json"},
		{"localhost:4150", "http://localhost:4151/stats?format=json"},
		{"10.0.0.5:5000", "http://10.0.0.5:5000/stats?format=json"},
	}
	for _, tt := range tests {
		if got := nsqdStatsURL(tt.in); got != tt.want {
			t.Errorf("nsqdStatsURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBacklogMonitorPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" || r.URL.Query().Get("format") != "json" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"topics":[
			{"topic_name":"envelopes","channels":[
				{"channel_name":"relay","depth":42,"in_flight_count":3},
				{"channel_name":"archive","depth":7,"in_flight_count":0}]},
			{"topic_name":"other","channels":[{"channel_name":"relay","depth":99}]}]}`)
	}))
	defer srv.Close()

	mon := newBacklogMonitor(config.NSQ{EnvelopeTopic: "envelopes", RelayChannel: "relay"}, quietLogger())
	mon.statsURL = srv.URL + "/stats?format=json"

	if err := mon.poll(context.Background()); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if v := testutil.ToFloat64(metrics.NSQChannelDepth.WithLabelValues("envelopes", "relay")); v != 42 {
		t.Errorf("depth = %f, want 42", v)
	}
	if v := testutil.ToFloat64(metrics.NSQChannelInFlight.WithLabelValues("envelopes", "relay")); v != 3 {
		t.Errorf("in flight = %f, want 3", v)
	}
}

func TestBacklogMonitorPoll_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name:    "bad status",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
		},
		{
			name:    "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "{not json") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			mon := newBacklogMonitor(config.NSQ{EnvelopeTopic: "envelopes", RelayChannel: "relay"}, quietLogger())
			mon.statsURL = srv.URL

			if err := mon.poll(context.Background()); err == nil {
				t.Error("poll() error = nil, want error")
			}
		})
	}
}

func TestNewTransport_DebugStaysOnTransportLogger(t *testing.T) {
	relayLogger := logging.New(serviceName)
	var relayOut bytes.Buffer
	relayLogger.SetOutput(&relayOut)

	var transportOut bytes.Buffer
	tr := newTransport(config.Transport{QueueSize: 4, HTTPTimeout: time.Second}, &transportOut)

	if err := tr.Startup("https://abc123@o1.ingest.example.com/42", true); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	if got := tr.Shutdown(time.Second); got != transport.ShutdownSuccess {
		t.Fatalf("Shutdown() = %v, want %v", got, transport.ShutdownSuccess)
	}

	if relayLogger.DebugEnabled() {
		t.Error("transport debug flag enabled debug on the relay logger")
	}
	relayLogger.Plain().Debug("relay debug line")
	if relayOut.Len() != 0 {
		t.Errorf("relay logger wrote debug output: %q", relayOut.String())
	}

	out := transportOut.String()
	if !strings.Contains(out, `"service":"harborrelay-relay-transport"`) {
		t.Errorf("transport log missing its service name: %q", out)
	}
	if !strings.Contains(out, "draining transport queue") {
		t.Errorf("transport log missing debug drain line: %q", out)
	}
}
