package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/austindbirch/harbor_relay/internal/config"
	"github.com/austindbirch/harbor_relay/internal/envelope"
	"github.com/austindbirch/harbor_relay/internal/logging"
)

// collector accepts envelopes the way the real ingest endpoint does, with
// optional key checking, flakiness and latency for local testing.
type collector struct {
	publicKey  string
	failFirstN int64
	delay      time.Duration
	logger     *logging.Logger

	reqCount atomic.Int64
	accepted atomic.Int64
}

func main() {
	cfg := config.FromEnv().FakeCollector
	logger := logging.New("harborrelay-fake-collector")

	c := &collector{
		publicKey:  cfg.PublicKey,
		failFirstN: int64(cfg.FailFirstN),
		delay:      cfg.ResponseDelay,
		logger:     logger,
	}

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      c.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	logger.Plain().WithFields(map[string]any{
		"addr":         srv.Addr,
		"fail_first_n": cfg.FailFirstN,
		"delay":        cfg.ResponseDelay.String(),
		"check_key":    cfg.PublicKey != "",
	}).Info("fake collector listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Plain().WithError(err).Fatal("fake collector failed")
	}
}

func (c *collector) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"ok":true,"accepted":%d}`, c.accepted.Load())
	})
	mux.HandleFunc("POST /api/{project}/envelope/", c.handleEnvelope)
	return mux
}

func (c *collector) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	n := c.reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	entry := c.logger.Plain().WithProject(r.PathValue("project")).WithField("request", n)

	if ok, msg := verifyAuth(r.Header.Get(envelope.AuthHeader), c.publicKey); !ok {
		entry.WithField("reason", msg).Warn("rejecting envelope: bad auth")
		http.Error(w, "invalid auth: "+msg, http.StatusUnauthorized)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != envelope.MIMEType {
		entry.WithField("content_type", ct).Warn("rejecting envelope: bad content type")
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}
	if len(b) == 0 {
		http.Error(w, "empty envelope", http.StatusBadRequest)
		return
	}

	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	// first N requests fail
	if n <= c.failFirstN {
		entry.WithField("body", truncate(string(b), 160)).Infof("failing request %d/%d", n, c.failFirstN)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	c.accepted.Add(1)
	entry.WithFields(map[string]any{
		"bytes": len(b),
		"body":  truncate(string(b), 160),
	}).Info("envelope accepted")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{}`))
}

// verifyAuth checks a "Sentry sentry_key=..., sentry_version=..." header. An
// empty wantKey accepts any key.
func verifyAuth(header, wantKey string) (bool, string) {
	if header == "" {
		return false, "missing header"
	}
	rest, found := strings.CutPrefix(header, "Sentry ")
	if !found {
		return false, "unknown auth scheme"
	}

	params := make(map[string]string)
	for _, part := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok {
			params[k] = v
		}
	}

	key := params["sentry_key"]
	if key == "" {
		return false, "missing sentry_key"
	}
	if params["sentry_version"] == "" {
		return false, "missing sentry_version"
	}
	if wantKey != "" && key != wantKey {
		return false, "key mismatch"
	}
	return true, ""
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
