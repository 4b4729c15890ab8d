package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every key the loader reads; viper ignores empty variables
func clearEnv(t *testing.T) {
	t.Helper()
	for key := range defaults {
		t.Setenv(strings.ToUpper(key), "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := FromEnv()

	want := Config{
		AppName: "harborrelay",
		Transport: Transport{
			QueueSize:       1024,
			ShutdownTimeout: 2 * time.Second,
			HTTPTimeout:     15 * time.Second,
		},
		NSQ: NSQ{
			NsqdTCPAddr:    "nsqd:4150",
			LookupHTTPAddr: "http://nsqlookupd:4161",
			EnvelopeTopic:  "envelopes",
			RelayChannel:   "relay",
			MaxInFlight:    16,
		},
		Relay: Relay{
			HTTPPort: ":8083",
		},
		FakeCollector: FakeCollector{
			Port:         ":8081",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	if cfg != want {
		t.Errorf("FromEnv() = %+v, want %+v", cfg, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name  string
		env   map[string]string
		check func(Config) bool
	}{
		{
			name:  "dsn and debug",
			env:   map[string]string{"SENTRY_DSN": "https://abc@o1.example.com/42", "SENTRY_DEBUG": "true"},
			check: func(c Config) bool { return c.Transport.DSN == "https://abc@o1.example.com/42" && c.Transport.Debug },
		},
		{
			name:  "queue size",
			env:   map[string]string{"QUEUE_SIZE": "8"},
			check: func(c Config) bool { return c.Transport.QueueSize == 8 },
		},
		{
			name: "timeouts",
			env:  map[string]string{"SHUTDOWN_TIMEOUT": "500ms", "HTTP_TIMEOUT": "3s"},
			check: func(c Config) bool {
				return c.Transport.ShutdownTimeout == 500*time.Millisecond && c.Transport.HTTPTimeout == 3*time.Second
			},
		},
		{
			name:  "port with colon kept",
			env:   map[string]string{"HTTP_PORT": "127.0.0.1:9000"},
			check: func(c Config) bool { return c.Relay.HTTPPort == "127.0.0.1:9000" },
		},
		{
			name: "nsq",
			env: map[string]string{
				"NSQD_TCP_ADDR":      "localhost:4150",
				"NSQ_ENVELOPE_TOPIC": "env",
				"NSQ_RELAY_CHANNEL":  "ch",
				"NSQ_MAX_IN_FLIGHT":  "4",
			},
			check: func(c Config) bool {
				return c.NSQ.NsqdTCPAddr == "localhost:4150" && c.NSQ.EnvelopeTopic == "env" &&
					c.NSQ.RelayChannel == "ch" && c.NSQ.MaxInFlight == 4
			},
		},
		{
			name: "fake collector",
			env: map[string]string{
				"COLLECTOR_PORT":       "9999",
				"COLLECTOR_PUBLIC_KEY": "abc123",
				"FAIL_FIRST_N":         "3",
				"RESPONSE_DELAY":       "250ms",
			},
			check: func(c Config) bool {
				fc := c.FakeCollector
				return fc.Port == ":9999" && fc.PublicKey == "abc123" && fc.FailFirstN == 3 &&
					fc.ResponseDelay == 250*time.Millisecond
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if cfg := FromEnv(); !tt.check(cfg) {
				t.Errorf("FromEnv() = %+v did not pick up %v", cfg, tt.env)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := `sentry_dsn: https://filekey@collector.internal:9000/7
queue_size: 64
shutdown_timeout: 5s
nsq_envelope_topic: from_file
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("QUEUE_SIZE", "32")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport.DSN != "https://filekey@collector.internal:9000/7" {
		t.Errorf("DSN = %q", cfg.Transport.DSN)
	}
	if cfg.Transport.QueueSize != 32 {
		t.Errorf("QueueSize = %d, want env value 32 to beat file", cfg.Transport.QueueSize)
	}
	if cfg.Transport.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %s, want 5s", cfg.Transport.ShutdownTimeout)
	}
	if cfg.NSQ.EnvelopeTopic != "from_file" {
		t.Errorf("EnvelopeTopic = %q", cfg.NSQ.EnvelopeTopic)
	}
	if cfg.Transport.HTTPTimeout != 15*time.Second {
		t.Errorf("HTTPTimeout = %s, want default 15s", cfg.Transport.HTTPTimeout)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() with missing file should fail")
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg != FromEnv() {
		t.Error("Load(\"\") should match FromEnv()")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero queue size selects default", mutate: func(c *Config) { c.Transport.QueueSize = 0 }},
		{name: "negative queue size", mutate: func(c *Config) { c.Transport.QueueSize = -1 }, wantErr: "queue_size"},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.Transport.ShutdownTimeout = 0 }, wantErr: "shutdown_timeout"},
		{name: "negative http timeout", mutate: func(c *Config) { c.Transport.HTTPTimeout = -time.Second }, wantErr: "http_timeout"},
		{name: "zero max in flight", mutate: func(c *Config) { c.NSQ.MaxInFlight = 0 }, wantErr: "nsq_max_in_flight"},
		{name: "negative fail first n", mutate: func(c *Config) { c.FakeCollector.FailFirstN = -2 }, wantErr: "fail_first_n"},
		{name: "negative response delay", mutate: func(c *Config) { c.FakeCollector.ResponseDelay = -time.Millisecond }, wantErr: "response_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %q", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error %v does not wrap ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestListenAddr(t *testing.T) {
	tests := []struct{ in, want string }{
		{"8080", ":8080"},
		{":8080", ":8080"},
		{"0.0.0.0:8080", "0.0.0.0:8080"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := listenAddr(tt.in); got != tt.want {
			t.Errorf("listenAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
