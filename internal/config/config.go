package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every error returned from Validate
var ErrInvalidConfig = errors.New("invalid config")

type Transport struct {
	DSN             string        // collector connection string
	Debug           bool          // debug level transport diagnostics
	QueueSize       int           // bounded queue capacity, 0 selects the default
	ShutdownTimeout time.Duration // how long shutdown waits for the queue to drain
	HTTPTimeout     time.Duration // per request client timeout
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	EnvelopeTopic  string // topic carrying serialized envelopes
	RelayChannel   string // channel the relay consumes from
	MaxInFlight    int
}

type Relay struct {
	HTTPPort     string // metrics and health listener, e.g. :8083
	OTLPEndpoint string // OTLP/HTTP collector, empty disables tracing
}

type FakeCollector struct {
	Port          string        // listen address
	PublicKey     string        // expected sentry_key, empty accepts any
	FailFirstN    int           // number of requests answered with 500 first
	ResponseDelay time.Duration // simulated processing time
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

type Config struct {
	AppName       string
	Transport     Transport
	NSQ           NSQ
	Relay         Relay
	FakeCollector FakeCollector
}

var defaults = map[string]any{
	"app_name":                    "harborrelay",
	"sentry_dsn":                  "",
	"sentry_debug":                false,
	"queue_size":                  1024,
	"shutdown_timeout":            2 * time.Second,
	"http_timeout":                15 * time.Second,
	"http_port":                   "8083",
	"otel_exporter_otlp_endpoint": "",
	"nsqd_tcp_addr":               "nsqd:4150",
	"nsq_lookup_http_addr":        "http://nsqlookupd:4161",
	"nsq_envelope_topic":          "envelopes",
	"nsq_relay_channel":           "relay",
	"nsq_max_in_flight":           16,
	"collector_port":              "8081",
	"collector_public_key":        "",
	"fail_first_n":                0,
	"response_delay":              time.Duration(0),
	"collector_read_timeout":      10 * time.Second,
	"collector_write_timeout":     10 * time.Second,
	"collector_idle_timeout":      60 * time.Second,
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// every key is also read from its upper-cased environment variable
	v.AutomaticEnv()
	return v
}

// Load reads configuration from defaults, the optional YAML file at path and
// the environment, in increasing order of precedence.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return fromViper(v), nil
}

// FromEnv builds a Config from defaults and the environment only
func FromEnv() Config {
	return fromViper(newViper())
}

func fromViper(v *viper.Viper) Config {
	return Config{
		AppName: v.GetString("app_name"),
		Transport: Transport{
			DSN:             v.GetString("sentry_dsn"),
			Debug:           v.GetBool("sentry_debug"),
			QueueSize:       v.GetInt("queue_size"),
			ShutdownTimeout: v.GetDuration("shutdown_timeout"),
			HTTPTimeout:     v.GetDuration("http_timeout"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    v.GetString("nsqd_tcp_addr"),
			LookupHTTPAddr: v.GetString("nsq_lookup_http_addr"),
			EnvelopeTopic:  v.GetString("nsq_envelope_topic"),
			RelayChannel:   v.GetString("nsq_relay_channel"),
			MaxInFlight:    v.GetInt("nsq_max_in_flight"),
		},
		Relay: Relay{
			HTTPPort:     listenAddr(v.GetString("http_port")),
			OTLPEndpoint: v.GetString("otel_exporter_otlp_endpoint"),
		},
		FakeCollector: FakeCollector{
			Port:          listenAddr(v.GetString("collector_port")),
			PublicKey:     v.GetString("collector_public_key"),
			FailFirstN:    v.GetInt("fail_first_n"),
			ResponseDelay: v.GetDuration("response_delay"),
			ReadTimeout:   v.GetDuration("collector_read_timeout"),
			WriteTimeout:  v.GetDuration("collector_write_timeout"),
			IdleTimeout:   v.GetDuration("collector_idle_timeout"),
		},
	}
}

// listenAddr turns a bare port into a listen address
func listenAddr(port string) string {
	if port == "" || strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// Validate rejects values the relay cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.Transport.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("queue_size must not be negative, got %d", c.Transport.QueueSize))
	}
	if c.Transport.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.Transport.ShutdownTimeout))
	}
	if c.Transport.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http_timeout must be positive, got %s", c.Transport.HTTPTimeout))
	}
	if c.NSQ.MaxInFlight < 1 {
		errs = append(errs, fmt.Errorf("nsq_max_in_flight must be at least 1, got %d", c.NSQ.MaxInFlight))
	}
	if c.FakeCollector.FailFirstN < 0 {
		errs = append(errs, fmt.Errorf("fail_first_n must not be negative, got %d", c.FakeCollector.FailFirstN))
	}
	if c.FakeCollector.ResponseDelay < 0 {
		errs = append(errs, fmt.Errorf("response_delay must not be negative, got %s", c.FakeCollector.ResponseDelay))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
