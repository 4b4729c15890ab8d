package dsn

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// APIVersion is the collector protocol version sent in the auth header
	APIVersion = 7
	// AgentString identifies this client to the collector
	AgentString = "sentry.native/0.4.9"
)

// ErrInvalid is wrapped by every error returned from Parse
var ErrInvalid = errors.New("invalid dsn")

// Descriptor is the parsed form of a DSN: where envelopes go and the key they
// are authenticated with. It is immutable once returned from Parse.
type Descriptor struct {
	Scheme      string // http or https
	Host        string // host[:port]
	ProjectPath string // path without the leading slash, e.g. "42"
	PublicKey   string
}

// Parse validates a connection string of the form
// scheme://public_key@host/project_path and returns its Descriptor.
func Parse(raw string) (*Descriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse url: %v", ErrInvalid, err)
	}
	if !strings.HasPrefix(u.Scheme, "http") {
		return nil, fmt.Errorf("%w: scheme %q is not http(s)", ErrInvalid, u.Scheme)
	}
	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("%w: missing public key", ErrInvalid)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalid)
	}
	if u.Path == "" || u.Path == "/" {
		return nil, fmt.Errorf("%w: missing project path", ErrInvalid)
	}

	return &Descriptor{
		Scheme:      u.Scheme,
		Host:        u.Host,
		ProjectPath: strings.TrimPrefix(u.Path, "/"),
		PublicKey:   u.User.Username(),
	}, nil
}

// EnvelopeURL returns the collector endpoint envelopes are POSTed to
func (d *Descriptor) EnvelopeURL() string {
	return fmt.Sprintf("%s://%s/api/%s/envelope/", d.Scheme, d.Host, d.ProjectPath)
}

// AuthHeader returns the value of the X-Sentry-Auth header
func (d *Descriptor) AuthHeader() string {
	return fmt.Sprintf("Sentry sentry_key=%s, sentry_version=%d, sentry_client=%s",
		d.PublicKey, APIVersion, AgentString)
}

// String renders the descriptor back into DSN form
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s://%s@%s/%s", d.Scheme, d.PublicKey, d.Host, d.ProjectPath)
}
