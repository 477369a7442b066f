package combivox

import (
	"errors"
	"math/rand"
	"net/http"
	"time"

	logp "github.com/charmbracelet/log"
)

// Option configures a Client.
type Option func(*config) error

type config struct {
	timeout       time.Duration
	retries       uint64
	retryDelay    time.Duration
	revision      Revision
	layout        Layout
	protocol      Protocol
	random        Source
	loginSchedule []time.Duration
	catalogDelay  time.Duration
	catalogTries  int
	labelTries    int
	transport     http.RoundTripper
	logger        *logp.Logger
	catalog       *Catalog
}

func defaultConfig() *config {
	return &config{
		timeout:    10 * time.Second,
		retries:    1,
		retryDelay: time.Second,
		revision:   RevisionAuto,
		layout:     DefaultLayout(),
		protocol:   DefaultProtocol(),
		random:     rand.New(rand.NewSource(time.Now().UnixNano())),
		// login2.cgi is tried 2, 3, 4, 5, 6 and 7 seconds after login.cgi.
		loginSchedule: []time.Duration{
			2 * time.Second, time.Second, time.Second,
			time.Second, time.Second, time.Second,
		},
		catalogDelay: time.Second,
		catalogTries: 5,
		labelTries:   10,
		transport:    http.DefaultTransport,
	}
}

// WithUsername overrides the login username. Default is "admin".
func WithUsername(username string) Option {
	return func(c *config) error {
		if username == "" {
			return errors.New("username must not be empty")
		}
		c.protocol.Username = username
		return nil
	}
}

// WithTimeout sets the per request timeout. Default is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithRetries sets how many times a failed status fetch is retried, and the
// initial delay between tries, doubling at each attempt.
func WithRetries(n uint64, delay time.Duration) Option {
	return func(c *config) error {
		if delay < 0 {
			return errors.New("retry delay must not be negative")
		}
		c.retries = n
		c.retryDelay = delay
		return nil
	}
}

// WithRevision sets how the status marker is located. Default is auto.
func WithRevision(rev Revision) Option {
	return func(c *config) error {
		c.revision = rev
		return nil
	}
}

// WithLayout overrides the status string offsets.
func WithLayout(l Layout) Option {
	return func(c *config) error {
		if l.ZoneBytes <= 0 || l.MarkerFromEnd <= 0 {
			return errors.New("invalid layout")
		}
		c.layout = l
		return nil
	}
}

// WithProtocol overrides the login constants.
func WithProtocol(p Protocol) Option {
	return func(c *config) error {
		if !p.Permutation.Valid() {
			return ErrInvalidPermutation
		}
		if p.Username == "" {
			p.Username = c.protocol.Username
		}
		c.protocol = p
		return nil
	}
}

// WithRandom sets the randomness used to derive passwords.
func WithRandom(src Source) Option {
	return func(c *config) error {
		if src == nil {
			return errors.New("random source must not be nil")
		}
		c.random = src
		return nil
	}
}

// WithLoginSchedule sets the delays before each login2.cgi attempt.
func WithLoginSchedule(delays ...time.Duration) Option {
	return func(c *config) error {
		if len(delays) == 0 {
			return errors.New("login schedule must not be empty")
		}
		c.loginSchedule = delays
		return nil
	}
}

// WithCatalogDelay sets the wait between catalog download attempts.
// The panel needs twice as long after being asked to populate its labels.
func WithCatalogDelay(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return errors.New("catalog delay must not be negative")
		}
		c.catalogDelay = d
		return nil
	}
}

// WithTransport sets the HTTP transport, mostly for instrumentation.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *config) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		c.transport = rt
		return nil
	}
}

func WithLogger(logger *logp.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// WithCatalog uses a known catalog instead of downloading it on Connect.
func WithCatalog(cat Catalog) Option {
	return func(c *config) error {
		c.catalog = &cat
		return nil
	}
}
