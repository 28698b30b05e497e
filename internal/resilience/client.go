package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// Resilience errors.
var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies the upstream in logs and the registry.
	Name string

	// Timeout bounds a single HTTP attempt.
	// Default: 2 seconds
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Default: 2
	MaxRetries uint64

	// InitialInterval is the first retry backoff.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval caps the retry backoff.
	// Default: 1 second
	MaxInterval time.Duration

	// Breaker configures the circuit breaker.
	Breaker BreakerConfig

	// Registry, when set, receives the client's breaker and call outcomes.
	Registry *Registry
}

// DefaultClientConfig returns defaults tuned for polling a local detector service.
func DefaultClientConfig(name string) ClientConfig {
	return ClientConfig{
		Name:            name,
		Timeout:         2 * time.Second,
		MaxRetries:      2,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Breaker:         DefaultBreakerConfig(name),
	}
}

// Client is an HTTP client with circuit breaker protection and retries.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	config     ClientConfig
}

// NewClient creates a resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	defaults := DefaultClientConfig(cfg.Name)
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = defaults.InitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = defaults.MaxInterval
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = cfg.Name
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    NewBreaker[*http.Response](cfg.Breaker), //nolint:bodyclose // type param, not response
		config:     cfg,
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c.breaker)
	}
	return c
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.config.Name
}

// Do executes req, retrying network errors and 5xx responses with exponential
// backoff. It fails fast with ErrCircuitOpen while the breaker is open. A 5xx
// that exhausts the retries is returned as a response, not an error.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)

	var last *http.Response
	operation := func() error {
		if last != nil {
			_ = last.Body.Close()
			last = nil
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // closed by caller or next attempt
			r, err := c.httpClient.Do(req.Clone(ctx))
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= http.StatusInternalServerError {
				return r, &ServerError{StatusCode: r.StatusCode}
			}
			return r, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		last = resp
		return err
	}

	err := backoff.Retry(operation, policy)
	c.record(err)
	if err != nil {
		if last != nil {
			return last, nil
		}
		return nil, err
	}
	return last, nil
}

func (c *Client) record(err error) {
	if c.config.Registry == nil {
		return
	}
	if err != nil {
		c.config.Registry.RecordFailure(c.config.Name, err)
		return
	}
	c.config.Registry.RecordSuccess(c.config.Name)
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() Breaker {
	return c.breaker
}

// ServerError is an HTTP 5xx response treated as a failure.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}
