// Package forwarder posts a batch of records to the destination record API in
// a single request.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/UKHomeOffice/recordsync/internal/client"
	"github.com/UKHomeOffice/recordsync/internal/logging"
	"github.com/UKHomeOffice/recordsync/pkg/record"
)

// Defaults applied to a zero Config
const (
	DefaultTokenHeader    = "X-Cybozu-API-Token"
	DefaultMaxRecords     = 100
	DefaultTimeout        = 10 * time.Second
	DefaultDeadlineMargin = 5 * time.Second
)

// maxBody caps how much of a response is read for diagnosis
const maxBody = 64 << 10

var (
	// ErrForward is matched by every transport or destination failure
	ErrForward = errors.New("could not forward records")
	// ErrFaultInjected is returned when fault injection is switched on
	ErrFaultInjected = errors.New("fault injected to route the batch to the dead-letter queue")
	// ErrTooManyRecords is returned when a batch exceeds the per-request limit
	ErrTooManyRecords = errors.New("too many records for one request")
)

// Error describes a failed call to the destination
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not forward records: %v", e.Err)
	}
	return fmt.Sprintf("destination replied with status %d: %s", e.StatusCode, e.Body)
}

// Is matches ErrForward
func (e *Error) Is(target error) bool { return target == ErrForward }

func (e *Error) Unwrap() error { return e.Err }

// Config holds the destination settings
type Config struct {
	URL         string
	Token       string
	TokenHeader string
	AppID       string
	Timeout     time.Duration
	MaxRecords  int
	// InjectFault fails every batch before any request is made
	InjectFault bool
}

// Forwarder sends records to the destination API
type Forwarder struct {
	cfg    Config
	client *client.Client
	margin time.Duration
	log    *slog.Logger
}

// Option configures a Forwarder
type Option func(*Forwarder)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(f *Forwarder) { f.log = l }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(f *Forwarder) { f.client.HTTPClient = h }
}

// WithDeadlineMargin sets how long before the invocation deadline a request
// is abandoned
func WithDeadlineMargin(d time.Duration) Option {
	return func(f *Forwarder) { f.margin = d }
}

// New returns a Forwarder for cfg
func New(cfg Config, opts ...Option) (*Forwarder, error) {

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("could not parse destination URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("destination URL %q is not absolute", cfg.URL)
	}

	if cfg.TokenHeader == "" {
		cfg.TokenHeader = DefaultTokenHeader
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	h := http.Header{}
	h.Set(cfg.TokenHeader, cfg.Token)

	f := &Forwarder{
		cfg: cfg,
		client: &client.Client{
			BaseURL:    u,
			HTTPClient: &http.Client{Timeout: cfg.Timeout},
			Header:     h,
		},
		margin: DefaultDeadlineMargin,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// payload is the destination's bulk request body
type payload struct {
	App     string          `json:"app"`
	Records []record.Target `json:"records"`
}

// Forward posts all records in one request. Any non-nil error means none of
// the records can be considered delivered.
func (f *Forwarder) Forward(ctx context.Context, records []record.Target) error {

	log := logging.ForInvocation(ctx, f.log)

	if f.cfg.InjectFault {
		log.Error("fault injection is on, failing batch", logging.Count(len(records)))
		return ErrFaultInjected
	}

	if len(records) > f.cfg.MaxRecords {
		return fmt.Errorf("%w: %d records, limit is %d", ErrTooManyRecords, len(records), f.cfg.MaxRecords)
	}

	body, err := client.Marshal(payload{App: f.cfg.AppID, Records: records})
	if err != nil {
		return &Error{Err: fmt.Errorf("could not marshal payload: %w", err)}
	}

	ctx, cancel := client.WithinDeadline(ctx, f.cfg.Timeout, f.margin)
	defer cancel()

	req, err := f.client.NewRequest(ctx, http.MethodPost, "", body)
	if err != nil {
		return &Error{Err: fmt.Errorf("could not make request: %w", err)}
	}

	res, err := f.client.Do(req)
	if err != nil {
		log.Error("could not reach destination", logging.Count(len(records)), logging.Error(err))
		return &Error{Err: err}
	}
	defer res.Body.Close()

	rb, rerr := io.ReadAll(io.LimitReader(res.Body, maxBody))

	if !client.IsSuccess(res.StatusCode) {
		log.Error("destination rejected records",
			logging.Status(res.StatusCode), logging.Body(string(rb)), logging.Count(len(records)))
		return &Error{StatusCode: res.StatusCode, Body: string(rb)}
	}
	if rerr != nil {
		log.Warn("could not read destination response", logging.Error(rerr))
	}

	log.Info("records forwarded", logging.Status(res.StatusCode), logging.Count(len(records)))
	return nil
}
