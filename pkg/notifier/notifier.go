// Package notifier posts one alert to a messaging webhook for every message
// that reaches the dead-letter queue.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/UKHomeOffice/recordsync/internal/client"
	"github.com/UKHomeOffice/recordsync/internal/logging"
)

// Defaults applied to a zero Config
const (
	DefaultTimeout        = 10 * time.Second
	DefaultDeadlineMargin = 2 * time.Second
)

const heading = "📦 *A message arrived in the dead-letter queue*"

const maxBody = 16 << 10

// ErrNotify is matched by every failed alert delivery
var ErrNotify = errors.New("could not deliver alert")

// Error describes a failed webhook call
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not deliver alert: %v", e.Err)
	}
	return fmt.Sprintf("webhook replied with status %d: %s", e.StatusCode, e.Body)
}

// Is matches ErrNotify
func (e *Error) Is(target error) bool { return target == ErrNotify }

func (e *Error) Unwrap() error { return e.Err }

// Config holds the webhook settings
type Config struct {
	WebhookURL string
	Timeout    time.Duration
}

// Notifier sends dead-letter alerts
type Notifier struct {
	client  *client.Client
	timeout time.Duration
	log     *slog.Logger
}

// Option configures a Notifier
type Option func(*Notifier)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.log = l }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(n *Notifier) { n.client.HTTPClient = h }
}

// New returns a Notifier for cfg
func New(cfg Config, opts ...Option) (*Notifier, error) {

	u, err := url.Parse(cfg.WebhookURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse webhook URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("webhook URL is not absolute")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	n := &Notifier{
		client: &client.Client{
			BaseURL:    u,
			HTTPClient: &http.Client{Timeout: cfg.Timeout},
		},
		timeout: cfg.Timeout,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Render formats a dead-lettered body as alert text
func Render(body string) string {
	return fmt.Sprintf("%s\n```\n%s\n```", heading, body)
}

type message struct {
	Text string `json:"text"`
}

// Notify posts a single alert for m
func (n *Notifier) Notify(ctx context.Context, m events.SQSMessage) error {

	body, err := client.Marshal(message{Text: Render(m.Body)})
	if err != nil {
		return &Error{Err: fmt.Errorf("could not marshal alert: %w", err)}
	}

	ctx, cancel := client.WithinDeadline(ctx, n.timeout, DefaultDeadlineMargin)
	defer cancel()

	req, err := n.client.NewRequest(ctx, http.MethodPost, "", body)
	if err != nil {
		return &Error{Err: fmt.Errorf("could not make request: %w", err)}
	}

	res, err := n.client.Do(req)
	if err != nil {
		return &Error{Err: err}
	}
	defer res.Body.Close()

	if !client.IsSuccess(res.StatusCode) {
		rb, _ := io.ReadAll(io.LimitReader(res.Body, maxBody))
		return &Error{StatusCode: res.StatusCode, Body: string(rb)}
	}
	return nil
}

// Handle sends one alert per record. Delivery failures are logged and
// dropped; there is nowhere further to escalate them.
func (n *Notifier) Handle(ctx context.Context, event *events.SQSEvent) error {

	log := logging.ForInvocation(ctx, n.log)
	if event == nil {
		return nil
	}

	for _, m := range event.Records {
		attempt, _ := strconv.Atoi(m.Attributes["ApproximateReceiveCount"])
		if err := n.Notify(ctx, m); err != nil {
			log.Error("could not deliver dead-letter alert",
				logging.MessageID(m.MessageId), logging.Attempt(attempt), logging.Error(err))
			continue
		}
		log.Info("dead-letter alert delivered", logging.MessageID(m.MessageId), logging.Attempt(attempt))
	}
	return nil
}
