// Package sender puts synthetic records on the ingestion queue so the
// forwarding path can be exercised end to end.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/google/uuid"

	"github.com/UKHomeOffice/recordsync/internal/client"
	"github.com/UKHomeOffice/recordsync/internal/logging"
	"github.com/UKHomeOffice/recordsync/pkg/attribute"
)

// Defaults for a request with no query parameters
const (
	DefaultCount  = 1
	DefaultField1 = "テストデータ"
	DefaultField2 = "test data"
	DefaultMax    = 100
)

// result statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrBadRequest is returned for an unusable query
var ErrBadRequest = errors.New("bad request")

// Messenger is an abstraction for a SQS client
type Messenger interface {
	SendMessageWithContext(aws.Context, *sqs.SendMessageInput, ...request.Option) (*sqs.SendMessageOutput, error)
}

// Request describes one batch of synthetic messages
type Request struct {
	Count  int
	Field1 string
	Field2 string
}

// Result is the outcome of one send
type Result struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	Status    string `json:"status"`
}

// Response summarises a batch of sends
type Response struct {
	Message  string   `json:"message"`
	Failed   int      `json:"failed"`
	Total    int      `json:"total"`
	QueueURL string   `json:"queueUrl"`
	Results  []Result `json:"results"`
}

// Sender publishes synthetic messages
type Sender struct {
	sqs      Messenger
	queueURL string
	max      int
	now      func() time.Time
	newID    func() string
	log      *slog.Logger
}

// Option configures a Sender
type Option func(*Sender)

// WithMax caps how many messages one request may ask for
func WithMax(n int) Option {
	return func(s *Sender) { s.max = n }
}

// WithClock replaces the timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Sender) { s.now = now }
}

// WithIDs replaces the identifier source
func WithIDs(newID func() string) Option {
	return func(s *Sender) { s.newID = newID }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) { s.log = l }
}

// NewSender returns a Sender publishing to queueURL
func NewSender(m Messenger, queueURL string, opts ...Option) *Sender {
	s := &Sender{
		sqs:      m,
		queueURL: queueURL,
		max:      DefaultMax,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Parse reads a request from query parameters, applying defaults
func (s *Sender) Parse(query map[string]string) (Request, error) {

	r := Request{Count: DefaultCount, Field1: DefaultField1, Field2: DefaultField2}

	if c, ok := query["count"]; ok && c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			return r, fmt.Errorf("%w: count %q is not a number", ErrBadRequest, c)
		}
		if n < 0 || n > s.max {
			return r, fmt.Errorf("%w: count must be between 0 and %d, got %d", ErrBadRequest, s.max, n)
		}
		r.Count = n
	}
	if f := query["field1"]; f != "" {
		r.Field1 = f
	}
	if f := query["field2"]; f != "" {
		r.Field2 = f
	}
	return r, nil
}

// message builds the tagged body of the nth message, counting from 1
func (s *Sender) message(r Request, n int) (string, string, error) {

	id := "test-" + s.newID()
	body := map[string]attribute.Value{
		"id":              attribute.String(id),
		"timestamp":       attribute.String(s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")),
		"string_field_01": attribute.String(fmt.Sprintf("%s %d", r.Field1, n)),
		"string_field_02": attribute.String(fmt.Sprintf("%s %d", r.Field2, n)),
	}

	b, err := client.Marshal(body)
	if err != nil {
		return id, "", fmt.Errorf("could not marshal message: %w", err)
	}
	return id, string(b), nil
}

// Send publishes r.Count messages one after another. A failed send is
// recorded in its result and does not stop the rest.
func (s *Sender) Send(ctx context.Context, r Request) Response {

	log := logging.ForInvocation(ctx, s.log)
	res := Response{QueueURL: s.queueURL, Total: r.Count, Results: []Result{}}

	for i := 1; i <= r.Count; i++ {
		out := s.send(ctx, r, i)
		if out.Status == StatusFailed {
			log.Error("could not send test message", slog.Int("index", i), slog.String("error", out.Error))
			res.Failed++
		} else {
			log.Info("test message sent", slog.Int("index", i), logging.MessageID(out.MessageID))
		}
		res.Results = append(res.Results, out)
	}

	res.Message = fmt.Sprintf("Sent %d message(s) to SQS", r.Count-res.Failed)
	return res
}

func (s *Sender) send(ctx context.Context, r Request, n int) Result {

	id, body, err := s.message(r, n)
	if err != nil {
		return Result{Index: n, ID: id, Error: err.Error(), Status: StatusFailed}
	}

	out, err := s.sqs.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		MessageBody: aws.String(body),
		QueueUrl:    aws.String(s.queueURL),
	})
	if err != nil {
		return Result{Index: n, ID: id, Error: err.Error(), Status: StatusFailed}
	}
	return Result{Index: n, ID: id, MessageID: aws.StringValue(out.MessageId), Status: StatusSuccess}
}

// Handle deals with the incoming function URL request
func (s *Sender) Handle(ctx context.Context, req events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {

	r, err := s.Parse(req.QueryStringParameters)
	if err != nil {
		return events.LambdaFunctionURLResponse{
			StatusCode: http.StatusBadRequest,
			Body:       err.Error(),
		}, nil
	}

	out, err := client.MarshalIndent(s.Send(ctx, r))
	if err != nil {
		return events.LambdaFunctionURLResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       err.Error(),
		}, nil
	}

	return events.LambdaFunctionURLResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(out),
	}, nil
}
