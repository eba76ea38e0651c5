// Package processor receives a SQS batch, converts each message to a
// destination record and forwards the batch in a single call.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/UKHomeOffice/recordsync/internal/logging"
	"github.com/UKHomeOffice/recordsync/pkg/attribute"
	"github.com/UKHomeOffice/recordsync/pkg/record"
	"github.com/UKHomeOffice/recordsync/pkg/report"
)

// Forwarder delivers a batch of records
type Forwarder interface {
	Forward(context.Context, []record.Target) error
}

// Processor processes messages from queue
type Processor struct {
	fwd    Forwarder
	policy attribute.Policy
	log    *slog.Logger
}

// Option configures a Processor
type Option func(*Processor)

// WithPolicy sets the attribute decode policy
func WithPolicy(p attribute.Policy) Option {
	return func(pr *Processor) { pr.policy = p }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(pr *Processor) { pr.log = l }
}

// NewProcessor returns a new Processor
func NewProcessor(f Forwarder, opts ...Option) *Processor {
	p := &Processor{fwd: f, policy: attribute.Strict, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process converts and forwards a batch. Outcomes are carried in the
// response; the returned error is always nil so the queue only redelivers
// the messages listed as failed.
func (p *Processor) Process(ctx context.Context, event *events.SQSEvent) (events.SQSEventResponse, error) {

	log := logging.ForInvocation(ctx, p.log)

	if event == nil || len(event.Records) == 0 {
		return report.Response(nil), nil
	}

	result := make(report.BatchResult, 0, len(event.Records))
	records := make([]record.Target, 0, len(event.Records))

	for _, message := range event.Records {
		t, err := p.convert(message)
		if err != nil {
			log.Warn("could not convert message", logging.MessageID(message.MessageId), logging.Error(err))
			result = append(result, report.Item{ID: message.MessageId, Err: err})
			continue
		}
		result = append(result, report.Item{ID: message.MessageId})
		records = append(records, t)
	}

	switch {
	case len(records) == 0:
		log.Warn("no convertible messages in batch, nothing to forward", logging.Count(len(result)))
	default:
		if err := p.fwd.Forward(ctx, records); err != nil {
			log.Error("could not forward batch, every message will be redelivered",
				logging.Count(len(result)), logging.Error(err))
			result = report.FailAll(result, err)
		}
	}

	for i, it := range result {
		if it.Failed() {
			log.Info("message left for redelivery",
				logging.MessageID(it.ID), logging.Attempt(attempts(event.Records[i])))
		}
	}

	return report.Response(result), nil
}

func (p *Processor) convert(m events.SQSMessage) (record.Target, error) {
	rec, err := record.Parse(m.Body, p.policy)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", m.MessageId, err)
	}
	return record.Transform(rec), nil
}

// attempts reads the queue's approximate receive count, 0 when absent
func attempts(m events.SQSMessage) int {
	n, err := strconv.Atoi(m.Attributes["ApproximateReceiveCount"])
	if err != nil {
		return 0
	}
	return n
}
