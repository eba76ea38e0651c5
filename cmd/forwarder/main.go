// Function forwarder reads record batches from SQS and hands over to package processor.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/UKHomeOffice/recordsync/internal/config"
	"github.com/UKHomeOffice/recordsync/internal/logging"
	"github.com/UKHomeOffice/recordsync/pkg/forwarder"
	"github.com/UKHomeOffice/recordsync/pkg/processor"
)

var proc *processor.Processor

func init() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.ValidateForwarder(); err != nil {
		panic(err)
	}

	log := logging.New(os.Stdout, cfg.LogLevel).With(logging.Function("forwarder"))

	fwd, err := forwarder.New(cfg.ForwarderConfig(), forwarder.WithLogger(log))
	if err != nil {
		panic(err)
	}
	proc = processor.NewProcessor(fwd, processor.WithPolicy(cfg.Policy()), processor.WithLogger(log))
}

func handler(ctx context.Context, sqsEvent *events.SQSEvent) (events.SQSEventResponse, error) {
	return proc.Process(ctx, sqsEvent)
}

func main() {
	lambda.Start(handler)
}
