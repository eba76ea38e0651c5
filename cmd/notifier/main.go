// Function notifier posts every dead-lettered message to Slack.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/UKHomeOffice/recordsync/internal/config"
	"github.com/UKHomeOffice/recordsync/internal/logging"
	"github.com/UKHomeOffice/recordsync/pkg/notifier"
)

var ntf *notifier.Notifier

func init() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.ValidateNotifier(); err != nil {
		panic(err)
	}

	log := logging.New(os.Stdout, cfg.LogLevel).With(logging.Function("notifier"))

	ntf, err = notifier.New(cfg.NotifierConfig(), notifier.WithLogger(log))
	if err != nil {
		panic(err)
	}
}

func handler(ctx context.Context, sqsEvent *events.SQSEvent) error {
	return ntf.Handle(ctx, sqsEvent)
}

func main() {
	lambda.Start(handler)
}
