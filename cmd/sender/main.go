// Function sender starts a SQS session and hands over to package sender.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"

	"github.com/UKHomeOffice/recordsync/internal/config"
	"github.com/UKHomeOffice/recordsync/internal/logging"
	"github.com/UKHomeOffice/recordsync/pkg/sender"
)

var sess *session.Session
var snd *sender.Sender

func init() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.ValidateSender(); err != nil {
		panic(err)
	}

	sess = session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	esqs := sqs.New(sess, &aws.Config{Region: aws.String(cfg.Region)})

	log := logging.New(os.Stdout, cfg.LogLevel).With(logging.Function("sender"))
	snd = sender.NewSender(esqs, cfg.Queue.URL, sender.WithMax(cfg.Queue.MaxTestMessages), sender.WithLogger(log))
}

func handler(ctx context.Context, req events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
	return snd.Handle(ctx, req)
}

func main() {
	lambda.Start(handler)
}
