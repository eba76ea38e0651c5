// Package report turns per-item batch outcomes into the partial batch response
// that tells the queue which messages to redeliver.
package report

import (
	"github.com/aws/aws-lambda-go/events"
)

// Item is the outcome of one message in a batch
type Item struct {
	ID  string
	Err error
}

// Failed reports whether the item must be redelivered
func (i Item) Failed() bool { return i.Err != nil }

// BatchResult holds one Item per message, in batch order
type BatchResult []Item

// Failures returns the ids of failed items in batch order, each id once
func Failures(r BatchResult) []string {
	ids := []string{}
	seen := make(map[string]bool, len(r))
	for _, it := range r {
		if !it.Failed() || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		ids = append(ids, it.ID)
	}
	return ids
}

// FailAll marks every item failed with err, keeping errors already recorded
func FailAll(r BatchResult, err error) BatchResult {
	out := make(BatchResult, len(r))
	for i, it := range r {
		if it.Err == nil {
			it.Err = err
		}
		out[i] = it
	}
	return out
}

// Response builds the batchItemFailures response for r
func Response(r BatchResult) events.SQSEventResponse {
	ids := Failures(r)
	resp := events.SQSEventResponse{BatchItemFailures: make([]events.SQSBatchItemFailure, 0, len(ids))}
	for _, id := range ids {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return resp
}
