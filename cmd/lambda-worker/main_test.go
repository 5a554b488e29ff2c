package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/marcobitx/foxdoc/internal/queue"
)

type fakeRunner struct {
	fail   map[string]error
	waited bool
}

func (f *fakeRunner) ProcessAnalysis(ctx context.Context, analysisID string) error {
	return f.fail[analysisID]
}

func (f *fakeRunner) Wait() { f.waited = true }

func record(t *testing.T, messageID, analysisID string) events.SQSMessage {
	t.Helper()
	body, err := queue.EncodeMessage(queue.Message{AnalysisID: analysisID, Version: queue.MessageVersion})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return events.SQSMessage{MessageId: messageID, Body: string(body)}
}

func TestProcessBatchReportsRetryableFailuresOnly(t *testing.T) {
	r := &fakeRunner{fail: map[string]error{"a-2": errors.New("gateway timeout")}}
	event := events.SQSEvent{Records: []events.SQSMessage{
		record(t, "m1", "a-1"),
		record(t, "m2", "a-2"),
		{MessageId: "m3", Body: "{not json"},
	}}

	resp := processBatch(context.Background(), r, event)

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("unexpected failures: %+v", resp.BatchItemFailures)
	}
	if !r.waited {
		t.Fatalf("expected handler to wait for background work")
	}
}
