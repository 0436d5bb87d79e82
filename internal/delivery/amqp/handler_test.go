package amqp_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	amqpdelivery "github.com/Harsh-BH/crmjobs/internal/delivery/amqp"
	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/usecase"
)

type runnerFunc func(ctx context.Context, req *usecase.BulkRequest) (any, error)

func (f runnerFunc) Run(ctx context.Context, req *usecase.BulkRequest) (any, error) {
	return f(ctx, req)
}

type settlement struct {
	acked    bool
	nacked   bool
	requeued bool
}

func newMessage(s *settlement) *amqpdelivery.Message {
	return &amqpdelivery.Message{
		Request: &usecase.BulkRequest{Operation: domain.OpInsert, Object: "Contact"},
		Ack: func() error {
			s.acked = true
			return nil
		},
		Nack: func(requeue bool) error {
			s.nacked, s.requeued = true, requeue
			return nil
		},
	}
}

func TestHandle_Settlement(t *testing.T) {
	job := &domain.Job{ID: "750000000000001", State: domain.StateFailed}
	tests := []struct {
		name   string
		err    error
		cancel bool
		want   settlement
	}{
		{"completed", nil, false, settlement{acked: true}},
		{"validation", &domain.ValidationError{Field: "object", Reason: "object is required"}, false, settlement{nacked: true}},
		{"duplicate", domain.ErrDuplicateSubmission, false, settlement{nacked: true}},
		{"submission rejected", &domain.SubmissionError{Step: "create", Err: errors.New("400 Bad Request")}, false, settlement{nacked: true}},
		{"submission interrupted", &domain.SubmissionError{Step: "upload", Err: context.Canceled}, true, settlement{nacked: true, requeued: true}},
		{"job failed", &domain.JobFailure{Job: job, Message: "InvalidBatch"}, false, settlement{acked: true}},
		{"timed out", &domain.TimeoutError{Job: job}, false, settlement{acked: true}},
		{"poll failed", &domain.PollError{Job: job, Err: errors.New("503 Service Unavailable")}, false, settlement{acked: true}},
		{"results failed", fmt.Errorf("usecase: download results for job %s: %w: %w", job.ID, domain.ErrResults, errors.New("EOF")), false, settlement{acked: true}},
		{"reconciliation failed", fmt.Errorf("%w: 1 successes and 0 failures for 2 records", domain.ErrReconciliation), false, settlement{acked: true}},
		{"guard unavailable", fmt.Errorf("repository: acquire idempotency key: %w", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")), false, settlement{nacked: true, requeued: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				cancel()
			}

			var got settlement
			runner := runnerFunc(func(ctx context.Context, req *usecase.BulkRequest) (any, error) {
				return nil, tt.err
			})
			if err := amqpdelivery.Handle(ctx, runner, newMessage(&got), zap.NewNop()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDecodeRequest_KeepsNumbers(t *testing.T) {
	req, err := amqpdelivery.DecodeRequest([]byte(`{"operation":"upsert","object":"Account","external_id_field":"Ext__c",` +
		`"records":[{"Ext__c":9007199254740993,"AnnualRevenue":1234567.891}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Operation != domain.OpUpsert || len(req.Records) != 1 {
		t.Fatalf("unexpected request %+v", req)
	}
	ext, ok := req.Records[0]["Ext__c"].(json.Number)
	if !ok || ext.String() != "9007199254740993" {
		t.Errorf("expected exact json.Number, got %#v", req.Records[0]["Ext__c"])
	}
	if got := req.Records[0]["AnnualRevenue"]; got != json.Number("1234567.891") {
		t.Errorf("expected decimal kept as text, got %#v", got)
	}

	if _, err := amqpdelivery.DecodeRequest([]byte(`{"records":`)); err == nil {
		t.Error("expected truncated body to be rejected")
	}
}
