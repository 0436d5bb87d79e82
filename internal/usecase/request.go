package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/Harsh-BH/crmjobs/internal/domain"
)

// BulkRequest describes one bulk operation submitted over HTTP or a queue.
// Which fields are read depends on Operation.
type BulkRequest struct {
	Operation       domain.Operation `json:"operation"`
	Object          string           `json:"object"`
	ExternalIDField string           `json:"external_id_field,omitempty"`
	Records         []domain.Record  `json:"records,omitempty"`
	IDs             []string         `json:"ids,omitempty"`
	Query           string           `json:"query,omitempty"`
	IdempotencyKey  string           `json:"idempotency_key,omitempty"`
	TimeoutSeconds  int              `json:"timeout_seconds,omitempty"`

	// Timeout overrides TimeoutSeconds when set by in-process callers.
	Timeout time.Duration `json:"-"`
}

func (r *BulkRequest) timeout() time.Duration {
	if r.Timeout != 0 {
		return r.Timeout
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

func (r *BulkRequest) runOptions() []RunOption {
	var opts []RunOption
	if r.IdempotencyKey != "" {
		opts = append(opts, WithIdempotencyKey(r.IdempotencyKey))
	}
	if d := r.timeout(); d > 0 {
		opts = append(opts, WithTimeout(d))
	}
	return opts
}

// Run executes req and returns a *domain.BulkResult for ingest operations or
// a *domain.QueryResult for queries.
func (uc *BulkUsecase) Run(ctx context.Context, req *BulkRequest) (any, error) {
	if req.timeout() < 0 {
		return nil, &domain.ValidationError{Op: req.Operation, Field: "timeout", Reason: "timeout must be positive"}
	}
	opts := req.runOptions()
	switch req.Operation {
	case domain.OpInsert:
		return uc.Insert(ctx, req.Object, req.Records, opts...)
	case domain.OpUpdate:
		return uc.Update(ctx, req.Object, req.Records, opts...)
	case domain.OpUpsert:
		return uc.Upsert(ctx, req.Object, req.ExternalIDField, req.Records, opts...)
	case domain.OpDelete:
		return uc.Delete(ctx, req.Object, req.IDs, opts...)
	case domain.OpHardDelete:
		return uc.HardDelete(ctx, req.Object, req.IDs, opts...)
	case domain.OpQuery:
		return uc.Query(ctx, req.Query, opts...)
	case domain.OpQueryAll:
		return uc.QueryAll(ctx, req.Query, opts...)
	default:
		return nil, &domain.ValidationError{Op: req.Operation, Field: "operation", Reason: fmt.Sprintf("unknown bulk operation %q", req.Operation)}
	}
}
