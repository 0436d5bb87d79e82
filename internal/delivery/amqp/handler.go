package amqp

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/usecase"
)

// Runner executes a bulk request. *usecase.BulkUsecase implements it.
type Runner interface {
	Run(ctx context.Context, req *usecase.BulkRequest) (any, error)
}

// Handle runs one queued request and settles its delivery.
//
// Requests rejected before a job exists are dead-lettered, except a
// submission cut short by shutdown, which is requeued. Once a remote job
// exists the delivery is acknowledged whatever its outcome; the outcome
// itself has been recorded and published by then. Any other error means the
// request never reached the remote system, so it is requeued.
func Handle(ctx context.Context, runner Runner, msg *Message, logger *zap.Logger) error {
	req := msg.Request
	_, err := runner.Run(ctx, req)

	fields := []zap.Field{
		zap.String("operation", string(req.Operation)),
		zap.String("object", req.Object),
		zap.String("idempotency_key", req.IdempotencyKey),
	}
	switch {
	case err == nil:
		logger.Info("Queued bulk request completed", fields...)
		return msg.Ack()
	case errors.Is(err, domain.ErrSubmission) && ctx.Err() != nil:
		logger.Warn("Queued bulk request interrupted, requeueing", append(fields, zap.Error(err))...)
		return msg.Nack(true)
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrDuplicateSubmission),
		errors.Is(err, domain.ErrSubmission):
		logger.Error("Queued bulk request rejected", append(fields, zap.Error(err))...)
		return msg.Nack(false)
	case jobExists(err):
		logger.Warn("Queued bulk request ended with an error", append(fields, zap.Error(err))...)
		return msg.Ack()
	default:
		logger.Warn("Queued bulk request failed before submission, requeueing", append(fields, zap.Error(err))...)
		return msg.Nack(true)
	}
}

// jobExists reports whether err was raised after the remote job was created.
func jobExists(err error) bool {
	return errors.Is(err, domain.ErrJobFailed) ||
		errors.Is(err, domain.ErrTimeout) ||
		errors.Is(err, domain.ErrPollFailed) ||
		errors.Is(err, domain.ErrResults) ||
		errors.Is(err, domain.ErrReconciliation)
}
