package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/aws/aws-lambda-go/events"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/errors"
	"github.com/mir00r/region-failover/internal/ports"
	"github.com/mir00r/region-failover/pkg/logger"
)

// LambdaHandler runs a cycle per record of an SNS-triggered invocation
type LambdaHandler struct {
	runner ports.CycleRunner
	logger *logger.Logger
}

// NewLambdaHandler creates the handler
func NewLambdaHandler(runner ports.CycleRunner, log *logger.Logger) *LambdaHandler {
	return &LambdaHandler{
		runner: runner,
		logger: log.WithField("component", "lambda"),
	}
}

// Handle processes evt and returns the result of the last record's cycle.
// A failed cycle is returned as an error so the invocation is retried or
// dead-lettered, except for notifications that can never parse.
func (h *LambdaHandler) Handle(ctx context.Context, evt events.SNSEvent) (domain.CycleResult, error) {
	if len(evt.Records) == 0 {
		err := errors.NewInvalidNotificationError("SNS event has no records", nil)
		h.logger.WithError(err).Warn("Empty invocation")
		return domain.CycleResult{Error: err.Error(), ErrorCode: string(err.Code)}, nil
	}

	var (
		last domain.CycleResult
		errs []error
	)
	for _, record := range evt.Records {
		raw, err := json.Marshal(events.SNSEvent{Records: []events.SNSEventRecord{record}})
		if err != nil {
			errs = append(errs, err)
			continue
		}

		last = h.runner.HandleNotification(ctx, raw)
		if last.Failed() && last.ErrorCode != string(errors.ErrCodeInvalidNotification) {
			errs = append(errs, errors.NewError(errors.ErrorCode(last.ErrorCode), "lambda", last.Error).
				WithMetadata("cycle_id", last.CycleID))
		}
	}

	if err := stderrors.Join(errs...); err != nil {
		h.logger.WithError(err).WithField("records", len(evt.Records)).Error("Invocation failed")
		return last, err
	}
	return last, nil
}
