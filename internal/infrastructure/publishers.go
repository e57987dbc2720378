package infrastructure

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/ports"
	"github.com/mir00r/region-failover/pkg/logger"
)

// SNSAPI is the subset of the SNS client the publisher uses
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSResultPublisher sends cycle results to a topic as JSON
type SNSResultPublisher struct {
	client       SNSAPI
	topicARN     string
	publishNoOps bool
	logger       *logger.Logger
}

// NewSNSResultPublisher creates a publisher. Unless publishNoOps is set, only
// swaps, blocked decisions and failures are sent.
func NewSNSResultPublisher(client SNSAPI, topicARN string, publishNoOps bool, log *logger.Logger) *SNSResultPublisher {
	return &SNSResultPublisher{
		client:       client,
		topicARN:     topicARN,
		publishNoOps: publishNoOps,
		logger:       log.ProviderLogger("sns"),
	}
}

// Publish sends result unless it is a filtered no-op
func (p *SNSResultPublisher) Publish(ctx context.Context, result domain.CycleResult) error {
	if !p.publishNoOps && !Notable(result) {
		return nil
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode cycle result: %w", err)
	}

	outcome := string(result.Decision.Outcome)
	if result.Failed() {
		outcome = "FAILED"
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(subject(result, outcome)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"outcome": {DataType: aws.String("String"), StringValue: aws.String(outcome)},
			"kind":    {DataType: aws.String("String"), StringValue: aws.String(string(result.Event.Kind))},
		},
	})
	if err != nil {
		return fmt.Errorf("publish cycle %s: %w", result.CycleID, err)
	}
	p.logger.WithField("cycle_id", result.CycleID).
		WithField("message_id", aws.ToString(out.MessageId)).
		Debug("Published cycle result")
	return nil
}

// Notable reports whether a result is more than a quiet no-op
func Notable(result domain.CycleResult) bool {
	return result.Failed() || result.Swap.Applied || result.Decision.Outcome == domain.OutcomeBlocked
}

func subject(result domain.CycleResult, outcome string) string {
	s := fmt.Sprintf("region-failover %s", outcome)
	if result.Decision.Target != "" {
		s += " " + string(result.Decision.Target)
	}
	// SNS subjects are limited to 100 characters
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// LogPublisher writes every cycle result as a structured log line
type LogPublisher struct {
	logger *logger.Logger
}

// NewLogPublisher creates a log publisher
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{logger: log.WithField("component", "audit")}
}

// Publish logs result
func (p *LogPublisher) Publish(_ context.Context, result domain.CycleResult) error {
	entry := p.logger.WithFields(map[string]interface{}{
		"cycle_id":    result.CycleID,
		"event":       result.Event.String(),
		"override":    result.Override,
		"decision":    result.Decision.String(),
		"live_before": result.Before.Live,
		"applied":     result.Swap.Applied,
		"attempts":    result.Attempts,
		"duration_ms": result.Duration.Milliseconds(),
	})
	if result.Failed() {
		entry.WithField("code", result.ErrorCode).Error("Cycle result: " + result.Error)
		return nil
	}
	entry.Info("Cycle result")
	return nil
}

// MultiPublisher fans a result out to every publisher and joins their errors
type MultiPublisher []ports.ResultPublisher

// Publish calls every publisher even when an earlier one fails
func (m MultiPublisher) Publish(ctx context.Context, result domain.CycleResult) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
