package handler

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/notification"
	"github.com/mir00r/region-failover/pkg/logger"
)

type scriptedRunner struct {
	results []domain.CycleResult
	raws    [][]byte
}

func (s *scriptedRunner) HandleNotification(_ context.Context, raw []byte) domain.CycleResult {
	s.raws = append(s.raws, raw)
	result := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return result
}

func (s *scriptedRunner) RunCycle(_ context.Context, _ domain.AlarmEvent) domain.CycleResult {
	return domain.CycleResult{}
}

func snsEvent(messages ...string) events.SNSEvent {
	var evt events.SNSEvent
	for _, m := range messages {
		evt.Records = append(evt.Records, events.SNSEventRecord{
			EventSource: "aws:sns",
			SNS:         events.SNSEntity{Type: "Notification", Message: m},
		})
	}
	return evt
}

func TestLambdaHandlerRunsEachRecord(t *testing.T) {
	runner := &scriptedRunner{results: []domain.CycleResult{{CycleID: "a"}, {CycleID: "b"}}}
	h := NewLambdaHandler(runner, logger.NewNop())

	result, err := h.Handle(context.Background(), snsEvent(`{"new_state":"OK"}`, `{"new_state":"ALARM"}`))
	require.NoError(t, err)
	assert.Equal(t, "b", result.CycleID)
	require.Len(t, runner.raws, 2)

	// each raw payload is a single-record event the parser understands
	parser := notification.NewParser(domain.Region{ID: domain.RegionPrimary}, domain.Region{ID: domain.RegionSecondary}, nil, "Region")
	event, err := parser.Parse(runner.raws[1])
	require.NoError(t, err)
	assert.Equal(t, domain.AlarmStateAlarm, event.NewState)
}

func TestLambdaHandlerFailures(t *testing.T) {
	h := NewLambdaHandler(&scriptedRunner{results: []domain.CycleResult{{
		CycleID: "c", Error: "zone moved", ErrorCode: "DNS_PROVIDER_ERROR",
	}}}, logger.NewNop())
	_, err := h.Handle(context.Background(), snsEvent(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DNS_PROVIDER_ERROR")

	h = NewLambdaHandler(&scriptedRunner{results: []domain.CycleResult{{
		Error: "garbage", ErrorCode: "INVALID_NOTIFICATION",
	}}}, logger.NewNop())
	result, err := h.Handle(context.Background(), snsEvent(`nope`))
	assert.NoError(t, err)
	assert.Equal(t, "INVALID_NOTIFICATION", result.ErrorCode)

	result, err = h.Handle(context.Background(), events.SNSEvent{})
	assert.NoError(t, err)
	assert.Equal(t, "INVALID_NOTIFICATION", result.ErrorCode)
}
