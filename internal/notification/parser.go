// Package notification decodes inbound alarm notifications into alarm events.
//
// Accepted shapes, detected by content:
//   - the direct form {"source_region", "alarm_name", "new_state", "timestamp"}
//   - a CloudWatch alarm state-change document
//   - an SNS HTTP(S) delivery envelope whose Message holds one of the above
//   - a Lambda SNS event whose first record's Message holds one of the above
package notification

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/errors"
)

// SNS message types
const (
	TypeNotification             = "Notification"
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// stateChangeLayouts are the timestamp layouts CloudWatch and SNS emit
var stateChangeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

// Envelope is an SNS HTTP(S) delivery. The Lambda SNS entity covers the
// notification fields; subscription control messages add Token and SubscribeURL.
type Envelope struct {
	events.SNSEntity
	Token        string `json:"Token"`
	SubscribeURL string `json:"SubscribeURL"`
}

// directEvent is the minimal form posted by scripts and tests
type directEvent struct {
	SourceRegion string `json:"source_region"`
	AlarmName    string `json:"alarm_name"`
	NewState     string `json:"new_state"`
	Timestamp    string `json:"timestamp"`
}

// shape holds the fields that tell the notification forms apart
type shape struct {
	Records       json.RawMessage `json:"Records"`
	Type          string          `json:"Type"`
	Message       *string         `json:"Message"`
	AlarmName     string          `json:"AlarmName"`
	NewStateValue string          `json:"NewStateValue"`
	NewState      string          `json:"new_state"`
}

// Parser resolves which region an alarm belongs to
type Parser struct {
	primary       domain.Region
	secondary     domain.Region
	alarmRegions  map[string]domain.RegionID
	dimensionName string
	now           func() time.Time
}

// NewParser creates a parser for the two regions. alarmRegions maps alarm
// names to regions explicitly; dimensionName is the metric dimension carrying
// the region label in CloudWatch alarm triggers.
func NewParser(primary, secondary domain.Region, alarmRegions map[string]domain.RegionID, dimensionName string) *Parser {
	return &Parser{
		primary:       primary,
		secondary:     secondary,
		alarmRegions:  alarmRegions,
		dimensionName: dimensionName,
		now:           time.Now,
	}
}

// Parse decodes raw into an alarm event. An event whose region cannot be
// resolved is returned with an empty SourceRegion, which decides NO_CHANGE.
func (p *Parser) Parse(raw []byte) (domain.AlarmEvent, error) {
	return p.parse(raw, 0)
}

// ParseEnvelope decodes an SNS HTTP(S) delivery without interpreting its Message
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.NewInvalidNotificationError("body is not valid JSON", err)
	}
	if env.Type == "" {
		return nil, errors.NewInvalidNotificationError("SNS envelope has no Type", nil)
	}
	return &env, nil
}

func (p *Parser) parse(raw []byte, depth int) (domain.AlarmEvent, error) {
	if depth > 2 {
		return domain.AlarmEvent{}, errors.NewInvalidNotificationError("notification nested too deeply", nil)
	}

	var doc shape
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.AlarmEvent{}, errors.NewInvalidNotificationError("body is not valid JSON", err)
	}

	switch {
	case len(doc.Records) > 0:
		return p.parseLambdaEvent(raw, depth)
	case doc.Type != "" && doc.Message != nil:
		return p.parseEnvelope(raw, depth)
	case doc.AlarmName != "" || doc.NewStateValue != "":
		return p.parseCloudWatchAlarm(raw)
	case doc.NewState != "":
		return p.parseDirect(raw)
	default:
		return domain.AlarmEvent{}, errors.NewInvalidNotificationError("unrecognised notification shape", nil)
	}
}

func (p *Parser) parseLambdaEvent(raw []byte, depth int) (domain.AlarmEvent, error) {
	var evt events.SNSEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return domain.AlarmEvent{}, errors.NewInvalidNotificationError("malformed SNS event", err)
	}
	if len(evt.Records) == 0 {
		return domain.AlarmEvent{}, errors.NewInvalidNotificationError("SNS event has no records", nil)
	}
	return p.parse([]byte(evt.Records[0].SNS.Message), depth+1)
}

func (p *Parser) parseEnvelope(raw []byte, depth int) (domain.AlarmEvent, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return domain.AlarmEvent{}, err
	}
	if env.Type != TypeNotification {
		return domain.AlarmEvent{}, errors.NewInvalidNotificationError(
			fmt.Sprintf("SNS %s carries no alarm", env.Type), nil)
	}
	return p.parse([]byte(env.Message), depth+1)
}

func (p *Parser) parseCloudWatchAlarm(raw []byte) (domain.AlarmEvent, error) {
	var alarm events.CloudWatchAlarmSNSPayload
	if err := json.Unmarshal(raw, &alarm); err != nil {
		return domain.AlarmEvent{}, errors.NewInvalidNotificationError("malformed CloudWatch alarm", err)
	}

	state, err := domain.ParseAlarmState(alarm.NewStateValue)
	if err != nil {
		return domain.AlarmEvent{}, errors.NewInvalidNotificationError("alarm has no valid NewStateValue", err)
	}

	var dimensionValues []string
	for _, dim := range alarm.Trigger.Dimensions {
		if strings.EqualFold(dim.Name, p.dimensionName) {
			dimensionValues = append(dimensionValues, dim.Value)
		}
	}

	return domain.AlarmEvent{
		Kind:         domain.EventKindNotification,
		SourceRegion: p.resolveRegion("", alarm.AlarmName, dimensionValues),
		AlarmName:    alarm.AlarmName,
		NewState:     state,
		Timestamp:    p.parseTime(alarm.StateChangeTime),
	}, nil
}

func (p *Parser) parseDirect(raw []byte) (domain.AlarmEvent, error) {
	var direct directEvent
	if err := json.Unmarshal(raw, &direct); err != nil {
		return domain.AlarmEvent{}, errors.NewInvalidNotificationError("malformed event", err)
	}

	state, err := domain.ParseAlarmState(direct.NewState)
	if err != nil {
		return domain.AlarmEvent{}, errors.NewInvalidNotificationError("event has no valid new_state", err)
	}

	return domain.AlarmEvent{
		Kind:         domain.EventKindNotification,
		SourceRegion: p.resolveRegion(direct.SourceRegion, direct.AlarmName, nil),
		AlarmName:    direct.AlarmName,
		NewState:     state,
		Timestamp:    p.parseTime(direct.Timestamp),
	}, nil
}

// resolveRegion tries, in order: an explicit region ID or label, the
// configured alarm map, a trigger dimension value, and finally a region label
// contained in the alarm name (longest label wins).
func (p *Parser) resolveRegion(explicit, alarmName string, dimensionValues []string) domain.RegionID {
	if id := p.matchRegion(explicit); id != "" {
		return id
	}
	if id, ok := p.alarmRegions[alarmName]; ok {
		return id
	}
	for _, value := range dimensionValues {
		if id := p.matchRegion(value); id != "" {
			return id
		}
	}

	candidates := []domain.Region{p.primary, p.secondary}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].Label) > len(candidates[j].Label)
	})
	for _, region := range candidates {
		if region.Label != "" && strings.Contains(alarmName, region.Label) {
			return region.ID
		}
	}
	return ""
}

func (p *Parser) matchRegion(value string) domain.RegionID {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if id := domain.RegionID(strings.ToLower(value)); id.Valid() {
		return id
	}
	for _, region := range []domain.Region{p.primary, p.secondary} {
		if strings.EqualFold(value, region.Label) {
			return region.ID
		}
	}
	return ""
}

// parseTime falls back to the receive time when the timestamp is absent or unparseable
func (p *Parser) parseTime(value string) time.Time {
	for _, layout := range stateChangeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return p.now().UTC()
}
