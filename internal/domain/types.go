package domain

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RegionID names one of the two candidate regions
type RegionID string

const (
	// RegionPrimary is the region that holds LIVE at provisioning time
	RegionPrimary RegionID = "primary"
	// RegionSecondary is the standby region
	RegionSecondary RegionID = "secondary"
)

// Other returns the opposite region. Unknown IDs map to themselves.
func (r RegionID) Other() RegionID {
	switch r {
	case RegionPrimary:
		return RegionSecondary
	case RegionSecondary:
		return RegionPrimary
	default:
		return r
	}
}

// Valid reports whether r is one of the two known regions
func (r RegionID) Valid() bool {
	return r == RegionPrimary || r == RegionSecondary
}

// AliasTarget is the DNS alias a region's record set points at
type AliasTarget struct {
	DNSName              string `json:"dns_name" yaml:"dns_name"`
	HostedZoneID         string `json:"hosted_zone_id" yaml:"hosted_zone_id"`
	EvaluateTargetHealth bool   `json:"evaluate_target_health" yaml:"evaluate_target_health"`
}

// Region is a candidate region with its DNS identity
type Region struct {
	ID            RegionID    `json:"id" yaml:"id"`
	Label         string      `json:"label" yaml:"label"`
	SetIdentifier string      `json:"set_identifier" yaml:"set_identifier"`
	Alias         AliasTarget `json:"alias" yaml:"alias"`
}

// HealthState is the health classification of a region
type HealthState int

const (
	// HealthUnknown means no fresh sample exists; never justifies a switch
	HealthUnknown HealthState = iota
	// HealthHealthy means the latest fresh sample is above the threshold
	HealthHealthy
	// HealthUnhealthy means the latest fresh sample is at or below the threshold
	HealthUnhealthy
)

// String returns the string representation of HealthState
func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "HEALTHY"
	case HealthUnhealthy:
		return "UNHEALTHY"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state for JSON and YAML
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the forms MarshalText produces
func (s *HealthState) UnmarshalText(text []byte) error {
	state, err := ParseHealthState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// ParseHealthState parses HEALTHY, UNHEALTHY or UNKNOWN (case-insensitive)
func ParseHealthState(raw string) (HealthState, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "HEALTHY":
		return HealthHealthy, nil
	case "UNHEALTHY":
		return HealthUnhealthy, nil
	case "UNKNOWN", "":
		return HealthUnknown, nil
	default:
		return HealthUnknown, fmt.Errorf("unknown health state %q", raw)
	}
}

// HealthSnapshot is the most recent known health sample for a region
type HealthSnapshot struct {
	Region    RegionID    `json:"region"`
	State     HealthState `json:"state"`
	Value     *float64    `json:"value,omitempty"`
	SampledAt time.Time   `json:"sampled_at"`
	Stale     bool        `json:"stale,omitempty"`
}

// IsStale reports whether the sample is older than window at now.
// A zero SampledAt is always stale.
func (h HealthSnapshot) IsStale(now time.Time, window time.Duration) bool {
	if h.SampledAt.IsZero() {
		return true
	}
	return now.Sub(h.SampledAt) > window
}

// ClassifyValue maps a numeric health metric to a state. Values strictly
// greater than threshold are healthy.
func ClassifyValue(value, threshold float64) HealthState {
	if value > threshold {
		return HealthHealthy
	}
	return HealthUnhealthy
}

// AlarmState is the new state carried by an alarm notification
type AlarmState string

const (
	AlarmStateAlarm            AlarmState = "ALARM"
	AlarmStateOK               AlarmState = "OK"
	AlarmStateInsufficientData AlarmState = "INSUFFICIENT_DATA"
)

// ParseAlarmState normalises an alarm state string
func ParseAlarmState(raw string) (AlarmState, error) {
	switch AlarmState(strings.ToUpper(strings.TrimSpace(raw))) {
	case AlarmStateAlarm:
		return AlarmStateAlarm, nil
	case AlarmStateOK:
		return AlarmStateOK, nil
	case AlarmStateInsufficientData:
		return AlarmStateInsufficientData, nil
	default:
		return "", fmt.Errorf("unknown alarm state %q", raw)
	}
}

// EventKind distinguishes inbound notifications from synthetic reconcile events
type EventKind string

const (
	EventKindNotification EventKind = "notification"
	EventKindReconcile    EventKind = "reconcile"
	EventKindManual       EventKind = "manual"
)

// AlarmEvent triggers one decision cycle
type AlarmEvent struct {
	Kind         EventKind  `json:"kind"`
	SourceRegion RegionID   `json:"source_region"`
	AlarmName    string     `json:"alarm_name"`
	NewState     AlarmState `json:"new_state"`
	Timestamp    time.Time  `json:"timestamp"`
}

// String returns a short description used in logs
func (e AlarmEvent) String() string {
	return fmt.Sprintf("%s %s->%s", e.Kind, e.SourceRegion, e.NewState)
}

// Override is the operator's manual control directive
type Override string

const (
	OverrideAuto           Override = "AUTO"
	OverrideForcePrimary   Override = "FORCE_PRIMARY"
	OverrideForceSecondary Override = "FORCE_SECONDARY"
)

// ParseOverride parses a directive value. The empty string is AUTO.
func ParseOverride(raw string) (Override, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch Override(normalized) {
	case "", OverrideAuto:
		return OverrideAuto, nil
	case OverrideForcePrimary:
		return OverrideForcePrimary, nil
	case OverrideForceSecondary:
		return OverrideForceSecondary, nil
	default:
		return OverrideAuto, fmt.Errorf("unrecognised override directive %q", raw)
	}
}

// Target returns the region the override forces LIVE, or false for AUTO
func (o Override) Target() (RegionID, bool) {
	switch o {
	case OverrideForcePrimary:
		return RegionPrimary, true
	case OverrideForceSecondary:
		return RegionSecondary, true
	default:
		return "", false
	}
}

// RequestContext contains request-specific information
type RequestContext struct {
	RequestID  string
	RemoteAddr string
	UserAgent  string
	Method     string
	Path       string
	StartTime  time.Time
}

// NewRequestContext creates a new RequestContext from an HTTP request
func NewRequestContext(r *http.Request) *RequestContext {
	return &RequestContext{
		RequestID:  uuid.NewString(),
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Method:     r.Method,
		Path:       r.URL.Path,
		StartTime:  time.Now(),
	}
}
