package domain

import (
	"fmt"
	"time"
)

// Outcome is the kind of decision the engine reached
type Outcome string

const (
	OutcomeNoChange Outcome = "NO_CHANGE"
	OutcomeSwitchTo Outcome = "SWITCH_TO"
	OutcomeBlocked  Outcome = "BLOCKED"
)

// Decision is the engine's output for one cycle
type Decision struct {
	Outcome Outcome  `json:"outcome"`
	Target  RegionID `json:"target,omitempty"`
	Reason  string   `json:"reason"`
	// Code is the error kind behind a BLOCKED decision
	Code string `json:"code,omitempty"`
}

// NoChange builds a NO_CHANGE decision
func NoChange(reason string) Decision {
	return Decision{Outcome: OutcomeNoChange, Reason: reason}
}

// SwitchTo builds a SWITCH_TO decision
func SwitchTo(target RegionID, reason string) Decision {
	return Decision{Outcome: OutcomeSwitchTo, Target: target, Reason: reason}
}

// Blocked builds a BLOCKED decision
func Blocked(code, reason string) Decision {
	return Decision{Outcome: OutcomeBlocked, Reason: reason, Code: code}
}

// String renders the decision as NO_CHANGE, SWITCH_TO(x) or BLOCKED(reason)
func (d Decision) String() string {
	switch d.Outcome {
	case OutcomeSwitchTo:
		return fmt.Sprintf("SWITCH_TO(%s)", d.Target)
	case OutcomeBlocked:
		return fmt.Sprintf("BLOCKED(%s)", d.Reason)
	default:
		return string(OutcomeNoChange)
	}
}

// SwapResult reports what the swapper did
type SwapResult struct {
	Applied  bool          `json:"applied"`
	NoOp     bool          `json:"no_op"`
	ChangeID string        `json:"change_id,omitempty"`
	After    DNSAssignment `json:"after"`
}

// CycleWarning is a degraded-input condition resolved locally
type CycleWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CycleResult is the observable record of one decision cycle
type CycleResult struct {
	CycleID   string                      `json:"cycle_id"`
	Event     AlarmEvent                  `json:"event"`
	Override  Override                    `json:"override"`
	Health    map[RegionID]HealthSnapshot `json:"health"`
	Before    DNSAssignment               `json:"before"`
	Decision  Decision                    `json:"decision"`
	Swap      SwapResult                  `json:"swap"`
	Attempts  int                         `json:"attempts"`
	Warnings  []CycleWarning              `json:"warnings,omitempty"`
	Error     string                      `json:"error,omitempty"`
	ErrorCode string                      `json:"error_code,omitempty"`
	StartedAt time.Time                   `json:"started_at"`
	Duration  time.Duration               `json:"duration"`
}

// Failed reports whether the cycle ended in a hard failure
func (c CycleResult) Failed() bool {
	return c.Error != ""
}
