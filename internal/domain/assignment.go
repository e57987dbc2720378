package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Role is the logical role a record set plays
type Role string

const (
	// RoleLive receives traffic (Route53 failover PRIMARY)
	RoleLive Role = "LIVE"
	// RoleStandby is the fallback (Route53 failover SECONDARY)
	RoleStandby Role = "STANDBY"
)

// RecordSet is one of the two failover record sets as observed at the provider
type RecordSet struct {
	Name          string      `json:"name"`
	Type          string      `json:"type"`
	SetIdentifier string      `json:"set_identifier"`
	Region        RegionID    `json:"region"`
	Role          Role        `json:"role"`
	Alias         AliasTarget `json:"alias"`
}

// DNSAssignment maps LIVE and STANDBY to regions. Version is an opaque token of
// the observed record state; writes are conditional on it.
type DNSAssignment struct {
	Live    RegionID    `json:"live"`
	Standby RegionID    `json:"standby"`
	Version string      `json:"version"`
	Records []RecordSet `json:"records,omitempty"`
}

// Validate enforces exactly one LIVE and one STANDBY over the two regions
func (a DNSAssignment) Validate() error {
	if !a.Live.Valid() || !a.Standby.Valid() {
		return fmt.Errorf("assignment references unknown region (live=%q standby=%q)", a.Live, a.Standby)
	}
	if a.Live == a.Standby {
		return fmt.Errorf("region %s cannot be both LIVE and STANDBY", a.Live)
	}
	live := 0
	for _, rec := range a.Records {
		if rec.Role == RoleLive {
			live++
		}
	}
	if len(a.Records) > 0 && live != 1 {
		return fmt.Errorf("expected exactly one LIVE record set, found %d", live)
	}
	return nil
}

// RoleOf returns the role held by region
func (a DNSAssignment) RoleOf(region RegionID) Role {
	if a.Live == region {
		return RoleLive
	}
	return RoleStandby
}

// WithLive returns the assignment relabelled so target holds LIVE. Records are
// copied with roles swapped; Version is cleared because it is not yet stored.
func (a DNSAssignment) WithLive(target RegionID) DNSAssignment {
	next := DNSAssignment{
		Live:    target,
		Standby: target.Other(),
		Records: make([]RecordSet, len(a.Records)),
	}
	for i, rec := range a.Records {
		rec.Role = RoleStandby
		if rec.Region == target {
			rec.Role = RoleLive
		}
		next.Records[i] = rec
	}
	return next
}

// AssignmentFromRecords derives the assignment from observed record sets.
// Anything other than exactly one LIVE and one STANDBY region is an error.
func AssignmentFromRecords(records []RecordSet) (DNSAssignment, error) {
	var live, standby []RegionID
	for _, rec := range records {
		switch rec.Role {
		case RoleLive:
			live = append(live, rec.Region)
		case RoleStandby:
			standby = append(standby, rec.Region)
		}
	}
	if len(live) != 1 || len(standby) != 1 {
		return DNSAssignment{}, fmt.Errorf("expected one LIVE and one STANDBY record set, found %d LIVE and %d STANDBY",
			len(live), len(standby))
	}

	assignment := DNSAssignment{
		Live:    live[0],
		Standby: standby[0],
		Version: RecordVersion(records),
		Records: records,
	}
	if err := assignment.Validate(); err != nil {
		return DNSAssignment{}, err
	}
	return assignment, nil
}

// RecordVersion derives a stable version token from observed record sets
func RecordVersion(records []RecordSet) string {
	parts := make([]string, 0, len(records))
	for _, rec := range records {
		parts = append(parts, fmt.Sprintf("%s=%s@%s", rec.SetIdentifier, rec.Role, strings.ToLower(rec.Alias.DNSName)))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
