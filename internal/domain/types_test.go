package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverride(t *testing.T) {
	tests := []struct {
		raw     string
		want    Override
		wantErr bool
	}{
		{"", OverrideAuto, false},
		{"auto", OverrideAuto, false},
		{"FORCE_PRIMARY", OverrideForcePrimary, false},
		{" force-secondary ", OverrideForceSecondary, false},
		{"FORCE_TERTIARY", OverrideAuto, true},
		{"yes please", OverrideAuto, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseOverride(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOverrideTarget(t *testing.T) {
	target, ok := OverrideForceSecondary.Target()
	assert.True(t, ok)
	assert.Equal(t, RegionSecondary, target)

	_, ok = OverrideAuto.Target()
	assert.False(t, ok)
}

func TestClassifyValue(t *testing.T) {
	assert.Equal(t, HealthHealthy, ClassifyValue(1, 0.5))
	assert.Equal(t, HealthUnhealthy, ClassifyValue(0.5, 0.5))
	assert.Equal(t, HealthUnhealthy, ClassifyValue(0, 0.5))
}

func TestHealthSnapshotIsStale(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	fresh := HealthSnapshot{SampledAt: now.Add(-time.Minute)}
	old := HealthSnapshot{SampledAt: now.Add(-10 * time.Minute)}

	assert.False(t, fresh.IsStale(now, 5*time.Minute))
	assert.True(t, old.IsStale(now, 5*time.Minute))
	assert.True(t, HealthSnapshot{}.IsStale(now, 5*time.Minute))
}

func TestParseHealthState(t *testing.T) {
	for raw, want := range map[string]HealthState{
		"HEALTHY":   HealthHealthy,
		"unhealthy": HealthUnhealthy,
		"UNKNOWN":   HealthUnknown,
		"":          HealthUnknown,
	} {
		got, err := ParseHealthState(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseHealthState("DEGRADED")
	assert.Error(t, err)
}

func TestCycleResultJSONRoundTrip(t *testing.T) {
	value := 0.9
	sampled := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	in := CycleResult{
		CycleID: "c-1",
		Health: map[RegionID]HealthSnapshot{
			RegionPrimary:   {Region: RegionPrimary, State: HealthUnhealthy, SampledAt: sampled},
			RegionSecondary: {Region: RegionSecondary, State: HealthHealthy, Value: &value, SampledAt: sampled},
		},
	}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"state":"HEALTHY"`)

	var out CycleResult
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, HealthUnhealthy, out.Health[RegionPrimary].State)
	assert.Equal(t, HealthHealthy, out.Health[RegionSecondary].State)
	require.NotNil(t, out.Health[RegionSecondary].Value)
	assert.Equal(t, 0.9, *out.Health[RegionSecondary].Value)

	var bad HealthSnapshot
	assert.Error(t, json.Unmarshal([]byte(`{"state":"DEGRADED"}`), &bad))
}

func TestParseAlarmState(t *testing.T) {
	state, err := ParseAlarmState("alarm")
	require.NoError(t, err)
	assert.Equal(t, AlarmStateAlarm, state)

	_, err = ParseAlarmState("MAYBE")
	assert.Error(t, err)
}

func TestAssignmentWithLive(t *testing.T) {
	current := DNSAssignment{
		Live:    RegionPrimary,
		Standby: RegionSecondary,
		Version: "v1",
		Records: []RecordSet{
			{SetIdentifier: "east", Region: RegionPrimary, Role: RoleLive},
			{SetIdentifier: "west", Region: RegionSecondary, Role: RoleStandby},
		},
	}

	next := current.WithLive(RegionSecondary)

	assert.Equal(t, RegionSecondary, next.Live)
	assert.Equal(t, RegionPrimary, next.Standby)
	assert.Empty(t, next.Version)
	assert.Equal(t, RoleStandby, next.Records[0].Role)
	assert.Equal(t, RoleLive, next.Records[1].Role)
	require.NoError(t, next.Validate())

	// the original is untouched
	assert.Equal(t, RoleLive, current.Records[0].Role)
}

func TestAssignmentValidate(t *testing.T) {
	assert.NoError(t, DNSAssignment{Live: RegionPrimary, Standby: RegionSecondary}.Validate())
	assert.Error(t, DNSAssignment{Live: RegionPrimary, Standby: RegionPrimary}.Validate())
	assert.Error(t, DNSAssignment{Live: "tertiary", Standby: RegionPrimary}.Validate())

	bothLive := DNSAssignment{
		Live:    RegionPrimary,
		Standby: RegionSecondary,
		Records: []RecordSet{
			{Region: RegionPrimary, Role: RoleLive},
			{Region: RegionSecondary, Role: RoleLive},
		},
	}
	assert.Error(t, bothLive.Validate())
}

func TestRecordVersionIsOrderIndependent(t *testing.T) {
	a := RecordSet{SetIdentifier: "east", Role: RoleLive, Alias: AliasTarget{DNSName: "East.ELB.amazonaws.com."}}
	b := RecordSet{SetIdentifier: "west", Role: RoleStandby, Alias: AliasTarget{DNSName: "west.elb.amazonaws.com."}}

	assert.Equal(t, RecordVersion([]RecordSet{a, b}), RecordVersion([]RecordSet{b, a}))

	b.Role = RoleLive
	assert.NotEqual(t, RecordVersion([]RecordSet{a, b}), RecordVersion([]RecordSet{a, RecordSet{SetIdentifier: "west", Role: RoleStandby}}))
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "NO_CHANGE", NoChange("x").String())
	assert.Equal(t, "SWITCH_TO(secondary)", SwitchTo(RegionSecondary, "x").String())
	assert.Equal(t, "BLOCKED(secondary not confirmed healthy)",
		Blocked("UNVERIFIED_TARGET", "secondary not confirmed healthy").String())
}

func TestAssignmentFromRecords(t *testing.T) {
	records := []RecordSet{
		{SetIdentifier: "east", Region: RegionPrimary, Role: RoleStandby},
		{SetIdentifier: "west", Region: RegionSecondary, Role: RoleLive},
	}

	a, err := AssignmentFromRecords(records)
	require.NoError(t, err)
	assert.Equal(t, RegionSecondary, a.Live)
	assert.Equal(t, RegionPrimary, a.Standby)
	assert.Equal(t, RecordVersion(records), a.Version)

	records[0].Role = RoleLive
	_, err = AssignmentFromRecords(records)
	assert.Error(t, err)

	_, err = AssignmentFromRecords(records[:1])
	assert.Error(t, err)
}
