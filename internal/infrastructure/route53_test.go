package infrastructure

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/errors"
	"github.com/mir00r/region-failover/pkg/logger"
)

// fakeRoute53 holds one zone and applies change batches atomically, rejecting
// a DELETE that does not match a stored record exactly.
type fakeRoute53 struct {
	mu        sync.Mutex
	records   []types.ResourceRecordSet
	batches   []*types.ChangeBatch
	changeErr error
	listErr   error
	listCalls int

	// pageSize > 0 pages listings from the requested start record
	pageSize int
	// pendingPolls is how many GetChange calls report PENDING before INSYNC
	pendingPolls int
	pollCalls    int
	// afterChange runs once a change batch has been accepted
	afterChange func()
}

func (f *fakeRoute53) ListResourceRecordSets(_ context.Context, in *route53.ListResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.pageSize <= 0 {
		return &route53.ListResourceRecordSetsOutput{ResourceRecordSets: append([]types.ResourceRecordSet(nil), f.records...)}, nil
	}

	start := len(f.records)
	for i, rr := range f.records {
		if aws.ToString(rr.Name) != aws.ToString(in.StartRecordName) {
			continue
		}
		if in.StartRecordIdentifier == nil || aws.ToString(rr.SetIdentifier) == aws.ToString(in.StartRecordIdentifier) {
			start = i
			break
		}
	}
	end := start + f.pageSize
	if end > len(f.records) {
		end = len(f.records)
	}

	out := &route53.ListResourceRecordSetsOutput{ResourceRecordSets: append([]types.ResourceRecordSet(nil), f.records[start:end]...)}
	if end < len(f.records) {
		next := f.records[end]
		out.IsTruncated = true
		out.NextRecordName = next.Name
		out.NextRecordType = next.Type
		out.NextRecordIdentifier = next.SetIdentifier
	}
	return out, nil
}

func (f *fakeRoute53) ChangeResourceRecordSets(_ context.Context, in *route53.ChangeResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changeErr != nil {
		return nil, f.changeErr
	}

	next := append([]types.ResourceRecordSet(nil), f.records...)
	for _, c := range in.ChangeBatch.Changes {
		switch c.Action {
		case types.ChangeActionDelete:
			idx := -1
			for i, rr := range next {
				if sameRecord(rr, *c.ResourceRecordSet) {
					idx = i
				}
			}
			if idx < 0 {
				return nil, &types.InvalidChangeBatch{Messages: []string{"Tried to delete resource record set but it was not found"}}
			}
			next = append(next[:idx], next[idx+1:]...)
		case types.ChangeActionCreate:
			next = append(next, *c.ResourceRecordSet)
		}
	}
	f.records = next
	f.batches = append(f.batches, in.ChangeBatch)
	if f.afterChange != nil {
		f.afterChange()
	}
	return &route53.ChangeResourceRecordSetsOutput{
		ChangeInfo: &types.ChangeInfo{Id: aws.String("/change/C123"), Status: types.ChangeStatusPending},
	}, nil
}

func (f *fakeRoute53) GetChange(_ context.Context, in *route53.GetChangeInput, _ ...func(*route53.Options)) (*route53.GetChangeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	status := types.ChangeStatusInsync
	if f.pollCalls <= f.pendingPolls {
		status = types.ChangeStatusPending
	}
	return &route53.GetChangeOutput{ChangeInfo: &types.ChangeInfo{Id: in.Id, Status: status}}, nil
}

func (f *fakeRoute53) failover(setID string) types.ResourceRecordSetFailover {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rr := range f.records {
		if aws.ToString(rr.SetIdentifier) == setID {
			return rr.Failover
		}
	}
	return ""
}

func sameRecord(a, b types.ResourceRecordSet) bool {
	return aws.ToString(a.Name) == aws.ToString(b.Name) &&
		a.Type == b.Type &&
		aws.ToString(a.SetIdentifier) == aws.ToString(b.SetIdentifier) &&
		a.Failover == b.Failover
}

func aliasRecord(name, setID string, failover types.ResourceRecordSetFailover, target string) types.ResourceRecordSet {
	return types.ResourceRecordSet{
		Name:          aws.String(name),
		Type:          types.RRTypeA,
		SetIdentifier: aws.String(setID),
		Failover:      failover,
		AliasTarget: &types.AliasTarget{
			DNSName:      aws.String(target),
			HostedZoneId: aws.String("Z35SXDOTRQ7X7K"),
		},
	}
}

func testRegions() (domain.Region, domain.Region) {
	return domain.Region{
			ID: domain.RegionPrimary, Label: "us-east-1", SetIdentifier: "east",
			Alias: domain.AliasTarget{DNSName: "east-alb.us-east-1.elb.amazonaws.com."},
		}, domain.Region{
			ID: domain.RegionSecondary, Label: "us-west-2", SetIdentifier: "west",
			Alias: domain.AliasTarget{DNSName: "west-alb.us-west-2.elb.amazonaws.com."},
		}
}

func newTestRoute53(fake *fakeRoute53) *Route53Provider {
	primary, secondary := testRegions()
	return NewRoute53Provider(fake, Route53Options{
		HostedZoneID: "ZONE",
		RecordName:   "app.example.com.",
		RecordType:   "A",
		Primary:      primary,
		Secondary:    secondary,
		WaitForSync:      true,
		SyncPollInterval: time.Millisecond,
	}, logger.NewNop())
}

func seededZone() *fakeRoute53 {
	return &fakeRoute53{records: []types.ResourceRecordSet{
		aliasRecord("app.example.com.", "east", types.ResourceRecordSetFailoverPrimary, "east-alb.us-east-1.elb.amazonaws.com."),
		aliasRecord("app.example.com.", "west", types.ResourceRecordSetFailoverSecondary, "west-alb.us-west-2.elb.amazonaws.com."),
		aliasRecord("other.example.com.", "x", types.ResourceRecordSetFailoverPrimary, "x.example.com."),
	}}
}

func TestRoute53CurrentAssignment(t *testing.T) {
	provider := newTestRoute53(seededZone())

	a, err := provider.CurrentAssignment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RegionPrimary, a.Live)
	assert.Equal(t, domain.RegionSecondary, a.Standby)
	assert.NotEmpty(t, a.Version)
	assert.Len(t, a.Records, 2)
}

func TestRoute53ApplySwapsFailoverRoles(t *testing.T) {
	fake := seededZone()
	provider := newTestRoute53(fake)
	ctx := context.Background()

	current, err := provider.CurrentAssignment(ctx)
	require.NoError(t, err)

	changeID, err := provider.ApplyAssignment(ctx, current, current.WithLive(domain.RegionSecondary))
	require.NoError(t, err)
	assert.Equal(t, "/change/C123", changeID)

	require.Len(t, fake.batches, 1)
	assert.Len(t, fake.batches[0].Changes, 4)
	assert.Equal(t, types.ResourceRecordSetFailoverSecondary, fake.failover("east"))
	assert.Equal(t, types.ResourceRecordSetFailoverPrimary, fake.failover("west"))

	after, err := provider.CurrentAssignment(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RegionSecondary, after.Live)
	assert.NotEqual(t, current.Version, after.Version)
}

func TestRoute53ApplyWithStaleVersionConflicts(t *testing.T) {
	provider := newTestRoute53(seededZone())

	_, err := provider.ApplyAssignment(context.Background(),
		domain.DNSAssignment{Live: domain.RegionPrimary, Standby: domain.RegionSecondary, Version: "stale"},
		domain.DNSAssignment{Live: domain.RegionSecondary, Standby: domain.RegionPrimary})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDNSSwapConflict, errors.GetErrorCode(err))
}

func TestRoute53InvalidChangeBatchIsConflict(t *testing.T) {
	fake := seededZone()
	fake.changeErr = &types.InvalidChangeBatch{Messages: []string{"record not found"}}
	provider := newTestRoute53(fake)
	ctx := context.Background()

	current, err := provider.CurrentAssignment(ctx)
	require.NoError(t, err)
	_, err = provider.ApplyAssignment(ctx, current, current.WithLive(domain.RegionSecondary))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDNSSwapConflict, errors.GetErrorCode(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestRoute53ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"throttling", &smithy.GenericAPIError{Code: "Throttling", Message: "Rate exceeded"}, true},
		{"prior request", &types.PriorRequestNotComplete{}, true},
		{"no such zone", &types.NoSuchHostedZone{}, false},
		{"access denied", stderrors.New("AccessDenied"), false},
		{"deadline", context.DeadlineExceeded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := seededZone()
			fake.listErr = tt.err
			_, err := newTestRoute53(fake).CurrentAssignment(context.Background())
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeDNSProviderError, errors.GetErrorCode(err))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestRoute53InconsistentZone(t *testing.T) {
	fake := &fakeRoute53{records: []types.ResourceRecordSet{
		aliasRecord("app.example.com.", "east", types.ResourceRecordSetFailoverPrimary, "east-alb.us-east-1.elb.amazonaws.com."),
		aliasRecord("app.example.com.", "west", types.ResourceRecordSetFailoverPrimary, "west-alb.us-west-2.elb.amazonaws.com."),
	}}

	_, err := newTestRoute53(fake).CurrentAssignment(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeZoneInconsistent, errors.GetErrorCode(err))

	fake.records = fake.records[:1]
	_, err = newTestRoute53(fake).CurrentAssignment(context.Background())
	assert.Equal(t, errors.ErrCodeZoneInconsistent, errors.GetErrorCode(err))
}

func TestRoute53MatchesRecordByAliasTarget(t *testing.T) {
	fake := &fakeRoute53{records: []types.ResourceRecordSet{
		aliasRecord("app.example.com.", "slot-a", types.ResourceRecordSetFailoverSecondary, "EAST-ALB.us-east-1.elb.amazonaws.com"),
		aliasRecord("app.example.com.", "slot-b", types.ResourceRecordSetFailoverPrimary, "west-alb.us-west-2.elb.amazonaws.com."),
	}}

	a, err := newTestRoute53(fake).CurrentAssignment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RegionSecondary, a.Live)
}

func TestRoute53WaitsForSyncPastCallerDeadline(t *testing.T) {
	fake := seededZone()
	fake.pendingPolls = 2
	provider := newTestRoute53(fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// the caller gives up as soon as the batch is submitted
	fake.afterChange = cancel

	current, err := provider.CurrentAssignment(context.Background())
	require.NoError(t, err)
	changeID, err := provider.ApplyAssignment(ctx, current, current.WithLive(domain.RegionSecondary))
	require.NoError(t, err)

	assert.Equal(t, "/change/C123", changeID)
	assert.Equal(t, 3, fake.pollCalls, "polled until INSYNC")
}

func TestRoute53ListsAcrossPages(t *testing.T) {
	fake := seededZone()
	fake.pageSize = 1
	provider := newTestRoute53(fake)

	a, err := provider.CurrentAssignment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RegionPrimary, a.Live)
	assert.Len(t, a.Records, 2)
	// east, then west; the page after west starts at another name
	assert.Equal(t, 2, fake.listCalls)

	_, err = provider.ApplyAssignment(context.Background(), a, a.WithLive(domain.RegionSecondary))
	require.NoError(t, err)
	assert.Equal(t, types.ResourceRecordSetFailoverPrimary, fake.failover("west"))
}
