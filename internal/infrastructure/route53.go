package infrastructure

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/errors"
	"github.com/mir00r/region-failover/pkg/dnsname"
	"github.com/mir00r/region-failover/pkg/logger"
)

// Route53API is the subset of the Route53 client the provider uses
type Route53API interface {
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
	GetChange(ctx context.Context, params *route53.GetChangeInput, optFns ...func(*route53.Options)) (*route53.GetChangeOutput, error)
}

// Route53Options locates the failover record pair
type Route53Options struct {
	HostedZoneID      string
	RecordName        string
	RecordType        string
	Comment           string
	Primary           domain.Region
	Secondary         domain.Region
	WaitForSync       bool
	SyncTimeout       time.Duration
	SyncPollInterval  time.Duration
	RequestsPerSecond float64
}

// Route53Provider implements ports.DNSProvider over a Route53 failover record
// pair. LIVE is the record with Failover=PRIMARY.
type Route53Provider struct {
	client  Route53API
	opts    Route53Options
	limiter *rate.Limiter
	waiter  *route53.ResourceRecordSetsChangedWaiter
	logger  *logger.Logger
}

// observed pairs a raw record set with its domain view
type observed struct {
	raw    types.ResourceRecordSet
	record domain.RecordSet
}

// NewRoute53Provider creates a provider for the configured record pair
func NewRoute53Provider(client Route53API, opts Route53Options, log *logger.Logger) *Route53Provider {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.RecordType == "" {
		opts.RecordType = string(types.RRTypeA)
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 2 * time.Minute
	}
	if opts.SyncPollInterval <= 0 {
		opts.SyncPollInterval = 30 * time.Second
	}

	waiter := route53.NewResourceRecordSetsChangedWaiter(client, func(o *route53.ResourceRecordSetsChangedWaiterOptions) {
		o.MinDelay = opts.SyncPollInterval
		o.MaxDelay = 4 * opts.SyncPollInterval
	})

	return &Route53Provider{
		client:  client,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		waiter:  waiter,
		logger:  log.ProviderLogger("route53"),
	}
}

// Name identifies the provider
func (p *Route53Provider) Name() string {
	return "route53"
}

// CurrentAssignment lists the record pair and derives the assignment from it
func (p *Route53Provider) CurrentAssignment(ctx context.Context) (domain.DNSAssignment, error) {
	pair, err := p.list(ctx)
	if err != nil {
		return domain.DNSAssignment{}, err
	}
	return assignmentOf(pair)
}

// ApplyAssignment relabels the pair so desired.Live holds PRIMARY. The change
// batch deletes the records exactly as observed and recreates them with the
// new failover roles, so Route53 rejects it if anything moved in between.
func (p *Route53Provider) ApplyAssignment(ctx context.Context, current, desired domain.DNSAssignment) (string, error) {
	pair, err := p.list(ctx)
	if err != nil {
		return "", err
	}
	observedAssignment, err := assignmentOf(pair)
	if err != nil {
		return "", err
	}
	if observedAssignment.Version != current.Version {
		return "", errors.NewSwapConflictError(current.Version,
			fmt.Errorf("zone now at version %s", observedAssignment.Version))
	}

	batch := &types.ChangeBatch{Comment: aws.String(p.comment(desired.Live))}
	for _, o := range pair {
		relabelled := o.raw
		relabelled.Failover = failoverFor(desired.RoleOf(o.record.Region))
		original := o.raw
		batch.Changes = append(batch.Changes,
			types.Change{Action: types.ChangeActionDelete, ResourceRecordSet: &original},
			types.Change{Action: types.ChangeActionCreate, ResourceRecordSet: &relabelled},
		)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return "", errors.NewProviderError(p.Name(), true, err)
	}
	out, err := p.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.opts.HostedZoneID),
		ChangeBatch:  batch,
	})
	if err != nil {
		return "", p.classify("ChangeResourceRecordSets", current.Version, err)
	}

	changeID := ""
	if out.ChangeInfo != nil {
		changeID = aws.ToString(out.ChangeInfo.Id)
	}
	p.logger.WithFields(map[string]interface{}{
		"change_id": changeID,
		"live":      desired.Live,
		"changes":   len(batch.Changes),
	}).Info("Submitted Route53 change batch")

	if p.opts.WaitForSync && changeID != "" {
		// the caller's deadline covers the submit only
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.SyncTimeout)
		defer cancel()
		p.waitForSync(waitCtx, changeID)
	}
	return changeID, nil
}

// waitForSync blocks until the change is INSYNC. A timeout is logged only;
// the change has already been accepted.
func (p *Route53Provider) waitForSync(ctx context.Context, changeID string) {
	start := time.Now()
	err := p.waiter.Wait(ctx, &route53.GetChangeInput{Id: aws.String(changeID)}, p.opts.SyncTimeout)
	if err != nil {
		p.logger.WithError(err).WithField("change_id", changeID).Warn("Route53 change not confirmed INSYNC")
		return
	}
	p.logger.WithField("change_id", changeID).
		WithField("duration_ms", time.Since(start).Milliseconds()).
		Info("Route53 change is INSYNC")
}

// list reads the record sets named by the options and keeps the two that
// belong to the configured regions.
func (p *Route53Provider) list(ctx context.Context) ([]observed, error) {
	input := &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(p.opts.HostedZoneID),
		StartRecordName: aws.String(p.opts.RecordName),
		StartRecordType: types.RRType(p.opts.RecordType),
	}

	var pair []observed
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, errors.NewProviderError(p.Name(), true, err)
		}
		out, err := p.client.ListResourceRecordSets(ctx, input)
		if err != nil {
			return nil, p.classify("ListResourceRecordSets", "", err)
		}

		passed := false
		for _, rr := range out.ResourceRecordSets {
			if !dnsname.Equal(dnsname.Unescape(aws.ToString(rr.Name)), p.opts.RecordName) ||
				string(rr.Type) != p.opts.RecordType {
				passed = true
				continue
			}
			if o, ok := p.toObserved(rr); ok {
				pair = append(pair, o)
			}
		}

		// results are sorted by name and type, so once past ours we are done
		if passed || !out.IsTruncated || !dnsname.Equal(dnsname.Unescape(aws.ToString(out.NextRecordName)), p.opts.RecordName) {
			break
		}
		input.StartRecordName = out.NextRecordName
		input.StartRecordType = out.NextRecordType
		input.StartRecordIdentifier = out.NextRecordIdentifier
	}

	p.logger.WithField("records", len(pair)).Debug("Listed failover record sets")
	return pair, nil
}

// toObserved matches a record set to a region by set identifier, then by alias target
func (p *Route53Provider) toObserved(rr types.ResourceRecordSet) (observed, bool) {
	var role domain.Role
	switch rr.Failover {
	case types.ResourceRecordSetFailoverPrimary:
		role = domain.RoleLive
	case types.ResourceRecordSetFailoverSecondary:
		role = domain.RoleStandby
	default:
		return observed{}, false
	}

	setID := aws.ToString(rr.SetIdentifier)
	var alias domain.AliasTarget
	if rr.AliasTarget != nil {
		alias = domain.AliasTarget{
			DNSName:              dnsname.Unescape(aws.ToString(rr.AliasTarget.DNSName)),
			HostedZoneID:         aws.ToString(rr.AliasTarget.HostedZoneId),
			EvaluateTargetHealth: rr.AliasTarget.EvaluateTargetHealth,
		}
	}

	for _, region := range []domain.Region{p.opts.Primary, p.opts.Secondary} {
		bySetID := region.SetIdentifier != "" && setID == region.SetIdentifier
		byAlias := region.Alias.DNSName != "" && alias.DNSName != "" && dnsname.Equal(alias.DNSName, region.Alias.DNSName)
		if bySetID || byAlias {
			return observed{
				raw: rr,
				record: domain.RecordSet{
					Name:          dnsname.Unescape(aws.ToString(rr.Name)),
					Type:          string(rr.Type),
					SetIdentifier: setID,
					Region:        region.ID,
					Role:          role,
					Alias:         alias,
				},
			}, true
		}
	}

	p.logger.WithField("set_identifier", setID).Warn("Ignoring failover record set for unknown region")
	return observed{}, false
}

func (p *Route53Provider) comment(live domain.RegionID) string {
	if p.opts.Comment != "" {
		return p.opts.Comment
	}
	return fmt.Sprintf("region-failover: %s LIVE", live)
}

// classify maps Route53 errors onto failover error codes
func (p *Route53Provider) classify(op, version string, err error) error {
	var invalid *types.InvalidChangeBatch
	if stderrors.As(err, &invalid) {
		return errors.NewSwapConflictError(version,
			fmt.Errorf("%s: %s", op, strings.Join(invalid.Messages, "; ")))
	}

	retryable := stderrors.Is(err, context.DeadlineExceeded)
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "PriorRequestNotComplete", "ServiceUnavailable":
			retryable = true
		}
	}
	return errors.NewProviderError(p.Name(), retryable, fmt.Errorf("%s: %w", op, err))
}

func assignmentOf(pair []observed) (domain.DNSAssignment, error) {
	records := make([]domain.RecordSet, 0, len(pair))
	for _, o := range pair {
		records = append(records, o.record)
	}
	if len(records) != 2 {
		return domain.DNSAssignment{}, errors.NewZoneInconsistentError(
			fmt.Sprintf("expected 2 failover record sets, found %d", len(records)))
	}
	assignment, err := domain.AssignmentFromRecords(records)
	if err != nil {
		return domain.DNSAssignment{}, errors.WrapError(err, errors.ErrCodeZoneInconsistent, "dns", "record sets are inconsistent")
	}
	return assignment, nil
}

func failoverFor(role domain.Role) types.ResourceRecordSetFailover {
	if role == domain.RoleLive {
		return types.ResourceRecordSetFailoverPrimary
	}
	return types.ResourceRecordSetFailoverSecondary
}
