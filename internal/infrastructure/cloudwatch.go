package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/pkg/logger"
)

// CloudWatchAPI is the subset of the CloudWatch client the health store uses
type CloudWatchAPI interface {
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

// CloudWatchOptions name the health metric
type CloudWatchOptions struct {
	Namespace        string
	MetricName       string
	DimensionName    string
	Statistic        string
	Period           time.Duration
	Lookback         time.Duration
	HealthyThreshold float64
}

// CloudWatchHealthStore implements ports.HealthSnapshotStore from a per-region
// metric. The region label is the dimension value.
type CloudWatchHealthStore struct {
	client CloudWatchAPI
	opts   CloudWatchOptions
	now    func() time.Time
	logger *logger.Logger
}

// NewCloudWatchHealthStore creates a health store over client
func NewCloudWatchHealthStore(client CloudWatchAPI, opts CloudWatchOptions, log *logger.Logger) *CloudWatchHealthStore {
	if opts.Statistic == "" {
		opts.Statistic = string(types.StatisticAverage)
	}
	if opts.Period < time.Minute {
		opts.Period = time.Minute
	}
	if opts.Lookback < opts.Period {
		opts.Lookback = 5 * opts.Period
	}
	return &CloudWatchHealthStore{
		client: client,
		opts:   opts,
		now:    time.Now,
		logger: log.ProviderLogger("cloudwatch"),
	}
}

// GetHealth returns the latest datapoint in the lookback window. No datapoint
// yields an UNKNOWN snapshot with a zero SampledAt.
func (s *CloudWatchHealthStore) GetHealth(ctx context.Context, region domain.Region) (domain.HealthSnapshot, error) {
	end := s.now().UTC()
	out, err := s.client.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(s.opts.Namespace),
		MetricName: aws.String(s.opts.MetricName),
		Dimensions: []types.Dimension{{
			Name:  aws.String(s.opts.DimensionName),
			Value: aws.String(region.Label),
		}},
		StartTime:  aws.Time(end.Add(-s.opts.Lookback)),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(int32(s.opts.Period / time.Second)),
		Statistics: []types.Statistic{types.Statistic(s.opts.Statistic)},
	})
	if err != nil {
		return domain.HealthSnapshot{}, fmt.Errorf("get %s/%s for %s: %w", s.opts.Namespace, s.opts.MetricName, region.Label, err)
	}

	var latest *types.Datapoint
	for i := range out.Datapoints {
		dp := &out.Datapoints[i]
		if dp.Timestamp == nil {
			continue
		}
		if latest == nil || dp.Timestamp.After(*latest.Timestamp) {
			latest = dp
		}
	}

	if latest == nil {
		s.logger.WithField("region", region.ID).Debug("No datapoints in lookback window")
		return domain.HealthSnapshot{Region: region.ID, State: domain.HealthUnknown}, nil
	}

	value, ok := s.statistic(*latest)
	if !ok {
		return domain.HealthSnapshot{Region: region.ID, State: domain.HealthUnknown}, nil
	}
	return domain.HealthSnapshot{
		Region:    region.ID,
		State:     domain.ClassifyValue(value, s.opts.HealthyThreshold),
		Value:     &value,
		SampledAt: latest.Timestamp.UTC(),
	}, nil
}

func (s *CloudWatchHealthStore) statistic(dp types.Datapoint) (float64, bool) {
	var v *float64
	switch types.Statistic(s.opts.Statistic) {
	case types.StatisticMinimum:
		v = dp.Minimum
	case types.StatisticMaximum:
		v = dp.Maximum
	case types.StatisticSum:
		v = dp.Sum
	case types.StatisticSampleCount:
		v = dp.SampleCount
	default:
		v = dp.Average
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}
