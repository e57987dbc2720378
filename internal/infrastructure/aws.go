// Package infrastructure contains the AWS adapters behind the ports
// interfaces: Route53 for the failover record pair, CloudWatch for region
// health, SSM Parameter Store for the operator override and SNS for cycle
// results.
package infrastructure

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/mir00r/region-failover/internal/config"
)

// Clients bundles the AWS service clients the adapters need
type Clients struct {
	Route53    *route53.Client
	CloudWatch *cloudwatch.Client
	SSM        *ssm.Client
	SNS        *sns.Client
}

// LoadAWSConfig builds the SDK configuration. Static keys take precedence
// over the profile, which takes precedence over the default chain.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewClients creates every client from one SDK configuration. A non-empty
// endpoint points all of them at a local emulator.
func NewClients(awsCfg aws.Config, endpoint string) *Clients {
	var base *string
	if endpoint != "" {
		base = aws.String(endpoint)
	}

	return &Clients{
		Route53: route53.NewFromConfig(awsCfg, func(o *route53.Options) {
			o.BaseEndpoint = base
		}),
		CloudWatch: cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			o.BaseEndpoint = base
		}),
		SSM: ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
			o.BaseEndpoint = base
		}),
		SNS: sns.NewFromConfig(awsCfg, func(o *sns.Options) {
			o.BaseEndpoint = base
		}),
	}
}
