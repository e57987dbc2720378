package infrastructure

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/pkg/logger"
)

// SSMAPI is the subset of the SSM client the override store uses
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// SSMOverrideStore keeps the override directive in a Parameter Store string
// parameter. A missing parameter reads as AUTO.
type SSMOverrideStore struct {
	client SSMAPI
	name   string
	logger *logger.Logger
}

// NewSSMOverrideStore creates a store for the named parameter
func NewSSMOverrideStore(client SSMAPI, name string, log *logger.Logger) *SSMOverrideStore {
	return &SSMOverrideStore{
		client: client,
		name:   name,
		logger: log.ProviderLogger("ssm"),
	}
}

// GetOverride returns the raw parameter value
func (s *SSMOverrideStore) GetOverride(ctx context.Context) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(s.name)})
	if err != nil {
		var notFound *types.ParameterNotFound
		if stderrors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("get parameter %s: %w", s.name, err)
	}
	if out.Parameter == nil {
		return "", nil
	}
	return aws.ToString(out.Parameter.Value), nil
}

// SetOverride overwrites the parameter
func (s *SSMOverrideStore) SetOverride(ctx context.Context, override domain.Override) error {
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.name),
		Value:     aws.String(string(override)),
		Type:      types.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("put parameter %s: %w", s.name, err)
	}
	s.logger.WithField("override", override).Info("Override directive updated")
	return nil
}
