// Package metrics publishes relay outcome counts to CloudWatch.
package metrics

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names
const (
	MetricRelayed    = "EventsRelayed"
	MetricSuppressed = "EventsSuppressed"
	MetricFailures   = "RelayFailures"
)

// Publisher records the outcome of one invocation.
type Publisher interface {
	RecordOutcome(ctx context.Context, metric, outcome, source string) error
}

// CloudWatchClient defines the interface for CloudWatch operations
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher implements Publisher using CloudWatch
type CloudWatchPublisher struct {
	client    CloudWatchClient
	namespace string
}

// NewCloudWatchPublisher creates a new CloudWatchPublisher
func NewCloudWatchPublisher(client CloudWatchClient, namespace string) *CloudWatchPublisher {
	return &CloudWatchPublisher{
		client:    client,
		namespace: namespace,
	}
}

// RecordOutcome publishes a count of one for metric, dimensioned by outcome
// and, when known, event source.
func (p *CloudWatchPublisher) RecordOutcome(ctx context.Context, metric, outcome, source string) error {
	dimensions := []types.Dimension{
		{Name: aws.String("Outcome"), Value: aws.String(outcome)},
	}
	if source != "" {
		dimensions = append(dimensions, types.Dimension{Name: aws.String("Source"), Value: aws.String(source)})
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(metric),
				Dimensions: dimensions,
				Value:      aws.Float64(1),
				Unit:       types.StandardUnitCount,
			},
		},
	})
	return err
}

// Discard drops every outcome. It is used when metrics are not configured or
// no credentials are available to publish them.
type Discard struct{}

// RecordOutcome implements Publisher.
func (Discard) RecordOutcome(context.Context, string, string, string) error {
	return nil
}

// NewCloudWatchClient creates a CloudWatch client from cfg.
func NewCloudWatchClient(cfg aws.Config) *cloudwatch.Client {
	return cloudwatch.NewFromConfig(cfg)
}
