package relay

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// NewAWSConfig loads an AWS config for region that authenticates only with
// creds, never with ambient credentials. Clients built from it make exactly one
// attempt per call; redelivery of the queue message is the only retry.
func NewAWSConfig(ctx context.Context, region string, creds aws.CredentialsProvider) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Add OTel instrumentation for X-Ray tracing
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return cfg, nil
}

// NewEventsClient creates an EventBridge client from cfg.
func NewEventsClient(cfg aws.Config) *eventbridge.Client {
	return eventbridge.NewFromConfig(cfg)
}
