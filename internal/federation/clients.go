package federation

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// ManagedIdentityTokenSource issues tokens from a user-assigned managed identity.
// It never falls back to environment, CLI or developer credentials.
type ManagedIdentityTokenSource struct{}

// NewManagedIdentityTokenSource creates a ManagedIdentityTokenSource.
func NewManagedIdentityTokenSource() *ManagedIdentityTokenSource {
	return &ManagedIdentityTokenSource{}
}

// Token returns a bearer token for audience, authenticated as clientID.
// A new credential is built on every call so tokens are not reused across invocations.
func (s *ManagedIdentityTokenSource) Token(ctx context.Context, clientID, audience string) (string, error) {
	cred, err := azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
		ID: azidentity.ClientID(clientID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create managed identity credential: %w", err)
	}

	token, err := cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{audience},
	})
	if err != nil {
		return "", err
	}
	return token.Token, nil
}

// NewSTSClient creates an STS client for region that signs nothing:
// AssumeRoleWithWebIdentity is authenticated by the web identity token alone.
func NewSTSClient(ctx context.Context, region string) (*sts.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return sts.NewFromConfig(cfg), nil
}
