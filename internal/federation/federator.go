// Package federation exchanges an Azure managed identity token for temporary
// AWS credentials through sts:AssumeRoleWithWebIdentity.
package federation

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/stacklet/provider-relay/internal/failure"
	"github.com/stacklet/provider-relay/internal/telemetry"
)

// SessionName is recorded in CloudTrail for every relayed event.
const SessionName = "StackletAzureRelay"

// Request identifies the managed identity, the token audience and the role to assume.
type Request struct {
	ClientID string
	Audience string
	RoleARN  string
}

// Credentials are temporary AWS credentials scoped to one invocation.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expires         time.Time
}

// Provider returns a static credentials provider for AWS clients.
func (c *Credentials) Provider() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
}

// LogValue keeps secrets out of logs.
func (c *Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("access_key_id", c.AccessKeyID),
		slog.Time("expires", c.Expires),
	)
}

// TokenSource issues identity tokens for a managed identity.
type TokenSource interface {
	Token(ctx context.Context, clientID, audience string) (string, error)
}

// STSClient defines the interface for STS operations
type STSClient interface {
	AssumeRoleWithWebIdentity(ctx context.Context, params *sts.AssumeRoleWithWebIdentityInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithWebIdentityOutput, error)
}

// Federator acquires temporary credentials in the target account.
type Federator struct {
	tokens TokenSource
	sts    STSClient
	policy failure.Policy
}

// NewFederator creates a Federator.
func NewFederator(tokens TokenSource, stsClient STSClient) *Federator {
	return &Federator{
		tokens: tokens,
		sts:    stsClient,
		policy: failure.FederationPolicy,
	}
}

// AcquireCredentials exchanges a managed identity token for role credentials.
//
// Errors are *failure.Error values: KindPolicyDeny for an explicit deny in a
// resource-based policy, KindAuthPermission for any other access denial and
// KindAuthTransient for everything else, token acquisition included.
func (f *Federator) AcquireCredentials(ctx context.Context, req Request) (*Credentials, error) {
	ctx, span := telemetry.StartSpan(ctx, "AcquireCredentials")
	defer span.End()

	token, err := f.tokens.Token(ctx, req.ClientID, req.Audience)
	if err != nil {
		ferr := failure.New(failure.KindAuthTransient, "failed to get managed identity token").
			WithCause(err).
			WithDetail("stage", "token")
		tracing.RecordError(span, ferr)
		return nil, ferr
	}

	out, err := f.sts.AssumeRoleWithWebIdentity(ctx, &sts.AssumeRoleWithWebIdentityInput{
		RoleArn:          aws.String(req.RoleARN),
		RoleSessionName:  aws.String(SessionName),
		WebIdentityToken: aws.String(token),
	})
	if err != nil {
		ferr := f.classify(err).WithDetail("role_arn", req.RoleARN)
		tracing.RecordError(span, ferr)
		return nil, ferr
	}

	if out.Credentials == nil {
		ferr := failure.New(failure.KindAuthTransient, "assume role response has no credentials").
			WithDetail("stage", "exchange").
			WithDetail("role_arn", req.RoleARN)
		tracing.RecordError(span, ferr)
		return nil, ferr
	}

	return &Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expires:         aws.ToTime(out.Credentials.Expiration),
	}, nil
}

func (f *Federator) classify(err error) *failure.Error {
	var ferr *failure.Error
	switch f.policy.Classify(err) {
	case failure.ClassSuppress:
		ferr = failure.New(failure.KindPolicyDeny, "role assumption denied by resource-based policy")
	case failure.ClassTerminal:
		ferr = failure.New(failure.KindAuthPermission, "role trust policy rejected the web identity token")
	default:
		ferr = failure.New(failure.KindAuthTransient, "failed to assume role with web identity")
	}
	ferr.WithCause(err).WithDetail("stage", "exchange")
	if code, _, ok := failure.APIErrorParts(err); ok {
		ferr.WithDetail("error_code", code)
	}
	return ferr
}
