package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/stacklet/provider-relay/internal/config"
	"github.com/stacklet/provider-relay/internal/failure"
	"github.com/stacklet/provider-relay/internal/federation"
	"github.com/stacklet/provider-relay/internal/metrics"
	"github.com/stacklet/provider-relay/internal/relay"
	"github.com/stacklet/provider-relay/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

const functionName = "ProviderRelay"

var logger = logging.New()

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	LoadConfig          func() (config.Config, error)
	Tokens              federation.TokenSource
	NewSTSClient        func(ctx context.Context, region string) (federation.STSClient, error)
	NewAWSConfig        func(ctx context.Context, region string, creds aws.CredentialsProvider) (aws.Config, error)
	NewEventsClient     func(cfg aws.Config) relay.EventsClient
	NewCloudWatchClient func(cfg aws.Config) metrics.CloudWatchClient
}

var deps *Dependencies

// handler relays one queue message. The returned error is the classified
// failure, nil when the event was delivered or suppressed; the disposition
// tells the host whether to acknowledge or requeue the message.
func handler(ctx context.Context, invocationID string, msg relay.QueueMessage) (relay.Disposition, error) {
	ctx, span := telemetry.StartInvocationSpan(ctx, functionName,
		telemetry.InvocationID(invocationID),
		telemetry.MessageID(msg.ID),
		telemetry.DequeueCount(msg.DequeueCount),
	)
	defer span.End()

	cfg, err := deps.LoadConfig()
	if err != nil {
		logger.ErrorContext(ctx, "Invalid relay configuration",
			slog.String("invocation_id", invocationID),
			slog.String("error", err.Error()),
		)
		tracing.RecordError(span, err)
		return relay.Dispose(err, false), err
	}

	outcome, source, err := relayMessage(ctx, cfg, msg)
	disposition := relay.Dispose(err, cfg.SurfaceTerminal)

	if err != nil {
		tracing.RecordError(span, err)
		span.SetAttributes(telemetry.ErrorKind(string(failure.KindOf(err))))
		logger.ErrorContext(ctx, "Failed to relay event",
			slog.String("invocation_id", invocationID),
			slog.String("message_id", msg.ID),
			slog.Int("dequeue_count", msg.DequeueCount),
			slog.String("event_source", source),
			slog.String("error_kind", string(failure.KindOf(err))),
			slog.String("disposition", disposition.String()),
			slog.String("error", err.Error()),
		)
		return disposition, err
	}

	span.SetAttributes(telemetry.Outcome(string(outcome)))
	logger.InfoContext(ctx, "Relay completed",
		slog.String("invocation_id", invocationID),
		slog.String("message_id", msg.ID),
		slog.String("event_source", source),
		slog.String("outcome", string(outcome)),
	)
	return disposition, nil
}

// relayMessage runs the federation and forward steps for one message.
func relayMessage(ctx context.Context, cfg config.Config, msg relay.QueueMessage) (relay.Outcome, string, error) {
	event, err := relay.ParseInboundEvent(msg)
	if err != nil {
		return "", "", err
	}
	source := event.Source()
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(telemetry.EventSource(source), telemetry.EventBus(cfg.TargetEventBus))

	stsClient, err := deps.NewSTSClient(ctx, cfg.TargetRegion)
	if err != nil {
		return "", source, failure.New(failure.KindAuthTransient, "failed to create STS client").WithCause(err)
	}

	federator := federation.NewFederator(deps.Tokens, stsClient)
	creds, err := federator.AcquireCredentials(ctx, federation.Request{
		ClientID: cfg.ClientID,
		Audience: cfg.Audience,
		RoleARN:  cfg.RoleARN(),
	})
	if failure.IsKind(err, failure.KindPolicyDeny) {
		logger.WarnContext(ctx, "Skipping event, role assumption denied by resource-based policy",
			slog.String("event_source", source),
			slog.String("role_arn", cfg.RoleARN()),
		)
		return relay.OutcomeSuppressed, source, nil
	}
	if err != nil {
		return "", source, err
	}
	logger.InfoContext(ctx, "Got session", slog.Any("credentials", creds))

	awsCfg, err := deps.NewAWSConfig(ctx, cfg.TargetRegion, creds.Provider())
	if err != nil {
		return "", source, failure.New(failure.KindForwardTransient, "failed to create AWS config").WithCause(err)
	}

	forwarder := relay.NewForwarder(deps.NewEventsClient(awsCfg), logger)
	outcome, err := forwarder.Forward(ctx, event, cfg.TargetEventBus)

	recordOutcome(ctx, cfg, awsCfg, outcome, source, err)

	return outcome, source, err
}

// recordOutcome publishes the forward result when metrics are enabled.
// Publishing failures never change the invocation result.
func recordOutcome(ctx context.Context, cfg config.Config, awsCfg aws.Config, outcome relay.Outcome, source string, forwardErr error) {
	var publisher metrics.Publisher = metrics.Discard{}
	if cfg.MetricNamespace != "" {
		publisher = metrics.NewCloudWatchPublisher(deps.NewCloudWatchClient(awsCfg), cfg.MetricNamespace)
	}

	metric, label := metrics.MetricRelayed, string(outcome)
	switch {
	case forwardErr != nil:
		metric, label = metrics.MetricFailures, string(failure.KindOf(forwardErr))
	case outcome == relay.OutcomeSuppressed:
		metric = metrics.MetricSuppressed
	}

	if err := publisher.RecordOutcome(ctx, metric, label, source); err != nil {
		logger.WarnContext(ctx, "Failed to publish outcome metric",
			slog.String("metric", metric),
			slog.String("error", err.Error()),
		)
	}
}

// newDependencies wires the real Azure and AWS clients.
func newDependencies() *Dependencies {
	return &Dependencies{
		LoadConfig: config.FromEnvironment,
		Tokens:     federation.NewManagedIdentityTokenSource(),
		NewSTSClient: func(ctx context.Context, region string) (federation.STSClient, error) {
			return federation.NewSTSClient(ctx, region)
		},
		NewAWSConfig: relay.NewAWSConfig,
		NewEventsClient: func(cfg aws.Config) relay.EventsClient {
			return relay.NewEventsClient(cfg)
		},
		NewCloudWatchClient: func(cfg aws.Config) metrics.CloudWatchClient {
			return metrics.NewCloudWatchClient(cfg)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracer provider
	tp, err := telemetry.Init(ctx, "provider-relay")
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	_, coldStartSpan := tracing.StartColdStartSpan(ctx, functionName)

	deps = newDependencies()

	port := os.Getenv("FUNCTIONS_CUSTOMHANDLER_PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	coldStartSpan.End()

	go func() {
		logger.Info("Custom handler listening", slog.String("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("FATAL: Custom handler server failed",
				slog.String("error", err.Error()),
			)
			panic(err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down server", slog.String("error", err.Error()))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down tracer provider", slog.String("error", err.Error()))
	}
}
