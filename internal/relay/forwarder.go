package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/stacklet/provider-relay/internal/failure"
	"github.com/stacklet/provider-relay/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Outcome describes a successful forward.
type Outcome string

const (
	// OutcomeDelivered means the bus accepted the event.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeSuppressed means the bus explicitly denied the event by resource policy.
	OutcomeSuppressed Outcome = "suppressed"
)

// EventsClient defines the interface for EventBridge operations
type EventsClient interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Forwarder submits relayed events to an event bus.
type Forwarder struct {
	client EventsClient
	policy failure.Policy
	logger *slog.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(client EventsClient, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client: client,
		policy: failure.ForwardPolicy,
		logger: logger,
	}
}

// Forward submits event to busName as a single-entry PutEvents call. The call
// is not retried here; transient failures are returned for redelivery.
func (f *Forwarder) Forward(ctx context.Context, event *InboundEvent, busName string) (Outcome, error) {
	record := BuildRecord(event, busName)

	ctx, span := telemetry.StartSpan(ctx, "Forward",
		telemetry.EventSource(record.Source),
		telemetry.EventBus(record.EventBusName),
	)
	defer span.End()

	f.logger.InfoContext(ctx, "Forwarding event",
		slog.String("event_source", record.Source),
		slog.String("event_bus", record.EventBusName),
		slog.String("operation_name", event.OperationName),
	)
	f.logger.DebugContext(ctx, "Event detail", slog.String("detail", record.Detail))

	out, err := f.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{record.Entry()},
	})
	if err != nil {
		code, message, _ := failure.APIErrorParts(err)
		return f.handleFailure(ctx, span, f.policy.Classify(err), code, message, err)
	}

	if out.FailedEntryCount > 0 {
		var code, message string
		if len(out.Entries) > 0 {
			code, message = aws.ToString(out.Entries[0].ErrorCode), aws.ToString(out.Entries[0].ErrorMessage)
		}
		cause := fmt.Errorf("event rejected: %s: %s", code, message)
		return f.handleFailure(ctx, span, f.policy.ClassifyCode(code, message), code, message, cause)
	}

	eventID := ""
	if len(out.Entries) > 0 {
		eventID = aws.ToString(out.Entries[0].EventId)
	}
	f.logger.InfoContext(ctx, "Event forwarded",
		slog.String("event_source", record.Source),
		slog.String("event_id", eventID),
	)
	span.SetAttributes(telemetry.Outcome(string(OutcomeDelivered)))

	return OutcomeDelivered, nil
}

func (f *Forwarder) handleFailure(ctx context.Context, span trace.Span, class failure.Class, code, message string, cause error) (Outcome, error) {
	if class == failure.ClassSuppress {
		f.logger.WarnContext(ctx, "Skipping event denied by resource-based policy",
			slog.String("error_code", code),
			slog.String("error", message),
		)
		span.SetAttributes(telemetry.Outcome(string(OutcomeSuppressed)))
		return OutcomeSuppressed, nil
	}

	var ferr *failure.Error
	if class == failure.ClassTerminal {
		ferr = failure.New(failure.KindForwardPermission, "event bus rejected the event")
	} else {
		ferr = failure.New(failure.KindForwardTransient, "failed to put event")
	}
	ferr.WithCause(cause)
	if code != "" {
		ferr.WithDetail("error_code", code)
	}

	f.logger.ErrorContext(ctx, "Failed to put event",
		slog.String("error_kind", string(ferr.Kind)),
		slog.String("error_code", code),
		slog.String("error", cause.Error()),
	)
	tracing.RecordError(span, ferr)

	return "", ferr
}
