// Package relay turns Azure system-topic queue messages into EventBridge
// events and submits them.
package relay

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/qri-io/jsonpointer"
	"github.com/stacklet/provider-relay/internal/failure"
)

// DetailType tags every relayed event. Rules on the receiving bus match on it.
const DetailType = "CloudEvent/Azure System Topic Event"

// OperationNamePointer locates the routing field in the event body.
const OperationNamePointer = "/data/operationName"

// QueueMessage is one message delivered by the queue trigger.
type QueueMessage struct {
	ID            string
	Body          []byte
	InsertionTime time.Time
	DequeueCount  int
}

// Text decodes the body as UTF-8 text.
func (m QueueMessage) Text() (string, error) {
	if !utf8.Valid(m.Body) {
		return "", failure.MalformedInput("message body is not valid UTF-8")
	}
	return string(m.Body), nil
}

// InboundEvent is a parsed queue message.
type InboundEvent struct {
	// Body is the message text exactly as received.
	Body          string
	InsertionTime time.Time
	OperationName string
}

// ParseInboundEvent decodes msg and extracts data.operationName. Every error
// is KindMalformedInput: redelivery cannot repair the message.
func ParseInboundEvent(msg QueueMessage) (*InboundEvent, error) {
	body, err := msg.Text()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, failure.MalformedInput("message body is not valid JSON").WithCause(err)
	}

	ptr, err := jsonpointer.Parse(OperationNamePointer)
	if err != nil {
		return nil, failure.MalformedInput("invalid JSON pointer").WithCause(err)
	}

	// The jsonpointer library returns (nil, nil) for nonexistent paths
	value, err := ptr.Eval(doc)
	if err != nil || value == nil {
		return nil, failure.MalformedInput("message body has no data.operationName").WithCause(err)
	}

	operationName, ok := value.(string)
	if !ok {
		return nil, failure.MalformedInput("data.operationName is not a string")
	}

	event := &InboundEvent{
		Body:          body,
		InsertionTime: msg.InsertionTime,
		OperationName: operationName,
	}
	if event.Source() == "" {
		return nil, failure.MalformedInput("data.operationName has no provider segment").
			WithDetail("operation_name", operationName)
	}

	return event, nil
}

// Source returns the resource provider namespace: the first segment of the
// operation name, e.g. Microsoft.Storage for Microsoft.Storage/accounts/write.
func (e *InboundEvent) Source() string {
	source, _, _ := strings.Cut(e.OperationName, "/")
	return source
}

// OutboundRecord is the EventBridge event built from an InboundEvent.
type OutboundRecord struct {
	Time         time.Time
	Source       string
	DetailType   string
	Detail       string
	EventBusName string
}

// BuildRecord builds the outbound record for event. Detail is the inbound
// body verbatim, never re-encoded.
func BuildRecord(event *InboundEvent, busName string) OutboundRecord {
	return OutboundRecord{
		Time:         event.InsertionTime,
		Source:       event.Source(),
		DetailType:   DetailType,
		Detail:       event.Body,
		EventBusName: busName,
	}
}

// Entry converts the record to a PutEvents entry.
func (r OutboundRecord) Entry() types.PutEventsRequestEntry {
	entry := types.PutEventsRequestEntry{
		Source:       aws.String(r.Source),
		DetailType:   aws.String(r.DetailType),
		Detail:       aws.String(r.Detail),
		EventBusName: aws.String(r.EventBusName),
	}
	if !r.Time.IsZero() {
		entry.Time = aws.Time(r.Time)
	}
	return entry
}
