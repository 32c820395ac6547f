package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stacklet/provider-relay/internal/failure"
	"github.com/stacklet/provider-relay/internal/relay"
)

// Azure Functions custom handler protocol
const (
	invocationIDHeader = "X-Azure-Functions-InvocationId"
	triggerBinding     = "msg"
	maxRequestBytes    = 1 << 20
)

// invokeRequest is the payload the Functions host posts for a queue trigger.
type invokeRequest struct {
	Data     map[string]json.RawMessage `json:"Data"`
	Metadata map[string]json.RawMessage `json:"Metadata"`
}

// invokeResponse is returned to the host. Logs are appended to the host's
// invocation log.
type invokeResponse struct {
	Outputs     map[string]any `json:"Outputs"`
	Logs        []string       `json:"Logs"`
	ReturnValue any            `json:"ReturnValue"`
}

// insertionTimeLayouts are tried in order when parsing the InsertionTime metadata.
var insertionTimeLayouts = []string{
	time.RFC3339Nano,
	"1/2/2006 3:04:05 PM -07:00",
	"01/02/2006 15:04:05 -07:00",
	"2006-01-02 15:04:05Z07:00",
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /"+functionName, invokeHandler)
	return mux
}

// invokeHandler adapts one host invocation to handler. A 200 acknowledges
// the message; any other status fails the invocation and the host requeues it.
func invokeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	invocationID := r.Header.Get(invocationIDHeader)
	if invocationID == "" {
		invocationID = uuid.NewString()
	}

	var req invokeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		logger.ErrorContext(ctx, "Failed to decode invocation request",
			slog.String("invocation_id", invocationID),
			slog.String("error", err.Error()),
		)
		writeResponse(w, http.StatusBadRequest, "invalid invocation request")
		return
	}

	msg, err := decodeQueueMessage(req)
	if err != nil {
		// The host delivered something that is not a queue message: retrying
		// it yields the same payload.
		logger.ErrorContext(ctx, "Failed to decode queue message",
			slog.String("invocation_id", invocationID),
			slog.String("error", err.Error()),
		)
		writeResponse(w, http.StatusOK, err.Error())
		return
	}

	disposition, err := handler(ctx, invocationID, msg)
	if disposition == relay.Requeue {
		writeResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err != nil {
		writeResponse(w, http.StatusOK, err.Error())
		return
	}
	writeResponse(w, http.StatusOK)
}

func writeResponse(w http.ResponseWriter, status int, logs ...string) {
	if logs == nil {
		logs = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(invokeResponse{
		Outputs: map[string]any{},
		Logs:    logs,
	})
}

// decodeQueueMessage extracts the trigger payload and queue metadata. The
// host sends the message text as a JSON string, or as a raw JSON value when
// the message itself is JSON. In the raw case the body is the host's
// re-serialization of the message, so whitespace and key order are only
// preserved as far as the host preserves them.
func decodeQueueMessage(req invokeRequest) (relay.QueueMessage, error) {
	raw, ok := req.Data[triggerBinding]
	if !ok {
		return relay.QueueMessage{}, failure.MalformedInput(fmt.Sprintf("invocation has no %q binding", triggerBinding))
	}

	body := bytes.TrimSpace(raw)
	if len(body) > 0 && body[0] == '"' {
		var text string
		if err := json.Unmarshal(body, &text); err != nil {
			return relay.QueueMessage{}, failure.MalformedInput("queue message is not a valid JSON string").WithCause(err)
		}
		body = []byte(text)
	}

	msg := relay.QueueMessage{
		ID:   metadataString(req.Metadata, "Id"),
		Body: body,
	}

	if ts := metadataString(req.Metadata, "InsertionTime"); ts != "" {
		if t, ok := parseInsertionTime(ts); ok {
			msg.InsertionTime = t
		} else {
			logger.Warn("Ignoring unparseable insertion time", slog.String("insertion_time", ts))
		}
	}

	if n, ok := metadataInt(req.Metadata, "DequeueCount"); ok {
		msg.DequeueCount = n
	}

	return msg, nil
}

func metadataString(metadata map[string]json.RawMessage, key string) string {
	raw, ok := metadata[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// metadataInt accepts both numbers and numeric strings.
func metadataInt(metadata map[string]json.RawMessage, key string) (int, bool) {
	raw, ok := metadata[key]
	if !ok {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(metadataString(metadata, key)))
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseInsertionTime(value string) (time.Time, bool) {
	for _, layout := range insertionTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
