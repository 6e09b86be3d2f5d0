// Package wire encodes snapshots into the transport event format.
//
// Both transports carry the same named events: time-update bodies are the
// bare payload, status-update bodies are wrapped in an envelope carrying the
// sequence number and an ISO-8601 timestamp.
package wire

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/OllieMilton/pulsefeed/internal/snapshot"
)

// Frame is one encoded event ready for the wire.
type Frame struct {
	Event string
	ID    string
	Data  []byte
}

// statusEnvelope is the status-update body.
type statusEnvelope struct {
	EventType string           `json:"event_type"`
	Data      snapshot.Payload `json:"data"`
	Sequence  uint64           `json:"sequence"`
	Timestamp string           `json:"timestamp"`
}

// Encode turns a snapshot into a wire frame keyed by its payload kind.
func Encode(snap snapshot.Snapshot) (Frame, error) {
	var (
		body []byte
		err  error
	)

	switch snap.Payload.Kind() {
	case snapshot.KindStatus:
		body, err = json.Marshal(statusEnvelope{
			EventType: string(snapshot.KindStatus),
			Data:      snap.Payload,
			Sequence:  snap.Sequence,
			Timestamp: snap.Timestamp.UTC().Format(time.RFC3339),
		})
	default:
		body, err = json.Marshal(snap.Payload)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s event: %w", snap.Payload.Kind(), err)
	}

	return Frame{
		Event: string(snap.Payload.Kind()),
		ID:    strconv.FormatUint(snap.Sequence, 10),
		Data:  body,
	}, nil
}

// lagEnvelope is the connection-lagged body.
type lagEnvelope struct {
	MissedEvents uint64 `json:"missed_events"`
}

// EncodeLag builds the connection-lagged frame sent to a client whose queue
// overflowed, so it can resynchronise instead of assuming a gap-free stream.
// The frame id carries the connection id rather than a sequence number.
func EncodeLag(connectionID string, missed uint64) Frame {
	data, _ := json.Marshal(lagEnvelope{MissedEvents: missed})
	return Frame{Event: "connection-lagged", ID: connectionID, Data: data}
}

// WriteSSE writes the frame as a server-sent event: event, id and data
// fields followed by the blank separator line.
func (f Frame) WriteSSE(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", f.Event, f.ID, f.Data); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	return nil
}

// WriteSSEComment writes an SSE comment line, used as a keep-alive.
func WriteSSEComment(w io.Writer, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return fmt.Errorf("write sse comment: %w", err)
	}
	return nil
}

// websocketEnvelope mirrors the SSE fields for the WebSocket transport.
type websocketEnvelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

// MarshalWebSocket encodes the frame as a single JSON text message.
func (f Frame) MarshalWebSocket() ([]byte, error) {
	msg, err := json.Marshal(websocketEnvelope{Event: f.Event, ID: f.ID, Data: f.Data})
	if err != nil {
		return nil, fmt.Errorf("encode websocket frame: %w", err)
	}
	return msg, nil
}
