package telemetry

import (
	"github.com/nerrad567/gray-logic-session/internal/session"
)

// Measurement names written by the Recorder.
const (
	MeasurementSession  = "mqtt_session"
	MeasurementMessages = "mqtt_messages"
)

// Event tag values for MeasurementSession.
const (
	EventConnect    = "connect"
	EventRefused    = "refused"
	EventDisconnect = "disconnect"
)

// PointWriter queues one time-series point. It must not block.
// It is satisfied by *influxdb.Client.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// flusher is implemented by writers that buffer points, such as
// *influxdb.Client.
type flusher interface {
	Flush()
}

// Recorder writes session lifecycle and message events as time-series
// points. It implements session.Observer.
type Recorder struct {
	writer PointWriter
}

var _ session.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder writing to w.
func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{writer: w}
}

// ConnectResult records a connect outcome. Refusals and network failures
// are tagged "refused".
func (r *Recorder) ConnectResult(clientID string, code session.ResultCode) {
	event := EventConnect
	if !code.OK() {
		event = EventRefused
	}
	r.writer.WritePoint(MeasurementSession,
		map[string]string{
			"client_id": clientID,
			"event":     event,
		},
		map[string]interface{}{
			"code":   int(code),
			"reason": code.String(),
		},
	)
}

// DisconnectResult records a disconnect and whether a reconnect follows.
// When the session is ending the writer is flushed so the final points are
// not left in its buffer.
func (r *Recorder) DisconnectResult(clientID string, code session.ResultCode, reconnecting bool) {
	r.writer.WritePoint(MeasurementSession,
		map[string]string{
			"client_id": clientID,
			"event":     EventDisconnect,
		},
		map[string]interface{}{
			"code":         int(code),
			"reason":       code.String(),
			"reconnecting": reconnecting,
		},
	)

	if f, ok := r.writer.(flusher); ok && !reconnecting {
		f.Flush()
	}
}

// MessageReceived records one inbound message. The topic is a field, not a
// tag, to keep series cardinality bounded.
func (r *Recorder) MessageReceived(clientID, topic string, size int) {
	r.writer.WritePoint(MeasurementMessages,
		map[string]string{
			"client_id": clientID,
		},
		map[string]interface{}{
			"topic": topic,
			"bytes": size,
		},
	)
}
