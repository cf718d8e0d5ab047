package telemetry

import (
	"testing"

	"github.com/nerrad567/gray-logic-session/internal/transport"
)

type point struct {
	measurement string
	tags        map[string]string
	fields      map[string]interface{}
}

type fakeWriter struct {
	points []point
}

func (w *fakeWriter) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	w.points = append(w.points, point{measurement: measurement, tags: tags, fields: fields})
}

func (w *fakeWriter) only(t *testing.T) point {
	t.Helper()
	if len(w.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(w.points))
	}
	return w.points[0]
}

// =============================================================================
// Session events
// =============================================================================

func TestConnectResult(t *testing.T) {
	tests := []struct {
		name      string
		code      transport.ResultCode
		wantEvent string
	}{
		{"accepted", transport.ResultSuccess, EventConnect},
		{"not authorized", transport.ResultNotAuthorized, EventRefused},
		{"network error", transport.ResultNetworkError, EventRefused},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{}
			NewRecorder(w).ConnectResult("dev1", tt.code)

			p := w.only(t)
			if p.measurement != MeasurementSession {
				t.Errorf("measurement = %q, want %q", p.measurement, MeasurementSession)
			}
			if p.tags["event"] != tt.wantEvent {
				t.Errorf("event tag = %q, want %q", p.tags["event"], tt.wantEvent)
			}
			if p.tags["client_id"] != "dev1" {
				t.Errorf("client_id tag = %q, want dev1", p.tags["client_id"])
			}
			if p.fields["code"] != int(tt.code) {
				t.Errorf("code field = %v, want %d", p.fields["code"], tt.code)
			}
			if p.fields["reason"] != tt.code.String() {
				t.Errorf("reason field = %v, want %q", p.fields["reason"], tt.code.String())
			}
		})
	}
}

func TestDisconnectResult(t *testing.T) {
	w := &fakeWriter{}
	NewRecorder(w).DisconnectResult("dev1", transport.ResultNetworkError, true)

	p := w.only(t)
	if p.tags["event"] != EventDisconnect {
		t.Errorf("event tag = %q, want %q", p.tags["event"], EventDisconnect)
	}
	if p.fields["reconnecting"] != true {
		t.Errorf("reconnecting field = %v, want true", p.fields["reconnecting"])
	}
	if p.fields["code"] != 0xFE {
		t.Errorf("code field = %v, want 254", p.fields["code"])
	}
}

type flushingWriter struct {
	fakeWriter
	flushes int
}

func (w *flushingWriter) Flush() { w.flushes++ }

func TestDisconnectResult_Flush(t *testing.T) {
	tests := []struct {
		name         string
		reconnecting bool
		wantFlushes  int
	}{
		{"reconnecting", true, 0},
		{"session ending", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &flushingWriter{}
			NewRecorder(w).DisconnectResult("dev1", transport.ResultNetworkError, tt.reconnecting)

			w.only(t)
			if w.flushes != tt.wantFlushes {
				t.Errorf("Flush() calls = %d, want %d", w.flushes, tt.wantFlushes)
			}
		})
	}
}

// =============================================================================
// Messages
// =============================================================================

func TestMessageReceived(t *testing.T) {
	w := &fakeWriter{}
	NewRecorder(w).MessageReceived("dev1", "home/kitchen/temp", 4)

	p := w.only(t)
	if p.measurement != MeasurementMessages {
		t.Errorf("measurement = %q, want %q", p.measurement, MeasurementMessages)
	}
	if _, ok := p.tags["topic"]; ok {
		t.Error("topic written as tag, want field")
	}
	if p.fields["topic"] != "home/kitchen/temp" || p.fields["bytes"] != 4 {
		t.Errorf("fields = %v", p.fields)
	}
}
