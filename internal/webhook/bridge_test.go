package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-ingest/internal/device"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ingest/internal/ingest"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeLookup struct {
	devices map[string]*device.Device
	err     error
}

func (f *fakeLookup) GetDevice(_ context.Context, id string) (*device.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

type fakeRecorder struct {
	calls   int
	results []ingest.Result
	topic   string
	source  ingest.Source
	panics  bool
}

func (r *fakeRecorder) RecordAll(_ context.Context, _ *device.Device, res ingest.Result, src ingest.Source, topic string) int {
	if r.panics {
		panic("sink exploded")
	}
	r.calls++
	r.results = append(r.results, res)
	r.topic = topic
	r.source = src
	return len(res.Readings)
}

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Debug(string, ...any)      {}
func (l *recordingLogger) Info(string, ...any)       {}
func (l *recordingLogger) Warn(msg string, _ ...any) { l.warnings = append(l.warnings, msg) }
func (l *recordingLogger) Error(string, ...any)      {}

func newTestBridge(t *testing.T) (*Bridge, *Signer, *fakeRecorder, *fakeLookup) {
	t.Helper()
	signer, err := NewSigner(testSecret)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	lookup := &fakeLookup{devices: map[string]*device.Device{
		"esp-1": {ID: "esp-1", UserID: "user-1", Name: "ESP32", ConnectionType: device.ConnectionWebhook, Active: true},
	}}
	rec := &fakeRecorder{}
	b := NewBridge(lookup, signer, ingest.NewNormalizer(config.DefaultNormalization()), rec)
	return b, signer, rec, lookup
}

func TestBridgeHandle(t *testing.T) {
	b, signer, rec, _ := newTestBridge(t)
	token := signer.Token("esp-1", "user-1")

	status, resp := b.Handle(context.Background(), "esp-1", token,
		[]byte(`{"token":"ignored","temperature":25.5,"humidity":"60 %"}`))

	if status != http.StatusOK {
		t.Fatalf("Handle() status = %d, want 200 (%+v)", status, resp)
	}
	if !resp.Success || resp.SensorsUpdated == nil || *resp.SensorsUpdated != 2 {
		t.Errorf("Handle() response = %+v, want success with 2 sensors", resp)
	}
	if resp.Message != "Processed 2 sensor readings" {
		t.Errorf("Message = %q", resp.Message)
	}
	if rec.calls != 1 {
		t.Errorf("RecordAll calls = %d, want 1", rec.calls)
	}
	if rec.topic != "webhook/mqtt/esp-1" || rec.source != ingest.SourceWebhook {
		t.Errorf("recorded with topic %q source %q", rec.topic, rec.source)
	}
}

func TestBridgeHandleSensorArray(t *testing.T) {
	b, signer, rec, _ := newTestBridge(t)
	token := signer.Token("esp-1", "user-1")

	body := `{"sensors":[{"type":"temperature","value":"56.4 celsius"},{"type":"geolocation","subtype":"latitude","value":51.5},{"value":3}]}`
	status, resp := b.Handle(context.Background(), "esp-1", token, []byte(body))
	if status != http.StatusOK {
		t.Fatalf("Handle() status = %d, want 200", status)
	}
	if *resp.SensorsUpdated != 2 {
		t.Errorf("SensorsUpdated = %d, want 2", *resp.SensorsUpdated)
	}
	res := rec.results[0]
	if res.Dialect != ingest.DialectSensorArray || res.Dropped != 1 {
		t.Errorf("result dialect=%s dropped=%d, want sensor_array with 1 dropped", res.Dialect, res.Dropped)
	}
}

func TestBridgeHandleRejections(t *testing.T) {
	b, signer, rec, _ := newTestBridge(t)
	logger := &recordingLogger{}
	b.SetLogger(logger)
	good := signer.Token("esp-1", "user-1")

	tests := []struct {
		name       string
		deviceID   string
		token      string
		body       string
		wantStatus int
		wantMsg    string
	}{
		{"unknown device", "ghost", good, `{"t":1}`, http.StatusNotFound, "Device not found"},
		{"missing token", "esp-1", "", `{"t":1}`, http.StatusUnauthorized, "Invalid or missing token"},
		{"wrong token", "esp-1", signer.Token("esp-1", "user-2"), `{"t":1}`, http.StatusUnauthorized, "Invalid or missing token"},
		{"empty body", "esp-1", good, ``, http.StatusBadRequest, "No data provided"},
		{"only token", "esp-1", good, `{"token":"x"}`, http.StatusBadRequest, "No data provided"},
		{"array body", "esp-1", good, `[1,2]`, http.StatusBadRequest, "Payload must be a JSON object"},
		{"invalid json", "esp-1", good, `{oops`, http.StatusBadRequest, "Payload must be a JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := b.Handle(context.Background(), tt.deviceID, tt.token, []byte(tt.body))
			if status != tt.wantStatus {
				t.Errorf("Handle() status = %d, want %d", status, tt.wantStatus)
			}
			if resp.Success || resp.Message != tt.wantMsg || resp.SensorsUpdated != nil {
				t.Errorf("Handle() response = %+v, want failure %q", resp, tt.wantMsg)
			}
		})
	}

	if rec.calls != 0 {
		t.Errorf("RecordAll calls = %d, want 0", rec.calls)
	}

	rejected := 0
	for _, w := range logger.warnings {
		if w == "webhook rejected" {
			rejected++
		}
	}
	if rejected != 2 {
		t.Errorf("rejections logged = %d, want 2", rejected)
	}
}

func TestBridgeHandleInternalErrors(t *testing.T) {
	b, signer, rec, lookup := newTestBridge(t)
	token := signer.Token("esp-1", "user-1")

	rec.panics = true
	status, resp := b.Handle(context.Background(), "esp-1", token, []byte(`{"temperature":1}`))
	if status != http.StatusInternalServerError || resp.Message != "Internal server error" {
		t.Errorf("Handle() with panicking sink = %d %+v, want 500", status, resp)
	}

	rec.panics = false
	lookup.err = errors.New("database is locked")
	status, resp = b.Handle(context.Background(), "esp-1", token, []byte(`{"temperature":1}`))
	if status != http.StatusInternalServerError {
		t.Errorf("Handle() with lookup failure = %d, want 500", status)
	}
	if strings.Contains(resp.Message, "locked") {
		t.Errorf("Message %q leaks the internal error", resp.Message)
	}
}
