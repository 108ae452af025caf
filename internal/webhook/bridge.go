package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nerrad567/gray-logic-ingest/internal/device"
	"github.com/nerrad567/gray-logic-ingest/internal/ingest"
)

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceLookup resolves devices by ID. Implemented by *device.Registry.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// Recorder stores normalized readings. Implemented by *ingest.Sink.
type Recorder interface {
	RecordAll(ctx context.Context, dev *device.Device, res ingest.Result, src ingest.Source, topic string) int
}

// Response is the body returned to webhook callers.
type Response struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	SensorsUpdated *int   `json:"sensors_updated,omitempty"`
}

// Bridge accepts single payloads over HTTP and feeds them through the
// same normalizer and sink as MQTT messages.
type Bridge struct {
	devices    DeviceLookup
	signer     *Signer
	normalizer *ingest.Normalizer
	sink       Recorder
	logger     Logger
}

// NewBridge creates a bridge.
func NewBridge(devices DeviceLookup, signer *Signer, n *ingest.Normalizer, sink Recorder) *Bridge {
	return &Bridge{
		devices:    devices,
		signer:     signer,
		normalizer: n,
		sink:       sink,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger.
func (b *Bridge) SetLogger(l Logger) { b.logger = l }

// Topic is the pseudo topic recorded on sensors created via the webhook.
func Topic(deviceID string) string {
	return "webhook/mqtt/" + deviceID
}

// Handle processes one webhook delivery and returns the HTTP status and
// body to send. It never panics; internal failures become a 500 with a
// generic message.
func (b *Bridge) Handle(ctx context.Context, deviceID, token string, body []byte) (status int, resp Response) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic while processing webhook", "device_id", deviceID, "panic", r)
			status, resp = failure(http.StatusInternalServerError, "Internal server error")
		}
	}()

	dev, err := b.devices.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			b.logger.Warn("webhook for unknown device", "device_id", deviceID)
			return failure(http.StatusNotFound, "Device not found")
		}
		b.logger.Error("webhook device lookup failed", "device_id", deviceID, "error", err)
		return failure(http.StatusInternalServerError, "Internal server error")
	}

	if !b.signer.Verify(dev.ID, dev.UserID, token) {
		reason := "invalid"
		if token == "" {
			reason = "missing"
		}
		b.logger.Warn("webhook rejected", "device_id", deviceID, "reason", reason, "error", ErrInvalidToken)
		return failure(http.StatusUnauthorized, "Invalid or missing token")
	}

	res, err := b.normalizer.NormalizeWebhook(body)
	switch {
	case errors.Is(err, ingest.ErrEmptyPayload):
		return failure(http.StatusBadRequest, "No data provided")
	case errors.Is(err, ingest.ErrInvalidPayload):
		return failure(http.StatusBadRequest, "Payload must be a JSON object")
	case err != nil:
		b.logger.Error("webhook payload not normalized", "device_id", deviceID, "error", err)
		return failure(http.StatusInternalServerError, "Internal server error")
	}

	n := b.sink.RecordAll(ctx, dev, res, ingest.SourceWebhook, Topic(dev.ID))
	b.logger.Info("webhook processed",
		"device_id", dev.ID,
		"dialect", res.Dialect,
		"sensors_updated", n,
	)

	return http.StatusOK, Response{
		Success:        true,
		Message:        fmt.Sprintf("Processed %d sensor readings", n),
		SensorsUpdated: &n,
	}
}

func failure(status int, message string) (int, Response) {
	return status, Response{Success: false, Message: message}
}
