package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-ingest/internal/device"
	"github.com/nerrad567/gray-logic-ingest/internal/sensor"
)

// sensorView is a sensor as returned by the API, with its alert status.
type sensorView struct {
	sensor.Sensor
	AlertStatus sensor.AlertStatus `json:"alert_status"`
}

// handleListDevices returns all devices, optionally filtered.
//
// Query parameters:
//   - status: online, offline, maintenance, error or skipped
//   - connection_type: mqtt or webhook
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := q.Get("status")
	if status != "" {
		if err := device.ValidateStatus(device.Status(status)); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}
	connType := q.Get("connection_type")

	all := s.devices.ListDevices()
	devices := make([]device.Device, 0, len(all))
	for _, d := range all {
		if status != "" && string(d.Status) != status {
			continue
		}
		if connType != "" && string(d.ConnectionType) != connType {
			continue
		}
		devices = append(devices, d)
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceStats returns device registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.Stats())
}

// handleListSensors returns the sensors auto-created for a device with
// their latest readings.
func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.devices.GetDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	sensors, err := s.sensors.ListByDevice(r.Context(), id)
	if err != nil {
		s.logger.Error("listing sensors failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to list sensors")
		return
	}

	views := make([]sensorView, len(sensors))
	for i := range sensors {
		views[i] = sensorView{Sensor: sensors[i], AlertStatus: sensors[i].AlertStatus()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sensors": views, "count": len(views)})
}
