package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StatusListener is notified after a device status has been persisted.
type StatusListener func(id string, status Status, at time.Time)

// Registry provides device lookups with caching and thread safety.
// It wraps a Repository and adds an in-memory cache.
//
// The devices table is shared with the platform that owns device
// records, so the pool re-reads active devices from the repository on
// every resync (ActiveMQTTDevices) rather than trusting the cache.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex
	logger  Logger

	listenerMu sync.RWMutex
	listener   StatusListener
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetStatusListener registers fn to be called after every status change.
func (r *Registry) SetStatusListener(fn StatusListener) {
	r.listenerMu.Lock()
	r.listener = fn
	r.listenerMu.Unlock()
}

// RefreshCache reloads all devices from the repository into the cache.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	// Might have been created by another writer since the last refresh.
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices returns all cached devices ordered by ID.
func (r *Registry) ListDevices() []Device {
	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// ActiveMQTTDevices loads the active MQTT devices straight from the
// repository and refreshes their cache entries.
func (r *Registry) ActiveMQTTDevices(ctx context.Context) ([]Device, error) {
	devices, err := r.repo.ListActiveMQTT(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active mqtt devices: %w", err)
	}

	r.cacheMu.Lock()
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}
	r.cacheMu.Unlock()

	return devices, nil
}

// CreateDevice validates and persists a new device.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "name", device.Name)
	return nil
}

// SetStatus writes status to every listed device without touching
// last_seen_at. All devices are attempted; failures are joined.
func (r *Registry) SetStatus(ctx context.Context, status Status, ids ...string) error {
	if err := ValidateStatus(status); err != nil {
		return err
	}

	var errs []error
	now := time.Now().UTC()
	for _, id := range ids {
		if err := r.repo.UpdateStatus(ctx, id, status, nil); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", id, err))
			continue
		}
		r.applyStatus(id, status, nil, now)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	r.logger.Debug("device status updated", "status", status, "count", len(ids))
	return nil
}

// MarkSeen sets the device online with last_seen_at = at.
func (r *Registry) MarkSeen(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	if err := r.repo.UpdateStatus(ctx, id, StatusOnline, &at); err != nil {
		return err
	}
	r.applyStatus(id, StatusOnline, &at, at)
	return nil
}

func (r *Registry) applyStatus(id string, status Status, lastSeen *time.Time, at time.Time) {
	r.cacheMu.Lock()
	var changed bool
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		changed = updated.Status != status
		updated.Status = status
		if lastSeen != nil {
			seen := *lastSeen
			updated.LastSeenAt = &seen
		}
		r.cache[id] = updated
	} else {
		changed = true
	}
	r.cacheMu.Unlock()

	if !changed {
		return
	}
	r.listenerMu.RLock()
	fn := r.listener
	r.listenerMu.RUnlock()
	if fn != nil {
		fn(id, status, at)
	}
}

// Stats summarises the cached devices.
func (r *Registry) Stats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	s := Stats{ByStatus: make(map[Status]int)}
	for _, d := range r.cache {
		s.Total++
		if d.Active {
			s.Active++
		}
		switch d.ConnectionType {
		case ConnectionMQTT:
			s.MQTT++
		case ConnectionWebhook:
			s.Webhook++
		}
		s.ByStatus[d.Status]++
	}
	return s
}

// Seed creates every device that does not already exist. Existing
// records are never overwritten. Returns how many were created.
func (r *Registry) Seed(ctx context.Context, devices []Device) (int, error) {
	created := 0
	for i := range devices {
		d := devices[i].DeepCopy()
		err := r.CreateDevice(ctx, d)
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrDeviceExists):
			r.logger.Debug("seed device already present", "id", d.ID)
		default:
			return created, fmt.Errorf("seeding device %s: %w", d.ID, err)
		}
	}
	return created, nil
}
