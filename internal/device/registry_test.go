package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu        sync.Mutex
	devices   map[string]*Device
	statusErr error
	listCalls int
}

func NewMockRepository(devices ...*Device) *MockRepository {
	m := &MockRepository{devices: make(map[string]*Device)}
	for _, d := range devices {
		m.devices[d.ID] = d.DeepCopy()
	}
	return m
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[id]; ok {
		return d.DeepCopy(), nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.DeepCopy())
	}
	return devices, nil
}

func (m *MockRepository) ListActiveMQTT(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	var devices []Device
	for _, d := range m.devices {
		if d.Active && d.IsMQTT() {
			devices = append(devices, *d.DeepCopy())
		}
	}
	return devices, nil
}

func (m *MockRepository) Create(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[d.ID]; ok {
		return ErrDeviceExists
	}
	if d.Status == "" {
		d.Status = StatusOffline
	}
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

func (m *MockRepository) UpdateStatus(_ context.Context, id string, status Status, lastSeen *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statusErr != nil {
		return m.statusErr
	}
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Status = status
	if lastSeen != nil {
		seen := *lastSeen
		d.LastSeenAt = &seen
	}
	return nil
}

func TestRegistry_GetDevice(t *testing.T) {
	repo := NewMockRepository(testDevice("dev-1"))
	reg := NewRegistry(repo)
	ctx := context.Background()

	got, err := reg.GetDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	got.Name = "mutated"

	again, err := reg.GetDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if again.Name == "mutated" {
		t.Error("GetDevice() returned a reference into the cache")
	}

	if _, err := reg.GetDevice(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_ActiveMQTTDevicesReadsRepository(t *testing.T) {
	repo := NewMockRepository(testDevice("dev-1"))
	reg := NewRegistry(repo)
	ctx := context.Background()

	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	// Written by another process after the cache was filled.
	if err := repo.Create(ctx, testDevice("dev-2")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := reg.ActiveMQTTDevices(ctx)
	if err != nil {
		t.Fatalf("ActiveMQTTDevices() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ActiveMQTTDevices() len = %d, want 2", len(got))
	}
	if n := len(reg.ListDevices()); n != 2 {
		t.Errorf("ListDevices() len = %d after reload, want 2", n)
	}
}

func TestRegistry_SetStatus(t *testing.T) {
	repo := NewMockRepository(testDevice("dev-1"), testDevice("dev-2"))
	reg := NewRegistry(repo)
	ctx := context.Background()
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	var mu sync.Mutex
	notified := map[string]Status{}
	reg.SetStatusListener(func(id string, s Status, _ time.Time) {
		mu.Lock()
		notified[id] = s
		mu.Unlock()
	})

	if err := reg.SetStatus(ctx, StatusSkipped, "dev-1", "dev-2"); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	for _, id := range []string{"dev-1", "dev-2"} {
		d, _ := reg.GetDevice(ctx, id)
		if d.Status != StatusSkipped {
			t.Errorf("%s Status = %q, want skipped", id, d.Status)
		}
		if notified[id] != StatusSkipped {
			t.Errorf("listener not notified for %s", id)
		}
	}

	if err := reg.SetStatus(ctx, "sleepy", "dev-1"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("SetStatus(invalid) error = %v, want ErrInvalidStatus", err)
	}
}

func TestRegistry_SetStatusAttemptsAll(t *testing.T) {
	repo := NewMockRepository(testDevice("dev-1"))
	reg := NewRegistry(repo)

	err := reg.SetStatus(context.Background(), StatusError, "missing", "dev-1")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("SetStatus() error = %v, want ErrDeviceNotFound", err)
	}

	d, _ := repo.GetByID(context.Background(), "dev-1")
	if d.Status != StatusError {
		t.Errorf("dev-1 Status = %q, want error despite earlier failure", d.Status)
	}
}

func TestRegistry_MarkSeen(t *testing.T) {
	repo := NewMockRepository(testDevice("dev-1"))
	reg := NewRegistry(repo)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	if err := reg.MarkSeen(ctx, "dev-1", at); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}

	d, _ := reg.GetDevice(ctx, "dev-1")
	if d.Status != StatusOnline {
		t.Errorf("Status = %q, want online", d.Status)
	}
	if d.LastSeenAt == nil || !d.LastSeenAt.Equal(at) {
		t.Errorf("LastSeenAt = %v, want %v", d.LastSeenAt, at)
	}
}

func TestRegistry_Stats(t *testing.T) {
	webhook := testDevice("dev-3")
	webhook.ConnectionType = ConnectionWebhook
	inactive := testDevice("dev-2")
	inactive.Active = false

	reg := NewRegistry(NewMockRepository(testDevice("dev-1"), inactive, webhook))
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	s := reg.Stats()
	if s.Total != 3 || s.Active != 2 || s.MQTT != 2 || s.Webhook != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestRegistry_SeedKeepsExisting(t *testing.T) {
	existing := testDevice("dev-1")
	existing.Name = "Original"
	repo := NewMockRepository(existing)
	reg := NewRegistry(repo)

	replacement := testDevice("dev-1")
	replacement.Name = "Replacement"

	created, err := reg.Seed(context.Background(), []Device{*replacement, *testDevice("dev-2")})
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if created != 1 {
		t.Errorf("Seed() created = %d, want 1", created)
	}

	d, _ := repo.GetByID(context.Background(), "dev-1")
	if d.Name != "Original" {
		t.Errorf("Seed() overwrote existing device name to %q", d.Name)
	}
}

func TestRegistry_SeedRejectsInvalid(t *testing.T) {
	reg := NewRegistry(NewMockRepository())
	bad := testDevice("dev-1")
	bad.Host = ""

	if _, err := reg.Seed(context.Background(), []Device{*bad}); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("Seed() error = %v, want ErrInvalidDevice", err)
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	content := `
devices:
  - id: node-1
    user_id: user-1
    name: North field
    mqtt_host: eu1.cloud.thethings.network
    use_ssl: true
    mqtt_topics: ["v3/+/devices/node-1/up"]
    is_active: true
  - id: hook-1
    user_id: user-1
    name: Webhook sensor
    connection_type: webhook
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	devices, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("LoadSeedFile() len = %d, want 2", len(devices))
	}
	if devices[0].ConnectionType != ConnectionMQTT {
		t.Errorf("default ConnectionType = %q, want mqtt", devices[0].ConnectionType)
	}
	if !devices[0].UseTLS || len(devices[0].Topics) != 1 {
		t.Errorf("devices[0] = %+v", devices[0])
	}
	if devices[1].ConnectionType != ConnectionWebhook {
		t.Errorf("devices[1].ConnectionType = %q, want webhook", devices[1].ConnectionType)
	}
}

func TestLoadSeedFile_Errors(t *testing.T) {
	if _, err := LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrSeedFile) {
		t.Errorf("LoadSeedFile(missing) error = %v, want ErrSeedFile", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("devices: [\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSeedFile(path); !errors.Is(err, ErrSeedFile) {
		t.Errorf("LoadSeedFile(bad yaml) error = %v, want ErrSeedFile", err)
	}
}
