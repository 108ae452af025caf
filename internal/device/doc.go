// Package device provides the device registry for the ingest service.
//
// A device is a registered data source owned by a user. MQTT devices
// carry the broker endpoint, credentials and topic subscriptions the
// connection pool needs; webhook devices only need an ID and owner.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────┐
//	│                      Device Registry                       │
//	│                                                            │
//	│  ┌────────────────┐   ┌────────────────┐   ┌────────────┐  │
//	│  │    Registry    │──▶│   Repository   │   │   Broker   │  │
//	│  │ (registry.go)  │   │(repository.go) │   │ (broker.go)│  │
//	│  │ • cache        │   │ • SQLite       │   │ • tag/host │  │
//	│  │ • status/seen  │   │ • JSON topics  │   │   detection│  │
//	│  └────────────────┘   └────────────────┘   └────────────┘  │
//	└───────────────────────────────────────────────────────────┘
//	          ▲                        ▲
//	   ingest pool / sink        webhook bridge
//
// # Key Types
//
//   - Device: registered data source with broker connection details
//   - BrokerType: closed set of broker families (LoRaWAN network server,
//     HiveMQ, EMQX, Mosquitto) selecting connection tuning and payload dialect
//   - Status: online, offline, maintenance, error, skipped
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	devices, err := registry.ActiveMQTTDevices(ctx)
//	bt := device.DetectBrokerType(&devices[0])
//
//	_ = registry.MarkSeen(ctx, devices[0].ID, time.Now())
package device
