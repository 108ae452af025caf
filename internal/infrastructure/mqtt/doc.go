// Package mqtt provides MQTT client connectivity to device brokers.
//
// This package manages:
//   - One paho connection per broker endpoint, bounded by a timeout and a context
//   - Topic subscriptions with wildcard support and SUBACK checking
//   - TLS with optional client certificates and a private CA
//   - Topic filter compilation and matching
//
// # Architecture
//
// The ingest service connects outward to many third-party brokers (LoRaWAN
// network servers, HiveMQ Cloud, EMQX, Mosquitto) on behalf of devices.
// Each connection is independent; there is no shared internal bus.
//
//	Device broker A ─┐
//	Device broker B ─┼─► mqtt.Client ─► ingest pool ─► normalizer ─► store
//	Device broker C ─┘
//
// Automatic reconnection is disabled here. The ingest pool decides when to
// dial again so that a dead endpoint surfaces as a device error rather
// than an endless retry loop.
//
// # Security Considerations
//
//   - TLS 1.2 is the minimum version
//   - Peer verification is configurable and always on when ca.crt is supplied
//   - Credentials belong to the device record and are never logged
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, mqtt.ConnectOptions{
//	    Host:           "eu1.cloud.thethings.network",
//	    Port:           8883,
//	    UseTLS:         true,
//	    ClientID:       "graylogic_thethings_stack_1a2b3c4d",
//	    ConnectTimeout: 8 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.SubscribeAll([]string{"v3/+/devices/+/up"}, 0,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
//
//	mqtt.TopicMatches("v3/+/devices/+/up", "v3/app/devices/node-1/up") // true
package mqtt
