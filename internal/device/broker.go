package device

import "strings"

// BrokerType identifies the family of broker a device talks to. It drives
// connection tuning and which payload dialect the normalizer expects.
type BrokerType string

const (
	// BrokerLoRaWAN is a LoRaWAN network server (The Things Stack and friends).
	BrokerLoRaWAN   BrokerType = "thethings_stack"
	BrokerHiveMQ    BrokerType = "hivemq"
	BrokerEMQX      BrokerType = "emqx"
	BrokerMosquitto BrokerType = "mosquitto"
)

// DefaultBrokerType is used when neither the tag nor the host says otherwise.
const DefaultBrokerType = BrokerEMQX

// AllBrokerTypes returns every supported broker type.
func AllBrokerTypes() []BrokerType {
	return []BrokerType{BrokerLoRaWAN, BrokerHiveMQ, BrokerEMQX, BrokerMosquitto}
}

// String implements fmt.Stringer.
func (b BrokerType) String() string {
	return string(b)
}

var brokerAliases = map[string]BrokerType{
	"thethings_stack":  BrokerLoRaWAN,
	"the_things_stack": BrokerLoRaWAN,
	"thethingsstack":   BrokerLoRaWAN,
	"ttn":              BrokerLoRaWAN,
	"tts":              BrokerLoRaWAN,
	"lorawan":          BrokerLoRaWAN,
	"hivemq":           BrokerHiveMQ,
	"hivemq_cloud":     BrokerHiveMQ,
	"emqx":             BrokerEMQX,
	"esp32":            BrokerEMQX,
	"mosquitto":        BrokerMosquitto,
}

// ParseBrokerType resolves an explicit broker tag, ignoring case and
// surrounding whitespace. The second result is false for unknown tags.
func ParseBrokerType(s string) (BrokerType, bool) {
	bt, ok := brokerAliases[strings.ToLower(strings.TrimSpace(s))]
	return bt, ok
}

// hostRule maps a host substring to a broker type. Rules are checked in order.
type hostRule struct {
	needle string
	broker BrokerType
}

var hostRules = []hostRule{
	{"thethings", BrokerLoRaWAN},
	{"ttn", BrokerLoRaWAN},
	{"hivemq", BrokerHiveMQ},
	{"emqx", BrokerEMQX},
	{"mosquitto", BrokerMosquitto},
	{"localhost", BrokerMosquitto},
	{"127.0.0.1", BrokerMosquitto},
	{"broker.mqttdashboard.com", BrokerMosquitto},
}

// DetectBrokerType decides the broker type for d. An explicit
// connection_broker tag wins; an unknown tag yields the default. Without
// a tag the host is matched against hostRules, first hit wins.
func DetectBrokerType(d *Device) BrokerType {
	if d == nil {
		return DefaultBrokerType
	}

	if tag := strings.TrimSpace(d.ConnectionBroker); tag != "" {
		if bt, ok := ParseBrokerType(tag); ok {
			return bt
		}
		return DefaultBrokerType
	}

	return DetectBrokerTypeFromHost(d.Host)
}

// DetectBrokerTypeFromHost applies the host heuristics alone.
func DetectBrokerTypeFromHost(host string) BrokerType {
	h := strings.ToLower(host)
	if h == "" {
		return DefaultBrokerType
	}
	for _, rule := range hostRules {
		if strings.Contains(h, rule.needle) {
			return rule.broker
		}
	}
	return DefaultBrokerType
}
