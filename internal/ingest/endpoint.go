package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-ingest/internal/device"
)

// anonymousIdentity is the identity of devices connecting without a username.
const anonymousIdentity = "anonymous"

// EndpointKey identifies one broker connection. Devices sharing a key
// share a connection.
type EndpointKey struct {
	Host     string
	Port     int
	Identity string
}

// KeyFor returns the endpoint key of d. Hosts compare case-insensitively.
func KeyFor(d *device.Device) EndpointKey {
	identity := d.Username
	if identity == "" {
		identity = anonymousIdentity
	}
	return EndpointKey{
		Host:     strings.ToLower(strings.TrimSpace(d.Host)),
		Port:     d.EffectivePort(),
		Identity: identity,
	}
}

// String renders the key as identity@host:port.
func (k EndpointKey) String() string {
	return k.Identity + "@" + k.Host + ":" + strconv.Itoa(k.Port)
}

// Group is the set of devices served by one broker connection.
type Group struct {
	Key        EndpointKey
	BrokerType device.BrokerType

	// Representative supplies TLS, credentials, client ID, keepalive and timeout
	// for the shared connection. It is the device with the lowest ID.
	Representative *device.Device

	Devices []*device.Device
	Topics  []string
	Routes  []Route

	// Signature changes whenever anything that affects the connection or
	// its subscriptions changes.
	Signature string
}

// DeviceIDs returns the IDs of the group's devices in order.
func (g *Group) DeviceIDs() []string {
	ids := make([]string, len(g.Devices))
	for i, d := range g.Devices {
		ids[i] = d.ID
	}
	return ids
}

// GroupDevices groups active MQTT devices by endpoint. Inactive devices,
// webhook devices and devices without a host are ignored. Groups are
// ordered by key and devices within a group by ID.
func GroupDevices(devices []device.Device) []*Group {
	byKey := make(map[EndpointKey]*Group)
	for i := range devices {
		d := devices[i].DeepCopy()
		if !d.Active || !d.IsMQTT() || strings.TrimSpace(d.Host) == "" {
			continue
		}
		key := KeyFor(d)
		g, ok := byKey[key]
		if !ok {
			g = &Group{Key: key}
			byKey[key] = g
		}
		g.Devices = append(g.Devices, d)
	}

	groups := make([]*Group, 0, len(byKey))
	for _, g := range byKey {
		sort.Slice(g.Devices, func(i, j int) bool { return g.Devices[i].ID < g.Devices[j].ID })
		g.Representative = g.Devices[0]
		g.BrokerType = device.DetectBrokerType(g.Representative)
		g.Topics = topicUnion(g.Devices)
		g.Routes = make([]Route, len(g.Devices))
		for i, d := range g.Devices {
			g.Routes[i] = NewRoute(d)
		}
		g.Signature = signature(g)
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Key.String() < groups[j].Key.String() })
	return groups
}

func topicUnion(devices []*device.Device) []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, d := range devices {
		for _, t := range d.Topics {
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			topics = append(topics, t)
		}
	}
	sort.Strings(topics)
	return topics
}

func signature(g *Group) string {
	r := g.Representative
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%t|%s|%s|%d|%d|", g.Key, g.BrokerType, r.UseTLS, r.Password, r.ClientID, r.KeepAlive, r.Timeout)
	for _, t := range g.Topics {
		fmt.Fprintf(h, "t:%s|", t)
	}
	for _, d := range g.Devices {
		fmt.Fprintf(h, "d:%s:%s:%s|", d.ID, d.UserID, strings.Join(d.Topics, ","))
	}
	return hex.EncodeToString(h.Sum(nil))
}
