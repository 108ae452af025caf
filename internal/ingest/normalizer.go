package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nerrad567/gray-logic-ingest/internal/device"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/config"
)

// Dialect names the payload shape a message was decoded as.
type Dialect string

const (
	DialectPlainText   Dialect = "plain_text"
	DialectLoRaWAN     Dialect = "lorawan"
	DialectSensorArray Dialect = "sensor_array"
	DialectExplicit    Dialect = "explicit"
	DialectFlat        Dialect = "flat"
)

// Reading is one normalized (sensor type, value, unit) triple.
type Reading struct {
	SensorType string
	Value      any
	Unit       string
}

// Result is the outcome of normalizing one message.
type Result struct {
	Dialect  Dialect
	Readings []Reading
	// Dropped counts entries that were present but could not become a reading.
	Dropped int
}

// lorawanPaths are probed in order for the decoded application payload.
var lorawanPaths = [][]string{
	{"uplink_message", "decoded_payload", "data"},
	{"uplink_message", "decoded_payload"},
	{"decoded_payload"},
}

var (
	lorawanSkipKeys = map[string]struct{}{
		"gps_fix": {}, "gps_fix_type": {}, "warnings": {}, "errors": {},
	}
	flatSkipKeys = map[string]struct{}{
		"timestamp": {}, "device_id": {}, "message_id": {}, "metadata": {},
	}
)

// Normalizer turns broker payloads into readings using configurable
// synonym and unit tables. It is safe for concurrent use.
type Normalizer struct {
	mappings map[string]string
	units    map[string]string
	synonyms []config.UnitSynonym
}

// NewNormalizer builds a Normalizer from the normalization tables.
// Table keys and synonym fragments are matched case-insensitively.
func NewNormalizer(cfg config.NormalizationConfig) *Normalizer {
	n := &Normalizer{
		mappings: make(map[string]string, len(cfg.SensorMappings)),
		units:    make(map[string]string, len(cfg.SensorUnits)),
		synonyms: make([]config.UnitSynonym, 0, len(cfg.UnitSynonyms)),
	}
	for k, v := range cfg.SensorMappings {
		n.mappings[strings.ToLower(k)] = v
	}
	for k, v := range cfg.SensorUnits {
		n.units[strings.ToLower(k)] = v
	}
	for _, s := range cfg.UnitSynonyms {
		if s.Text == "" {
			continue
		}
		n.synonyms = append(n.synonyms, config.UnitSynonym{Text: strings.ToLower(s.Text), Unit: s.Unit})
	}
	return n
}

// SensorType lowercases key and applies the synonym table.
func (n *Normalizer) SensorType(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if mapped, ok := n.mappings[k]; ok {
		return mapped
	}
	return k
}

// DefaultUnit returns the configured unit for a sensor type, or "".
func (n *Normalizer) DefaultUnit(sensorType string) string {
	return n.units[strings.ToLower(sensorType)]
}

// UnitFromText returns the unit of the first synonym fragment found in s.
func (n *Normalizer) UnitFromText(s string) string {
	lower := strings.ToLower(s)
	for _, syn := range n.synonyms {
		if strings.Contains(lower, syn.Text) {
			return syn.Unit
		}
	}
	return ""
}

// Normalize decodes a message body received on topic from a broker of
// type bt. It never fails; undecodable input falls back to plain text.
// A JSON null body carries no reading and is counted as dropped.
func (n *Normalizer) Normalize(bt device.BrokerType, topic string, body []byte) Result {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return n.plainText(topic, body)
	}
	if data == nil {
		return Result{Dialect: DialectPlainText, Dropped: 1}
	}

	switch bt {
	case device.BrokerLoRaWAN:
		return n.lorawan(data)
	case device.BrokerHiveMQ, device.BrokerEMQX, device.BrokerMosquitto:
		return n.generic(data)
	default:
		// DetectBrokerType never yields anything else.
		return n.generic(data)
	}
}

// NormalizeWebhook decodes an HTTP-delivered body with the generic
// dialects. A top-level "token" field is ignored; an object with nothing
// else is reported as ErrEmptyPayload.
func (n *Normalizer) NormalizeWebhook(body []byte) (Result, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Result{}, ErrEmptyPayload
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		if err == nil {
			err = fmt.Errorf("got null")
		}
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	delete(data, "token")
	if len(data) == 0 {
		return Result{}, ErrEmptyPayload
	}

	return n.generic(data), nil
}

func (n *Normalizer) plainText(topic string, body []byte) Result {
	res := Result{Dialect: DialectPlainText}

	segment := topic
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		segment = topic[i+1:]
	}
	sensorType := n.SensorType(segment)
	if sensorType == "" {
		res.Dropped++
		return res
	}

	value, _ := Coerce(string(body))
	res.Readings = append(res.Readings, Reading{
		SensorType: sensorType,
		Value:      value,
		Unit:       n.DefaultUnit(sensorType),
	})
	return res
}

func (n *Normalizer) lorawan(data map[string]any) Result {
	payload := lorawanPayload(data)
	if payload == nil {
		if _, ok := data["sensors"].([]any); ok {
			return n.sensorArray(data)
		}
		// Join accepts, downlink acks and the like carry no readings.
		return Result{Dialect: DialectLoRaWAN, Dropped: 1}
	}

	res := Result{Dialect: DialectLoRaWAN}
	for _, key := range sortedKeys(payload) {
		if _, skip := lorawanSkipKeys[strings.ToLower(key)]; skip {
			continue
		}
		n.appendReading(&res, n.SensorType(key), payload[key], "")
	}
	return res
}

func lorawanPayload(data map[string]any) map[string]any {
	for _, path := range lorawanPaths {
		var cur any = data
		for _, key := range path {
			obj, ok := cur.(map[string]any)
			if !ok {
				cur = nil
				break
			}
			cur = obj[key]
		}
		if obj, ok := cur.(map[string]any); ok && len(obj) > 0 {
			return obj
		}
	}
	return nil
}

// generic applies the array, explicit and flat dialects in that order.
func (n *Normalizer) generic(data map[string]any) Result {
	if _, ok := data["sensors"].([]any); ok {
		return n.sensorArray(data)
	}

	if st, ok := data["sensor_type"].(string); ok && data["value"] != nil {
		res := Result{Dialect: DialectExplicit}
		unit, _ := data["unit"].(string)
		n.appendReading(&res, n.SensorType(st), data["value"], unit)
		return res
	}

	res := Result{Dialect: DialectFlat}
	for _, key := range sortedKeys(data) {
		if _, skip := flatSkipKeys[strings.ToLower(key)]; skip {
			continue
		}
		n.appendReading(&res, n.SensorType(key), data[key], "")
	}
	return res
}

func (n *Normalizer) sensorArray(data map[string]any) Result {
	res := Result{Dialect: DialectSensorArray}

	entries, _ := data["sensors"].([]any)
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			res.Dropped++
			continue
		}
		rawType, ok := entry["type"].(string)
		if !ok || entry["value"] == nil {
			res.Dropped++
			continue
		}

		sensorType := n.SensorType(rawType)
		if rawType == "geolocation" {
			if sub, ok := entry["subtype"].(string); ok && sub != "" {
				sensorType = n.SensorType(sub)
			}
		}

		unit := ""
		if s, ok := entry["value"].(string); ok {
			unit = n.UnitFromText(s)
		}
		n.appendReading(&res, sensorType, entry["value"], unit)
	}
	return res
}

// appendReading coerces raw and appends it, falling back to the default
// unit when unit is empty.
func (n *Normalizer) appendReading(res *Result, sensorType string, raw any, unit string) {
	value, ok := Coerce(raw)
	if !ok || sensorType == "" {
		res.Dropped++
		return
	}
	if unit == "" {
		unit = n.DefaultUnit(sensorType)
	}
	res.Readings = append(res.Readings, Reading{SensorType: sensorType, Value: value, Unit: unit})
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
