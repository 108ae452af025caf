package ingest

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   any
		wantOK bool
	}{
		{"float unchanged", 25.5, 25.5, true},
		{"int unchanged", 7, 7, true},
		{"json number", json.Number("12.25"), 12.25, true},
		{"string with unit", "25.5 celsius", 25.5, true},
		{"negative string", "-4.2C", -4.2, true},
		{"explicit plus", "+3", 3.0, true},
		{"leading dot", ".5", 0.5, true},
		{"embedded", "rssi=-97dBm", -97.0, true},
		{"no digits", "offline", 0.0, true},
		{"empty string", "", 0.0, true},
		{"bool preserved", true, true, true},
		{"object preserved", map[string]any{"lat": 1.0}, map[string]any{"lat": 1.0}, true},
		{"array preserved", []any{1.0, 2.0}, []any{1.0, 2.0}, true},
		{"null dropped", nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Coerce(tt.in)
			if ok != tt.wantOK || !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Coerce(%#v) = %#v, %v, want %#v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCoerce_Idempotent(t *testing.T) {
	for _, in := range []any{"56.4 celsius", 3.0, "n/a", "-0.5"} {
		once, _ := Coerce(in)
		twice, _ := Coerce(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("Coerce(Coerce(%v)) = %v, want %v", in, twice, once)
		}
	}
}

func TestAsFloat(t *testing.T) {
	if f, ok := AsFloat(3); !ok || f != 3 {
		t.Errorf("AsFloat(3) = %v, %v", f, ok)
	}
	if f, ok := AsFloat(2.5); !ok || f != 2.5 {
		t.Errorf("AsFloat(2.5) = %v, %v", f, ok)
	}
	if _, ok := AsFloat(map[string]any{}); ok {
		t.Error("AsFloat(object) ok = true, want false")
	}
	if _, ok := AsFloat(true); ok {
		t.Error("AsFloat(bool) ok = true, want false")
	}
}

func FuzzParseLeadingFloat(f *testing.F) {
	f.Add("25.5 celsius")
	f.Add("--.")
	f.Add("1e309")
	f.Fuzz(func(t *testing.T, s string) {
		_ = ParseLeadingFloat(s)
	})
}
