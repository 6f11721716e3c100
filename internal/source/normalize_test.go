package source

import (
	"reflect"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"nil passes through", nil, nil},
		{"string passes through", "hello", "hello"},
		{"int passes through", int64(42), int64(42)},
		{"bool passes through", true, true},
		{"decimal bytes become float", []byte("1234.56"), 1234.56},
		{"negative decimal bytes become float", []byte("-7.5"), -7.5},
		{"integer bytes become float", []byte("100"), 100.0},
		{"text bytes become string", []byte("acme store"), "acme store"},
		{"exponent-looking bytes stay text", []byte("1e5"), "1e5"},
		{"empty bytes become string", []byte(""), ""},
		{"time becomes ISO-8601", ts, "2024-03-10T08:30:00Z"},
		{
			"nested map recursed",
			map[string]interface{}{"revenue": []byte("99.90"), "when": ts},
			map[string]interface{}{"revenue": 99.9, "when": "2024-03-10T08:30:00Z"},
		},
		{
			"slice recursed",
			[]interface{}{[]byte("1.5"), "x"},
			[]interface{}{1.5, "x"},
		},
		{"unknown type stringified", struct{ X int }{7}, "{7}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}
