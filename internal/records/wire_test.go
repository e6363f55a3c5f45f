package records

import (
	"errors"
	"testing"
)

// ─── Encoding ──────────────────────────────────────────────────────

func TestEncodeWire(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		want   string
	}{
		{
			"switch state on",
			NewSwitchState(Address{1, 0, 7}, true, 1000),
			`{"address":"1/0/7","is_on":true,"observed_at":1000}`,
		},
		{
			"switch state off",
			NewSwitchState(Address{1, 0, 7}, false, 42),
			`{"address":"1/0/7","is_on":false,"observed_at":42}`,
		},
		{
			"switch control",
			NewSwitchControl(Address{1, 0, 6}, true),
			`{"address":"1/0/6","is_on":true}`,
		},
		{
			"temperature",
			NewTemperature(Address{9, 1, 0}, 21.5, 1000),
			`{"address":"9/1/0","value_celsius":21.5,"observed_at":1000}`,
		},
		{
			"negative temperature",
			NewTemperature(Address{9, 1, 0}, -3.25, 5),
			`{"address":"9/1/0","value_celsius":-3.25,"observed_at":5}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeWire(tt.record)
			if err != nil {
				t.Fatalf("EncodeWire() unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeWire() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeWireUnknownKind(t *testing.T) {
	_, err := EncodeWire(Record{Kind: "thermostat"})
	if !errors.Is(err, ErrUnknownTag) {
		t.Errorf("EncodeWire() error = %v, want ErrUnknownTag", err)
	}
}

// ─── Decoding ──────────────────────────────────────────────────────

func TestDecodeWire(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Record
		wantErr error
	}{
		{
			"switch state",
			`{"address":"1/0/7","is_on":true,"observed_at":1000}`,
			NewSwitchState(Address{1, 0, 7}, true, 1000),
			nil,
		},
		{
			"switch control",
			`{"address":"1/0/6","is_on":true}`,
			NewSwitchControl(Address{1, 0, 6}, true),
			nil,
		},
		{
			"switch control off",
			`{"address":"1/0/6","is_on":false}`,
			NewSwitchControl(Address{1, 0, 6}, false),
			nil,
		},
		{
			"temperature",
			`{"address":"9/1/0","value_celsius":21.5,"observed_at":1000}`,
			NewTemperature(Address{9, 1, 0}, 21.5, 1000),
			nil,
		},
		{
			"field order is irrelevant",
			`{"observed_at":7,"is_on":false,"address":"1/0/7"}`,
			NewSwitchState(Address{1, 0, 7}, false, 7),
			nil,
		},
		{"not json", `{{{`, Record{}, ErrMalformed},
		{"json array", `[1,2,3]`, Record{}, ErrMalformed},
		{"missing address", `{"is_on":true}`, Record{}, ErrMalformed},
		{"no value fields", `{"address":"1/0/7","observed_at":9}`, Record{}, ErrUnknownTag},
		{"empty object", `{}`, Record{}, ErrMalformed},
		{"ambiguous variant", `{"address":"1/0/7","is_on":true,"value_celsius":1.0,"observed_at":1}`, Record{}, ErrMalformed},
		{"temperature without timestamp", `{"address":"9/1/0","value_celsius":21.5}`, Record{}, ErrMalformed},
		{"address out of range", `{"address":"99/0/0","is_on":true}`, Record{}, ErrOutOfRange},
		{"address malformed", `{"address":"1/0","is_on":true}`, Record{}, ErrMalformed},
		{"wrong value type", `{"address":"1/0/7","is_on":"yes"}`, Record{}, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeWire([]byte(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeWire() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeWire() unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("DecodeWire() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// ─── Round trips ───────────────────────────────────────────────────

func TestWireRoundTrip(t *testing.T) {
	recs := []Record{
		NewSwitchState(Address{1, 0, 7}, true, 1700000000000),
		NewSwitchState(Address{1, 0, 7}, false, 0),
		NewSwitchControl(Address{1, 0, 6}, true),
		NewSwitchControl(Address{1, 0, 6}, false),
		NewTemperature(Address{9, 1, 0}, 21.5, 1700000000000),
		NewTemperature(Address{9, 1, 0}, -40.0, 1),
		NewTemperature(Address{9, 1, 0}, 0, 1),
	}

	for _, r := range recs {
		payload, err := EncodeWire(r)
		if err != nil {
			t.Fatalf("EncodeWire(%+v) unexpected error: %v", r, err)
		}
		back, err := DecodeWire(payload)
		if err != nil {
			t.Fatalf("DecodeWire(%s) unexpected error: %v", payload, err)
		}
		if !back.Equal(r) {
			t.Errorf("round trip of %+v via %s = %+v", r, payload, back)
		}
	}
}
