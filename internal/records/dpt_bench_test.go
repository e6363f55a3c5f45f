package records

import "testing"

// ─── DPT1 (boolean switch) ──────────────────────────────────────────

func BenchmarkEncodeDPT1(b *testing.B) {
	for i := 0; i < b.N; i++ {
		EncodeDPT1(true)
	}
}

func BenchmarkDecodeDPT1(b *testing.B) {
	data := []byte{0x01}
	for i := 0; i < b.N; i++ {
		DecodeDPT1(data) //nolint:errcheck // benchmark
	}
}

// ─── DPT9 (2-byte float temperature) ────────────────────────────────

func BenchmarkEncodeDPT9(b *testing.B) {
	for i := 0; i < b.N; i++ {
		EncodeDPT9(21.5) //nolint:errcheck // benchmark
	}
}

func BenchmarkDecodeDPT9(b *testing.B) {
	data := []byte{0x0C, 0x33}
	for i := 0; i < b.N; i++ {
		DecodeDPT9(data) //nolint:errcheck // benchmark
	}
}

// ─── Wire codec ─────────────────────────────────────────────────────

func BenchmarkEncodeWire(b *testing.B) {
	r := NewSwitchState(Address{1, 0, 7}, true, 1700000000000)
	for i := 0; i < b.N; i++ {
		EncodeWire(r) //nolint:errcheck // benchmark
	}
}

func BenchmarkDecodeWire(b *testing.B) {
	payload := []byte(`{"address":"1/0/7","is_on":true,"observed_at":1700000000000}`)
	for i := 0; i < b.N; i++ {
		DecodeWire(payload) //nolint:errcheck // benchmark
	}
}
