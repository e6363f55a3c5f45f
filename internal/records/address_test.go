package records

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Address
		wantErr error
	}{
		{"simple", "1/0/7", Address{1, 0, 7}, nil},
		{"zeros", "0/0/0", Address{0, 0, 0}, nil},
		{"maximums", "31/7/255", Address{31, 7, 255}, nil},
		{"temperature sensor", "9/1/0", Address{9, 1, 0}, nil},
		{"main out of range", "99/0/0", Address{}, ErrOutOfRange},
		{"main just over", "32/0/0", Address{}, ErrOutOfRange},
		{"middle out of range", "1/8/0", Address{}, ErrOutOfRange},
		{"sub out of range", "1/0/256", Address{}, ErrOutOfRange},
		{"huge level", "1/0/99999", Address{}, ErrOutOfRange},
		{"two levels", "1/0", Address{}, ErrMalformed},
		{"four levels", "1/0/7/2", Address{}, ErrMalformed},
		{"empty", "", Address{}, ErrMalformed},
		{"letters", "a/b/c", Address{}, ErrMalformed},
		{"negative", "-1/0/0", Address{}, ErrMalformed},
		{"empty level", "1//7", Address{}, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseAddress(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewAddress(t *testing.T) {
	tests := []struct {
		name              string
		main, middle, sub uint8
		wantErr           bool
	}{
		{"valid", 1, 0, 7, false},
		{"maximums", 31, 7, 255, false},
		{"main too large", 32, 0, 0, true},
		{"middle too large", 0, 8, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewAddress(tt.main, tt.middle, tt.sub)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrOutOfRange) {
					t.Errorf("NewAddress() error = %v, want ErrOutOfRange", err)
				}
				return
			}
			want := Address{tt.main, tt.middle, tt.sub}
			if got != want {
				t.Errorf("NewAddress() = %v, want %v", got, want)
			}
		})
	}
}

func TestAddressString(t *testing.T) {
	addr := Address{Main: 1, Middle: 0, Sub: 7}
	if s := addr.String(); s != "1/0/7" {
		t.Errorf("String() = %q, want %q", s, "1/0/7")
	}
}

func TestAddressUint16RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		addr Address
		want uint16
	}{
		{"1/0/7", Address{1, 0, 7}, 0x0807},
		{"9/1/0", Address{9, 1, 0}, 0x4900},
		{"0/0/0", Address{0, 0, 0}, 0x0000},
		{"31/7/255", Address{31, 7, 255}, 0xFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.addr.ToUint16()
			if got != tt.want {
				t.Errorf("ToUint16() = 0x%04X, want 0x%04X", got, tt.want)
			}
			back := AddressFromUint16(got)
			if back != tt.addr {
				t.Errorf("AddressFromUint16(0x%04X) = %v, want %v", got, back, tt.addr)
			}
		})
	}
}

func TestAddressParseStringRoundTrip(t *testing.T) {
	for _, s := range []string{"0/0/0", "1/0/7", "9/1/0", "31/7/255"} {
		addr, err := ParseAddress(s)
		if err != nil {
			t.Fatalf("ParseAddress(%q) unexpected error: %v", s, err)
		}
		if addr.String() != s {
			t.Errorf("round trip of %q = %q", s, addr.String())
		}
	}
}
