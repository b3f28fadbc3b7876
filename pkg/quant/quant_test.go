package quant

import (
	"testing"
	"time"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want PriceMicros
	}{
		{"10", 10_000000},
		{"10.2", 10_200000},
		{"0.000001", 1},
		{"12.3456789", 12_345678},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePrice(tt.in)
			if err != nil {
				t.Fatalf("ParsePrice(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParsePrice(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}

	if _, err := ParsePrice("abc"); err == nil {
		t.Error("expected error for non-numeric price")
	}
}

func TestPriceMicros_String(t *testing.T) {
	if s := PriceMicros(10_200000).String(); s != "10.2" {
		t.Errorf("String() = %q, want 10.2", s)
	}
	if f := ToPriceMicros(10.2); f != 10_200000 {
		t.Errorf("ToPriceMicros(10.2) = %d", f)
	}
}

func TestTimeStamp_RoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 5, 1, 30, 0, 123000, time.UTC)
	ts := FromTime(now)
	if !ts.Time().Equal(now) {
		t.Errorf("round trip mismatch: %v != %v", ts.Time(), now)
	}
}

func TestNextSeq(t *testing.T) {
	var seq uint64
	if NextSeq(&seq) != 1 || NextSeq(&seq) != 2 {
		t.Error("NextSeq should be monotonic from 1")
	}
}
