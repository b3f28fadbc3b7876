package event

import "testing"

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"ADD", KindAdd, true},
		{"D", KindCancel, true},
		{"TRADE", KindTrade, true},
		{"X", KindUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseKind(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseKind(%q) = %v,%v want %v,%v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSide(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("Opposite mismatch")
	}
	if SideUnknown.Opposite() != SideUnknown {
		t.Error("unknown side has no opposite")
	}
	if s, ok := ParseSide(""); !ok || s != SideUnknown {
		t.Error("empty side should parse as unknown")
	}
	if _, ok := ParseSide("Z"); ok {
		t.Error("Z is not a side")
	}
}

func TestPassiveID(t *testing.T) {
	ev := Event{Kind: KindTrade, Side: SideBuy, BuyID: 7, SellID: 9}
	if ev.PassiveID() != 9 {
		t.Errorf("buy aggressor passive = %d, want 9", ev.PassiveID())
	}
	ev.Side = SideSell
	if ev.PassiveID() != 7 {
		t.Errorf("sell aggressor passive = %d, want 7", ev.PassiveID())
	}
	ev.Side = SideUnknown
	if ev.PassiveID() != 0 {
		t.Error("unknown aggressor has no passive id")
	}
}
