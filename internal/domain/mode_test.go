package domain

import "testing"

func TestRunMode_Names(t *testing.T) {
	modes := []RunMode{OfflineMode{}, ReplayMode{}, RealtimeMode{}}
	want := []string{"offline", "replay", "realtime"}
	for i, m := range modes {
		if m.Name() != want[i] {
			t.Errorf("mode %d Name() = %q, want %q", i, m.Name(), want[i])
		}
	}
}
