package transport

import "testing"

func TestNowMS_Monotonic(t *testing.T) {
	a := NowMS()
	b := NowMS()
	if b < a {
		t.Errorf("clock went backwards: %d then %d", a, b)
	}
}

func TestTimestamp16_NeverSentinel(t *testing.T) {
	// timestamp16 cannot be forced onto the sentinel from a test, so
	// this only samples the live clock repeatedly and checks that the
	// sentinel never comes out.
	for i := 0; i < 1000; i++ {
		if timestamp16() == tsNone {
			t.Fatal("timestamp16 returned the sentinel")
		}
	}
}

func TestTimestampDiff(t *testing.T) {
	tests := []struct {
		tsnew, tsold, want uint16
	}{
		{100, 40, 60},
		{40, 40, 0},
		{5, 0xFFF0, 21},   // wrap across zero
		{0, 0xFFFF, 1},    // adjacent across wrap
		{0xFFFF, 0, 0xFFFF},
	}
	for _, tt := range tests {
		if got := timestampDiff(tt.tsnew, tt.tsold); got != tt.want {
			t.Errorf("timestampDiff(%d, %d) = %d, want %d", tt.tsnew, tt.tsold, got, tt.want)
		}
	}
}
