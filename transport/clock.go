package transport

import "time"

// The transport clock starts at the wall-clock epoch but advances on the
// runtime's monotonic reading, so it never decreases across the process
// lifetime even when the wall clock steps. All timing state (lastHeard,
// port choices, saved timestamps) lives on this clock.
var (
	clockEpoch = time.Now()
	clockBase  = uint64(clockEpoch.UnixMilli())
)

// NowMS returns the current transport clock reading in milliseconds.
// Upper layers use it to feed SetLastRoundtripSuccess.
func NowMS() uint64 {
	return clockBase + uint64(time.Since(clockEpoch)/time.Millisecond)
}

// timestamp16 returns the 16-bit wire timestamp: NowMS modulo 65536,
// with the sentinel value substituted so it never appears as a real
// timestamp.
func timestamp16() uint16 {
	ts := uint16(NowMS())
	if ts == tsNone {
		ts = 0
	}
	return ts
}

// timestampDiff returns (tsnew - tsold) modulo 65536.
func timestampDiff(tsnew, tsold uint16) uint16 {
	return tsnew - tsold
}
