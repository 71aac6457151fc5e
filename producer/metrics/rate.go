package metrics

import "time"

// CounterDelta returns how far a counter of the given width advanced from
// prev to cur. When cur < prev the counter is assumed to have wrapped exactly
// once.
func CounterDelta(prev, cur uint64, width int) uint64 {
	if cur >= prev {
		return cur - prev
	}
	wrap := ^uint64(0)
	if width < 64 {
		wrap = 1<<uint(width) - 1
	}
	return (wrap - prev) + cur + 1
}

// BitsPerSecond converts an octet delta over elapsed into a bit rate.
func BitsPerSecond(delta uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(delta) * 8 / elapsed.Seconds()
}
