package pose

import "time"

var epoch = time.Now()

// Now returns the time elapsed on the process-wide monotonic clock. Frame
// timestamps and engine latency are both measured against it.
func Now() time.Duration {
	return time.Since(epoch)
}

// Millis converts a clock reading to whole milliseconds
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}
