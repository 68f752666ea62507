package usage

import "time"

// SuspendDetector reports wall-clock gaps between consecutive observations
// that are too long to be scheduling jitter, such as a system suspend.
type SuspendDetector struct {
	Threshold time.Duration

	prev time.Time
}

// Observe records now and reports the previous observation when the gap to
// it exceeds the threshold. The first observation never reports a gap.
func (d *SuspendDetector) Observe(now time.Time) (gapStart time.Time, gap bool) {
	prev := d.prev
	d.prev = now

	if prev.IsZero() || now.Sub(prev) <= d.Threshold {
		return time.Time{}, false
	}
	return prev, true
}
