package usage

import (
	"testing"
	"time"
)

func TestSuspendDetector(t *testing.T) {
	base := time.Unix(1_700_000_040, 0)

	tests := []struct {
		name    string
		offsets []time.Duration
		wantGap []bool
	}{
		{
			name:    "first observation never reports",
			offsets: []time.Duration{0},
			wantGap: []bool{false},
		},
		{
			name:    "regular sampling",
			offsets: []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second},
			wantGap: []bool{false, false, false, false},
		},
		{
			name:    "gap at threshold is not a suspend",
			offsets: []time.Duration{0, 30 * time.Second},
			wantGap: []bool{false, false},
		},
		{
			name:    "gap beyond threshold",
			offsets: []time.Duration{0, time.Second, 10 * time.Minute, 10*time.Minute + time.Second},
			wantGap: []bool{false, false, true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &SuspendDetector{Threshold: 30 * time.Second}
			var prev time.Time

			for i, off := range tt.offsets {
				now := base.Add(off)
				from, gap := d.Observe(now)
				if gap != tt.wantGap[i] {
					t.Fatalf("observation %d: gap = %v, want %v", i, gap, tt.wantGap[i])
				}
				if gap && !from.Equal(prev) {
					t.Errorf("observation %d: gap start = %v, want %v", i, from, prev)
				}
				prev = now
			}
		})
	}
}
