package client

import (
	"fmt"
	"time"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
)

// speedMeter smooths instantaneous throughput samples with an exponential
// moving average so the display does not jump around between ticks.
type speedMeter struct {
	lastBytes int64
	lastTime  time.Time
	smoothed  float64 // bytes per second
}

// sample records the cumulative byte count at time now and returns the
// smoothed rate. Samples that go backwards (retried requests) reset cleanly.
func (s *speedMeter) sample(totalBytes int64, now time.Time) float64 {
	if !s.lastTime.IsZero() && totalBytes >= s.lastBytes {
		delta := float64(totalBytes - s.lastBytes)
		seconds := now.Sub(s.lastTime).Seconds()
		if seconds > 0 {
			current := delta / seconds
			if s.smoothed > 0 {
				s.smoothed = s.smoothed*0.7 + current*0.3
			} else {
				s.smoothed = current
			}
		}
	}
	s.lastBytes = totalBytes
	s.lastTime = now
	return s.smoothed
}

// FormatSpeed renders bytes-per-second as a short human string, or the
// unknown sentinel for non-positive rates.
func FormatSpeed(bps float64) string {
	if bps <= 0 {
		return models.UnknownSpeed
	}
	units := []string{"B/s", "KB/s", "MB/s", "GB/s"}
	value := bps
	idx := 0
	for value >= 1024 && idx < len(units)-1 {
		value /= 1024
		idx++
	}
	return fmt.Sprintf("%.2f %s", value, units[idx])
}

// FormatSize renders a byte count for display.
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(bytes)
	idx := 0
	for value >= 1024 && idx < len(units)-1 {
		value /= 1024
		idx++
	}
	return fmt.Sprintf("%.2f %s", value, units[idx])
}
