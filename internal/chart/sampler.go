package chart

import (
	"time"

	"github.com/coachpo/pulse/internal/schema"
)

// Sample reduces points to roughly res.TargetPoints() by keeping every step-th point
// starting at the first, then pads the series so it spans [now-window, now]. The
// input must be time ordered. The result depends only on its arguments.
func Sample(points []Point, res Resolution, now time.Time) []Point {
	n := len(points)
	if n == 0 {
		return nil
	}
	target := res.TargetPoints()
	step := (n + target - 1) / target
	if step < 1 {
		step = 1
	}

	out := make([]Point, 0, n/step+3)
	nowMs := schema.Millis(now.UnixMilli())
	windowStart := nowMs - schema.Millis(res.Window().Milliseconds())

	first := points[0]
	if first.Time > windowStart {
		out = append(out, Point{Time: windowStart, Price: first.Price})
	}
	for i := 0; i < n; i += step {
		out = append(out, points[i])
	}
	last := points[n-1]
	if last.Time < nowMs {
		out = append(out, Point{Time: nowMs, Price: last.Price})
	}
	return out
}
