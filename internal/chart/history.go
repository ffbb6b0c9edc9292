package chart

import (
	"sort"
	"sync"

	"github.com/coachpo/pulse/internal/schema"
)

// MaxPoints is the default retention per series.
const MaxPoints = 1000

// Point is one sample of a series.
type Point = schema.HistoryPoint

// History is a time-ordered, duplicate-free, bounded sequence of points.
type History struct {
	mu         sync.Mutex
	points     []Point
	spacing    int64
	maxPoints  int
	lastIngest int64
	throttled  bool
}

// NewHistory returns an empty history throttled for res.
func NewHistory(res Resolution, maxPoints int) *History {
	if maxPoints <= 0 {
		maxPoints = MaxPoints
	}
	return &History{spacing: res.Spacing().Milliseconds(), maxPoints: maxPoints}
}

// Ingest adds a live point unless it falls within the spacing of the previously
// ingested one. It reports whether the point was taken.
func (h *History) Ingest(p Point) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts := int64(p.Time)
	if h.throttled && ts-h.lastIngest < h.spacing {
		return false
	}
	h.lastIngest = ts
	h.throttled = true
	h.points = normalize(append(h.points, p), h.maxPoints)
	return true
}

// Replace installs a backfilled series. Points already held that are newer than the
// backfill are kept.
func (h *History) Replace(points []Point) {
	h.mu.Lock()
	defer h.mu.Unlock()

	merged := make([]Point, 0, len(points)+len(h.points))
	merged = append(merged, points...)
	var newest schema.Millis
	for _, p := range points {
		if p.Time > newest {
			newest = p.Time
		}
	}
	for _, p := range h.points {
		if len(points) == 0 || p.Time > newest {
			merged = append(merged, p)
		}
	}
	h.points = normalize(merged, h.maxPoints)
}

// ResetThrottle lets the next live point through regardless of spacing.
func (h *History) ResetThrottle() {
	h.mu.Lock()
	h.throttled = false
	h.mu.Unlock()
}

// Points returns a copy of the series.
func (h *History) Points() []Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Point, len(h.points))
	copy(out, h.points)
	return out
}

// Len returns the number of points.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.points)
}

// Latest returns the newest point.
func (h *History) Latest() (Point, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.points) == 0 {
		return Point{}, false
	}
	return h.points[len(h.points)-1], true
}

// normalize sorts by time, keeps the last written point for each timestamp and
// retains at most maxPoints of the newest points.
func normalize(points []Point, maxPoints int) []Point {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Time < points[j].Time })
	out := points[:0]
	for _, p := range points {
		if n := len(out); n > 0 && out[n-1].Time == p.Time {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	if len(out) > maxPoints {
		out = append([]Point(nil), out[len(out)-maxPoints:]...)
	}
	return out
}
