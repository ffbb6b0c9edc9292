// Package chart keeps bounded per-symbol price series and down-samples them for display.
package chart

import (
	"strings"
	"time"

	"github.com/coachpo/pulse/errs"
)

// Resolution is a chart time window such as "1h".
type Resolution string

const (
	Res1m  Resolution = "1m"
	Res5m  Resolution = "5m"
	Res15m Resolution = "15m"
	Res1h  Resolution = "1h"
	Res4h  Resolution = "4h"
	Res24h Resolution = "24h"

	// DefaultResolution is used when a series is opened without a choice.
	DefaultResolution = Res15m

	defaultSpacing = 10 * time.Second
	defaultTarget  = 30
	fastRefresh    = time.Second
	slowRefresh    = 10 * time.Second
)

type resolutionSpec struct {
	window  time.Duration
	spacing time.Duration
	target  int
}

var resolutions = map[Resolution]resolutionSpec{
	Res1m:  {window: time.Minute, spacing: time.Second, target: 60},
	Res5m:  {window: 5 * time.Minute, spacing: 15 * time.Second, target: 30},
	Res15m: {window: 15 * time.Minute, spacing: 30 * time.Second, target: 30},
	Res1h:  {window: time.Hour, spacing: 2 * time.Minute, target: 30},
	Res4h:  {window: 4 * time.Hour, spacing: 10 * time.Minute, target: 30},
	Res24h: {window: 24 * time.Hour, spacing: 30 * time.Minute, target: 48},
}

// Resolutions lists the supported resolutions from finest to coarsest.
func Resolutions() []Resolution {
	return []Resolution{Res1m, Res5m, Res15m, Res1h, Res4h, Res24h}
}

// ParseResolution validates a resolution name.
func ParseResolution(raw string) (Resolution, error) {
	res := Resolution(strings.ToLower(strings.TrimSpace(raw)))
	if !res.Valid() {
		return "", errs.New("chart", errs.CodeInvalid,
			errs.WithMessage("unknown resolution"), errs.WithField("resolution", raw))
	}
	return res, nil
}

// Valid reports whether r is supported.
func (r Resolution) Valid() bool {
	_, ok := resolutions[r]
	return ok
}

// Window is the time span the chart covers.
func (r Resolution) Window() time.Duration {
	return resolutions[r].window
}

// Spacing is the minimum event-time gap between ingested live ticks.
func (r Resolution) Spacing() time.Duration {
	if def, ok := resolutions[r]; ok {
		return def.spacing
	}
	return defaultSpacing
}

// TargetPoints is the approximate number of points shown after down-sampling.
func (r Resolution) TargetPoints() int {
	if def, ok := resolutions[r]; ok {
		return def.target
	}
	return defaultTarget
}

// Refresh is how often the now-anchor advances while the chart is visible.
func (r Resolution) Refresh() time.Duration {
	if r == Res1m {
		return fastRefresh
	}
	return slowRefresh
}
