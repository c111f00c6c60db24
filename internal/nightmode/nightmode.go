// Package nightmode decides whether a local hour falls in Maa's quiet hours.
package nightmode

import "time"

// Window is a span of hours that may wrap past midnight. Start is
// inclusive, End exclusive.
type Window struct {
	Start int
	End   int
}

// Default covers 21:00 up to 06:00.
var Default = Window{Start: 21, End: 6}

// IsNight reports whether hour falls in the default window. hour must be
// in [0, 23].
func IsNight(hour int) bool {
	return Default.Contains(hour)
}

// IsNightAt applies the default window to the local hour of t.
func IsNightAt(t time.Time) bool {
	return Default.Contains(t.Hour())
}

// Contains reports whether hour falls inside w.
func (w Window) Contains(hour int) bool {
	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}

// At applies w to the local hour of t.
func (w Window) At(t time.Time) bool {
	return w.Contains(t.Hour())
}
