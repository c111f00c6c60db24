package nightmode

import (
	"testing"
	"time"
)

func TestIsNight(t *testing.T) {
	for _, h := range []int{21, 22, 23, 0, 3, 5} {
		if !IsNight(h) {
			t.Fatalf("hour %d should be night", h)
		}
	}
	for _, h := range []int{6, 9, 12, 20} {
		if IsNight(h) {
			t.Fatalf("hour %d should not be night", h)
		}
	}
}

func TestIsNightAtUsesLocalHour(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	late := time.Date(2024, 3, 10, 22, 15, 0, 0, loc)
	if !IsNightAt(late) {
		t.Fatalf("22:15 local should be night")
	}
	morning := time.Date(2024, 3, 10, 6, 0, 0, 0, loc)
	if IsNightAt(morning) {
		t.Fatalf("06:00 local should be day")
	}
}

func TestWindowWithoutWrap(t *testing.T) {
	w := Window{Start: 1, End: 4}
	if !w.Contains(1) || !w.Contains(3) || w.Contains(4) || w.Contains(0) {
		t.Fatalf("non-wrapping window misbehaves")
	}
	if (Window{Start: 5, End: 5}).Contains(5) {
		t.Fatalf("empty window should contain nothing")
	}
}
