package gapfill

import (
	series "greenbox-pipeline/internal/series/domain"
)

// GapSegment is a maximal run of consecutive gap-marked indices.
type GapSegment struct {
	StartIndex int
	EndIndex   int // inclusive
}

// Length returns the segment length in minutes.
func (g GapSegment) Length() int {
	return g.EndIndex - g.StartIndex + 1
}

// Locate scans the gap-marker column once and merges consecutive marked
// indices into segments. Segments are disjoint and sorted by start index.
func Locate(withGap []float64) []GapSegment {
	var segments []GapSegment
	start := -1
	for i, v := range withGap {
		if v == series.GapMarker {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			segments = append(segments, GapSegment{StartIndex: start, EndIndex: i - 1})
			start = -1
		}
	}
	if start >= 0 {
		segments = append(segments, GapSegment{StartIndex: start, EndIndex: len(withGap) - 1})
	}
	return segments
}
