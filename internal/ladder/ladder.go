// Package ladder defines the fixed encoding ladder and the pure planning
// function that selects the tiers a given source can produce without
// upscaling.
package ladder

// Rendition describes one output profile in the encoding ladder.
type Rendition struct {
	Name          string `json:"name"`
	TargetWidth   int    `json:"targetWidth"`
	TargetHeight  int    `json:"targetHeight"`
	TargetBitrate int    `json:"targetBitrate"`
}

// SegmentSeconds is the target duration of one streaming segment.
const SegmentSeconds = 10

// Default is the static six-tier ladder, ordered by descending resolution.
// Bitrates are in kbps.
var Default = []Rendition{
	{Name: "2160p", TargetWidth: 3840, TargetHeight: 2160, TargetBitrate: 15000},
	{Name: "1440p", TargetWidth: 2560, TargetHeight: 1440, TargetBitrate: 8000},
	{Name: "1080p", TargetWidth: 1920, TargetHeight: 1080, TargetBitrate: 5000},
	{Name: "720p", TargetWidth: 1280, TargetHeight: 720, TargetBitrate: 2500},
	{Name: "480p", TargetWidth: 854, TargetHeight: 480, TargetBitrate: 1000},
	{Name: "360p", TargetWidth: 640, TargetHeight: 360, TargetBitrate: 600},
}

// Plan returns the subset of the default ladder achievable from a source of
// the given dimensions, preserving descending-resolution order. A tier is
// included only when both target dimensions fit within the source; a source
// smaller than every tier yields an empty plan, which is a legal outcome.
func Plan(width, height int) []Rendition {
	return PlanLadder(width, height, Default)
}

// PlanLadder applies the no-upscale rule against an explicit ladder.
func PlanLadder(width, height int, tiers []Rendition) []Rendition {
	var planned []Rendition
	for _, tier := range tiers {
		if tier.TargetWidth <= width && tier.TargetHeight <= height {
			planned = append(planned, tier)
		}
	}
	return planned
}
