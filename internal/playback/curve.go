package playback

import (
	"math"
	"time"
)

// incomingDelay is the share of the crossfade before the incoming track
// becomes audible.
const incomingDelay = 0.3

// Progress is elapsed/total clamped to [0, 1]. A non-positive total is
// complete immediately.
func Progress(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	return clamp01(float64(elapsed) / float64(total))
}

// FadeOut is the ease-out level target*(1-p²).
func FadeOut(p, target float64) float64 {
	p = clamp01(p)
	if p >= 1 {
		return 0
	}
	return clampTo(target*(1-p*p), target)
}

// FadeIn is the ease-in level target*p².
func FadeIn(p, target float64) float64 {
	p = clamp01(p)
	if p >= 1 {
		return target
	}
	return clampTo(target*p*p, target)
}

// CrossfadeVolumes returns the outgoing and incoming levels at progress p.
// The incoming side stays silent for the first 30% and their sum never
// exceeds target.
func CrossfadeVolumes(p, target float64) (out, in float64) {
	return CrossfadeLevels(p, target, target)
}

// CrossfadeLevels is CrossfadeVolumes for two tracks with their own levels,
// such as when loudness normalization differs between them. Each side is
// measured against its own target and the two shares never sum past one.
func CrossfadeLevels(p, outTarget, inTarget float64) (out, in float64) {
	p = clamp01(p)
	if p >= 1 {
		return 0, inTarget
	}
	out = FadeOut(p, outTarget)
	in = FadeIn((p-incomingDelay)/(1-incomingDelay), inTarget)
	if outTarget > 0 {
		if limit := inTarget * (1 - out/outTarget); in > limit {
			in = math.Max(0, limit)
		}
	}
	return out, in
}

// NormalizeFactor attenuates tracks measured louder than the reference.
// Quieter tracks are never boosted.
func NormalizeFactor(loudnessDb *float64, enabled bool) float64 {
	if !enabled || loudnessDb == nil {
		return 1
	}
	return math.Min(math.Pow(10, -*loudnessDb/20), 1)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func clampTo(v, limit float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > limit:
		return limit
	}
	return v
}
