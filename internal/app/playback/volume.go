package playback

import "math"

const (
	// VolumeStep is the increment used by VolumeUp and VolumeDown.
	VolumeStep = 10
	// MaxVolume is the upper bound of the volume level.
	MaxVolume = 100

	// logarithmic curve exponent, 6dB per halving of the level
	volumeCurve = 1.660964
)

// ClampVolume bounds a level to [0, MaxVolume].
func ClampVolume(level int) int {
	switch {
	case level < 0:
		return 0
	case level > MaxVolume:
		return MaxVolume
	default:
		return level
	}
}

// Gain maps a volume level and mute flag to a linear sample multiplier.
func Gain(level int, muted bool) float64 {
	if muted {
		return 0
	}
	level = ClampVolume(level)
	return math.Pow(float64(level)/MaxVolume, volumeCurve)
}
