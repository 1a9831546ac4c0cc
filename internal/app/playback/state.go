// Package playback provides the per-guild queue, its player state machine and
// the resource acquisition pipeline.
package playback

// PlayerState represents the audio player state.
type PlayerState int

const (
	StateIdle       PlayerState = iota // No resource
	StateBuffering                     // Resource installed, waiting for the first frame
	StatePlaying                       // Sending audio
	StatePaused                        // Paused by a user
	StateAutoPaused                    // Paused because the voice connection is not ready
)

// String returns the string representation of the state.
func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateAutoPaused:
		return "autopaused"
	default:
		return "unknown"
	}
}

// Active reports whether the state holds a resource.
func (s PlayerState) Active() bool {
	return s != StateIdle
}
