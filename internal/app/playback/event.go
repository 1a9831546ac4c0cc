package playback

import "github.com/WieserchGT/BetaGamers/internal/domain/track"

// PlayerEventType represents a player event type.
type PlayerEventType int

const (
	PlayerStateChanged PlayerEventType = iota // Player moved between states
	PlayerError                               // Playback of the resource failed
)

// String returns the string representation of the event type.
func (e PlayerEventType) String() string {
	switch e {
	case PlayerStateChanged:
		return "state_changed"
	case PlayerError:
		return "error"
	default:
		return "unknown"
	}
}

// PlayerEvent is emitted by a Player. Resource identifies which playback the
// event belongs to so that late events of a replaced resource can be ignored.
type PlayerEvent struct {
	Type     PlayerEventType
	Old      PlayerState
	New      PlayerState
	Resource *Resource
	Err      error
}

// queue mailbox items

type command struct {
	fn   func()
	done chan struct{}
}

type acquisitionResult struct {
	epoch    uint64
	track    track.Track
	resource *Resource
	err      error
}

type idleExpired struct {
	token uint64
}
