// Package control implements the interactive transport controls attached to a
// now-playing message.
package control

// Action is a transport control button.
type Action int

const (
	ActionSkip Action = iota
	ActionPlayPause
	ActionMute
	ActionVolumeDown
	ActionVolumeUp
	ActionLoop
	ActionShuffle
	ActionStop
)

var actionIDs = map[Action]string{
	ActionSkip:       "skip",
	ActionPlayPause:  "play_pause",
	ActionMute:       "mute",
	ActionVolumeDown: "decrease_volume",
	ActionVolumeUp:   "increase_volume",
	ActionLoop:       "loop",
	ActionShuffle:    "shuffle",
	ActionStop:       "stop",
}

var actionLabels = map[Action]string{
	ActionSkip:       "⏭",
	ActionPlayPause:  "⏯",
	ActionMute:       "🔇",
	ActionVolumeDown: "🔉",
	ActionVolumeUp:   "🔊",
	ActionLoop:       "🔁",
	ActionShuffle:    "🔀",
	ActionStop:       "⏹",
}

// Layout is the button arrangement of a control message.
var Layout = [][]Action{
	{ActionSkip, ActionPlayPause, ActionMute, ActionVolumeDown, ActionVolumeUp},
	{ActionLoop, ActionShuffle, ActionStop},
}

// ID returns the component identifier used on the wire.
func (a Action) ID() string {
	if id, ok := actionIDs[a]; ok {
		return id
	}
	return "unknown"
}

// String returns the component identifier.
func (a Action) String() string {
	return a.ID()
}

// Label returns the button label.
func (a Action) Label() string {
	return actionLabels[a]
}

// EndsSession reports whether executing the action closes the control session.
func (a Action) EndsSession() bool {
	return a == ActionSkip || a == ActionStop
}

// ParseAction maps a component identifier back to an Action.
func ParseAction(id string) (Action, bool) {
	for a, aid := range actionIDs {
		if aid == id {
			return a, true
		}
	}
	return 0, false
}
