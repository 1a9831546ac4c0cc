// Package voice supervises voice transport connections: reconnection with
// linear backoff, ready-wait timeouts and keepalive.
package voice

import (
	"context"
	"fmt"
)

// Status is the connection status.
type Status int

const (
	StatusSignalling Status = iota
	StatusConnecting
	StatusReady
	StatusDisconnected
	StatusDestroyed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSignalling:
		return "signalling"
	case StatusConnecting:
		return "connecting"
	case StatusReady:
		return "ready"
	case StatusDisconnected:
		return "disconnected"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Networking reports whether the status carries a live networking sub-state.
func (s Status) Networking() bool {
	return s == StatusConnecting || s == StatusReady
}

// DisconnectReason explains a Disconnected status.
type DisconnectReason int

const (
	ReasonWebSocketClose DisconnectReason = iota
	ReasonAdapterUnavailable
	ReasonEndpointRemoved
	ReasonManual
)

// String returns the string representation of the reason.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonWebSocketClose:
		return "websocket_close"
	case ReasonAdapterUnavailable:
		return "adapter_unavailable"
	case ReasonEndpointRemoved:
		return "endpoint_removed"
	case ReasonManual:
		return "manual"
	default:
		return "unknown"
	}
}

// CloseCodeForcedRemoval is the close code sent when the bot is removed from the channel.
const CloseCodeForcedRemoval = 4014

// State is a connection state. Reason and CloseCode are set for Disconnected only.
type State struct {
	Status    Status
	Reason    DisconnectReason
	CloseCode int
}

// ForcedRemoval reports whether the state is a disconnect caused by removal from the channel.
func (s State) ForcedRemoval() bool {
	return s.Status == StatusDisconnected && s.Reason == ReasonWebSocketClose && s.CloseCode == CloseCodeForcedRemoval
}

func (s State) String() string {
	if s.Status == StatusDisconnected {
		return fmt.Sprintf("%s(%s,%d)", s.Status, s.Reason, s.CloseCode)
	}
	return s.Status.String()
}

// StateChange is emitted on every transition.
type StateChange struct {
	Old State
	New State
}

// Connection is a voice transport connection.
type Connection interface {
	GuildID() string
	ChannelID() string
	State() State
	// Subscribe registers the single state listener. It must not block.
	Subscribe(fn func(StateChange))
	// Rejoin restarts signalling on the same channel.
	Rejoin()
	// Destroy disconnects permanently. It is idempotent.
	Destroy()
	// Keepalive nudges the networking layer to keep the session alive.
	Keepalive() error
}

// Transport creates connections.
type Transport interface {
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
