package playback

import (
	zlog "github.com/rs/zerolog/log"
)

// Player plays one resource at a time into a voice connection.
// Events must be delivered in the order the transitions happen.
type Player interface {
	Subscribe(fn func(PlayerEvent))
	// Play replaces any current resource and moves to Buffering.
	Play(res *Resource)
	Stop() bool
	Pause() bool
	Unpause() bool
	State() PlayerState
	Close()
}

func (q *Queue) onPlayerEvent(ev PlayerEvent) {
	if ev.Resource == nil || ev.Resource != q.resource {
		zlog.Debug().Msgf("player: stale event ignored: guild=%s type=%s", q.cfg.GuildID, ev.Type)
		return
	}

	switch ev.Type {
	case PlayerError:
		zlog.Error().Msgf("player error: guild=%s track=%q err=%v", q.cfg.GuildID, ev.Resource.Track().Title, ev.Err)
		q.failures++
		q.completeResource()
		q.retireHead()
		if q.failureCeilingReached() {
			return
		}
		q.advance()

	case PlayerStateChanged:
		zlog.Debug().Msgf("player: guild=%s from=%s to=%s", q.cfg.GuildID, ev.Old, ev.New)

		if ev.New == StateIdle {
			if ev.Old == StateBuffering {
				// ended before a single frame was sent
				q.failures++
			} else {
				q.failures = 0
			}
			q.completeResource()
			q.retireHead()
			if q.failureCeilingReached() {
				return
			}
			q.advance()
			return
		}

		q.playerState = ev.New
		if ev.Old == StateBuffering && ev.New == StatePlaying {
			t := ev.Resource.Track()
			zlog.Info().Msgf("now playing: guild=%s track=%q", q.cfg.GuildID, t.Title)
			go q.notifier.NowPlaying(q, t)
		}
	}
}

// completeResource releases the active resource and marks the player idle.
func (q *Queue) completeResource() {
	if q.resource != nil {
		if err := q.resource.Close(); err != nil {
			zlog.Debug().Msgf("resource close: guild=%s err=%v", q.cfg.GuildID, err)
		}
	}
	q.resource = nil
	q.playerState = StateIdle
}

// retireHead rotates the head to the tail in loop mode, otherwise drops it.
func (q *Queue) retireHead() {
	if len(q.tracks) == 0 {
		return
	}
	head := q.tracks[0]
	if q.loop {
		q.tracks = append(q.tracks[1:], head)
		return
	}
	q.tracks = q.tracks[1:]
}

// advance stops an empty queue or acquires the next head.
func (q *Queue) advance() {
	if len(q.tracks) == 0 {
		q.stop()
		return
	}
	q.acquire()
}

func (q *Queue) failureCeilingReached() bool {
	limit := q.cfg.MaxConsecutiveFailures
	if limit <= 0 || q.failures < limit {
		return false
	}
	zlog.Warn().Msgf("too many consecutive failures, stopping: guild=%s failures=%d", q.cfg.GuildID, q.failures)
	go q.notifier.Failure(q, "Too many tracks in a row could not be played, stopping the queue.")
	q.stop()
	return true
}
