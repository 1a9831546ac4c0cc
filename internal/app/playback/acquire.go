package playback

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// acquire opens the stream of the head track off the loop. It is a no-op while
// an acquisition is in flight or the player holds a resource.
func (q *Queue) acquire() {
	if q.closed || q.acquiring || q.playerState != StateIdle || q.resource != nil {
		return
	}

	for len(q.tracks) > 0 && !q.tracks[0].Playable() {
		zlog.Warn().Msgf("dropping track without locator: guild=%s title=%q", q.cfg.GuildID, q.tracks[0].Title)
		q.tracks = q.tracks[1:]
	}
	if len(q.tracks) == 0 {
		q.stop()
		return
	}

	head := q.tracks[0]
	epoch := q.epoch
	q.acquiring = true
	zlog.Debug().Msgf("acquire: guild=%s track=%q length=%d", q.cfg.GuildID, head.Title, len(q.tracks))

	go func() {
		ctx, cancel := context.WithTimeout(q.ctx, q.cfg.OpenTimeout)
		defer cancel()

		started := time.Now()
		stream, err := q.opener.OpenStream(ctx, head)
		result := acquisitionResult{epoch: epoch, track: head, err: err}
		if err == nil {
			result.resource = NewResource(head, stream)
			zlog.Debug().Msgf("resource ready: guild=%s track=%q elapsed=%v", q.cfg.GuildID, head.Title, time.Since(started))
		}

		if !q.inbox.Put(result) && result.resource != nil {
			_ = result.resource.Close()
		}
	}()
}

func (q *Queue) onAcquired(r acquisitionResult) {
	if r.epoch != q.epoch || q.closed {
		if r.resource != nil {
			_ = r.resource.Close()
		}
		return
	}
	q.acquiring = false

	if r.err != nil {
		zlog.Error().Msgf("resource acquisition failed: guild=%s track=%q err=%v", q.cfg.GuildID, r.track.Title, r.err)
		q.failures++
		if len(q.tracks) > 0 {
			q.tracks = q.tracks[1:]
		}
		if q.failureCeilingReached() {
			return
		}
		q.advance()
		return
	}

	q.resource = r.resource
	q.playerState = StateBuffering
	q.resource.SetVolume(Gain(q.volume, q.muted))
	q.player.Play(q.resource)
	zlog.Debug().Msgf("player play: guild=%s track=%q volume=%d muted=%t", q.cfg.GuildID, r.track.Title, q.volume, q.muted)
}
