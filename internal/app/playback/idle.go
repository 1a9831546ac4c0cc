package playback

import (
	"strconv"
	"sync/atomic"

	zlog "github.com/rs/zerolog/log"
)

// generations keeps idle keys of successive queues for one guild apart.
var generations atomic.Uint64

func (q *Queue) idleKey() string {
	return "idle/" + q.cfg.GuildID + "/" + strconv.FormatUint(q.gen, 10)
}

func (q *Queue) stop() {
	if q.stopped || q.closed {
		return
	}
	zlog.Info().Msgf("queue stop: guild=%s", q.cfg.GuildID)

	q.stopped = true
	q.loop = false
	q.tracks = nil
	q.epoch++
	q.acquiring = false

	if q.resource != nil {
		q.player.Stop()
		q.completeResource()
	}

	if !q.cfg.Pruning {
		go q.notifier.QueueEnded(q)
	}

	q.scheduleIdle()
}

func (q *Queue) scheduleIdle() {
	if q.idlePending {
		return
	}
	q.idlePending = true
	q.idleToken++
	token := q.idleToken
	q.scheduler.Schedule(q.idleKey(), q.cfg.StayDuration, func() {
		q.inbox.Put(idleExpired{token: token})
	})
	zlog.Debug().Msgf("idle teardown scheduled: guild=%s in=%v", q.cfg.GuildID, q.cfg.StayDuration)
}

// cancelIdle cancels the pending teardown. The token bump discards a timeout
// that already fired but is still in the mailbox.
func (q *Queue) cancelIdle() {
	if !q.idlePending {
		return
	}
	q.scheduler.Cancel(q.idleKey())
	q.idlePending = false
	q.idleToken++
	zlog.Debug().Msgf("idle teardown cancelled: guild=%s", q.cfg.GuildID)
}

func (q *Queue) onIdleExpired(ev idleExpired) {
	if !q.idlePending || ev.token != q.idleToken {
		return
	}
	q.idlePending = false
	q.teardown("idle")
}

func (q *Queue) teardown(reason string) {
	if q.closed {
		return
	}
	zlog.Info().Msgf("queue teardown: guild=%s reason=%s", q.cfg.GuildID, reason)

	q.closed = true
	q.epoch++
	q.cancelIdle()
	q.cancel()

	if q.resource != nil {
		q.player.Stop()
		q.completeResource()
	}
	q.player.Close()

	if q.conn != nil {
		q.conn.Destroy()
	}
	q.onTeardown(q)

	if !q.cfg.Pruning {
		go q.notifier.LeftChannel(q)
	}
	q.inbox.Close()
}
