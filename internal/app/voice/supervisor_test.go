package voice

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WieserchGT/BetaGamers/internal/app/schedule"
	"github.com/WieserchGT/BetaGamers/internal/app/schedule/schedtest"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeConn struct {
	mu       sync.Mutex
	state    State
	listener func(StateChange)

	rejoins    atomic.Int32
	destroys   atomic.Int32
	keepalives atomic.Int32
}

func (c *fakeConn) GuildID() string   { return "g1" }
func (c *fakeConn) ChannelID() string { return "vc1" }

func (c *fakeConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) Subscribe(fn func(StateChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = fn
}

func (c *fakeConn) set(st State) {
	c.mu.Lock()
	old := c.state
	c.state = st
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(StateChange{Old: old, New: st})
	}
}

func (c *fakeConn) Rejoin() { c.rejoins.Add(1) }

func (c *fakeConn) Destroy() {
	c.destroys.Add(1)
	if c.State().Status != StatusDestroyed {
		c.set(State{Status: StatusDestroyed})
	}
}

func (c *fakeConn) Keepalive() error {
	c.keepalives.Add(1)
	return nil
}

type fakeQueue struct {
	stops     atomic.Int32
	teardowns atomic.Int32
}

func (q *fakeQueue) Stop() error     { q.stops.Add(1); return nil }
func (q *fakeQueue) Teardown(string) { q.teardowns.Add(1) }

type harness struct {
	conn  *fakeConn
	queue *fakeQueue
	clock *schedtest.FakeClock
	sched *schedule.Scheduler
	sup   *Supervisor
}

func newHarness(t *testing.T, initial Status) *harness {
	t.Helper()
	h := &harness{
		conn:  &fakeConn{state: State{Status: initial}},
		queue: &fakeQueue{},
		clock: schedtest.NewFakeClock(),
	}
	h.sched = schedule.NewScheduler(h.clock)
	h.sup = NewSupervisor(DefaultConfig(), h.conn, h.queue, h.sched)
	h.sup.Start()
	return h
}

func (h *harness) waitSnapshot(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var last Snapshot
	require.Eventually(t, func() bool {
		s, err := h.sup.Snapshot()
		if err != nil {
			return false
		}
		last = s
		return cond(s)
	}, waitFor, tick)
	return last
}

func disconnected() State {
	return State{Status: StatusDisconnected, Reason: ReasonWebSocketClose, CloseCode: 4006}
}

func (h *harness) rejoinDelay(t *testing.T) time.Duration {
	t.Helper()
	due, ok := h.sched.Pending(h.sup.key("rejoin"))
	require.True(t, ok, "rejoin not scheduled")
	return due.Sub(h.clock.Now())
}

func TestSupervisor_RejoinBackoff(t *testing.T) {
	h := newHarness(t, StatusReady)

	h.conn.set(disconnected())
	h.waitSnapshot(t, func(s Snapshot) bool { return s.RejoinAttempts == 1 })
	assert.Equal(t, 5*time.Second, h.rejoinDelay(t))

	h.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return h.conn.rejoins.Load() == 1 }, waitFor, tick)

	h.conn.set(disconnected())
	h.waitSnapshot(t, func(s Snapshot) bool { return s.RejoinAttempts == 2 })
	assert.Equal(t, 10*time.Second, h.rejoinDelay(t))

	// attempts=2: the next rejoin waits 15s and the counter becomes 3
	h.conn.set(disconnected())
	h.waitSnapshot(t, func(s Snapshot) bool { return s.RejoinAttempts == 3 })
	assert.Equal(t, 15*time.Second, h.rejoinDelay(t))
}

func TestSupervisor_ForcedRemovalStops(t *testing.T) {
	h := newHarness(t, StatusReady)

	h.conn.set(State{Status: StatusDisconnected, Reason: ReasonWebSocketClose, CloseCode: CloseCodeForcedRemoval})

	require.Eventually(t, func() bool { return h.queue.stops.Load() == 1 }, waitFor, tick)
	s := h.waitSnapshot(t, func(s Snapshot) bool { return s.State.ForcedRemoval() })
	assert.Zero(t, s.RejoinAttempts)
	_, pending := h.sched.Pending(h.sup.key("rejoin"))
	assert.False(t, pending)
	assert.Zero(t, h.conn.destroys.Load())
}

func TestSupervisor_ExhaustedAttemptsDestroy(t *testing.T) {
	h := newHarness(t, StatusReady)

	for i := 1; i <= 5; i++ {
		h.conn.set(disconnected())
		want := i
		h.waitSnapshot(t, func(s Snapshot) bool { return s.RejoinAttempts == want })
	}
	assert.Zero(t, h.conn.destroys.Load())

	h.conn.set(disconnected())

	select {
	case <-h.sup.Done():
	case <-time.After(waitFor):
		t.Fatal("supervisor did not exit")
	}
	assert.Equal(t, int32(1), h.conn.destroys.Load())
	require.Eventually(t, func() bool { return h.queue.teardowns.Load() == 1 }, waitFor, tick)
	assert.Zero(t, h.clock.PendingCount())
}

func TestSupervisor_ReadyResetsAttempts(t *testing.T) {
	h := newHarness(t, StatusReady)

	h.conn.set(disconnected())
	h.conn.set(disconnected())
	h.waitSnapshot(t, func(s Snapshot) bool { return s.RejoinAttempts == 2 })

	h.conn.set(State{Status: StatusReady})
	h.waitSnapshot(t, func(s Snapshot) bool { return s.RejoinAttempts == 0 && s.State.Status == StatusReady })
}

func TestSupervisor_ReadyWaitTimeoutDestroys(t *testing.T) {
	tests := []struct {
		name    string
		initial Status
	}{
		{name: "signalling", initial: StatusSignalling},
		{name: "connecting", initial: StatusConnecting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.initial)
			h.waitSnapshot(t, func(s Snapshot) bool { return s.AwaitingReady })

			h.clock.Advance(19 * time.Second)
			assert.Zero(t, h.conn.destroys.Load())

			h.clock.Advance(time.Second)
			require.Eventually(t, func() bool { return h.conn.destroys.Load() == 1 }, waitFor, tick)
			require.Eventually(t, func() bool { return h.queue.teardowns.Load() == 1 }, waitFor, tick)
		})
	}
}

func TestSupervisor_SingleReadyWait(t *testing.T) {
	h := newHarness(t, StatusSignalling)
	h.waitSnapshot(t, func(s Snapshot) bool { return s.AwaitingReady })
	firstDue, ok := h.sched.Pending(h.sup.key("ready"))
	require.True(t, ok)

	h.clock.Advance(10 * time.Second)
	h.conn.set(State{Status: StatusConnecting})
	h.waitSnapshot(t, func(s Snapshot) bool { return s.State.Status == StatusConnecting })

	due, ok := h.sched.Pending(h.sup.key("ready"))
	require.True(t, ok)
	assert.Equal(t, firstDue, due, "a second wait must not be started")
}

func TestSupervisor_ReadyCancelsTimeout(t *testing.T) {
	h := newHarness(t, StatusSignalling)
	h.waitSnapshot(t, func(s Snapshot) bool { return s.AwaitingReady })

	h.conn.set(State{Status: StatusReady})
	h.waitSnapshot(t, func(s Snapshot) bool { return !s.AwaitingReady })
	_, pending := h.sched.Pending(h.sup.key("ready"))
	assert.False(t, pending)

	h.clock.Advance(time.Minute)
	_, err := h.sup.Snapshot()
	require.NoError(t, err)
	assert.Zero(t, h.conn.destroys.Load())
}

func TestSupervisor_KeepaliveFollowsNetworkingState(t *testing.T) {
	h := newHarness(t, StatusReady)
	h.waitSnapshot(t, func(s Snapshot) bool { return s.State.Status == StatusReady })

	h.clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return h.conn.keepalives.Load() == 1 }, waitFor, tick)
	h.waitSnapshot(t, func(Snapshot) bool { _, ok := h.sched.Pending(h.sup.key("keepalive")); return ok })

	h.clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return h.conn.keepalives.Load() == 2 }, waitFor, tick)

	h.conn.set(disconnected())
	h.waitSnapshot(t, func(s Snapshot) bool { return s.State.Status == StatusDisconnected })
	_, pending := h.sched.Pending(h.sup.key("keepalive"))
	assert.False(t, pending)

	h.clock.Advance(time.Minute)
	assert.Never(t, func() bool { return h.conn.keepalives.Load() > 2 }, 50*time.Millisecond, tick)
}

func TestSupervisor_ShutdownLeavesSuccessorTimers(t *testing.T) {
	h := newHarness(t, StatusReady)

	next := &fakeConn{state: State{Status: StatusReady}}
	successor := NewSupervisor(DefaultConfig(), next, &fakeQueue{}, h.sched)
	successor.Start()
	require.Eventually(t, func() bool {
		_, ok := h.sched.Pending(successor.key("keepalive"))
		return ok
	}, waitFor, tick)
	require.NotEqual(t, h.sup.key("keepalive"), successor.key("keepalive"))

	h.conn.Destroy()
	select {
	case <-h.sup.Done():
	case <-time.After(waitFor):
		t.Fatal("supervisor did not exit")
	}

	_, pending := h.sched.Pending(successor.key("keepalive"))
	assert.True(t, pending)

	h.clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return next.keepalives.Load() == 1 }, waitFor, tick)
	assert.Zero(t, h.conn.keepalives.Load())
}

func TestState_ForcedRemoval(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{name: "4014 websocket close", state: State{Status: StatusDisconnected, Reason: ReasonWebSocketClose, CloseCode: 4014}, want: true},
		{name: "other close code", state: State{Status: StatusDisconnected, Reason: ReasonWebSocketClose, CloseCode: 4006}},
		{name: "4014 other reason", state: State{Status: StatusDisconnected, Reason: ReasonEndpointRemoved, CloseCode: 4014}},
		{name: "ready", state: State{Status: StatusReady}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.ForcedRemoval())
		})
	}
}
