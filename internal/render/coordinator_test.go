package render

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []Ready
}

func (r *recorder) fn(rd Ready) {
	r.mu.Lock()
	r.calls = append(r.calls, rd)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() Ready {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func setup() (*ManualClock, *Emitter, *Coordinator) {
	clk := NewManualClock(time.Unix(1_700_000_000, 0))
	em := NewEmitter()
	return clk, em, NewCoordinator(clk, em, Options{})
}

func TestIdleAfterTilesSettlesThenFires(t *testing.T) {
	clk, em, c := setup()
	rec := &recorder{}
	c.Arm(rec.fn)

	clk.Advance(time.Second)
	em.Emit(TilesLoaded)
	clk.Advance(time.Second)
	em.Emit(EngineIdle)

	clk.Advance(DefaultSettle - time.Millisecond)
	assert.Equal(t, 0, rec.count())
	clk.Advance(time.Millisecond)
	require.Equal(t, 1, rec.count())
	assert.False(t, rec.last().Degraded)
	assert.Equal(t, 5*time.Second, rec.last().Elapsed)

	assert.Equal(t, 0, em.Listeners(), "listeners disarmed after ready")
	assert.Equal(t, 0, clk.Pending(), "timers disarmed after ready")
	clk.Advance(time.Minute)
	assert.Equal(t, 1, rec.count())
}

func TestIdleBeforeTilesWaitsForTiles(t *testing.T) {
	clk, em, c := setup()
	rec := &recorder{}
	c.Arm(rec.fn)

	em.Emit(EngineIdle)
	clk.Advance(7 * time.Second)
	em.Emit(TilesLoaded)

	clk.Advance(DefaultSettle - time.Millisecond)
	assert.Equal(t, 0, rec.count(), "grace timer must not fire once tiles arrived")
	clk.Advance(time.Millisecond)
	require.Equal(t, 1, rec.count())
	assert.False(t, rec.last().Degraded)

	clk.Advance(time.Minute)
	assert.Equal(t, 1, rec.count())
}

func TestTilesNeverLoadDegradesWithinBound(t *testing.T) {
	clk, em, c := setup()
	rec := &recorder{}
	c.Arm(rec.fn)

	em.Emit(EngineIdle)
	clk.Advance(DefaultGrace - time.Millisecond)
	assert.Equal(t, 0, rec.count())
	clk.Advance(time.Millisecond)
	require.Equal(t, 1, rec.count())
	assert.True(t, rec.last().Degraded)
	assert.Equal(t, "tiles_not_loaded_within_grace", rec.last().Reason)

	em.Emit(TilesLoaded)
	clk.Advance(time.Minute)
	assert.Equal(t, 1, rec.count())
}

func TestWorstCaseBoundedByGracePlusSettle(t *testing.T) {
	for _, idleAt := range []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second} {
		clk, em, c := setup()
		rec := &recorder{}
		c.Arm(rec.fn)

		if idleAt > 0 {
			clk.Advance(idleAt)
		}
		em.Emit(EngineIdle)
		clk.Advance(DefaultGrace + DefaultSettle - idleAt)
		require.Equal(t, 1, rec.count(), "idle at %s", idleAt)
		assert.LessOrEqual(t, rec.last().Elapsed, DefaultGrace+DefaultSettle)
	}
}

// 空闲后在宽限期内才到达的瓦片，其静置期若越过 grace+settle 上限，以上限触发降级为准
func TestLateTilesSettleCutShortByHardCap(t *testing.T) {
	clk, em, c := setup()
	rec := &recorder{}
	c.Arm(rec.fn)

	clk.Advance(2 * time.Second)
	em.Emit(EngineIdle)
	clk.Advance(7 * time.Second)
	em.Emit(TilesLoaded)

	clk.Advance(2*time.Second - time.Millisecond)
	assert.Equal(t, 0, rec.count())
	clk.Advance(time.Millisecond)
	require.Equal(t, 1, rec.count())
	got := rec.last()
	assert.True(t, got.Degraded)
	assert.Equal(t, "ready_bound_exceeded", got.Reason)
	assert.Equal(t, DefaultGrace+DefaultSettle, got.Elapsed)

	clk.Advance(time.Minute)
	assert.Equal(t, 1, rec.count(), "settle timer must not fire a second time")
	assert.Equal(t, 0, clk.Pending())
}

func TestNoSignalsHitsHardCap(t *testing.T) {
	clk, _, c := setup()
	rec := &recorder{}
	c.Arm(rec.fn)

	clk.Advance(DefaultGrace + DefaultSettle)
	require.Equal(t, 1, rec.count())
	assert.True(t, rec.last().Degraded)
	assert.False(t, c.Pending())
}

func TestRearmCancelsPreviousCycle(t *testing.T) {
	clk, em, c := setup()
	first, second := &recorder{}, &recorder{}

	c.Arm(first.fn)
	clk.Advance(100 * time.Millisecond)
	c.Arm(second.fn)

	em.Emit(TilesLoaded)
	em.Emit(EngineIdle)
	clk.Advance(time.Minute)

	assert.Equal(t, 0, first.count())
	assert.Equal(t, 1, second.count())
}

func TestTokenCancel(t *testing.T) {
	clk, em, c := setup()
	rec := &recorder{}
	tok := c.Arm(rec.fn)
	require.True(t, c.Pending())

	tok.Cancel()
	assert.False(t, c.Pending())
	assert.Equal(t, 0, em.Listeners())
	em.Emit(TilesLoaded)
	em.Emit(EngineIdle)
	clk.Advance(time.Minute)
	assert.Equal(t, 0, rec.count())
}

func TestStaleTokenDoesNotCancelNewerCycle(t *testing.T) {
	clk, em, c := setup()
	old := c.Arm(func(Ready) {})
	rec := &recorder{}
	c.Arm(rec.fn)

	old.Cancel()
	require.True(t, c.Pending())
	em.Emit(TilesLoaded)
	em.Emit(EngineIdle)
	clk.Advance(DefaultSettle)
	assert.Equal(t, 1, rec.count())
}

func TestManualClockOrdersTimers(t *testing.T) {
	clk := NewManualClock(time.Unix(0, 0))
	var order []int
	clk.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	clk.AfterFunc(time.Second, func() {
		order = append(order, 1)
		clk.AfterFunc(500*time.Millisecond, func() { order = append(order, 15) })
	})
	stopped := clk.AfterFunc(1500*time.Millisecond, func() { order = append(order, -1) })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	clk.Advance(3 * time.Second)
	assert.Equal(t, []int{1, 15, 2}, order)
	assert.Equal(t, time.Unix(3, 0), clk.Now())
}
