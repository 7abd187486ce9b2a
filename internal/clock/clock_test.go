package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	var fired []string

	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	assert.Equal(t, 2, c.PendingCount())

	c.Advance(500 * time.Millisecond)
	assert.Empty(t, fired)

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, epoch.Add(2500*time.Millisecond), c.Now())
}

func TestFakeStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired)

	var nilTimer *Timer
	assert.False(t, nilTimer.Stop())
}

func TestFakeRearmFromCallback(t *testing.T) {
	c := Fake(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(10*time.Second, tick)
	}
	c.AfterFunc(10*time.Second, tick)

	for i := 0; i < 3; i++ {
		c.Advance(10 * time.Second)
	}
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, c.PendingCount())
}

func TestTimersReplace(t *testing.T) {
	c := Fake(epoch)
	timers := NewTimers(c)
	calls := 0

	timers.Replace("alert", time.Minute, func() { calls++ })
	c.Advance(30 * time.Second)
	timers.Replace("alert", time.Minute, func() { calls++ })

	assert.Equal(t, 1, c.PendingCount())
	c.Advance(45 * time.Second)
	assert.Equal(t, 0, calls)

	c.Advance(15 * time.Second)
	assert.Equal(t, 1, calls)
	assert.False(t, timers.Pending("alert"))
}

func TestTimersEnsure(t *testing.T) {
	c := Fake(epoch)
	timers := NewTimers(c)
	calls := 0

	require.True(t, timers.Ensure("reconnect", time.Second, func() { calls++ }))
	require.False(t, timers.Ensure("reconnect", time.Second, func() { calls++ }))
	assert.Equal(t, 1, c.PendingCount())

	c.Advance(time.Second)
	assert.Equal(t, 1, calls)
	assert.True(t, timers.Ensure("reconnect", time.Second, func() { calls++ }))
}

func TestTimersStopAll(t *testing.T) {
	c := Fake(epoch)
	timers := NewTimers(c)
	calls := 0

	timers.Replace("a", time.Second, func() { calls++ })
	timers.Replace("b", 2*time.Second, func() { calls++ })
	assert.Equal(t, []string{"a", "b"}, timers.Names())

	timers.StopAll()
	timers.StopAll()
	timers.Stop("missing")

	c.Advance(time.Minute)
	assert.Equal(t, 0, calls)
	assert.Empty(t, timers.Names())
	assert.Equal(t, 0, c.PendingCount())
}

func TestRealClock(t *testing.T) {
	c := Real()
	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.WithinDuration(t, time.Now(), c.Now(), time.Second)
}
