package alert

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdcp-bridge/sdcp-bridge/internal/clock"
	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...Option) (*Engine, *clock.FakeClock) {
	t.Helper()
	c := clock.Fake(epoch)
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(DefaultConfig(), c, opts...), c
}

func hotbed(v float64) models.StatusSnapshot {
	var s models.StatusSnapshot
	s.Temperature.Hotbed = models.SomeFloat(v)
	return s
}

func printStatus(code int) models.StatusSnapshot {
	var s models.StatusSnapshot
	s.Print.Status = models.SomeInt(code)
	return s
}

func TestTriggerTwiceCountsTwiceWithOneTimer(t *testing.T) {
	e, c := newEngine(t)

	e.Trigger(models.AlertBedCooled, "first")
	c.Advance(time.Minute)
	e.Trigger(models.AlertBedCooled, "second")

	assert.Equal(t, int64(2), e.Count())
	assert.Equal(t, 1, c.PendingCount())

	active := 0
	for _, r := range e.Records() {
		if r.Active {
			active++
			assert.Equal(t, "second", r.LastMessage)
		}
	}
	assert.Equal(t, 1, active)

	// The replaced timer must not clear the alert at its old deadline.
	c.Advance(4*time.Minute + 30*time.Second)
	assert.True(t, e.Active(models.AlertBedCooled))

	c.Advance(30 * time.Second)
	assert.False(t, e.Active(models.AlertBedCooled))
	assert.Equal(t, int64(2), e.Count())
}

func TestBedCooledFiresOnceOnDownwardCrossing(t *testing.T) {
	e, _ := newEngine(t)

	var prev *models.StatusSnapshot
	var fired []models.AlertKind
	for _, temp := range []float64{45, 42, 39} {
		cur := hotbed(temp)
		fired = append(fired, e.Evaluate(prev, cur)...)
		prev = &cur
	}

	assert.Equal(t, []models.AlertKind{models.AlertBedCooled}, fired)
	assert.Equal(t, int64(1), e.Count())
}

func TestBedCooledBoundaryAndAbsentReadings(t *testing.T) {
	e, _ := newEngine(t)

	prev := hotbed(40.5)
	assert.Equal(t, []models.AlertKind{models.AlertBedCooled}, e.Evaluate(&prev, hotbed(40)))

	prev = hotbed(40)
	assert.Empty(t, e.Evaluate(&prev, hotbed(35)))

	absent := models.StatusSnapshot{}
	assert.Empty(t, e.Evaluate(&absent, hotbed(20)))
	prev = hotbed(60)
	assert.Empty(t, e.Evaluate(&prev, absent))
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		name string
		from int
		to   int
		want []models.AlertKind
	}{
		{"printing to complete", 13, 14, []models.AlertKind{models.AlertPrintComplete}},
		{"printing to complete legacy", 13, 9, []models.AlertKind{models.AlertPrintComplete}},
		{"complete to complete", 9, 14, nil},
		{"printing to pausing", 13, 5, []models.AlertKind{models.AlertPrintPaused}},
		{"pausing to paused", 5, 6, nil},
		{"printing to paused alternate", 13, 10, []models.AlertKind{models.AlertPrintPaused}},
		{"paused to paused alternate", 6, 10, nil},
		{"printing to stopped", 13, 8, []models.AlertKind{models.AlertPrintError}},
		{"printing to error", 13, 15, []models.AlertKind{models.AlertPrintError}},
		{"idle to printing", 0, 13, nil},
		{"unchanged", 14, 14, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newEngine(t)
			prev := printStatus(tc.from)
			got := e.Evaluate(&prev, printStatus(tc.to))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBaselineCarriesMissingReadings(t *testing.T) {
	e, _ := newEngine(t)

	var prev *models.StatusSnapshot
	var fired []models.AlertKind
	for _, cur := range []models.StatusSnapshot{printStatus(13), {}, printStatus(14)} {
		fired = append(fired, e.Evaluate(prev, cur)...)
		base := Baseline(prev, cur)
		prev = &base
	}
	assert.Equal(t, []models.AlertKind{models.AlertPrintComplete}, fired)

	prev = nil
	fired = nil
	for _, cur := range []models.StatusSnapshot{hotbed(60), {}, hotbed(30)} {
		fired = append(fired, e.Evaluate(prev, cur)...)
		base := Baseline(prev, cur)
		prev = &base
	}
	assert.Equal(t, []models.AlertKind{models.AlertBedCooled}, fired)
}

func TestBaselineKeepsFreshReadings(t *testing.T) {
	prev := printStatus(13)
	prev.Temperature.Hotbed = models.SomeFloat(50)

	cur := printStatus(14)
	cur.Temperature.Hotbed = models.SomeFloat(45)
	cur.Print.Filename = models.String{Value: "cube.ctb", Valid: true}

	assert.Equal(t, cur, Baseline(&prev, cur))
	assert.Equal(t, cur, Baseline(nil, cur))
}

func TestFirstSnapshotNeverTriggers(t *testing.T) {
	e, _ := newEngine(t)
	assert.Empty(t, e.Evaluate(nil, printStatus(14)))
	assert.Equal(t, int64(0), e.Count())
}

func TestTemperatureAnomalyIsLoggedOnly(t *testing.T) {
	var buf bytes.Buffer
	e, _ := newEngine(t, WithLogger(zerolog.New(&buf)))

	prev := hotbed(60)
	assert.Empty(t, e.Evaluate(&prev, hotbed(75)))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "Hotbed temperature jumped")
	assert.Equal(t, int64(0), e.Count())
}

func TestClearAllIsIdempotent(t *testing.T) {
	var changes []Change
	e, c := newEngine(t, WithObserver(func(ch Change) { changes = append(changes, ch) }))

	e.Trigger(models.AlertPrintComplete, "done")
	e.Trigger(models.AlertConnectionLost, "lost")
	require.Len(t, changes, 2)

	e.ClearAll()
	assert.Len(t, changes, 4)
	assert.Equal(t, 0, c.PendingCount())

	e.ClearAll()
	e.Clear(models.AlertBedCooled)
	assert.Len(t, changes, 4)

	for _, r := range e.Records() {
		assert.False(t, r.Active, r.Kind)
	}
	assert.Equal(t, int64(2), e.Count())
}

func TestObserverSeesTimestampedLastAlert(t *testing.T) {
	var last Change
	e, _ := newEngine(t, WithObserver(func(ch Change) { last = ch }))

	e.Trigger(models.AlertPrintPaused, "Print paused")
	assert.True(t, last.Record.Active)
	assert.Equal(t, models.AlertPrintPaused, last.Record.Kind)
	assert.Equal(t, int64(1), last.Count)
	assert.Equal(t, "2024-03-01 12:00:00: Print paused", last.LastAlert)
	assert.Equal(t, last.LastAlert, e.LastAlert())
}

func TestDispatchRoutesAutoClear(t *testing.T) {
	var queued []func()
	e, c := newEngine(t, WithDispatch(func(f func()) { queued = append(queued, f) }))

	e.Trigger(models.AlertPrintComplete, "done")
	c.Advance(5 * time.Minute)
	require.Len(t, queued, 1)
	assert.True(t, e.Active(models.AlertPrintComplete))

	queued[0]()
	assert.False(t, e.Active(models.AlertPrintComplete))
}

func TestStaleExpiryIgnoredAfterRetrigger(t *testing.T) {
	var queued []func()
	e, c := newEngine(t, WithDispatch(func(f func()) { queued = append(queued, f) }))

	e.Trigger(models.AlertPrintComplete, "done")
	c.Advance(5 * time.Minute)
	require.Len(t, queued, 1)

	e.Trigger(models.AlertPrintComplete, "done again")
	queued[0]()
	assert.True(t, e.Active(models.AlertPrintComplete))
}

func TestSetCountAndClose(t *testing.T) {
	e, c := newEngine(t)
	e.SetCount(41)
	e.Trigger(models.AlertPrintError, "boom")
	assert.Equal(t, int64(42), e.Count())

	e.Close()
	assert.Equal(t, 0, c.PendingCount())
	assert.True(t, e.Active(models.AlertPrintError))
}
