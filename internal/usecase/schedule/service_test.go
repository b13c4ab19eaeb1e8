package schedule

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
	// stopAfter отменяет работу после указанного числа ожиданий.
	stopAfter int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) bool {
	if len(c.sleeps) >= c.stopAfter {
		return false
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return true
}

func newTestRunner(t *testing.T, daily Daily, clock *fakeClock, runMissed bool, job Job) *Runner {
	t.Helper()
	r := NewRunner(daily, job, runMissed, zerolog.Nop())
	r.now = clock.Now
	r.sleep = clock.Sleep
	return r
}

func TestParseDaily(t *testing.T) {
	d, err := ParseDaily("09:30", "europe/moscow")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", d.Location.String())

	from := time.Date(2024, 5, 1, 5, 0, 0, 0, time.UTC) // 08:00 MSK
	next := d.Next(from)
	assert.Equal(t, time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC), next.UTC())

	_, err = ParseDaily("9.30", "UTC")
	assert.ErrorIs(t, err, ErrInvalidTime)
	_, err = ParseDaily("09:30", "Nowhere/City")
	assert.ErrorIs(t, err, ErrInvalidTimezone)
}

func TestRunnerRunsImmediatelyWhenSlotPassed(t *testing.T) {
	d, err := ParseDaily("09:00", "UTC")
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), stopAfter: 0}
	runs := 0
	r := newTestRunner(t, d, clock, true, func(context.Context) { runs++ })

	r.Run(context.Background())

	assert.Equal(t, 1, runs)
	assert.Equal(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC), r.NextRun().UTC())
}

func TestRunnerWaitsWhenSlotAhead(t *testing.T) {
	d, err := ParseDaily("09:00", "UTC")
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), stopAfter: 0}
	runs := 0
	r := newTestRunner(t, d, clock, true, func(context.Context) { runs++ })

	r.Run(context.Background())

	assert.Zero(t, runs)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), r.NextRun().UTC())
}

func TestRunnerComputesNextAfterJobCompletes(t *testing.T) {
	d, err := ParseDaily("09:00", "UTC")
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), stopAfter: 2}
	var starts []time.Time
	r := newTestRunner(t, d, clock, false, func(context.Context) {
		starts = append(starts, clock.now)
		// задание длится дольше суток
		clock.now = clock.now.Add(25 * time.Hour)
	})

	r.Run(context.Background())

	require.Len(t, starts, 2)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), starts[0])
	// после долгого запуска слот 2 мая пропущен, следующий 3 мая
	assert.Equal(t, time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC), starts[1])
}

func TestRunnerStopsOnCancel(t *testing.T) {
	d, err := ParseDaily("09:00", "UTC")
	require.NoError(t, err)
	r := NewRunner(d, func(context.Context) { t.Fatal("задание не должно запускаться") }, false, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("планировщик не остановился")
	}
}

func TestRunnerPublishesFollowingSlotWhileJobRuns(t *testing.T) {
	d, err := ParseDaily("09:00", "UTC")
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), stopAfter: 1}
	var seen []time.Time
	var r *Runner
	r = newTestRunner(t, d, clock, false, func(context.Context) {
		seen = append(seen, r.NextRun().UTC())
	})

	r.Run(context.Background())

	require.Len(t, seen, 1)
	assert.Equal(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC), seen[0])
	assert.True(t, seen[0].After(clock.now), "следующий запуск не должен быть в прошлом")
}

func TestRunnerPublishesFollowingSlotDuringMissedRun(t *testing.T) {
	d, err := ParseDaily("09:00", "UTC")
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), stopAfter: 0}
	var seen time.Time
	var r *Runner
	r = newTestRunner(t, d, clock, true, func(context.Context) {
		seen = r.NextRun().UTC()
	})

	r.Run(context.Background())

	assert.Equal(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC), seen)
}
