package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(2 * time.Second)
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 1, c.Pending())

	c.Advance(time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeTimerStop(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeCallbackMaySchedule(t *testing.T) {
	c := NewFake(epoch)
	count := 0
	var arm func()
	arm = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, arm)
		}
	}
	c.AfterFunc(time.Second, arm)

	c.Advance(time.Second)
	c.Advance(time.Second)
	c.Advance(time.Second)
	assert.Equal(t, 3, count)
}

func TestFakeTicker(t *testing.T) {
	c := NewFake(epoch)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	c.Advance(time.Minute)
	select {
	case now := <-ticker.C:
		assert.Equal(t, epoch.Add(time.Minute), now)
	default:
		t.Fatal("expected tick")
	}
	require.Equal(t, 1, c.Pending())
}

func TestWaitForTimers(t *testing.T) {
	c := NewFake(epoch)
	done := make(chan struct{})
	go func() {
		c.AfterFunc(time.Second, func() { close(done) })
	}()
	c.WaitForTimers(1)
	c.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}
}
