package ui

import (
	"testing"
	"time"

	test_test "github.com/aldas/go-mlcb/test"
	"github.com/stretchr/testify/assert"
)

func TestLED_Blink(t *testing.T) {
	clock := test_test.NewClock(test_test.UTCTime(1665488842))
	var written []bool
	led := NewLED(func(on bool) { written = append(written, on) })
	led.now = clock.Now

	led.Blink()
	led.Run()
	clock.Advance(BlinkInterval)
	led.Run()
	clock.Advance(100 * time.Millisecond)
	led.Run()
	clock.Advance(BlinkInterval)
	led.Run()

	assert.Equal(t, []bool{false, true, true, false}, written)
	assert.True(t, led.IsBlinking())

	led.On()
	assert.False(t, led.IsBlinking())
	assert.True(t, led.State())
}

func TestLED_Pulse(t *testing.T) {
	clock := test_test.NewClock(test_test.UTCTime(1665488842))
	led := NewLED(nil)
	led.now = clock.Now

	led.Pulse()
	assert.True(t, led.State())

	clock.Advance(PulseLength - time.Millisecond)
	led.Run()
	assert.True(t, led.State())

	clock.Advance(time.Millisecond)
	led.Run()
	assert.False(t, led.State())
}

func TestSwitch_Run(t *testing.T) {
	clock := test_test.NewClock(test_test.UTCTime(1665488842))
	pressed := false
	sw := NewSwitch(func() bool { return pressed })
	sw.now = clock.Now
	sw.stateStart = clock.Now()
	sw.rawChanged = clock.Now()

	pressed = true
	sw.Run()
	clock.Advance(5 * time.Millisecond)
	sw.Run()
	assert.False(t, sw.IsPressed(), "bouncing input is not accepted")

	clock.Advance(DebounceDelay)
	sw.Run()
	assert.True(t, sw.IsPressed())
	assert.True(t, sw.StateChanged())
	assert.False(t, sw.StateChanged())

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, sw.CurrentStateDuration())

	pressed = false
	sw.Run()
	clock.Advance(DebounceDelay)
	sw.Run()
	assert.False(t, sw.IsPressed())
	assert.True(t, sw.StateChanged())
	assert.Equal(t, 1500*time.Millisecond+DebounceDelay, sw.LastStateDuration())
}
