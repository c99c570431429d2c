package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	b := DefaultBackoff()

	assert.Equal(t, 1*time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 8*time.Second, b.Delay(3))
	assert.Equal(t, 16*time.Second, b.Delay(4))
	assert.Equal(t, 1*time.Second, b.Delay(-1))
}

func TestBackoff_Exhausted(t *testing.T) {
	b := Backoff{BaseDelay: time.Millisecond, MaxAttempts: 5}

	for n := 0; n < 5; n++ {
		assert.False(t, b.Exhausted(n), "attempt %d", n)
	}
	assert.True(t, b.Exhausted(5))
	assert.True(t, Backoff{MaxAttempts: 0}.Exhausted(0))
}

func TestBackoff_DelayDoesNotOverflow(t *testing.T) {
	b := Backoff{BaseDelay: time.Millisecond}
	assert.Positive(t, b.Delay(100))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
}
