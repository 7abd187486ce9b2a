package sdcp

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusText(t *testing.T) {
	known := map[int]string{
		0:  "Idle",
		1:  "Homing",
		2:  "Dropping",
		3:  "Exposuring",
		4:  "Lifting",
		5:  "Pausing",
		6:  "Paused",
		7:  "Stopping",
		8:  "Stopped",
		9:  "Print Complete",
		10: "Paused",
		13: "Printing",
		14: "Print Complete",
		15: "Print Error",
		16: "Heating",
	}
	for code, want := range known {
		assert.Equal(t, want, StatusText(code), "code %d", code)
		assert.True(t, Known(code))
	}

	for _, code := range []int{-1, 11, 12, 17, 999} {
		assert.Equal(t, "Unknown Status ("+strconv.Itoa(code)+")", StatusText(code))
		assert.False(t, Known(code))
	}
}

func TestStatusSets(t *testing.T) {
	assert.True(t, IsPaused(5))
	assert.True(t, IsPaused(6))
	assert.True(t, IsPaused(10))
	assert.False(t, IsPaused(13))

	assert.True(t, IsComplete(9))
	assert.True(t, IsComplete(14))
	assert.False(t, IsComplete(15))

	assert.True(t, IsFailed(8))
	assert.True(t, IsFailed(15))
	assert.False(t, IsFailed(0))
}
