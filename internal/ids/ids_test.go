package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTaskID_IsValidUUID(t *testing.T) {
	id := NewTaskID()
	assert.True(t, ValidUUID(id))
}

func TestValidUUID_RejectsGarbage(t *testing.T) {
	assert.False(t, ValidUUID("not-a-uuid"))
	assert.False(t, ValidUUID(""))
}

func TestNewWorkerToken_Format(t *testing.T) {
	tok := NewWorkerToken()
	assert.Regexp(t, `^w-[a-z0-9]{8}$`, tok)
}

func TestNewWorkerToken_Unique(t *testing.T) {
	a := NewWorkerToken()
	b := NewWorkerToken()
	assert.NotEqual(t, a, b)
}

func TestNewMessageID_Unique(t *testing.T) {
	a := NewMessageID()
	b := NewMessageID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 24)
}

func TestMonotonicCounter(t *testing.T) {
	var c MonotonicCounter
	assert.Equal(t, uint64(0), c.Next())
	assert.Equal(t, uint64(1), c.Next())
	assert.Equal(t, uint64(2), c.Next())
}

func TestSystemClock_NowAdvances(t *testing.T) {
	var clk SystemClock
	a := clk.Now()
	b := clk.Now()
	assert.False(t, b.Before(a))
}
