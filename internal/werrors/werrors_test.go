package werrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindInternal, CodeMalformed, "wrapped", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestNotFound_PicksCodeByResource(t *testing.T) {
	assert.Equal(t, CodeRoomNotFound, NotFound("room", "r1").Code)
	assert.Equal(t, CodeWorkerNotFound, NotFound("worker", "w1").Code)
	assert.Equal(t, CodeTaskNotFound, NotFound("task", "t1").Code)
	assert.Equal(t, CodeConflictNotFound, NotFound("conflict", "c1").Code)
}

func TestNew_NoCause(t *testing.T) {
	err := New(KindValidation, CodeMalformed, "bad request")
	assert.Equal(t, "bad request", err.Error())
	assert.Nil(t, err.Unwrap())
}
