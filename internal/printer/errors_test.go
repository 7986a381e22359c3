package printer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatching(t *testing.T) {
	cause := errors.New("socket closed")
	err := fmt.Errorf("send: %w", newError(OperationFailed, CodePrintFailed, "print failed", cause))

	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.ErrorIs(t, err, &Error{Kind: OperationFailed, Code: CodePrintFailed})
	assert.NotErrorIs(t, err, &Error{Kind: OperationFailed, Code: CodeQueryFailed})
	assert.NotErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, cause)

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, OperationFailed, kind)
	_, ok = KindOf(cause)
	assert.False(t, ok)

	var perr *Error
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, "socket closed", perr.Detail())
	assert.Equal(t, "print failed: socket closed", perr.Error())
}

func TestAlreadyDiscoveringIsBusy(t *testing.T) {
	assert.ErrorIs(t, ErrAlreadyDiscovering, ErrAlreadyBusy)
	assert.NotErrorIs(t, ErrAlreadyBusy, ErrAlreadyDiscovering)
	assert.Equal(t, "AlreadyBusy", AlreadyBusy.String())
}
