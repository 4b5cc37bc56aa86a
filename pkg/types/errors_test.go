package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapping(t *testing.T) {
	wrapped := errors.New("disk full")
	err := SQLError(wrapped)
	assert.Equal(t, ErrSQL, err.Code)
	assert.ErrorIs(t, err, wrapped)
}

func TestNoSuchEntityCarriesEUID(t *testing.T) {
	uid := NewEUID(TypeList, "missing")
	err := NoSuchEntity(uid)
	assert.Equal(t, ErrNoSuchEntity, err.Code)
	assert.Equal(t, uid, err.EUID)
	assert.Contains(t, err.Error(), "NoSuchEntity")
}

func TestInvalidTaskIDCarriesListAndID(t *testing.T) {
	list := NewEUID(TypeList, "l1")
	err := InvalidTaskID(list, 7)
	assert.Equal(t, ErrInvalidTaskID, err.Code)
	assert.Equal(t, list, err.EUID)
	assert.Equal(t, int64(7), err.TaskID)
}
