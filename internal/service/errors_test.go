package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors(t *testing.T) {
	assert.Equal(t, "invalid redaction request", ErrInvalidRequest.Error())
	assert.Equal(t, "document submitted more than once", ErrDuplicateDocument.Error())
	assert.False(t, errors.Is(ErrInvalidRequest, ErrDuplicateDocument))

	wrapped := fmt.Errorf("%w: no objects", ErrInvalidRequest)
	assert.True(t, errors.Is(wrapped, ErrInvalidRequest))
}
