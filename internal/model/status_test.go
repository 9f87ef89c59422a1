package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusWorse(t *testing.T) {
	assert.Equal(t, StatusSkipped, StatusOK.Worse(StatusSkipped))
	assert.Equal(t, StatusFailed, StatusFailed.Worse(StatusSkipped))
	assert.Equal(t, StatusCancelled, StatusFailed.Worse(StatusCancelled))
	assert.Equal(t, StatusOK, Status("").Worse(StatusOK))
}

func TestStatusFatal(t *testing.T) {
	assert.False(t, StatusOK.Fatal())
	assert.False(t, StatusSkipped.Fatal())
	assert.True(t, StatusFailed.Fatal())
	assert.True(t, StatusCancelled.Fatal())
}
