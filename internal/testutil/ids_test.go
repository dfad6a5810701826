package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceIDGenerator(t *testing.T) {
	gen := NewSequenceIDGenerator("task")
	assert.Equal(t, "task-0001", gen.Generate())
	assert.Equal(t, "task-0002", gen.Generate())

	assert.Equal(t, "id-0001", NewSequenceIDGenerator("").Generate())
}
