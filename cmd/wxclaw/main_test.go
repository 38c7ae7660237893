package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWxclawCommand(t *testing.T) {
	cmd := NewWxclawCommand()
	require.NotNil(t, cmd)

	assert.Equal(t, "wxclaw", cmd.Use)
	assert.True(t, cmd.HasExample())

	for _, name := range []string{"run", "rules", "groups", "profiles", "schedules", "console", "status", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}
