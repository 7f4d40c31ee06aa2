package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"preview", "0 9,10 * * *", "--from", "2020-10-01T19:00:00+09:00", "--utc-offset", "9"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "2020-10-02T09:00:00+09:00\n2020-10-02T10:00:00+09:00\n", out.String())
}

func TestPreviewRejectsInvalidExpression(t *testing.T) {
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"preview", "0 9 1 * *"})
	assert.Error(t, rootCmd.Execute())
}
