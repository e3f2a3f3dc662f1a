package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpecDuration(t *testing.T) {
	d, err := ParseSpecDuration("30s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = ParseSpecDuration("1d")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	d, err = ParseSpecDuration("2h")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, d)

	_, err = ParseSpecDuration("")
	assert.Error(t, err)
}

func TestParseSpecSize(t *testing.T) {
	n, err := ParseSpecSize("10MB")
	require.NoError(t, err)
	assert.Equal(t, int64(10<<20), n)

	n, err = ParseSpecSize("256KB")
	require.NoError(t, err)
	assert.Equal(t, int64(256<<10), n)

	n, err = ParseSpecSize("1GB")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), n)

	n, err = ParseSpecSize("512")
	require.NoError(t, err)
	assert.Equal(t, int64(512), n)
}
