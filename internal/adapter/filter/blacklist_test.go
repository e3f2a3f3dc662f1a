package filter

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlacklistFilter_LiteralAddress(t *testing.T) {
	f := NewBlacklistFilter()
	require.NoError(t, f.Add("10.0.0.5"))

	assert.False(t, f.Allow(net.ParseIP("10.0.0.5")))
	assert.True(t, f.Allow(net.ParseIP("10.0.0.6")))

	stats := f.Stats()
	assert.Equal(t, int64(2), stats.TotalChecked)
	assert.Equal(t, int64(1), stats.Denied)
	assert.Equal(t, int64(1), stats.Allowed)
	assert.Equal(t, 1, stats.EntryCount)
}

func TestBlacklistFilter_CIDRRange(t *testing.T) {
	f := NewBlacklistFilter()
	require.NoError(t, f.Add("192.168.1.0/24"))

	assert.False(t, f.Allow(net.ParseIP("192.168.1.42")))
	assert.True(t, f.Allow(net.ParseIP("192.168.2.1")))
}

func TestBlacklistFilter_InvalidEntry(t *testing.T) {
	f := NewBlacklistFilter()
	assert.Error(t, f.Add("not-an-address"))
	assert.Error(t, f.Add(""))
}

func TestBlacklistFilter_RemoveAndSnapshot(t *testing.T) {
	f := NewBlacklistFilter()
	require.NoError(t, f.Add("10.0.0.5"))
	require.NoError(t, f.Add("10.0.0.6"))

	assert.ElementsMatch(t, []string{"10.0.0.5", "10.0.0.6"}, f.Snapshot())

	require.NoError(t, f.Remove("10.0.0.5"))
	assert.True(t, f.Allow(net.ParseIP("10.0.0.5")))
	assert.Equal(t, []string{"10.0.0.6"}, f.Snapshot())

	assert.Error(t, f.Remove("10.0.0.9"))
}
