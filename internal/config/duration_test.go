package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseDurationOrDefault("x", "90s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = ParseDurationOrDefault("x", "0s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseDurationOrDefault("x", "2d", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)

	_, err = ParseDurationOrDefault("monitor.group_interval", "-5s", time.Minute)
	assert.EqualError(t, err, `monitor.group_interval: "-5s" is negative`)

	_, err = ParseDurationOrDefault("monitor.group_interval", "soon", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitor.group_interval: ")
}

func TestParseInterval(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", 24 * time.Hour},
		{"0", 24 * time.Hour},
		{"12h", 12 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"-1s", IntervalOff},
		{"off", IntervalOff},
		{" Never ", IntervalOff},
		{"disabled", IntervalOff},
	}
	for _, tc := range cases {
		got, err := ParseInterval("monitor.reresolve_interval", tc.raw, 24*time.Hour)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	_, err := ParseInterval("monitor.reresolve_interval", "weekly", time.Hour)
	assert.Error(t, err)
}
