package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions("cache:6379", "pw", 2)
	require.NoError(t, err)
	assert.Equal(t, Options{Addr: "cache:6379", Password: "pw", DB: 2}, opts)

	opts, err = ParseOptions("redis://:secret@cache:6380/3", "ignored", 0)
	require.NoError(t, err)
	assert.Equal(t, Options{Addr: "cache:6380", Password: "secret", DB: 3}, opts)

	opts, err = ParseOptions("redis://cache:6380/1", "fallback", 0)
	require.NoError(t, err)
	assert.Equal(t, "fallback", opts.Password)

	_, err = ParseOptions("redis://cache:6380/notanumber", "", 0)
	assert.Error(t, err)
}
