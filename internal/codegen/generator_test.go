package codegen

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateJoinCodeShape(t *testing.T) {
	g := New(0)
	for i := 0; i < 200; i++ {
		code, err := g.GenerateJoinCode(nil)
		require.NoError(t, err)
		assert.Len(t, code, JoinCodeLength)
		assert.True(t, ValidJoinCode(code), code)
	}
}

func TestGenerateWatchCodeShape(t *testing.T) {
	g := New(0)
	code, err := g.GenerateWatchCode(nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(code, WatchCodePrefix))
	assert.Len(t, code, len(WatchCodePrefix)+WatchSuffixLength)
	for _, c := range strings.TrimPrefix(code, WatchCodePrefix) {
		assert.Contains(t, Alphabet, string(c))
	}
}

func TestGenerateRetriesOnCollision(t *testing.T) {
	seq := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	g := New(5)
	g.random = func(string, int) (string, error) {
		next := seq[0]
		seq = seq[1:]
		return next, nil
	}

	held := map[string]bool{"AAAAAA": true}
	code, err := g.GenerateJoinCode(func(c string) bool { return held[c] })
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", code)
	assert.Empty(t, seq)
}

func TestGenerateGivesUp(t *testing.T) {
	g := New(3)
	calls := 0
	g.random = func(string, int) (string, error) {
		calls++
		return "ZZZ", nil
	}

	_, err := g.GenerateWatchCode(func(string) bool { return true })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCodeSpaceExhausted))
	assert.Equal(t, 3, calls)
}

func TestNormalizeAndValidate(t *testing.T) {
	assert.Equal(t, "AB12CD", Normalize("  ab12cd "))
	assert.True(t, ValidJoinCode("ab12cd"))
	assert.False(t, ValidJoinCode("ab12c"))
	assert.False(t, ValidJoinCode("ab-2cd"))
	assert.False(t, ValidJoinCode("room-with-a-long-name"))
}
