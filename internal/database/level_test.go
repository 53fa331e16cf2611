package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXPForNextLevel(t *testing.T) {
	assert.Equal(t, int64(100), XPForNextLevel(0))
	assert.Equal(t, int64(155), XPForNextLevel(1))
	assert.Equal(t, int64(220), XPForNextLevel(2))
}

func TestLevelForXP(t *testing.T) {
	tests := []struct {
		total int64
		want  int
	}{
		{total: 0, want: 0},
		{total: 99, want: 0},
		{total: 100, want: 1},
		{total: 254, want: 1},
		{total: 255, want: 2},
		{total: 475, want: 3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForXP(tt.total), "total %d", tt.total)
	}
}

func TestLevelProgress(t *testing.T) {
	level, into, needed := LevelProgress(300)

	assert.Equal(t, 2, level)
	assert.Equal(t, int64(45), into)
	assert.Equal(t, int64(220), needed)
}
