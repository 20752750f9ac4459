package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Coord
		want int
	}{
		{"same point", Coord{3, 4}, Coord{3, 4}, 0},
		{"axis aligned", Coord{0, 0}, Coord{0, 7}, 7},
		{"diagonal", Coord{1, 2}, Coord{4, 6}, 7},
		{"symmetric", Coord{4, 6}, Coord{1, 2}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Distance(tt.a, tt.b))
		})
	}
}

func TestMapContains(t *testing.T) {
	m, err := NewMap(10, 20)
	require.NoError(t, err)

	tests := []struct {
		name  string
		coord Coord
		want  bool
	}{
		{"origin", Coord{0, 0}, true},
		{"far corner", Coord{9, 19}, true},
		{"x at height", Coord{10, 0}, false},
		{"y at width", Coord{0, 20}, false},
		{"negative x", Coord{-1, 5}, false},
		{"negative y", Coord{5, -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Contains(tt.coord))
		})
	}
}

func TestNewMapRejectsInvalidDimensions(t *testing.T) {
	_, err := NewMap(0, 10)
	assert.Error(t, err)
	_, err = NewMap(10, -1)
	assert.Error(t, err)
}
