package study

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
)

func TestProject(t *testing.T) {
	t.Parallel()

	a := []string{"c2", "c1", "c3"}
	b := []string{"c5", "c4"}

	tests := []struct {
		name     string
		orderA   []string
		orderB   []string
		block    entities.Block
		index    int
		wantCase string
		wantBlk  entities.Block
		wantIdx  int
		last     bool
		complete bool
	}{
		{"first case", a, b, entities.BlockA, 0, "c2", entities.BlockA, 0, false, false},
		{"last of A", a, b, entities.BlockA, 2, "c3", entities.BlockA, 2, true, false},
		{"rollover into B", a, b, entities.BlockA, 3, "c5", entities.BlockB, 0, false, false},
		{"inside B", a, b, entities.BlockB, 1, "c4", entities.BlockB, 1, true, false},
		{"B exhausted", a, b, entities.BlockB, 2, "", entities.BlockB, 2, false, true},
		{"empty A rolls over", nil, b, entities.BlockA, 0, "c5", entities.BlockB, 0, false, false},
		{"A exhausted and B empty", a, nil, entities.BlockA, 3, "", entities.BlockB, 0, false, true},
		{"negative index clamps", a, b, entities.BlockA, -1, "c2", entities.BlockA, 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pos := Project(tt.orderA, tt.orderB, tt.block, tt.index)
			assert.Equal(t, tt.complete, pos.Complete)
			assert.Equal(t, tt.wantCase, pos.CaseID)
			assert.Equal(t, tt.wantBlk, pos.Block)
			assert.Equal(t, tt.wantIdx, pos.Index)
			assert.Equal(t, tt.last, pos.IsLastInBlock())
		})
	}
}

func TestBlockOf(t *testing.T) {
	t.Parallel()

	a := []string{"c1", "c2"}
	b := []string{"c3"}

	blk, ok := blockOf(a, b, "c2")
	assert.True(t, ok)
	assert.Equal(t, entities.BlockA, blk)

	blk, ok = blockOf(a, b, "c3")
	assert.True(t, ok)
	assert.Equal(t, entities.BlockB, blk)

	_, ok = blockOf(a, b, "zz")
	assert.False(t, ok)
}
