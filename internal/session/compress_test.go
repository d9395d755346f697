package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"parley/internal/provider"
)

func TestCompactorKeepsOrderAndSystemTurns(t *testing.T) {
	turns := []provider.Turn{
		{Role: provider.RoleUser, Content: "aa"},
		{Role: provider.RoleSystem, Content: "sys"},
		{Role: provider.RoleAssistant, Content: "bbbb"},
		{Role: provider.RoleUser, Content: "c"},
	}
	kept, removed, res := NewCompactor(2).Compact(turns)
	assert.Equal(t, []provider.Turn{turns[1], turns[2], turns[3]}, kept)
	assert.Equal(t, []provider.Turn{turns[0]}, removed)
	assert.Equal(t, CompressionResult{
		TokensBefore:     10,
		TokensAfter:      8,
		CompressionRatio: 0.8,
		MessagesRemoved:  1,
		MessagesRetained: 3,
	}, res)
}

func TestCompactorEmptyHistory(t *testing.T) {
	kept, removed, res := NewCompactor(0).Compact(nil)
	assert.Empty(t, kept)
	assert.Empty(t, removed)
	assert.Equal(t, 1.0, res.CompressionRatio)
	assert.Equal(t, DefaultCompressRetain, NewCompactor(-3).Retain)
}
