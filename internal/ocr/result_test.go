package ocr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultAggregatesKeptChunksOnly(t *testing.T) {
	res := &Result{Chunks: []ChunkResult{
		completeChunk(1, "a", "première", 11, "STOP"),
		droppedChunk(2, "b", "", errors.New("boom")),
		partialChunk(3, "c", "tail", 4, "MAX_TOKENS"),
	}}

	assert.Equal(t, "première\ntail", res.Text())
	assert.Equal(t, 15, res.TotalTokens())
	assert.Equal(t, 1, res.Count(ChunkComplete))
	assert.Equal(t, 1, res.Count(ChunkPartial))
	assert.Equal(t, 1, res.Count(ChunkDropped))
	assert.Equal(t, 8, res.Chunks[0].CharCount, "char count is in runes")
}

func TestChunkStatusString(t *testing.T) {
	assert.Equal(t, "complete", ChunkComplete.String())
	assert.Equal(t, "partial", ChunkPartial.String())
	assert.Equal(t, "dropped", ChunkDropped.String())
	assert.Equal(t, "unknown", ChunkStatus(9).String())
	assert.False(t, ChunkResult{Status: ChunkStatus(9)}.Kept())
}
