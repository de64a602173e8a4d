package service

import (
	"testing"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordQuery(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"What is the refund window?", "refund window"},
		{"How do I set up the VPN, and where's the guide?", "set up vpn where's guide"},
		{"Is it?", ""},
		{"  e-mail -- policy!  ", "e-mail policy"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, keywordQuery(tt.question), tt.question)
	}
}

func TestFuseRankings_CombinesBothLists(t *testing.T) {
	semantic := []domain.ScoredChunk{
		{KnowledgeBaseID: 1, ChunkIndex: 0, Content: "a", Score: 0.9},
		{KnowledgeBaseID: 2, ChunkIndex: 4, Content: "b", Score: 0.8},
	}
	lexical := []domain.ScoredChunk{
		{KnowledgeBaseID: 2, ChunkIndex: 4, Content: "b", Score: 3.2},
		{KnowledgeBaseID: 3, ChunkIndex: 1, Content: "c", Score: 1.1},
	}

	fused := fuseRankings(semantic, lexical)
	require.Len(t, fused, 3)

	assert.Equal(t, int64(2), fused[0].KnowledgeBaseID, "chunk found by both searches ranks first")
	assert.InDelta(t, 1.0/62+0.8/61, fused[0].Score, 1e-9)
	assert.Equal(t, int64(1), fused[1].KnowledgeBaseID)
	assert.Equal(t, int64(3), fused[2].KnowledgeBaseID)
}

func TestFuseRankings_RankOrderWithinOneList(t *testing.T) {
	semantic := []domain.ScoredChunk{
		{KnowledgeBaseID: 5, ChunkIndex: 1},
		{KnowledgeBaseID: 5, ChunkIndex: 0},
	}

	fused := fuseRankings(semantic, nil)
	require.Len(t, fused, 2)
	assert.Equal(t, 1, fused[0].ChunkIndex)
	assert.Empty(t, fuseRankings(nil, nil))
}

func TestUniqueIDs(t *testing.T) {
	assert.Equal(t, []int64{3, 1, 2}, uniqueIDs([]int64{3, 0, 1, 3, -4, 2, 1}))
	assert.Empty(t, uniqueIDs(nil))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abc def", 4))
}
