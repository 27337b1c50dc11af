package chunker

import (
	"strings"
	"testing"

	"dolt-chroma-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeDoc(id, content string) *models.Document {
	return &models.Document{
		DocID:          id,
		CollectionName: "col1",
		Content:        content,
		Metadata:       map[string]interface{}{"author": "tester"},
	}
}

func TestChunkSmallDocument(t *testing.T) {
	c := New(512, 50)
	doc := makeDoc("d1", "hello world")

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "d1_chunk_0", chunks[0].ID)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[0].TotalChunks)
	assert.Equal(t, models.HashContent("hello world"), chunks[0].ContentHash)
	assert.Equal(t, "tester", chunks[0].Metadata["author"])
}

func TestChunkDeterministic(t *testing.T) {
	c := New(32, 8)
	doc := makeDoc("d1", strings.Repeat("abcdefghij", 20))

	first, err := c.Chunk(doc)
	require.NoError(t, err)
	second, err := c.Chunk(doc)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Text, second[i].Text)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		content string
	}{
		{"empty", 512, 50, ""},
		{"shorter than chunk", 512, 50, "hello world"},
		{"exactly chunk size", 16, 4, strings.Repeat("x", 16)},
		{"two chunks", 16, 4, strings.Repeat("ab", 15)},
		{"many chunks", 32, 8, strings.Repeat("lorem ipsum dolor sit amet ", 40)},
		{"multibyte runes", 16, 4, strings.Repeat("héllo wörld ümlaut ", 10)},
		{"newlines", 24, 6, "line one\nline two\nline three\nline four\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.size, tt.overlap)
			doc := makeDoc("doc-a", tt.content)

			chunks, err := c.Chunk(doc)
			require.NoError(t, err)

			got, err := c.Reassemble(chunks)
			require.NoError(t, err)
			assert.Equal(t, tt.content, got.Content)
			assert.Equal(t, models.HashContent(tt.content), got.ContentHash)
		})
	}
}

func TestReassembleUnordered(t *testing.T) {
	c := New(16, 4)
	doc := makeDoc("d1", strings.Repeat("0123456789", 10))

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	// shuffle deterministically
	shuffled := []*models.Chunk{chunks[len(chunks)-1]}
	shuffled = append(shuffled, chunks[:len(chunks)-1]...)

	got, err := c.Reassemble(shuffled)
	require.NoError(t, err)
	assert.Equal(t, doc.Content, got.Content)
}

func TestReassembleErrors(t *testing.T) {
	c := New(16, 4)
	doc := makeDoc("d1", strings.Repeat("0123456789", 10))
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	t.Run("no chunks", func(t *testing.T) {
		_, err := c.Reassemble(nil)
		var rerr *ReassemblyError
		require.ErrorAs(t, err, &rerr)
	})

	t.Run("missing chunk", func(t *testing.T) {
		_, err := c.Reassemble(chunks[1:])
		var rerr *ReassemblyError
		require.ErrorAs(t, err, &rerr)
	})

	t.Run("duplicate index", func(t *testing.T) {
		bad := make([]*models.Chunk, len(chunks))
		copy(bad, chunks)
		dup := *chunks[0]
		bad[1] = &dup
		_, err := c.Reassemble(bad)
		var rerr *ReassemblyError
		require.ErrorAs(t, err, &rerr)
	})

	t.Run("inconsistent total", func(t *testing.T) {
		bad := make([]*models.Chunk, len(chunks))
		for i, ch := range chunks {
			cp := *ch
			bad[i] = &cp
		}
		bad[0].TotalChunks = 99
		_, err := c.Reassemble(bad)
		var rerr *ReassemblyError
		require.ErrorAs(t, err, &rerr)
	})

	t.Run("hash mismatch", func(t *testing.T) {
		bad := make([]*models.Chunk, len(chunks))
		for i, ch := range chunks {
			cp := *ch
			cp.ContentHash = "deadbeef"
			bad[i] = &cp
		}
		_, err := c.Reassemble(bad)
		var rerr *ReassemblyError
		require.ErrorAs(t, err, &rerr)
	})
}

func TestChunkIDFormat(t *testing.T) {
	c := New(16, 4)
	doc := makeDoc("notes_chunk_draft", strings.Repeat("z", 100))

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)

	// base IDs containing "_chunk_" must still parse via the last separator
	for _, ch := range chunks {
		assert.Equal(t, "notes_chunk_draft", models.ExtractBaseID(ch.ID))
		assert.Equal(t, models.ChunkID("notes_chunk_draft", ch.ChunkIndex), ch.ID)
	}
}

func TestEstimateChunkCount(t *testing.T) {
	c := New(512, 50)

	assert.Equal(t, 10, c.EstimateChunkCount(""))
	assert.Equal(t, 10, c.EstimateChunkCount("short"))

	long := strings.Repeat("a", 10000)
	chunks, err := c.Chunk(makeDoc("d1", long))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, c.EstimateChunkCount(long), len(chunks))
}

func TestCandidateChunkIDs(t *testing.T) {
	c := New(512, 50)

	ids := c.CandidateChunkIDs("d1", 3)
	require.Len(t, ids, 10) // floor applies
	assert.Equal(t, "d1_chunk_0", ids[0])
	assert.Equal(t, "d1_chunk_9", ids[9])

	ids = c.CandidateChunkIDs("d1", 15)
	require.Len(t, ids, 15)
	assert.Equal(t, "d1_chunk_14", ids[14])
}

func TestNewClampsOverlap(t *testing.T) {
	c := New(10, 50)
	assert.Equal(t, 10, c.ChunkSize())
	assert.Less(t, c.ChunkOverlap(), c.ChunkSize())

	doc := makeDoc("d1", strings.Repeat("q", 200))
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	got, err := c.Reassemble(chunks)
	require.NoError(t, err)
	assert.Equal(t, doc.Content, got.Content)
}
