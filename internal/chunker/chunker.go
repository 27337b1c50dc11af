package chunker

import (
	"fmt"
	"sort"

	"dolt-chroma-sync/internal/models"
)

// Default splitting parameters.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
)

// minCandidateChunks is the floor for the over-estimated candidate chunk
// range used when the previous version's chunk count is unknown.
const minCandidateChunks = 10

// Chunker splits documents into deterministically-named overlapping chunks
// and reassembles them. The same (content, size, overlap) always yields
// byte-identical chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// New creates a Chunker. Non-positive size or overlap fall back to the
// defaults; overlap is clamped below size so the splitter always advances.
func New(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// ChunkSize returns the configured chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// ChunkOverlap returns the configured chunk overlap.
func (c *Chunker) ChunkOverlap() int { return c.chunkOverlap }

// ReassemblyError reports that a set of chunks could not be reassembled into
// a consistent document.
type ReassemblyError struct {
	DocID  string
	Reason string
}

func (e *ReassemblyError) Error() string {
	return fmt.Sprintf("reassembly failed for %q: %s", e.DocID, e.Reason)
}

// Chunk splits the document content into pieces of at most ChunkSize runes
// with ChunkOverlap runes shared between neighbours. Every chunk carries the
// document metadata plus chunk_index, total_chunks, source_id and the whole
// document's content_hash. Empty content yields a single empty chunk so the
// document still has a physical representation.
func (c *Chunker) Chunk(doc *models.Document) ([]*models.Chunk, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	hash := doc.EnsureHash()

	runes := []rune(doc.Content)
	step := c.chunkSize - c.chunkOverlap

	var texts []string
	start := 0
	for start+c.chunkSize < len(runes) {
		texts = append(texts, string(runes[start:start+c.chunkSize]))
		start += step
	}
	texts = append(texts, string(runes[start:]))

	chunks := make([]*models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &models.Chunk{
			ID:          models.ChunkID(doc.DocID, i),
			DocID:       doc.DocID,
			Text:        text,
			ChunkIndex:  i,
			TotalChunks: len(texts),
			ContentHash: hash,
			Metadata:    doc.Metadata,
		}
	}
	return chunks, nil
}

// Reassemble rebuilds the document from its chunks: order by chunk_index,
// strip the trailing overlap from every non-terminal chunk, concatenate, and
// verify the content hash recorded on the chunks.
func (c *Chunker) Reassemble(chunks []*models.Chunk) (*models.Document, error) {
	if len(chunks) == 0 {
		return nil, &ReassemblyError{Reason: "no chunks"}
	}

	docID := chunks[0].DocID
	total := chunks[0].TotalChunks
	for _, ch := range chunks {
		if ch.TotalChunks != total {
			return nil, &ReassemblyError{DocID: docID, Reason: fmt.Sprintf("inconsistent total_chunks: %d vs %d", total, ch.TotalChunks)}
		}
	}
	if total != len(chunks) {
		return nil, &ReassemblyError{DocID: docID, Reason: fmt.Sprintf("expected %d chunks, have %d", total, len(chunks))}
	}

	ordered := make([]*models.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ChunkIndex < ordered[j].ChunkIndex })

	seen := make(map[int]bool, len(ordered))
	for _, ch := range ordered {
		if ch.ChunkIndex < 0 || ch.ChunkIndex >= total {
			return nil, &ReassemblyError{DocID: docID, Reason: fmt.Sprintf("chunk_index %d out of range", ch.ChunkIndex)}
		}
		if seen[ch.ChunkIndex] {
			return nil, &ReassemblyError{DocID: docID, Reason: fmt.Sprintf("duplicate chunk_index %d", ch.ChunkIndex)}
		}
		seen[ch.ChunkIndex] = true
	}
	for i := 0; i < total; i++ {
		if !seen[i] {
			return nil, &ReassemblyError{DocID: docID, Reason: fmt.Sprintf("missing chunk_index %d", i)}
		}
	}

	var content []rune
	for i, ch := range ordered {
		runes := []rune(ch.Text)
		if i < len(ordered)-1 {
			if len(runes) < c.chunkOverlap {
				return nil, &ReassemblyError{DocID: docID, Reason: fmt.Sprintf("chunk %d shorter than overlap", i)}
			}
			runes = runes[:len(runes)-c.chunkOverlap]
		}
		content = append(content, runes...)
	}

	doc := &models.Document{
		DocID:    docID,
		Content:  string(content),
		Metadata: ordered[0].Metadata,
	}
	doc.EnsureHash()

	if expected := ordered[0].ContentHash; expected != "" && expected != doc.ContentHash {
		return nil, &ReassemblyError{DocID: docID, Reason: "content hash mismatch after reassembly"}
	}
	return doc, nil
}

// EstimateChunkCount returns a safe over-estimate of how many chunks a
// document of this content could have produced under the current parameters.
func (c *Chunker) EstimateChunkCount(content string) int {
	step := c.chunkSize - c.chunkOverlap
	n := (len([]rune(content))+step-1)/step + 2
	if n < minCandidateChunks {
		return minCandidateChunks
	}
	return n
}

// CandidateChunkIDs produces the chunk IDs doc_id_chunk_0 .. doc_id_chunk_{n-1}.
// Used to bulk-delete a document's chunks when the true count is unknown.
func (c *Chunker) CandidateChunkIDs(docID string, n int) []string {
	if n < minCandidateChunks {
		n = minCandidateChunks
	}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = models.ChunkID(docID, i)
	}
	return ids
}
