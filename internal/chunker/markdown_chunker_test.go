package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/domain"
)

func docMeta(filename string) map[string]string {
	return map[string]string{
		domain.MetaSource:   "/policies/" + filename,
		domain.MetaFilename: filename,
	}
}

// paragraph builds an n-character paragraph without whitespace so that
// trimming never shifts overlap boundaries.
func paragraph(seed byte, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte('a' + (seed+byte(i))%26)
	}
	return b.String()
}

func TestChunk_SmallHeadedDocument(t *testing.T) {
	c := NewMarkdownChunker()
	content := "## Leave Policy\nAnnual leave is 20 days."

	chunks := c.Chunk(content, docMeta("leave.md"))

	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Text)
	assert.Equal(t, "leave.md_chunk_0", chunks[0].ID)
	assert.Equal(t, "Leave Policy", chunks[0].Metadata[domain.MetaSectionHeader])
	assert.Equal(t, "leave.md", chunks[0].Metadata[domain.MetaFilename])
	assert.Equal(t, 0, chunks[0].StartIndex)
	assert.Equal(t, len(content), chunks[0].EndIndex)
}

func TestChunk_OversizedSectionOverlaps(t *testing.T) {
	c := NewMarkdownChunker(WithChunkSize(500), WithOverlap(100))
	paras := []string{paragraph(0, 398), paragraph(7, 398), paragraph(13, 398)}
	content := strings.Join(paras, "\n\n")
	require.Equal(t, 1198, len(content))

	chunks := c.Chunk(content, docMeta("handbook.md"))

	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 500, "chunk %d too long", i)
		assert.LessOrEqual(t, ch.StartIndex, ch.EndIndex)
		_, hasHeader := ch.Metadata[domain.MetaSectionHeader]
		assert.False(t, hasHeader)
	}
	assert.True(t, strings.HasPrefix(chunks[1].Text, lastRunes(chunks[0].Text, 100)))
	assert.True(t, strings.HasPrefix(chunks[2].Text, lastRunes(chunks[1].Text, 100)))
}

func TestChunk_OverlapRoundTrip(t *testing.T) {
	c := NewMarkdownChunker(WithChunkSize(500), WithOverlap(100))
	paras := []string{paragraph(1, 398), paragraph(2, 398), paragraph(3, 398)}
	content := strings.Join(paras, "\n\n")

	chunks := c.Chunk(content, docMeta("handbook.md"))
	require.Len(t, chunks, 3)

	rebuilt := []string{chunks[0].Text}
	for i := 1; i < len(chunks); i++ {
		overlap := lastRunes(chunks[i-1].Text, 100) + paragraphSeparator
		require.True(t, strings.HasPrefix(chunks[i].Text, overlap))
		rebuilt = append(rebuilt, strings.TrimPrefix(chunks[i].Text, overlap))
	}
	assert.Equal(t, content, strings.Join(rebuilt, paragraphSeparator))
}

func TestChunk_HeaderLevels(t *testing.T) {
	c := NewMarkdownChunker(WithMinChunkSize(0))
	content := "# Handbook\nIntro text.\n## Annual Leave\nTwenty days.\n### Carry Over\nFive days.\n#### Detail\nNot a split."

	chunks := c.Chunk(content, docMeta("h.md"))

	require.Len(t, chunks, 3)
	_, hasHeader := chunks[0].Metadata[domain.MetaSectionHeader]
	assert.False(t, hasHeader, "level-1 header must not start a section")
	assert.Equal(t, "# Handbook\nIntro text.", chunks[0].Text)

	assert.Equal(t, "Annual Leave", chunks[1].Metadata[domain.MetaSectionHeader])
	assert.Equal(t, strings.Index(content, "## Annual Leave"), chunks[1].StartIndex)

	assert.Equal(t, "Carry Over", chunks[2].Metadata[domain.MetaSectionHeader])
	assert.Contains(t, chunks[2].Text, "#### Detail\nNot a split.")
	assert.Equal(t, strings.Index(content, "### Carry Over"), chunks[2].StartIndex)
}

func TestChunk_NoHeaders(t *testing.T) {
	c := NewMarkdownChunker()
	content := "Plain policy text with no structure at all."

	chunks := c.Chunk(content, docMeta("plain.md"))

	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Text)
	assert.NotContains(t, chunks[0].Metadata, domain.MetaSectionHeader)
}

func TestChunk_EmptyDocument(t *testing.T) {
	c := NewMarkdownChunker()

	chunks := c.Chunk("", docMeta("empty.md"))

	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Text)
	assert.Equal(t, "empty.md_chunk_0", chunks[0].ID)
}

func TestChunk_DefaultFilename(t *testing.T) {
	chunks := NewMarkdownChunker().Chunk("## A\nbody", nil)
	require.Len(t, chunks, 1)
	assert.Equal(t, "doc_chunk_0", chunks[0].ID)
}

func TestChunk_MergesSmallChunksForward(t *testing.T) {
	c := NewMarkdownChunker()
	long := paragraph(4, 150)
	content := "## A\nshort one\n## B\nshort two\n## C\n" + long

	chunks := c.Chunk(content, docMeta("m.md"))

	require.Len(t, chunks, 1)
	assert.Equal(t, "m.md_chunk_0", chunks[0].ID)
	assert.Equal(t, "A", chunks[0].Metadata[domain.MetaSectionHeader])
	assert.Equal(t, "## A\nshort one\n\n## B\nshort two\n\n## C\n"+long, chunks[0].Text)
	assert.Equal(t, len(content), chunks[0].EndIndex)
}

func TestChunk_FinalUndersizedChunkKept(t *testing.T) {
	c := NewMarkdownChunker()
	content := "## A\n" + paragraph(5, 150) + "\n## B\ntiny"

	chunks := c.Chunk(content, docMeta("f.md"))

	require.Len(t, chunks, 2)
	assert.Equal(t, "## B\ntiny", chunks[1].Text)
	assert.Equal(t, "f.md_chunk_1", chunks[1].ID)
}

func TestChunk_Invariants(t *testing.T) {
	var b strings.Builder
	b.WriteString("Preamble paragraph.\n\n")
	for s := 0; s < 6; s++ {
		fmt.Fprintf(&b, "## Section %d\n", s)
		for p := 0; p < s+1; p++ {
			b.WriteString(paragraph(byte(s*7+p), 60+s*40+p*13))
			b.WriteString("\n\n")
		}
		b.WriteString("### Notes\nshort\n")
	}
	content := b.String()

	for _, size := range []int{120, 250, 500, 1000} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			c := NewMarkdownChunker(WithChunkSize(size), WithOverlap(size/5), WithMinChunkSize(size/5))
			chunks := c.Chunk(content, docMeta("inv.md"))
			require.NotEmpty(t, chunks)

			seen := map[string]bool{}
			for i, ch := range chunks {
				assert.False(t, seen[ch.ID], "duplicate id %s", ch.ID)
				seen[ch.ID] = true
				assert.LessOrEqual(t, ch.StartIndex, ch.EndIndex, "chunk %d offsets", i)
				if i < len(chunks)-1 {
					assert.GreaterOrEqual(t, runeLen(ch.Text), size/5, "chunk %d below minimum", i)
				}
			}
		})
	}
}

func TestChunk_MetadataIsCopiedPerChunk(t *testing.T) {
	c := NewMarkdownChunker(WithMinChunkSize(0))
	meta := docMeta("copy.md")

	chunks := c.Chunk("## A\none\n## B\ntwo", meta)
	require.Len(t, chunks, 2)

	chunks[0].Metadata["mutated"] = "yes"
	assert.NotContains(t, chunks[1].Metadata, "mutated")
	assert.NotContains(t, meta, "mutated")
	assert.NotContains(t, meta, domain.MetaSectionHeader)
}

func TestChunk_MultibyteOverlap(t *testing.T) {
	c := NewMarkdownChunker(WithChunkSize(50), WithOverlap(10), WithMinChunkSize(0))
	p := strings.Repeat("é", 30)
	content := p + "\n\n" + p

	chunks := c.Chunk(content, docMeta("utf8.md"))

	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[1].Text, strings.Repeat("é", 10)+"\n\n"))
}

func TestNewMarkdownChunker_ClampsOverlap(t *testing.T) {
	c := NewMarkdownChunker(WithChunkSize(200), WithOverlap(300))
	assert.Equal(t, 50, c.chunkOverlap)

	c = NewMarkdownChunker(WithChunkSize(-1), WithOverlap(-5), WithMinChunkSize(-1))
	assert.Equal(t, DefaultChunkSize, c.chunkSize)
	assert.Equal(t, DefaultChunkOverlap, c.chunkOverlap)
	assert.Equal(t, DefaultMinChunkSize, c.minChunkSize)
}
