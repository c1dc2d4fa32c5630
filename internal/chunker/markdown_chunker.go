package chunker

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"policyrag/internal/domain"
)

// Default sizes, in characters.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
	DefaultMinChunkSize = 100
)

const paragraphSeparator = "\n\n"

// headerPattern matches level-2 and level-3 markdown headers.
var headerPattern = regexp.MustCompile(`^(#{2,3})\s+(.+)$`)

// MarkdownChunker splits markdown into header-aligned sections, then splits
// oversized sections on paragraph boundaries with a trailing-character overlap.
// It holds no state beyond its configuration and is safe for concurrent use.
type MarkdownChunker struct {
	chunkSize    int
	chunkOverlap int
	minChunkSize int
}

// Option configures the chunker.
type Option func(*MarkdownChunker)

// WithChunkSize sets the maximum section size kept as a single chunk.
func WithChunkSize(size int) Option {
	return func(c *MarkdownChunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets how many trailing characters of a closed chunk seed the next one.
func WithOverlap(overlap int) Option {
	return func(c *MarkdownChunker) {
		if overlap >= 0 {
			c.chunkOverlap = overlap
		}
	}
}

// WithMinChunkSize sets the size below which a chunk is merged with its successor.
func WithMinChunkSize(size int) Option {
	return func(c *MarkdownChunker) {
		if size >= 0 {
			c.minChunkSize = size
		}
	}
}

// NewMarkdownChunker creates a chunker with the given options applied over the defaults.
func NewMarkdownChunker(opts ...Option) *MarkdownChunker {
	c := &MarkdownChunker{
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
		minChunkSize: DefaultMinChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	// Overlap must leave room for new content in every window.
	if c.chunkOverlap >= c.chunkSize {
		c.chunkOverlap = c.chunkSize / 4
	}
	return c
}

type section struct {
	text   string
	header string
	start  int
	end    int
}

// Chunk splits content into ordered chunks. Chunk IDs are "{filename}_chunk_{n}"
// with n counting across the whole document. An empty document yields a single
// empty chunk, which callers are expected to drop.
func (c *MarkdownChunker) Chunk(content string, metadata map[string]string) []domain.Chunk {
	filename := metadata[domain.MetaFilename]
	if filename == "" {
		filename = "doc"
	}

	var chunks []domain.Chunk
	next := 0
	for _, s := range splitByHeaders(content) {
		meta := sectionMetadata(metadata, s.header)
		if runeLen(s.text) <= c.chunkSize {
			chunks = append(chunks, domain.Chunk{
				ID:         chunkID(filename, next),
				Text:       strings.TrimSpace(s.text),
				Metadata:   meta,
				StartIndex: s.start,
				EndIndex:   s.end,
			})
			next++
			continue
		}
		split := c.splitWithOverlap(s, meta, filename, next)
		chunks = append(chunks, split...)
		next += len(split)
	}
	return c.mergeSmall(chunks)
}

// splitByHeaders groups lines into sections, each starting at a header line.
// Text before the first header forms a header-less section.
func splitByHeaders(content string) []section {
	var (
		sections []section
		current  []string
		header   string
		start    int
		offset   int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(current, "\n"))
		if text == "" {
			return
		}
		sections = append(sections, section{text: text, header: header, start: start, end: start + runeLen(text)})
	}

	for _, line := range strings.Split(content, "\n") {
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			flush()
			header = strings.TrimSpace(m[2])
			current = []string{line}
			start = offset
		} else {
			current = append(current, line)
		}
		offset += runeLen(line) + 1
	}
	flush()

	if len(sections) == 0 {
		sections = append(sections, section{text: content, end: runeLen(content)})
	}
	return sections
}

// splitWithOverlap greedily packs paragraphs into windows of at most chunkSize
// characters. Each new window starts with the last chunkOverlap characters of
// the previous one. A single paragraph longer than chunkSize is kept whole.
func (c *MarkdownChunker) splitWithOverlap(s section, meta map[string]string, filename string, first int) []domain.Chunk {
	var (
		out        []domain.Chunk
		current    []string
		currentLen int
	)
	n := first
	offset := s.start
	emit := func(text string) {
		start := offset - runeLen(text)
		if start < s.start {
			start = s.start
		}
		out = append(out, domain.Chunk{
			ID:         chunkID(filename, n),
			Text:       text,
			Metadata:   copyMetadata(meta),
			StartIndex: start,
			EndIndex:   offset,
		})
		n++
	}

	for _, para := range strings.Split(s.text, paragraphSeparator) {
		paraLen := runeLen(para) + len(paragraphSeparator)
		if currentLen+paraLen > c.chunkSize && len(current) > 0 {
			text := strings.TrimSpace(strings.Join(current, paragraphSeparator))
			if text != "" {
				emit(text)
			}
			if c.chunkOverlap > 0 && text != "" {
				overlap := lastRunes(text, c.chunkOverlap)
				current = []string{overlap, para}
				currentLen = runeLen(overlap) + paraLen
			} else {
				current = []string{para}
				currentLen = paraLen
			}
		} else {
			current = append(current, para)
			currentLen += paraLen
		}
		offset += paraLen
	}

	if len(current) > 0 {
		if text := strings.TrimSpace(strings.Join(current, paragraphSeparator)); text != "" {
			emit(text)
		}
	}
	return out
}

// mergeSmall folds every undersized, non-final chunk into its successors until
// it reaches minChunkSize or runs out of successors. The merged chunk keeps the
// earlier ID and metadata and takes the later end offset. The final chunk is
// never merged backwards, so it may stay undersized.
func (c *MarkdownChunker) mergeSmall(chunks []domain.Chunk) []domain.Chunk {
	if len(chunks) == 0 {
		return chunks
	}
	merged := make([]domain.Chunk, 0, len(chunks))
	for i := 0; i < len(chunks); i++ {
		cur := chunks[i]
		for runeLen(cur.Text) < c.minChunkSize && i < len(chunks)-1 {
			next := chunks[i+1]
			cur.Text = cur.Text + paragraphSeparator + next.Text
			cur.EndIndex = next.EndIndex
			i++
		}
		merged = append(merged, cur)
	}
	return merged
}

func sectionMetadata(base map[string]string, header string) map[string]string {
	meta := copyMetadata(base)
	if header != "" {
		meta[domain.MetaSectionHeader] = header
	}
	return meta
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func chunkID(filename string, n int) string {
	return filename + "_chunk_" + strconv.Itoa(n)
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func lastRunes(s string, n int) string {
	if runeLen(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[len(r)-n:])
}
