package chunker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xhad/lumina/internal/models"
)

const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
)

// Chunk ids live in their own UUIDv5 namespace so they never collide with ids minted elsewhere.
var chunkNamespace = uuid.MustParse("6f1c2a4e-9b3d-4c7e-8a51-2d9e0f7b3c64")

var sentenceEnders = []string{". ", "! ", "? "}

type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type Chunker struct {
	config ChunkerConfig
}

// New returns a chunker with the default size and overlap.
func New() Chunker {
	return NewWithConfig(ChunkerConfig{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap})
}

// NewWithConfig defaults only the size. The overlap is used as given, so zero disables it,
// and an overlap that would stall the window is cut to a quarter of the size.
func NewWithConfig(config ChunkerConfig) Chunker {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 4
	}

	return Chunker{
		config: config,
	}
}

// Config returns the effective configuration after defaults.
func (c Chunker) Config() ChunkerConfig {
	return c.config
}

// Chunk splits text and stamps every piece with its deterministic id and position.
func (c Chunker) Chunk(text, sourceRef string) []models.Chunk {
	pieces := Split(text, c.config.ChunkSize, c.config.ChunkOverlap)

	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			ID:        GenerateChunkID(sourceRef, i),
			Text:      piece,
			SourceRef: sourceRef,
			Index:     i,
			Total:     len(pieces),
		}
	}
	return chunks
}

// Normalize collapses every whitespace run to a single space and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Split cuts text into overlapping pieces of at most maxSize characters.
//
// Boundaries are chosen on the normalized text: the last sentence end inside the
// window wins, then the last space, and only then a hard cut at maxSize. Each new
// window starts overlap characters before the previous end, unless that would not
// move past the previous start, in which case it starts at the previous end.
func Split(text string, maxSize, overlap int) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	runes := []rune(normalized)
	if len(runes) <= maxSize {
		return []string{normalized}
	}

	var chunks []string
	start := 0

	for start < len(runes) {
		end := start + maxSize

		if end < len(runes) {
			window := string(runes[start:end])

			if cut := lastSentenceEnd(window); cut > 0 {
				end = start + cut
			} else if space := strings.LastIndex(window, " "); space > 0 {
				end = start + runeCount(window[:space])
			}
			// Otherwise cut mid-word at maxSize.
		} else {
			end = len(runes)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// lastSentenceEnd returns the rune offset just past the last sentence terminator in
// window, or 0 when there is none past the first character.
func lastSentenceEnd(window string) int {
	best := -1
	for _, ender := range sentenceEnders {
		if i := strings.LastIndex(window, ender); i > best {
			best = i
		}
	}
	if best <= 0 {
		return 0
	}
	return runeCount(window[:best]) + 1
}

func runeCount(s string) int {
	return len([]rune(s))
}

// GenerateChunkID derives a stable id from the source reference and chunk position only,
// so re-ingesting a source overwrites its previous chunks in place.
func GenerateChunkID(sourceRef string, index int) string {
	name := fmt.Sprintf("%s:%d", sourceRef, index)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}
