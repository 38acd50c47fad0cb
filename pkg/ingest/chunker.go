package ingest

import "strings"

// Chunk is one piece of a document and its position in it.
type Chunk struct {
	Content     string
	ChunkNumber int
}

// FixedSizeChunker splits text into chunks of chunkSize runes, each
// starting chunkSize-overlapSize runes after the previous one.
//
// With a chunkSize of 100 and an overlapSize of 20 the chunks are
// runes[0:100], runes[80:180], runes[160:260] and so on. The last chunk
// ends at the end of the text; no chunk is made only of overlap.
// Whitespace-only chunks are dropped and numbering skips them.
//
// Invalid sizes (chunkSize <= 0, overlap < 0 or overlap >= chunkSize)
// return the whole text as a single chunk.
func FixedSizeChunker(text string, chunkSize, overlapSize int) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if chunkSize <= 0 || overlapSize < 0 || overlapSize >= chunkSize {
		return []Chunk{{Content: text, ChunkNumber: 0}}
	}

	var chunks []Chunk
	runes := []rune(text)
	length := len(runes)
	step := chunkSize - overlapSize

	for i := 0; i < length; i += step {
		end := min(i+chunkSize, length)
		content := string(runes[i:end])
		if strings.TrimSpace(content) != "" {
			chunks = append(chunks, Chunk{Content: content, ChunkNumber: len(chunks)})
		}
		if end == length {
			break
		}
	}
	return chunks
}
