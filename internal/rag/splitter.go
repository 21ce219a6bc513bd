// Package rag answers questions over stored documents using embedding
// retrieval and a language model.
package rag

import "strings"

// Splitter breaks document text into overlapping chunks for embedding.
// It prefers to break on the largest separator that keeps chunks under
// the size limit, falling back to smaller ones.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	separators   []string
}

// NewSplitter returns a splitter with the given chunk size and overlap.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 200
	}
	return &Splitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: overlap,
		separators:   []string{"\n\n", "\n", ".", " "},
	}
}

// Split returns the chunks of text. Chunks are trimmed; empty chunks are
// dropped.
func (s *Splitter) Split(text string) []string {
	var chunks []string
	for _, chunk := range s.split(text, 0) {
		chunk = strings.TrimSpace(chunk)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func (s *Splitter) split(text string, sepIdx int) []string {
	if len(text) <= s.ChunkSize {
		return []string{text}
	}
	if sepIdx >= len(s.separators) {
		// No separator left, cut hard with overlap
		return s.hardSplit(text)
	}

	sep := s.separators[sepIdx]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return s.split(text, sepIdx+1)
	}

	var chunks []string
	var current strings.Builder
	for _, part := range parts {
		piece := part
		if current.Len() > 0 {
			piece = sep + part
		}
		if current.Len()+len(piece) > s.ChunkSize && current.Len() > 0 {
			chunks = append(chunks, current.String())
			// Carry a tail of the previous chunk for context continuity
			tail := overlapTail(current.String(), s.ChunkOverlap)
			current.Reset()
			current.WriteString(tail)
			piece = sep + part
		}
		if len(piece) > s.ChunkSize {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, s.split(part, sepIdx+1)...)
			continue
		}
		current.WriteString(piece)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func (s *Splitter) hardSplit(text string) []string {
	step := s.ChunkSize - s.ChunkOverlap
	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + s.ChunkSize
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}

func overlapTail(chunk string, overlap int) string {
	if len(chunk) <= overlap {
		return chunk
	}
	return chunk[len(chunk)-overlap:]
}
